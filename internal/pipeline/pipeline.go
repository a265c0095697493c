// Package pipeline sequences archiving, key derivation, sealing and
// container I/O into the encrypt and decrypt operations.
//
// Every operation either completes or leaves nothing at its final path:
// containers are written to a temporary file and renamed, archives are
// extracted into a staging directory and renamed. Failures are reported as
// *Error carrying the failure Kind and the terminal State.
package pipeline

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/idelchi/sealr/internal/aead"
	"github.com/idelchi/sealr/internal/archive"
	"github.com/idelchi/sealr/internal/container"
	"github.com/idelchi/sealr/internal/filter"
	"github.com/idelchi/sealr/internal/kdf"
	"github.com/idelchi/sealr/internal/shred"
)

// Pipeline runs encrypt and decrypt operations. It holds no per-operation
// state, so one Pipeline may serve concurrent calls as long as the
// observer tolerates that.
type Pipeline struct {
	logger        *slog.Logger
	deriver       kdf.Deriver
	engine        aead.Engine
	padding       int
	excludes      *filter.Filter
	preserveTimes bool
	shredder      Shredder
	observer      func(State)
}

// New returns a Pipeline using Argon2id and AES-256-GCM unless overridden.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		deriver: kdf.New(),
		engine:  aead.New(),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.shredder == nil {
		p.shredder = &shred.Shredder{Logger: p.logger}
	}

	return p
}

func (p *Pipeline) archiveOptions() archive.Options {
	return archive.Options{
		Exclude:       p.excludes,
		PreserveTimes: p.preserveTimes,
		Logger:        p.logger,
	}
}

// Shredder removes a source or container after a successful operation.
// *shred.Shredder implements it.
type Shredder interface {
	Shred(ctx context.Context, path string) (*shred.Report, error)
}

// run tracks the state machine of one operation.
type run struct {
	p     *Pipeline
	state State
}

func (p *Pipeline) begin() *run {
	r := &run{p: p}
	r.enter(StateStart)

	return r
}

func (r *run) enter(s State) {
	r.state = s

	r.p.logger.Debug("state", "state", s.String())

	if r.p.observer != nil {
		r.p.observer(s)
	}
}

// fail moves to the failure state s and returns the classified error.
func (r *run) fail(s State, path string, err error) *Error {
	return r.failAs(s, classify(err), path, err)
}

func (r *run) failAs(s State, kind Kind, path string, err error) *Error {
	r.enter(s)

	return &Error{Kind: kind, State: s, Path: path, Err: err}
}

// readContainer decodes the container at path and returns its file size.
func readContainer(path string) (container.Container, int64, error) {
	var c container.Container

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return c, 0, err
	}
	defer f.Close()

	n, err := c.ReadFrom(f)
	if err != nil {
		return c, n, err
	}

	return c, n, nil
}

// linkTarget returns the resolved target when path itself is a symlink,
// and "" otherwise.
func linkTarget(path string) string {
	info, err := os.Lstat(path)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return ""
	}

	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return ""
	}

	return target
}

// shredSource removes the encrypted source. For a symlinked source the
// sealed content lives at the target, which is shredded before the link.
func (p *Pipeline) shredSource(ctx context.Context, source string) (*shred.Report, error) {
	target := linkTarget(source)
	if target == "" {
		return p.shredder.Shred(ctx, source)
	}

	report, err := p.shredder.Shred(ctx, target)
	if err != nil {
		return report, err
	}

	link, err := p.shredder.Shred(ctx, source)
	if report != nil && link != nil {
		report.Links += link.Links
	}

	return report, err
}

// insideSource reports whether out lies inside source or, for a symlinked
// source, inside its target.
func insideSource(out, source string) bool {
	if within(out, source) {
		return true
	}

	target := linkTarget(source)

	return target != "" && within(out, target)
}

// within reports whether path is root or lies below it.
func within(path, root string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}

	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}

	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
