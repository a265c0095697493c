// Package shred overwrites files in place before unlinking them.
//
// Overwriting is best effort. On copy-on-write or log-structured file
// systems and on wear-levelled flash, earlier copies of the data may survive
// on the device no matter how often the visible byte range is rewritten.
package shred

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrShred wraps every per-path deletion failure.
var ErrShred = errors.New("secure deletion failed")

// Limitation is the caveat shown to operators whenever shredding runs.
const Limitation = "secure deletion is best effort: copy-on-write file systems, " +
	"snapshots and SSD wear levelling can keep earlier copies of the data"

const (
	// DefaultPasses is the number of overwrite passes when Passes is zero.
	DefaultPasses = 3
	// MaxPasses bounds Passes.
	MaxPasses = 35

	chunkSize = 64 * 1024
)

// Shredder overwrites and removes files. The zero value is usable.
type Shredder struct {
	// Passes is the number of overwrite passes per file. The first pass
	// writes zeros, the second ones, the rest random bytes.
	Passes int
	// Parallel bounds how many files of a directory are shredded at once.
	Parallel int
	// Logger receives progress and the best-effort warning. Nil discards.
	Logger *slog.Logger

	// open opens a file for overwriting; nil means os.OpenFile.
	open func(path string) (*os.File, error)

	warnOnce sync.Once
}

func (s *Shredder) passes() int {
	if s.Passes <= 0 {
		return DefaultPasses
	}

	return min(s.Passes, MaxPasses)
}

func (s *Shredder) parallel() int {
	if s.Parallel <= 0 {
		return 1
	}

	return s.Parallel
}

func (s *Shredder) openFile(path string) (*os.File, error) {
	if s.open != nil {
		return s.open(path)
	}

	return os.OpenFile(path, os.O_WRONLY, 0)
}

func (s *Shredder) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return s.Logger
}

// Shred overwrites path, or every regular file below it, and removes it.
// Symlinks are unlinked without touching their targets.
// Per-path failures do not stop the remaining work; they are collected in
// the Report and also returned, joined, as the error.
func (s *Shredder) Shred(ctx context.Context, path string) (*Report, error) {
	log := s.logger()

	s.warnOnce.Do(func() { log.Warn(Limitation) })

	info, err := os.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShred, err)
	}

	report := &Report{}

	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		report.add(Result{Path: path, Kind: KindSymlink, Err: unlink(path)})
	case info.Mode().IsRegular():
		size, err := s.file(ctx, path)
		report.add(Result{Path: path, Kind: KindFile, Size: size, Err: err})
	case info.IsDir():
		if err := s.tree(ctx, path, report); err != nil {
			return report, err
		}
	default:
		report.add(Result{Path: path, Kind: KindOther, Err: unlink(path)})
	}

	return report, report.Err()
}

// tree shreds all files below root in parallel, then removes the
// remaining links and directories deepest first. Directories still holding
// a path that failed are kept without being reported again.
//
//nolint:cyclop
func (s *Shredder) tree(ctx context.Context, root string, report *Report) error {
	var (
		files []string
		other []Result
	)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		switch {
		case walkErr != nil:
			other = append(other, Result{Path: path, Kind: KindDir, Err: walkErr})

			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
		case d.Type().IsRegular():
			files = append(files, path)
		case d.IsDir():
			other = append(other, Result{Path: path, Kind: KindDir})
		case d.Type()&fs.ModeSymlink != 0:
			other = append(other, Result{Path: path, Kind: KindSymlink})
		default:
			other = append(other, Result{Path: path, Kind: KindOther})
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("walking %q: %w", root, err)
	}

	log := s.logger()

	results := make(chan Result, len(files))
	done := make(chan struct{})

	var failed []string

	go func() {
		defer close(done)

		for result := range results {
			if result.Err != nil {
				failed = append(failed, result.Path)
			}

			report.add(result)
			log.Debug("shredded", "path", result.Path, "size", result.Size, "error", result.Err)
		}
	}()

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(s.parallel())

	for _, file := range files {
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			size, err := s.file(gctx, file)
			results <- Result{Path: file, Kind: KindFile, Size: size, Err: err}

			return nil
		})
	}

	err = group.Wait()

	close(results)

	<-done

	if err != nil {
		return err
	}

	// Walk order is lexical pre-order, so reversing it visits children
	// before their parents.
	slices.Reverse(other)

	for _, r := range other {
		if r.Err != nil {
			failed = append(failed, r.Path)
		}
	}

	for _, r := range other {
		if r.Err == nil {
			if r.Kind == KindDir && holdsAny(r.Path, failed) {
				log.Debug("keeping directory with unshredded entries", "path", r.Path)

				continue
			}

			if r.Err = unlink(r.Path); r.Err != nil {
				failed = append(failed, r.Path)
			}
		}

		report.add(r)
	}

	return nil
}

// file overwrites one regular file Passes times and unlinks it.
// A file that could not be fully overwritten is left in place.
func (s *Shredder) file(ctx context.Context, path string) (int64, error) {
	f, err := s.openFile(path)
	if err != nil {
		return 0, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()

		return 0, err
	}

	size := info.Size()

	for pass := range s.passes() {
		if err := ctx.Err(); err != nil {
			f.Close()

			return size, err
		}

		if err := overwrite(f, size, pass); err != nil {
			f.Close()

			return size, fmt.Errorf("pass %d: %w", pass+1, err)
		}
	}

	if err := f.Close(); err != nil {
		return size, err
	}

	return size, unlink(path)
}

func overwrite(f *os.File, size int64, pass int) error {
	buf := make([]byte, min(size, chunkSize))

	if pass == 1 {
		for i := range buf {
			buf[i] = 0xFF
		}
	}

	for off := int64(0); off < size; {
		chunk := buf[:min(int64(len(buf)), size-off)]

		if pass >= 2 {
			if _, err := rand.Read(chunk); err != nil {
				return err
			}
		}

		n, err := f.WriteAt(chunk, off)
		if err != nil {
			return err
		}

		off += int64(n)
	}

	return f.Sync()
}

// holdsAny reports whether any of paths lies below dir.
func holdsAny(dir string, paths []string) bool {
	prefix := filepath.Clean(dir) + string(filepath.Separator)

	return slices.ContainsFunc(paths, func(p string) bool { return strings.HasPrefix(p, prefix) })
}

func unlink(path string) error {
	return os.Remove(path)
}
