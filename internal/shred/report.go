package shred

import (
	"errors"
	"fmt"
	"sync"
)

// Kind classifies a shredded path.
type Kind int

// Path kinds.
const (
	KindFile Kind = iota
	KindDir
	KindSymlink
	KindOther
)

// Result is the outcome for a single path.
type Result struct {
	Path string
	Kind Kind
	Size int64
	Err  error
}

// Report collects the outcome of one Shred call.
type Report struct {
	mu       sync.Mutex
	Files    int
	Dirs     int
	Links    int
	Bytes    int64
	Failures []Result
}

func (r *Report) add(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.Err != nil {
		r.Failures = append(r.Failures, res)

		return
	}

	switch res.Kind {
	case KindFile:
		r.Files++
		r.Bytes += res.Size
	case KindDir:
		r.Dirs++
	case KindSymlink, KindOther:
		r.Links++
	}
}

// Err joins every failure, each wrapped in ErrShred. Nil if all succeeded.
func (r *Report) Err() error {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("%w: %q: %w", ErrShred, f.Path, f.Err))
	}

	return errors.Join(errs...)
}
