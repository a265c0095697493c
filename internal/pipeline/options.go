package pipeline

import (
	"log/slog"

	"github.com/idelchi/sealr/internal/aead"
	"github.com/idelchi/sealr/internal/filter"
	"github.com/idelchi/sealr/internal/kdf"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used by the pipeline and its components.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDeriver replaces the key derivation function.
func WithDeriver(d kdf.Deriver) Option {
	return func(p *Pipeline) { p.deriver = d }
}

// WithEngine replaces the AEAD.
func WithEngine(e aead.Engine) Option {
	return func(p *Pipeline) { p.engine = e }
}

// WithPadding adds up to limit random bytes to each archive before sealing.
func WithPadding(limit int) Option {
	return func(p *Pipeline) { p.padding = limit }
}

// WithExcludes skips matching entries when archiving.
func WithExcludes(f *filter.Filter) Option {
	return func(p *Pipeline) { p.excludes = f }
}

// WithPreserveTimes records and restores modification times.
func WithPreserveTimes(preserve bool) Option {
	return func(p *Pipeline) { p.preserveTimes = preserve }
}

// WithShredder sets the shredder used for the Shred and ShredContainer
// requests.
func WithShredder(s Shredder) Option {
	return func(p *Pipeline) { p.shredder = s }
}

// WithObserver registers fn to be called on every state transition.
func WithObserver(fn func(State)) Option {
	return func(p *Pipeline) { p.observer = fn }
}
