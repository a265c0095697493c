// Package archive packs a file or directory tree into a gzip-compressed tar
// stream and extracts it again.
//
// Packing is reproducible: entries are sorted by relative path and, unless
// PreserveTimes is set, carry no timestamps or ownership, so unchanged input
// always yields the same bytes. Extraction refuses any entry that would land
// outside the destination directory.
package archive

import (
	"errors"
	"io"
	"log/slog"

	"github.com/klauspost/compress/gzip"

	"github.com/idelchi/sealr/internal/filter"
)

// ErrFormat is returned for malformed streams and for entries that try to
// escape the destination directory.
var ErrFormat = errors.New("invalid archive")

// Options configure Pack and Unpack.
type Options struct {
	// Exclude skips matching entries when packing. Nil keeps everything.
	Exclude *filter.Filter
	// PreserveTimes records modification times when packing and restores
	// them when unpacking. It makes packing non-reproducible.
	PreserveTimes bool
	// Level is the gzip level used by Pack. Zero means gzip.BestCompression.
	Level int
	// Logger receives per-entry debug output. Nil discards.
	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return o.Logger
}

func (o Options) level() int {
	if o.Level == 0 {
		return gzip.BestCompression
	}

	return o.Level
}

// Stats summarises a Pack or Unpack run.
type Stats struct {
	Files    int
	Dirs     int
	Symlinks int
	Skipped  int
	Bytes    int64
}

// Entries is the number of entries written or extracted.
func (s Stats) Entries() int {
	return s.Files + s.Dirs + s.Symlinks
}
