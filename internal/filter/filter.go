// Package filter decides which archive entries are excluded.
package filter

import (
	"fmt"
	"strings"

	"github.com/idelchi/sealr/pkg/pathmatch"
)

// Filter matches slash-separated paths relative to the archive root against
// exclusion patterns with find -path semantics. A nil Filter excludes nothing.
type Filter struct {
	excludes *pathmatch.Matcher
}

// New compiles exclusion patterns given on the command line and, optionally,
// loaded from a JSONC patterns file.
func New(patterns []string, patternsFile string) (*Filter, error) {
	all := append([]string{}, patterns...)

	if patternsFile != "" {
		loaded, err := LoadPatterns(patternsFile)
		if err != nil {
			return nil, err
		}

		all = append(all, loaded...)
	}

	if len(all) == 0 {
		return nil, nil //nolint:nilnil // no patterns means no filter
	}

	matcher, err := pathmatch.NewMatcher(normalize(all))
	if err != nil {
		return nil, fmt.Errorf("compiling exclude patterns: %w", err)
	}

	return &Filter{excludes: matcher}, nil
}

// Excluded reports whether rel should be left out of the archive.
// For directories the pattern is also tried with a trailing slash, so
// "cache/" excludes only directories named cache.
func (f *Filter) Excluded(rel string, isDir bool) bool {
	if f == nil {
		return false
	}

	if f.excludes.MatchAny(rel) {
		return true
	}

	return isDir && f.excludes.MatchAny(rel+"/")
}

// Len returns the number of compiled patterns.
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}

	return f.excludes.Len()
}

// normalize strips a leading "./" so patterns match cleaned relative paths.
func normalize(patterns []string) []string {
	out := make([]string, 0, len(patterns))

	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		out = append(out, strings.TrimPrefix(p, "./"))
	}

	return out
}
