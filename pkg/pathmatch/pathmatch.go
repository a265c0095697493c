// Package pathmatch matches slash-separated relative paths against
// find -path style glob patterns.
//
// Unlike path.Match, the wildcards cross directory separators:
//   - * matches any run of characters, including /
//   - ? matches exactly one character, including /
//   - [...] and [!...] match one character from (or outside) a set or range
//   - \ escapes the next character
package pathmatch

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrBadPattern is returned for syntactically invalid patterns.
var ErrBadPattern = errors.New("invalid pattern")

// Match reports whether path matches pattern.
func Match(pattern, path string) (bool, error) {
	if err := Validate(pattern); err != nil {
		return false, err
	}

	return match(pattern, path), nil
}

// Validate checks pattern syntax without matching anything.
func Validate(pattern string) error {
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			if i+1 == len(pattern) {
				return fmt.Errorf("%w: trailing backslash in %q", ErrBadPattern, pattern)
			}

			i++
		case '[':
			end := classEnd(pattern, i)
			if end < 0 {
				return fmt.Errorf("%w: unclosed character class in %q", ErrBadPattern, pattern)
			}

			i = end
		}
	}

	return nil
}

// Matcher holds validated patterns for repeated use.
type Matcher struct {
	patterns []string
}

// NewMatcher validates patterns.
func NewMatcher(patterns []string) (*Matcher, error) {
	for _, p := range patterns {
		if err := Validate(p); err != nil {
			return nil, err
		}
	}

	return &Matcher{patterns: append([]string(nil), patterns...)}, nil
}

// Len returns the number of patterns.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}

	return len(m.patterns)
}

// MatchAny reports whether path matches at least one pattern.
// A nil Matcher matches nothing.
func (m *Matcher) MatchAny(path string) bool {
	if m == nil {
		return false
	}

	for _, p := range m.patterns {
		if match(p, path) {
			return true
		}
	}

	return false
}

// match is an iterative glob matcher that backtracks to the most recent star.
func match(pattern, name string) bool {
	var (
		px, nx         int
		starPx, starNx = -1, -1
	)

	for px < len(pattern) || nx < len(name) {
		if px < len(pattern) {
			switch c := pattern[px]; c {
			case '*':
				starPx, starNx = px, nx
				px++

				continue
			case '?':
				if nx < len(name) {
					_, size := utf8.DecodeRuneInString(name[nx:])
					px++
					nx += size

					continue
				}
			case '[':
				if nx < len(name) {
					r, size := utf8.DecodeRuneInString(name[nx:])
					end := classEnd(pattern, px)

					if matchClass(pattern[px+1:end], r) {
						px = end + 1
						nx += size

						continue
					}
				}
			default:
				lit := c
				step := 1

				if c == '\\' {
					lit = pattern[px+1]
					step = 2
				}

				if nx < len(name) && name[nx] == lit {
					px += step
					nx++

					continue
				}
			}
		}

		if starPx < 0 || starNx >= len(name) {
			return false
		}

		_, size := utf8.DecodeRuneInString(name[starNx:])
		starNx += size
		px, nx = starPx+1, starNx
	}

	return true
}

// classEnd returns the index of the ] closing the class opened at open, or -1.
func classEnd(pattern string, open int) int {
	i := open + 1

	if i < len(pattern) && pattern[i] == '!' {
		i++
	}

	if i < len(pattern) && pattern[i] == ']' {
		i++
	}

	for ; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			i++
		case ']':
			return i
		}
	}

	return -1
}

// matchClass reports whether r is in the class body (the text between [ and ]).
func matchClass(class string, r rune) bool {
	negate := false
	if class != "" && class[0] == '!' {
		negate = true
		class = class[1:]
	}

	found := false

	for class != "" {
		lo, rest := classRune(class)
		hi := lo

		if len(rest) > 1 && rest[0] == '-' {
			hi, rest = classRune(rest[1:])
		}

		if lo <= r && r <= hi {
			found = true
		}

		class = rest
	}

	return found != negate
}

func classRune(s string) (rune, string) {
	if s[0] == '\\' && len(s) > 1 {
		s = s[1:]
	}

	r, size := utf8.DecodeRuneInString(s)

	return r, s[size:]
}
