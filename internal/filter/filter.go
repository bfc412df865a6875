// Package filter matches event paths against glob pattern sets. The
// daemon applies ignore sets to manifest watches and match sets to
// per-subscription stream filters.
package filter

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

type pattern struct {
	text  string
	match glob.Glob
}

// Set is a compiled list of glob patterns. A path matches the set when
// any pattern matches. A nil Set matches nothing.
type Set struct {
	patterns []pattern
}

// New compiles the given patterns. Patterns use '/' as the segment
// separator: '*' stays within one segment, '**' crosses segments. A
// pattern that is not rooted and does not start with '**' also matches
// at any depth, so "*.tmp" covers nested files without the caller
// spelling out "**/*.tmp".
func New(patterns []string) (*Set, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	set := &Set{patterns: make([]pattern, 0, len(patterns))}
	for _, text := range patterns {
		compiled, err := compilePattern(text)
		if err != nil {
			return nil, err
		}
		set.patterns = append(set.patterns, compiled...)
	}
	return set, nil
}

func compilePattern(text string) ([]pattern, error) {
	normalized := filepath.ToSlash(strings.TrimSpace(text))
	if normalized == "" {
		return nil, fmt.Errorf("empty pattern")
	}

	compiled, err := glob.Compile(normalized, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %v", text, err)
	}
	patterns := []pattern{{text: normalized, match: compiled}}

	if !strings.HasPrefix(normalized, "/") && !strings.HasPrefix(normalized, "**") {
		nestedText := "**/" + normalized
		nested, err := glob.Compile(nestedText, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %v", text, err)
		}
		patterns = append(patterns, pattern{text: nestedText, match: nested})
	}
	return patterns, nil
}

// Match reports whether any pattern matches path.
func (s *Set) Match(path string) bool {
	if s == nil {
		return false
	}
	normalized := filepath.ToSlash(path)
	for _, entry := range s.patterns {
		if entry.match.Match(normalized) {
			return true
		}
	}
	return false
}

// Empty reports whether the set has no patterns.
func (s *Set) Empty() bool {
	return s == nil || len(s.patterns) == 0
}

// Patterns returns the compiled pattern texts, including the expanded
// any-depth variants.
func (s *Set) Patterns() []string {
	if s == nil {
		return nil
	}
	texts := make([]string, 0, len(s.patterns))
	for _, entry := range s.patterns {
		texts = append(texts, entry.text)
	}
	return texts
}
