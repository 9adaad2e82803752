// Package ignore implements the indexing ignore policy: configured patterns,
// the .contextignore file at the codebase root, and the always-ignored state
// directory. Matching is a contiguous segment sub-sequence check; there is no
// glob or negation syntax and matching is case-sensitive.
package ignore

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/sca/pkg/types"
)

// IgnoreFileName is the per-codebase ignore file read from the root.
const IgnoreFileName = ".contextignore"

// Matcher answers whether a relative path is excluded from indexing.
type Matcher struct {
	patterns [][]string
}

// NewMatcher builds a matcher from configured patterns plus the implicit
// state-directory pattern. Patterns are normalized (trim, backslash to slash,
// collapsed slashes, leading "./" and surrounding '/' stripped), deduplicated,
// and sorted so matcher construction is deterministic.
func NewMatcher(patterns []string) *Matcher {
	merged := append([]string{types.StateDirName}, patterns...)

	normalized := make([]string, 0, len(merged))
	seen := make(map[string]bool, len(merged))
	for _, pattern := range merged {
		p := normalizePattern(pattern)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		normalized = append(normalized, p)
	}
	sort.Strings(normalized)

	segments := make([][]string, 0, len(normalized))
	for _, p := range normalized {
		segments = append(segments, splitSegments(p))
	}
	return &Matcher{patterns: segments}
}

// NewMatcherForRoot merges configured patterns with the contents of
// .contextignore at the codebase root, when present. Lines starting with '#'
// and blank lines are skipped. A missing ignore file is not an error.
func NewMatcherForRoot(codebaseRoot string, patterns []string) (*Matcher, *types.ErrorEnvelope) {
	merged := append([]string(nil), patterns...)

	payload, err := os.ReadFile(filepath.Join(codebaseRoot, IgnoreFileName))
	switch {
	case err == nil:
		for _, line := range strings.Split(string(payload), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			merged = append(merged, line)
		}
	case os.IsNotExist(err):
		// No ignore file; configured patterns only.
	default:
		return nil, types.AsEnvelope(err)
	}

	return NewMatcher(merged), nil
}

// Ignored reports whether the path matches any pattern. A pattern matches
// when its segments appear as a contiguous sub-sequence of the path's
// segments.
func (m *Matcher) Ignored(relativePath string) bool {
	pathSegments := splitSegments(normalizePattern(relativePath))
	if len(pathSegments) == 0 {
		return false
	}

	for _, pattern := range m.patterns {
		if matchesSegments(pathSegments, pattern) {
			return true
		}
	}
	return false
}

func normalizePattern(input string) string {
	trimmed := strings.TrimSpace(input)
	replaced := strings.ReplaceAll(trimmed, "\\", "/")
	collapsed := collapseSlashes(replaced)
	collapsed = strings.TrimPrefix(collapsed, "./")
	return strings.Trim(collapsed, "/")
}

func splitSegments(path string) []string {
	raw := strings.Split(path, "/")
	segments := raw[:0]
	for _, segment := range raw {
		if segment == "" || segment == "." {
			continue
		}
		segments = append(segments, segment)
	}
	return segments
}

func matchesSegments(path, pattern []string) bool {
	if len(pattern) == 0 || len(pattern) > len(path) {
		return false
	}
	for start := 0; start+len(pattern) <= len(path); start++ {
		matched := true
		for i, want := range pattern {
			if path[start+i] != want {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

func collapseSlashes(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	prev := false
	for _, ch := range input {
		if ch == '/' {
			if prev {
				continue
			}
			prev = true
		} else {
			prev = false
		}
		b.WriteRune(ch)
	}
	return b.String()
}
