package types

import (
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// StateDirName is the per-codebase state directory, always excluded from
// indexing and rejected by the path policy.
const StateDirName = ".context"

// RelativePath is a validated, NFC-normalized, '/'-separated path relative to
// the codebase root.
type RelativePath string

// ParseRelativePath validates an externally provided path candidate against
// the path policy: separators are normalized to '/', repeated slashes
// collapsed, leading "./" stripped. Absolute paths, ".." segments, empty
// paths, and paths under the state directory are rejected with
// config:invalid_path.
func ParseRelativePath(candidate string) (RelativePath, *ErrorEnvelope) {
	normalized := normalizePathString(candidate)

	if normalized == "" {
		return "", invalidPath(candidate, "path must be non-empty")
	}
	if isAbsolute(candidate) {
		return "", invalidPath(candidate, "path must be relative")
	}
	for _, segment := range strings.Split(normalized, "/") {
		if segment == ".." {
			return "", invalidPath(candidate, "path must not contain '..' segments")
		}
	}
	if normalized == StateDirName || strings.HasPrefix(normalized, StateDirName+"/") {
		return "", invalidPath(candidate, "path must not be inside the state directory")
	}

	return RelativePath(norm.NFC.String(normalized)), nil
}

// String returns the path as a plain string.
func (p RelativePath) String() string { return string(p) }

// Extension returns the lowercase file extension without the leading dot, or
// "" when the file name has none.
func (p RelativePath) Extension() string {
	name := string(p)
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		name = name[idx+1:]
	}
	idx := strings.LastIndexByte(name, '.')
	if idx <= 0 || idx == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[idx+1:])
}

// NormalizeRoot canonicalizes an absolute codebase root for identifier
// derivation: backslashes become '/', repeated slashes collapse, and a
// trailing slash is trimmed (except for the filesystem root itself).
func NormalizeRoot(root string) string {
	normalized := collapseSlashes(strings.ReplaceAll(strings.TrimSpace(root), "\\", "/"))
	if len(normalized) > 1 {
		normalized = strings.TrimRight(normalized, "/")
	}
	if normalized == "" {
		normalized = "/"
	}
	return normalized
}

func normalizePathString(candidate string) string {
	normalized := collapseSlashes(strings.ReplaceAll(strings.TrimSpace(candidate), "\\", "/"))
	for strings.HasPrefix(normalized, "./") {
		normalized = normalized[2:]
	}
	if normalized == "." {
		return ""
	}
	return normalized
}

func isAbsolute(candidate string) bool {
	trimmed := strings.TrimSpace(candidate)
	if strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, "\\") {
		return true
	}
	// Windows drive letters.
	if len(trimmed) >= 2 && trimmed[1] == ':' {
		return true
	}
	return false
}

func collapseSlashes(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	prevSlash := false
	for _, ch := range input {
		if ch == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func invalidPath(candidate, message string) *ErrorEnvelope {
	return Expected(CodeInvalidPath, message).WithMeta("input_length", strconv.Itoa(len(candidate)))
}
