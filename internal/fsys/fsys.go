// Package fsys defines the filesystem adapter contract and its local
// implementation. All entry points validate paths against the path policy
// and return entries in deterministic sorted order.
package fsys

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"unicode/utf8"

	"github.com/dshills/sca/pkg/types"
)

// EntryKind distinguishes directory entries.
type EntryKind string

const (
	KindFile      EntryKind = "file"
	KindDirectory EntryKind = "directory"
	KindOther     EntryKind = "other"
)

// DirEntry is one entry of a directory listing.
type DirEntry struct {
	Name string
	Kind EntryKind
}

// Stat describes a file.
type Stat struct {
	SizeBytes int64
	Kind      EntryKind
}

// ReadOptions bounds a file read.
type ReadOptions struct {
	// MaxSizeBytes rejects files larger than this when > 0.
	MaxSizeBytes int64
}

// Filesystem is the adapter contract for working-tree access. Implementations
// return sorted listings, enforce the path policy, and require UTF-8 content
// from ReadFile.
type Filesystem interface {
	ListDir(rc *types.RequestContext, dir string) ([]DirEntry, *types.ErrorEnvelope)
	ReadFile(rc *types.RequestContext, path string, opts ReadOptions) (string, *types.ErrorEnvelope)
	Stat(rc *types.RequestContext, path string) (Stat, *types.ErrorEnvelope)
}

// Local is the OS-backed filesystem adapter rooted at a codebase directory.
type Local struct {
	root string
}

// NewLocal creates a filesystem adapter scoped to the codebase root.
func NewLocal(codebaseRoot string) *Local {
	return &Local{root: codebaseRoot}
}

// ListDir lists a directory relative to the root. The root itself is
// addressed as ".". Entries are sorted by name.
func (l *Local) ListDir(rc *types.RequestContext, dir string) ([]DirEntry, *types.ErrorEnvelope) {
	if env := rc.EnsureNotCancelled("fsys.list_dir"); env != nil {
		return nil, env
	}

	resolved, env := l.resolve(dir)
	if env != nil {
		return nil, env
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, types.AsEnvelope(err)
	}

	out := make([]DirEntry, 0, len(entries))
	for _, entry := range entries {
		kind := KindOther
		switch {
		case entry.IsDir():
			kind = KindDirectory
		case entry.Type().IsRegular():
			kind = KindFile
		}
		out = append(out, DirEntry{Name: entry.Name(), Kind: kind})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ReadFile reads a file relative to the root. Content must be valid UTF-8;
// binary files fail with splitter:invalid_input so callers can skip them.
func (l *Local) ReadFile(rc *types.RequestContext, path string, opts ReadOptions) (string, *types.ErrorEnvelope) {
	if env := rc.EnsureNotCancelled("fsys.read_file"); env != nil {
		return "", env
	}

	resolved, env := l.resolve(path)
	if env != nil {
		return "", env
	}

	if opts.MaxSizeBytes > 0 {
		info, err := os.Stat(resolved)
		if err != nil {
			return "", types.AsEnvelope(err)
		}
		if info.Size() > opts.MaxSizeBytes {
			return "", types.Expected(types.CodeInvalidValue, "file exceeds maximum size").
				WithMeta("path", path).
				WithMeta("size_bytes", strconv.FormatInt(info.Size(), 10)).
				WithMeta("max_size_bytes", strconv.FormatInt(opts.MaxSizeBytes, 10))
		}
	}

	payload, err := os.ReadFile(resolved)
	if err != nil {
		return "", types.AsEnvelope(err)
	}
	if !utf8.Valid(payload) {
		return "", types.Expected(types.CodeSplitterInput, "file is not valid UTF-8").
			WithMeta("path", path)
	}
	return string(payload), nil
}

// Stat stats a file or directory relative to the root.
func (l *Local) Stat(rc *types.RequestContext, path string) (Stat, *types.ErrorEnvelope) {
	if env := rc.EnsureNotCancelled("fsys.stat"); env != nil {
		return Stat{}, env
	}

	resolved, env := l.resolve(path)
	if env != nil {
		return Stat{}, env
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return Stat{}, types.AsEnvelope(err)
	}

	kind := KindOther
	switch {
	case info.IsDir():
		kind = KindDirectory
	case info.Mode().IsRegular():
		kind = KindFile
	}
	return Stat{SizeBytes: info.Size(), Kind: kind}, nil
}

func (l *Local) resolve(path string) (string, *types.ErrorEnvelope) {
	if path == "." || path == "" {
		return l.root, nil
	}
	rel, env := types.ParseRelativePath(path)
	if env != nil {
		return "", env
	}
	return filepath.Join(l.root, filepath.FromSlash(rel.String())), nil
}
