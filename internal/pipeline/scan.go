package pipeline

import (
	"sort"

	"github.com/dshills/sca/internal/fsys"
	"github.com/dshills/sca/internal/ignore"
	"github.com/dshills/sca/pkg/types"
)

type scanOptions struct {
	allowedExtensions []string
	maxFiles          int
}

// scanTree walks the codebase breadth-first through the filesystem adapter,
// applying the ignore policy and extension filter. The returned paths are
// sorted lexicographically. The second return is true when the file cap
// truncated the walk. Unreadable directories are skipped; cancellation is
// observed between directory listings.
func scanTree(rc *types.RequestContext, fs fsys.Filesystem, matcher *ignore.Matcher, opts scanOptions) ([]types.RelativePath, bool, *types.ErrorEnvelope) {
	allowed := make(map[string]bool, len(opts.allowedExtensions))
	for _, ext := range opts.allowedExtensions {
		allowed[ext] = true
	}
	filterByExt := len(allowed) > 0

	dirs := []string{"."}
	var files []types.RelativePath
	limitReached := false

walk:
	for len(dirs) > 0 {
		if env := rc.EnsureNotCancelled("pipeline.scan_tree"); env != nil {
			return nil, false, env
		}

		dir := dirs[0]
		dirs = dirs[1:]

		entries, env := fs.ListDir(rc, dir)
		if env != nil {
			if env.IsCancelled() {
				return nil, false, env
			}
			// A directory that disappears or is unreadable mid-scan is
			// skipped, not fatal.
			continue
		}

		for _, entry := range entries {
			rel := joinRelative(dir, entry.Name)
			if matcher.Ignored(rel) {
				continue
			}

			switch entry.Kind {
			case fsys.KindDirectory:
				dirs = append(dirs, rel)
			case fsys.KindFile:
				path, envPath := types.ParseRelativePath(rel)
				if envPath != nil {
					continue
				}
				if filterByExt && !allowed[path.Extension()] {
					continue
				}
				files = append(files, path)
				if opts.maxFiles > 0 && len(files) >= opts.maxFiles {
					limitReached = true
					break walk
				}
			}
		}
	}

	sortRelative(files)
	return files, limitReached, nil
}

func joinRelative(dir, name string) string {
	if dir == "." || dir == "" {
		return name
	}
	return dir + "/" + name
}

func sortRelative(paths []types.RelativePath) {
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
}
