package pipeline

import (
	"log/slog"

	"github.com/dshills/sca/internal/fsys"
	"github.com/dshills/sca/internal/ignore"
	"github.com/dshills/sca/internal/merkle"
	"github.com/dshills/sca/internal/vector"
	"github.com/dshills/sca/pkg/types"
)

// ReindexResult reports the Merkle diff and the nested pipeline run.
type ReindexResult struct {
	Added    int    `json:"added"`
	Modified int    `json:"modified"`
	Removed  int    `json:"removed"`
	Result   Result `json:"result"`
}

// Reindex performs change-driven reindexing: compute the current Merkle
// snapshot, diff it against the stored one, delete vectors for removed and
// modified files, then run the pipeline restricted to added and modified
// paths. A missing previous snapshot treats everything as added; the new
// snapshot is only saved after the restricted run succeeds.
func Reindex(rc *types.RequestContext, deps Deps, opts Options) (ReindexResult, *types.ErrorEnvelope) {
	if env := rc.EnsureNotCancelled("reindex"); env != nil {
		return ReindexResult{}, env
	}
	if env := opts.normalize(); env != nil {
		return ReindexResult{}, env
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	matcher, env := ignore.NewMatcherForRoot(opts.CodebaseRoot, opts.IgnorePatterns)
	if env != nil {
		return ReindexResult{}, env
	}

	files, _, env := scanTree(rc, deps.FS, matcher, scanOptions{
		allowedExtensions: opts.AllowedExtensions,
		maxFiles:          opts.MaxFiles,
	})
	if env != nil {
		return ReindexResult{}, env
	}

	current, env := hashFiles(rc, deps.FS, files, opts.MaxFileSizeBytes, opts.MaxInFlightFiles)
	if env != nil {
		return ReindexResult{}, env
	}
	currentSnapshot := merkle.Build(current)

	previous, env := deps.Sync.LoadSnapshot(rc, opts.CodebaseRoot)
	if env != nil {
		return ReindexResult{}, env
	}

	diff := merkle.Diff(previous, &currentSnapshot)

	if env := deleteStaleChunks(rc, deps, opts.Collection, diff); env != nil {
		return ReindexResult{}, env
	}

	reindexed := ReindexResult{
		Added:    len(diff.Added),
		Modified: len(diff.Modified),
		Removed:  len(diff.Removed),
	}

	toProcess := append(append([]types.RelativePath(nil), diff.Added...), diff.Modified...)
	if len(toProcess) == 0 {
		// Nothing changed: persist the (identical) snapshot and finish.
		if env := deps.Sync.SaveSnapshot(rc, opts.CodebaseRoot, currentSnapshot); env != nil {
			return ReindexResult{}, env
		}
		reindexed.Result = Result{Status: StatusCompleted, RootHash: currentSnapshot.RootHash()}
		return reindexed, nil
	}
	sortRelative(toProcess)

	runOpts := opts
	runOpts.FileList = toProcess
	runOpts.ForceReindex = false
	runOpts.Snapshot = &currentSnapshot

	result, env := Run(rc, deps, runOpts)
	if env != nil {
		return ReindexResult{}, env
	}
	reindexed.Result = result
	return reindexed, nil
}

// deleteStaleChunks removes every chunk originating from removed or modified
// files, located through a deterministic relativePath filter query.
func deleteStaleChunks(rc *types.RequestContext, deps Deps, collection types.CollectionName, diff merkle.ChangeSet) *types.ErrorEnvelope {
	stale := append(append([]types.RelativePath(nil), diff.Removed...), diff.Modified...)
	sortRelative(stale)

	for _, path := range stale {
		if env := rc.EnsureNotCancelled("reindex.delete_stale"); env != nil {
			return env
		}

		filter := &vector.Filter{Field: vector.FieldRelativePath, Op: vector.OpEq, Value: path.String()}
		ids, env := deps.Store.IDsMatching(rc, collection, filter)
		if env != nil {
			return env
		}
		if len(ids) == 0 {
			continue
		}
		if env := deps.Store.Delete(rc, collection, ids); env != nil {
			return env
		}
	}
	return nil
}

// hashFiles reads every file concurrently and returns its content hash.
// Unreadable and non-UTF-8 files are left out, mirroring the pipeline's skip
// behavior.
func hashFiles(rc *types.RequestContext, fs fsys.Filesystem, files []types.RelativePath, maxSize int64, concurrency int) (map[types.RelativePath]string, *types.ErrorEnvelope) {
	if concurrency < 1 {
		concurrency = 1
	}
	pool, env := NewWorkerPool(concurrency)
	if env != nil {
		return nil, env
	}

	hashes, env := MapOrdered(rc, pool, files, func(workerRC *types.RequestContext, _ int, path types.RelativePath) (string, *types.ErrorEnvelope) {
		content, readEnv := fs.ReadFile(workerRC, path.String(), fsys.ReadOptions{MaxSizeBytes: maxSize})
		if readEnv != nil {
			if readEnv.IsCancelled() {
				return "", readEnv
			}
			return "", nil // skipped
		}
		return types.HashContent([]byte(content)), nil
	})
	if env != nil {
		return nil, env
	}

	out := make(map[types.RelativePath]string, len(files))
	for i, hash := range hashes {
		if hash != "" {
			out[files[i]] = hash
		}
	}
	return out, nil
}
