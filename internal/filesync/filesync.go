// Package filesync persists Merkle snapshots for change detection. Snapshots
// are stored per codebase root, keyed by the md5 of the normalized absolute
// root, and written atomically.
package filesync

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/dshills/sca/internal/merkle"
	"github.com/dshills/sca/internal/workspace"
	"github.com/dshills/sca/pkg/types"
)

// Store is the file-sync adapter contract. A missing snapshot is "none", not
// an error; saves are atomic.
type Store interface {
	LoadSnapshot(rc *types.RequestContext, codebaseRoot string) (*merkle.Snapshot, *types.ErrorEnvelope)
	SaveSnapshot(rc *types.RequestContext, codebaseRoot string, snapshot merkle.Snapshot) *types.ErrorEnvelope
	DeleteSnapshot(rc *types.RequestContext, codebaseRoot string) *types.ErrorEnvelope
}

// Local stores snapshots as JSON files under a sync directory.
type Local struct {
	dir string
}

// NewLocal creates a snapshot store writing into dir (the .context/sync
// directory).
func NewLocal(dir string) *Local {
	return &Local{dir: dir}
}

// SnapshotPath returns the snapshot file for a codebase root.
func (l *Local) SnapshotPath(codebaseRoot string) string {
	digest := md5.Sum([]byte(types.NormalizeRoot(codebaseRoot)))
	return filepath.Join(l.dir, hex.EncodeToString(digest[:])+".json")
}

// LoadSnapshot reads the snapshot for a root. Missing snapshots return
// (nil, nil); unparsable snapshots fail with sync:corrupt_snapshot so the
// caller can fall back to a full reindex.
func (l *Local) LoadSnapshot(rc *types.RequestContext, codebaseRoot string) (*merkle.Snapshot, *types.ErrorEnvelope) {
	if env := rc.EnsureNotCancelled("filesync.load_snapshot"); env != nil {
		return nil, env
	}

	path := l.SnapshotPath(codebaseRoot)
	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.AsEnvelope(err)
	}

	var snapshot merkle.Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, types.Unexpected(types.CodeCorruptSnapshot, "failed to parse sync snapshot", types.NonRetriable).
			WithMeta("path", path)
	}
	if snapshot.Version != merkle.SnapshotVersion {
		return nil, types.Unexpected(types.CodeCorruptSnapshot, "sync snapshot version mismatch", types.NonRetriable).
			WithMeta("path", path)
	}
	return &snapshot, nil
}

// SaveSnapshot writes the snapshot atomically.
func (l *Local) SaveSnapshot(rc *types.RequestContext, codebaseRoot string, snapshot merkle.Snapshot) *types.ErrorEnvelope {
	if env := rc.EnsureNotCancelled("filesync.save_snapshot"); env != nil {
		return env
	}

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return types.AsEnvelope(err)
	}
	return workspace.AtomicWriteFile(l.SnapshotPath(codebaseRoot), payload)
}

// DeleteSnapshot removes the snapshot; missing files are ignored.
func (l *Local) DeleteSnapshot(rc *types.RequestContext, codebaseRoot string) *types.ErrorEnvelope {
	if env := rc.EnsureNotCancelled("filesync.delete_snapshot"); env != nil {
		return env
	}

	if err := os.Remove(l.SnapshotPath(codebaseRoot)); err != nil && !os.IsNotExist(err) {
		return types.AsEnvelope(err)
	}
	return nil
}
