// Package workspace manages the per-codebase state directory (.context/):
// its layout, the manifest, and atomic file writes shared by every component
// that persists state.
package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/dshills/sca/pkg/types"
)

// ManifestSchemaVersion is the schema version written to new manifests.
const ManifestSchemaVersion = 1

// Layout resolves paths inside a codebase's state directory.
type Layout struct {
	codebaseRoot string
	stateDir     string
}

// NewLayout creates the layout for a codebase root. The state directory is
// not created until EnsureStateDir.
func NewLayout(codebaseRoot string) Layout {
	root := types.NormalizeRoot(codebaseRoot)
	return Layout{
		codebaseRoot: root,
		stateDir:     filepath.Join(filepath.FromSlash(root), types.StateDirName),
	}
}

// CodebaseRoot returns the normalized codebase root.
func (l Layout) CodebaseRoot() string { return l.codebaseRoot }

// StateDir returns the .context directory path.
func (l Layout) StateDir() string { return l.stateDir }

// ConfigPath returns the config file path.
func (l Layout) ConfigPath() string { return filepath.Join(l.stateDir, "config.toml") }

// ManifestPath returns the manifest file path.
func (l Layout) ManifestPath() string { return filepath.Join(l.stateDir, "manifest.json") }

// SyncDir returns the Merkle snapshot directory.
func (l Layout) SyncDir() string { return filepath.Join(l.stateDir, "sync") }

// CollectionsDir returns the vector snapshot directory.
func (l Layout) CollectionsDir() string {
	return filepath.Join(l.stateDir, "vector", "collections")
}

// EmbeddingCacheDir returns the embedding cache directory.
func (l Layout) EmbeddingCacheDir() string {
	return filepath.Join(l.stateDir, "cache", "embeddings")
}

// JobsDir returns the background-job metadata directory.
func (l Layout) JobsDir() string { return filepath.Join(l.stateDir, "jobs") }

// EnsureStateDir creates the state directory tree.
func (l Layout) EnsureStateDir() *types.ErrorEnvelope {
	for _, dir := range []string{l.stateDir, l.SyncDir(), l.CollectionsDir(), l.JobsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return types.AsEnvelope(err)
		}
	}
	return nil
}

// Exists reports whether the state directory is present.
func (l Layout) Exists() bool {
	info, err := os.Stat(l.stateDir)
	return err == nil && info.IsDir()
}

// Manifest is the small per-codebase descriptor written by `sca init`.
type Manifest struct {
	CodebaseID    types.CodebaseID `json:"codebaseId"`
	CreatedAt     time.Time        `json:"createdAt"`
	SchemaVersion int              `json:"schemaVersion"`
}

// WriteManifest writes the manifest atomically, creating it with the derived
// codebase id when absent. An existing manifest is returned unchanged.
func (l Layout) WriteManifest() (Manifest, *types.ErrorEnvelope) {
	if manifest, env := l.ReadManifest(); env == nil {
		return manifest, nil
	} else if env.Code != types.CodeNotFound {
		return Manifest{}, env
	}

	manifest := Manifest{
		CodebaseID:    types.DeriveCodebaseID(l.codebaseRoot),
		CreatedAt:     time.Now().UTC(),
		SchemaVersion: ManifestSchemaVersion,
	}
	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Manifest{}, types.AsEnvelope(err)
	}
	if env := AtomicWriteFile(l.ManifestPath(), payload); env != nil {
		return Manifest{}, env
	}
	return manifest, nil
}

// ReadManifest loads the manifest. A missing manifest returns core:not_found.
func (l Layout) ReadManifest() (Manifest, *types.ErrorEnvelope) {
	payload, err := os.ReadFile(l.ManifestPath())
	if err != nil {
		return Manifest{}, types.AsEnvelope(err)
	}
	var manifest Manifest
	if err := json.Unmarshal(payload, &manifest); err != nil {
		return Manifest{}, types.Unexpected(types.CodeInternal, "manifest parse failed", types.NonRetriable).
			WithMeta("path", l.ManifestPath())
	}
	return manifest, nil
}

// AtomicWriteFile writes payload to path via a temporary sibling and rename,
// so readers never observe a partial file.
func AtomicWriteFile(path string, payload []byte) *types.ErrorEnvelope {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.AsEnvelope(err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return types.AsEnvelope(err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return types.AsEnvelope(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return types.AsEnvelope(err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return types.AsEnvelope(err)
	}
	return nil
}
