package vector

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/dshills/sca/internal/workspace"
	"github.com/dshills/sca/pkg/types"
)

// Snapshot is the persisted form of an index. Records are sorted by id so
// serialization is deterministic.
type Snapshot struct {
	Version   int      `json:"version"`
	Dimension int      `json:"dimension"`
	Params    Params   `json:"params"`
	Records   []Record `json:"records"`
}

// Snapshot exports the live records of the index.
func (x *Index) Snapshot() Snapshot {
	return Snapshot{
		Version:   SnapshotVersion,
		Dimension: x.dimension,
		Params:    x.params,
		Records:   x.LiveRecords(),
	}
}

// FromSnapshot rebuilds an index from a snapshot. A version mismatch is
// fatal for the collection: the caller must reindex.
func FromSnapshot(snapshot Snapshot) (*Index, *types.ErrorEnvelope) {
	if snapshot.Version != SnapshotVersion {
		return nil, types.Expected(types.CodeSnapshotVersion, "vector snapshot version mismatch").
			WithMeta("found", strconv.Itoa(snapshot.Version)).
			WithMeta("expected", strconv.Itoa(SnapshotVersion))
	}

	params := snapshot.Params
	if params.MaxElements < len(snapshot.Records) {
		params.MaxElements = len(snapshot.Records)
	}

	index, env := NewIndex(snapshot.Dimension, params)
	if env != nil {
		return nil, env
	}
	if env := index.Insert(snapshot.Records); env != nil {
		return nil, env
	}
	return index, nil
}

// WriteSnapshotFile persists a snapshot atomically (temp file + rename).
func WriteSnapshotFile(path string, snapshot Snapshot) *types.ErrorEnvelope {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return types.AsEnvelope(err)
	}
	return workspace.AtomicWriteFile(path, payload)
}

// ReadSnapshotFile loads a snapshot from disk. A missing file returns
// (nil, nil); a corrupt file is an unexpected failure.
func ReadSnapshotFile(path string) (*Snapshot, *types.ErrorEnvelope) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.AsEnvelope(err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, types.Unexpected(types.CodeInternal, "vector snapshot parse failed", types.NonRetriable).
			WithMeta("path", path)
	}
	return &snapshot, nil
}
