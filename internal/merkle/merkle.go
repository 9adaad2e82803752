// Package merkle builds content-addressed snapshots of a working tree and
// computes deterministic diffs between them. Snapshots drive change-driven
// reindexing: only files whose hashes moved are reprocessed.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/dshills/sca/pkg/types"
)

// SnapshotVersion is the schema version of serialized snapshots.
const SnapshotVersion = 1

// FileHash pairs a relative path with the sha256 of the file's raw bytes.
type FileHash struct {
	Path types.RelativePath `json:"path"`
	Hash string             `json:"hash"`
}

// DagNode is one node of the Merkle DAG. The DAG is serialized as flat node
// lists plus root ids, never as a recursive structure, so output stays
// deterministic and language-neutral.
type DagNode struct {
	ID       string   `json:"id"`
	Hash     string   `json:"hash"`
	Data     string   `json:"data"`
	Parents  []string `json:"parents"`
	Children []string `json:"children"`
}

// Dag holds the serialized DAG: sorted node entries and sorted root ids.
type Dag struct {
	Nodes   []DagNode `json:"nodes"`
	RootIDs []string  `json:"rootIds"`
}

// Snapshot is the persisted change-detection state for one codebase root.
type Snapshot struct {
	Version    int        `json:"version"`
	FileHashes []FileHash `json:"fileHashes"`
	Dag        Dag        `json:"dag"`
}

// RootHash returns the sha256 over the concatenation of file hashes in
// lexicographic path order.
func (s *Snapshot) RootHash() string {
	hasher := sha256.New()
	for _, entry := range s.FileHashes {
		hasher.Write([]byte(entry.Hash))
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// Hashes returns the file hashes as a lookup map.
func (s *Snapshot) Hashes() map[types.RelativePath]string {
	out := make(map[types.RelativePath]string, len(s.FileHashes))
	for _, entry := range s.FileHashes {
		out[entry.Path] = entry.Hash
	}
	return out
}

// Build constructs a snapshot from per-file content hashes. Iteration order
// of the input map does not affect the result: entries are sorted before the
// DAG and root hash are derived.
func Build(fileHashes map[types.RelativePath]string) Snapshot {
	entries := make([]FileHash, 0, len(fileHashes))
	for path, hash := range fileHashes {
		entries = append(entries, FileHash{Path: path, Hash: hash})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	snapshot := Snapshot{Version: SnapshotVersion, FileHashes: entries}
	snapshot.Dag = buildDag(entries, snapshot.RootHash())
	return snapshot
}

func buildDag(entries []FileHash, rootHash string) Dag {
	rootData := "root:" + rootHash
	rootID := hashData(rootData)
	root := DagNode{
		ID:       rootID,
		Hash:     rootID,
		Data:     rootData,
		Parents:  []string{},
		Children: make([]string, 0, len(entries)),
	}

	nodes := make([]DagNode, 0, len(entries)+1)
	for _, entry := range entries {
		data := string(entry.Path) + ":" + entry.Hash
		id := hashData(data)
		root.Children = append(root.Children, id)
		nodes = append(nodes, DagNode{
			ID:       id,
			Hash:     id,
			Data:     data,
			Parents:  []string{rootID},
			Children: []string{},
		})
	}

	nodes = append(nodes, root)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return Dag{Nodes: nodes, RootIDs: []string{rootID}}
}

// ChangeSet is the result of diffing two snapshots. Paths are sorted
// lexicographically and the three sets are pairwise disjoint.
type ChangeSet struct {
	Added    []types.RelativePath `json:"added"`
	Modified []types.RelativePath `json:"modified"`
	Removed  []types.RelativePath `json:"removed"`
}

// IsEmpty reports whether the diff contains no changes.
func (c ChangeSet) IsEmpty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Removed) == 0
}

// Total returns the number of changed files.
func (c ChangeSet) Total() int {
	return len(c.Added) + len(c.Modified) + len(c.Removed)
}

// Diff compares a previous snapshot against the current one. A nil previous
// snapshot treats every current file as added.
func Diff(previous *Snapshot, current *Snapshot) ChangeSet {
	var prevHashes map[types.RelativePath]string
	if previous != nil {
		prevHashes = previous.Hashes()
	}
	curHashes := current.Hashes()

	var change ChangeSet
	for path, hash := range curHashes {
		prevHash, existed := prevHashes[path]
		switch {
		case !existed:
			change.Added = append(change.Added, path)
		case prevHash != hash:
			change.Modified = append(change.Modified, path)
		}
	}
	for path := range prevHashes {
		if _, exists := curHashes[path]; !exists {
			change.Removed = append(change.Removed, path)
		}
	}

	sortPaths(change.Added)
	sortPaths(change.Modified)
	sortPaths(change.Removed)
	return change
}

func sortPaths(paths []types.RelativePath) {
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
}

func hashData(data string) string {
	digest := sha256.Sum256([]byte(data))
	return hex.EncodeToString(digest[:])
}
