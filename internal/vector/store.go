package vector

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/dshills/sca/pkg/types"
)

// Store is the vector-store adapter contract. The local HNSW-backed
// implementation lives in this package; remote adapters expose the identical
// contract with errors carrying a retriable class.
type Store interface {
	CreateCollection(rc *types.RequestContext, name types.CollectionName, dimension int) *types.ErrorEnvelope
	HasCollection(rc *types.RequestContext, name types.CollectionName) (bool, *types.ErrorEnvelope)
	Upsert(rc *types.RequestContext, name types.CollectionName, records []Record) *types.ErrorEnvelope
	Search(rc *types.RequestContext, name types.CollectionName, query []float32, topK int, filter *Filter) ([]Match, *types.ErrorEnvelope)
	Delete(rc *types.RequestContext, name types.CollectionName, ids []string) *types.ErrorEnvelope
	IDsMatching(rc *types.RequestContext, name types.CollectionName, filter *Filter) ([]string, *types.ErrorEnvelope)
	Clear(rc *types.RequestContext, name types.CollectionName) *types.ErrorEnvelope
	Count(rc *types.RequestContext, name types.CollectionName) (int, *types.ErrorEnvelope)
}

// LocalStore is the snapshot-persisted local vector store. Collections load
// lazily from disk and every mutation rewrites the collection snapshot
// atomically. Access is serialized reader-writer: many readers, one writer.
type LocalStore struct {
	dir string

	mu          sync.RWMutex
	collections map[types.CollectionName]*Index
}

// NewLocalStore creates a store persisting under dir (the
// .context/vector/collections directory).
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{
		dir:         dir,
		collections: make(map[types.CollectionName]*Index),
	}
}

func (s *LocalStore) snapshotPath(name types.CollectionName) string {
	return filepath.Join(s.dir, name.String()+".json")
}

// load returns the collection index, reading its snapshot on first access.
// Caller must hold the write lock: a first load caches the index.
func (s *LocalStore) load(name types.CollectionName) (*Index, *types.ErrorEnvelope) {
	if index, ok := s.collections[name]; ok {
		return index, nil
	}

	snapshot, env := ReadSnapshotFile(s.snapshotPath(name))
	if env != nil {
		return nil, env
	}
	if snapshot == nil {
		return nil, nil
	}

	index, env := FromSnapshot(*snapshot)
	if env != nil {
		return nil, env
	}
	s.collections[name] = index
	return index, nil
}

func (s *LocalStore) persist(name types.CollectionName, index *Index) *types.ErrorEnvelope {
	return WriteSnapshotFile(s.snapshotPath(name), index.Snapshot())
}

// CreateCollection creates an empty collection. Creating an existing
// collection with the same dimension is a no-op; a different dimension fails.
func (s *LocalStore) CreateCollection(rc *types.RequestContext, name types.CollectionName, dimension int) *types.ErrorEnvelope {
	if env := rc.EnsureNotCancelled("vector.create_collection"); env != nil {
		return env
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, env := s.load(name)
	if env != nil {
		return env
	}
	if existing != nil {
		if existing.Dimension() != dimension {
			return types.Expected(types.CodeDimensionMismatch, "collection exists with a different dimension").
				WithMeta("expected", strconv.Itoa(existing.Dimension())).
				WithMeta("found", strconv.Itoa(dimension))
		}
		return nil
	}

	index, env := NewIndex(dimension, DefaultParams())
	if env != nil {
		return env
	}
	s.collections[name] = index
	return s.persist(name, index)
}

// HasCollection reports whether the collection exists in memory or on disk.
func (s *LocalStore) HasCollection(rc *types.RequestContext, name types.CollectionName) (bool, *types.ErrorEnvelope) {
	if env := rc.EnsureNotCancelled("vector.has_collection"); env != nil {
		return false, env
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index, env := s.load(name)
	if env != nil {
		return false, env
	}
	return index != nil, nil
}

// Upsert inserts records, creating the collection implicitly from the first
// record's dimension. Upserting an existing chunk id overwrites the record.
func (s *LocalStore) Upsert(rc *types.RequestContext, name types.CollectionName, records []Record) *types.ErrorEnvelope {
	if env := rc.EnsureNotCancelled("vector.upsert"); env != nil {
		return env
	}
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index, env := s.load(name)
	if env != nil {
		return env
	}
	if index == nil {
		index, env = NewIndex(len(records[0].Vector), DefaultParams())
		if env != nil {
			return env
		}
		s.collections[name] = index
	}

	if env := index.Insert(records); env != nil {
		return env
	}
	return s.persist(name, index)
}

// Search returns up to topK matches ordered by (score desc, relativePath
// asc, startLine asc). With a filter the scan is exhaustive over live
// records, so filtered results are exact.
func (s *LocalStore) Search(rc *types.RequestContext, name types.CollectionName, query []float32, topK int, filter *Filter) ([]Match, *types.ErrorEnvelope) {
	if env := rc.EnsureNotCancelled("vector.search"); env != nil {
		return nil, env
	}

	s.mu.Lock()
	index, env := s.load(name)
	s.mu.Unlock()
	if env != nil {
		return nil, env
	}
	if index == nil {
		return nil, types.Expected(types.CodeCollectionNotFound, "collection does not exist").
			WithMeta("collection", name.String())
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []Match
	if filter == nil {
		matches, env = index.Search(query, topK)
		if env != nil {
			return nil, env
		}
	} else {
		matches, env = scanWithFilter(index, query, topK, filter)
		if env != nil {
			return nil, env
		}
	}

	sortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// scanWithFilter brute-forces cosine scores over live records that pass the
// filter. Local collections are small enough that exactness beats graph
// traversal under a selective predicate.
func scanWithFilter(index *Index, query []float32, topK int, filter *Filter) ([]Match, *types.ErrorEnvelope) {
	if len(query) != index.Dimension() {
		return nil, types.Expected(types.CodeDimensionMismatch, "query dimension mismatch").
			WithMeta("expected", strconv.Itoa(index.Dimension())).
			WithMeta("found", strconv.Itoa(len(query)))
	}

	queryNorm := vectorNorm(query)
	var matches []Match
	for _, record := range index.LiveRecords() {
		if !filter.Matches(record.Document) {
			continue
		}
		score := cosine(query, queryNorm, record.Vector, vectorNorm(record.Vector))
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		matches = append(matches, Match{Record: record, Score: float32(score)})
	}

	sortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Record.Document.RelativePath != b.Record.Document.RelativePath {
			return a.Record.Document.RelativePath < b.Record.Document.RelativePath
		}
		return a.Record.Document.StartLine < b.Record.Document.StartLine
	})
}

// Delete removes ids best-effort; unknown ids are ignored.
func (s *LocalStore) Delete(rc *types.RequestContext, name types.CollectionName, ids []string) *types.ErrorEnvelope {
	if env := rc.EnsureNotCancelled("vector.delete"); env != nil {
		return env
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index, env := s.load(name)
	if env != nil {
		return env
	}
	if index == nil {
		return nil
	}

	index.Delete(ids)
	return s.persist(name, index)
}

// IDsMatching returns the ids of live records passing the filter, sorted
// ascending. A nil filter matches everything.
func (s *LocalStore) IDsMatching(rc *types.RequestContext, name types.CollectionName, filter *Filter) ([]string, *types.ErrorEnvelope) {
	if env := rc.EnsureNotCancelled("vector.ids_matching"); env != nil {
		return nil, env
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index, env := s.load(name)
	if env != nil {
		return nil, env
	}
	if index == nil {
		return nil, nil
	}

	var ids []string
	for _, record := range index.LiveRecords() {
		if filter.Matches(record.Document) {
			ids = append(ids, record.ID)
		}
	}
	return ids, nil
}

// Clear drops the collection from memory and disk.
func (s *LocalStore) Clear(rc *types.RequestContext, name types.CollectionName) *types.ErrorEnvelope {
	if env := rc.EnsureNotCancelled("vector.clear"); env != nil {
		return env
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.collections, name)
	if err := os.Remove(s.snapshotPath(name)); err != nil && !os.IsNotExist(err) {
		return types.AsEnvelope(err)
	}
	return nil
}

// Count returns the number of live records in the collection.
func (s *LocalStore) Count(rc *types.RequestContext, name types.CollectionName) (int, *types.ErrorEnvelope) {
	if env := rc.EnsureNotCancelled("vector.count"); env != nil {
		return 0, env
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index, env := s.load(name)
	if env != nil {
		return 0, env
	}
	if index == nil {
		return 0, nil
	}
	return index.Count(), nil
}
