// Package vector implements the local vector kernel: an in-process HNSW
// index with insert/search/delete, cosine similarity, a strict filter
// grammar, and a versioned on-disk snapshot format. The VectorStore adapter
// contract defined here is also the boundary remote vector databases
// implement.
package vector

import (
	"container/heap"
	"math"
	"sort"
	"strconv"

	"github.com/dshills/sca/pkg/types"
)

// SnapshotVersion is the schema version of persisted vector snapshots.
const SnapshotVersion = 1

// Params tune the HNSW graph.
type Params struct {
	// MaxConnections is the maximum number of links per node and layer (M).
	MaxConnections int `json:"maxNbConnection"`
	// MaxLayer caps the layer count.
	MaxLayer int `json:"maxLayer"`
	// EfConstruction is the candidate-list width during insertion.
	EfConstruction int `json:"efConstruction"`
	// EfSearch is the candidate-list width during search.
	EfSearch int `json:"efSearch"`
	// MaxElements is an allocation hint.
	MaxElements int `json:"maxElements"`
}

// DefaultParams returns the kernel defaults.
func DefaultParams() Params {
	return Params{
		MaxConnections: 16,
		MaxLayer:       16,
		EfConstruction: 200,
		EfSearch:       50,
		MaxElements:    100_000,
	}
}

// Record is one stored vector with its document payload.
type Record struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"vector"`
	Document types.Document `json:"document"`
}

// Match is a search hit with its cosine similarity score.
type Match struct {
	Record Record
	Score  float32
}

// Index is the in-memory HNSW index. It is not safe for concurrent use; the
// Store serializes access with a reader-writer lock.
type Index struct {
	dimension int
	params    Params

	records []Record
	norms   []float64
	idToIdx map[string]int
	deleted map[int]struct{}

	nodes    []graphNode
	entry    int
	topLevel int

	levelScale float64
}

type graphNode struct {
	level     int
	neighbors [][]int
}

// NewIndex creates an empty index for the given dimension.
func NewIndex(dimension int, params Params) (*Index, *types.ErrorEnvelope) {
	if dimension < 1 {
		return nil, types.Expected(types.CodeDimensionMismatch, "dimension must be >= 1").
			WithMeta("dimension", strconv.Itoa(dimension))
	}
	if params.MaxConnections < 2 {
		params.MaxConnections = DefaultParams().MaxConnections
	}
	if params.MaxLayer < 1 {
		params.MaxLayer = DefaultParams().MaxLayer
	}
	if params.EfConstruction < 1 {
		params.EfConstruction = DefaultParams().EfConstruction
	}
	if params.EfSearch < 1 {
		params.EfSearch = DefaultParams().EfSearch
	}
	if params.MaxElements < 1 {
		params.MaxElements = 1
	}

	return &Index{
		dimension:  dimension,
		params:     params,
		idToIdx:    make(map[string]int),
		deleted:    make(map[int]struct{}),
		entry:      -1,
		topLevel:   -1,
		levelScale: 1 / math.Log(float64(params.MaxConnections)),
	}, nil
}

// Dimension returns the index dimension.
func (x *Index) Dimension() int { return x.dimension }

// Params returns the graph parameters.
func (x *Index) Params() Params { return x.params }

// Count returns the number of live records.
func (x *Index) Count() int { return len(x.idToIdx) }

// Insert upserts records. Re-inserting an existing id soft-deletes the
// previous version and stores the new one.
func (x *Index) Insert(records []Record) *types.ErrorEnvelope {
	for _, record := range records {
		if len(record.Vector) != x.dimension {
			return types.Expected(types.CodeDimensionMismatch, "vector dimension mismatch").
				WithMeta("expected", strconv.Itoa(x.dimension)).
				WithMeta("found", strconv.Itoa(len(record.Vector)))
		}

		idx := len(x.records)
		if previous, exists := x.idToIdx[record.ID]; exists {
			x.deleted[previous] = struct{}{}
		}
		x.idToIdx[record.ID] = idx
		x.records = append(x.records, record)
		x.norms = append(x.norms, vectorNorm(record.Vector))
		x.link(idx)
	}
	return nil
}

// Delete removes ids best-effort; unknown ids are ignored. Removal is a soft
// delete: graph nodes stay traversable but never surface in results.
func (x *Index) Delete(ids []string) {
	for _, id := range ids {
		if idx, exists := x.idToIdx[id]; exists {
			delete(x.idToIdx, id)
			x.deleted[idx] = struct{}{}
		}
	}
}

// RecordForID returns the live record for id.
func (x *Index) RecordForID(id string) (Record, bool) {
	idx, exists := x.idToIdx[id]
	if !exists {
		return Record{}, false
	}
	return x.records[idx], true
}

// LiveRecords returns all live records sorted by id.
func (x *Index) LiveRecords() []Record {
	out := make([]Record, 0, len(x.idToIdx))
	for _, idx := range x.idToIdx {
		out = append(out, x.records[idx])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Search returns up to limit live records ordered by cosine similarity
// descending; ties break by id ascending so results are deterministic.
// Scores are clamped to [0, 1].
func (x *Index) Search(query []float32, limit int) ([]Match, *types.ErrorEnvelope) {
	if limit <= 0 || len(x.idToIdx) == 0 {
		return nil, nil
	}
	if len(query) != x.dimension {
		return nil, types.Expected(types.CodeDimensionMismatch, "query dimension mismatch").
			WithMeta("expected", strconv.Itoa(x.dimension)).
			WithMeta("found", strconv.Itoa(len(query)))
	}

	total := len(x.idToIdx)
	requested := limit
	if requested > total {
		requested = total
	}
	// Overfetch so soft-deleted graph nodes do not crowd out live results.
	knbn := requested * 5
	if knbn < requested {
		knbn = requested
	}
	if knbn > len(x.records) {
		knbn = len(x.records)
	}
	ef := x.params.EfSearch
	if ef < knbn {
		ef = knbn
	}

	queryNorm := vectorNorm(query)

	cur := x.entry
	for level := x.topLevel; level > 0; level-- {
		cur = x.greedyClosest(query, queryNorm, cur, level)
	}
	candidates := x.searchLayer(query, queryNorm, cur, ef, 0)

	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		if _, gone := x.deleted[c.idx]; gone {
			continue
		}
		// Skip stale versions of overwritten ids.
		if live, ok := x.idToIdx[x.records[c.idx].ID]; !ok || live != c.idx {
			continue
		}
		score := 1 - c.dist
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		matches = append(matches, Match{
			Record: x.records[c.idx],
			Score:  float32(score),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Record.ID < matches[j].Record.ID
	})
	if len(matches) > requested {
		matches = matches[:requested]
	}
	return matches, nil
}

// link wires a freshly appended record into the graph.
func (x *Index) link(idx int) {
	level := x.levelFor(idx)
	node := graphNode{level: level, neighbors: make([][]int, level+1)}
	x.nodes = append(x.nodes, node)

	if x.entry < 0 {
		x.entry = idx
		x.topLevel = level
		return
	}

	vector := x.records[idx].Vector
	norm := x.norms[idx]

	cur := x.entry
	for l := x.topLevel; l > level; l-- {
		cur = x.greedyClosest(vector, norm, cur, l)
	}

	maxLevel := level
	if maxLevel > x.topLevel {
		maxLevel = x.topLevel
	}
	for l := maxLevel; l >= 0; l-- {
		candidates := x.searchLayer(vector, norm, cur, x.params.EfConstruction, l)
		limit := x.params.MaxConnections
		if l == 0 {
			limit *= 2
		}
		neighbors := closestN(candidates, limit)

		x.nodes[idx].neighbors[l] = neighbors
		for _, neighbor := range neighbors {
			x.nodes[neighbor].neighbors[l] = append(x.nodes[neighbor].neighbors[l], idx)
			x.pruneNeighbors(neighbor, l)
		}
		if len(candidates) > 0 {
			cur = candidates[0].idx
		}
	}

	if level > x.topLevel {
		x.entry = idx
		x.topLevel = level
	}
}

// pruneNeighbors trims a node's link list back to the per-layer budget,
// keeping the closest links.
func (x *Index) pruneNeighbors(idx, level int) {
	limit := x.params.MaxConnections
	if level == 0 {
		limit *= 2
	}
	links := x.nodes[idx].neighbors[level]
	if len(links) <= limit {
		return
	}

	base := x.records[idx].Vector
	baseNorm := x.norms[idx]
	sort.Slice(links, func(i, j int) bool {
		return x.distance(base, baseNorm, links[i]) < x.distance(base, baseNorm, links[j])
	})
	x.nodes[idx].neighbors[level] = append([]int(nil), links[:limit]...)
}

// greedyClosest walks a layer towards the query until no neighbor improves.
func (x *Index) greedyClosest(query []float32, queryNorm float64, start, level int) int {
	cur := start
	curDist := x.distance(query, queryNorm, cur)
	for {
		improved := false
		if level < len(x.nodes[cur].neighbors) {
			for _, neighbor := range x.nodes[cur].neighbors[level] {
				if d := x.distance(query, queryNorm, neighbor); d < curDist {
					cur, curDist = neighbor, d
					improved = true
				}
			}
		}
		if !improved {
			return cur
		}
	}
}

type candidate struct {
	idx  int
	dist float64
}

// searchLayer is the classic HNSW beam search over one layer, returning up
// to ef candidates sorted by distance ascending.
func (x *Index) searchLayer(query []float32, queryNorm float64, entry, ef, level int) []candidate {
	visited := map[int]struct{}{entry: {}}
	entryDist := x.distance(query, queryNorm, entry)

	frontier := &candidateHeap{min: true}
	heap.Push(frontier, candidate{idx: entry, dist: entryDist})
	results := &candidateHeap{min: false}
	heap.Push(results, candidate{idx: entry, dist: entryDist})

	for frontier.Len() > 0 {
		closest := heap.Pop(frontier).(candidate)
		worst := results.Peek()
		if closest.dist > worst.dist && results.Len() >= ef {
			break
		}

		if level < len(x.nodes[closest.idx].neighbors) {
			for _, neighbor := range x.nodes[closest.idx].neighbors[level] {
				if _, seen := visited[neighbor]; seen {
					continue
				}
				visited[neighbor] = struct{}{}

				d := x.distance(query, queryNorm, neighbor)
				if results.Len() < ef || d < results.Peek().dist {
					heap.Push(frontier, candidate{idx: neighbor, dist: d})
					heap.Push(results, candidate{idx: neighbor, dist: d})
					if results.Len() > ef {
						heap.Pop(results)
					}
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(candidate)
	}
	return out
}

func closestN(candidates []candidate, n int) []int {
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	out := make([]int, len(candidates))
	for i, c := range candidates {
		out[i] = c.idx
	}
	return out
}

// distance is cosine distance: 1 - cos(query, record).
func (x *Index) distance(query []float32, queryNorm float64, idx int) float64 {
	return 1 - cosine(query, queryNorm, x.records[idx].Vector, x.norms[idx])
}

func cosine(a []float32, normA float64, b []float32, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, value := range v {
		sum += float64(value) * float64(value)
	}
	return math.Sqrt(sum)
}

// levelFor assigns a node's layer deterministically from its internal index,
// so rebuilding an index from a snapshot reproduces the same graph.
func (x *Index) levelFor(idx int) int {
	u := splitmix64(uint64(idx) + 1)
	// Map to (0, 1]; never exactly zero.
	f := (float64(u>>11) + 1) / float64(1<<53)
	level := int(-math.Log(f) * x.levelScale)
	if level >= x.params.MaxLayer {
		level = x.params.MaxLayer - 1
	}
	return level
}

func splitmix64(v uint64) uint64 {
	v += 0x9e3779b97f4a7c15
	v = (v ^ (v >> 30)) * 0xbf58476d1ce4e5b9
	v = (v ^ (v >> 27)) * 0x94d049bb133111eb
	return v ^ (v >> 31)
}

// candidateHeap is a binary heap over candidates; min selects ordering.
type candidateHeap struct {
	items []candidate
	min   bool
}

func (h *candidateHeap) Len() int { return len(h.items) }

func (h *candidateHeap) Less(i, j int) bool {
	if h.min {
		return h.items[i].dist < h.items[j].dist
	}
	return h.items[i].dist > h.items[j].dist
}

func (h *candidateHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *candidateHeap) Push(item any) { h.items = append(h.items, item.(candidate)) }

func (h *candidateHeap) Pop() any {
	last := h.items[len(h.items)-1]
	h.items = h.items[:len(h.items)-1]
	return last
}

func (h *candidateHeap) Peek() candidate {
	return h.items[0]
}
