package vector

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/sca/pkg/types"
)

func record(id string, vector ...float32) Record {
	return Record{
		ID:     id,
		Vector: vector,
		Document: types.Document{
			ChunkID:      types.ChunkID(id),
			RelativePath: types.RelativePath(id + ".go"),
			StartLine:    1,
			EndLine:      2,
			Language:     types.LangGo,
		},
	}
}

func TestNewIndexRejectsZeroDimension(t *testing.T) {
	_, envErr := NewIndex(0, DefaultParams())
	require.NotNil(t, envErr)
	assert.Equal(t, types.CodeDimensionMismatch, envErr.Code)
}

func TestInsertRejectsDimensionMismatch(t *testing.T) {
	index, envErr := NewIndex(2, DefaultParams())
	require.Nil(t, envErr)

	envErr = index.Insert([]Record{record("a", 1, 2, 3)})
	require.NotNil(t, envErr)
	assert.Equal(t, types.CodeDimensionMismatch, envErr.Code)
}

func TestSearchPrefersCloserVectors(t *testing.T) {
	index, envErr := NewIndex(2, DefaultParams())
	require.Nil(t, envErr)

	require.Nil(t, index.Insert([]Record{
		record("near", 1, 0),
		record("far", 0, 1),
	}))

	matches, envErr := index.Search([]float32{1, 0.05}, 2)
	require.Nil(t, envErr)
	require.Len(t, matches, 2)
	assert.Equal(t, "near", matches[0].Record.ID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestSearchQueryDimensionChecked(t *testing.T) {
	index, _ := NewIndex(2, DefaultParams())
	require.Nil(t, index.Insert([]Record{record("a", 1, 0)}))

	_, envErr := index.Search([]float32{1, 0, 0}, 1)
	require.NotNil(t, envErr)
	assert.Equal(t, types.CodeDimensionMismatch, envErr.Code)
}

func TestUpsertOverwritesExistingID(t *testing.T) {
	index, _ := NewIndex(2, DefaultParams())
	require.Nil(t, index.Insert([]Record{record("a", 1, 0)}))
	require.Nil(t, index.Insert([]Record{record("a", 0, 1)}))

	assert.Equal(t, 1, index.Count())

	got, ok := index.RecordForID("a")
	require.True(t, ok)
	assert.Equal(t, []float32{0, 1}, got.Vector)

	// The stale version never surfaces in search results.
	matches, envErr := index.Search([]float32{1, 0}, 10)
	require.Nil(t, envErr)
	require.Len(t, matches, 1)
	assert.Equal(t, []float32{0, 1}, matches[0].Record.Vector)
}

func TestDeleteIsBestEffort(t *testing.T) {
	index, _ := NewIndex(2, DefaultParams())
	require.Nil(t, index.Insert([]Record{record("a", 1, 0), record("b", 0, 1)}))

	index.Delete([]string{"a", "never-existed"})
	assert.Equal(t, 1, index.Count())

	matches, envErr := index.Search([]float32{1, 0}, 5)
	require.Nil(t, envErr)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", matches[0].Record.ID)
}

func TestSearchTieBreaksByID(t *testing.T) {
	index, _ := NewIndex(2, DefaultParams())
	// Same direction, same score: ties break by id ascending.
	require.Nil(t, index.Insert([]Record{
		record("zeta", 1, 0),
		record("alpha", 2, 0),
	}))

	matches, envErr := index.Search([]float32{1, 0}, 2)
	require.Nil(t, envErr)
	require.Len(t, matches, 2)
	assert.Equal(t, "alpha", matches[0].Record.ID)
	assert.Equal(t, "zeta", matches[1].Record.ID)
}

func TestCosineScoreClampedToZero(t *testing.T) {
	index, _ := NewIndex(2, DefaultParams())
	require.Nil(t, index.Insert([]Record{record("opposite", -1, 0)}))

	matches, envErr := index.Search([]float32{1, 0}, 1)
	require.Nil(t, envErr)
	require.Len(t, matches, 1)
	assert.Equal(t, float32(0), matches[0].Score)
}

func TestSearchRecallOnLargerSet(t *testing.T) {
	const dim = 8
	const n = 300

	index, envErr := NewIndex(dim, DefaultParams())
	require.Nil(t, envErr)

	rng := rand.New(rand.NewSource(42))
	vectors := make([][]float32, n)
	for i := 0; i < n; i++ {
		v := make([]float32, dim)
		for d := range v {
			v[d] = rng.Float32()*2 - 1
		}
		vectors[i] = v
		require.Nil(t, index.Insert([]Record{record(fmt.Sprintf("rec%03d", i), v...)}))
	}

	// The best match for a stored vector is itself.
	for _, probe := range []int{0, 17, 150, 299} {
		matches, envErr := index.Search(vectors[probe], 1)
		require.Nil(t, envErr)
		require.NotEmpty(t, matches)
		assert.Equal(t, fmt.Sprintf("rec%03d", probe), matches[0].Record.ID)
		assert.InDelta(t, 1.0, float64(matches[0].Score), 1e-5)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	index, _ := NewIndex(2, DefaultParams())
	require.Nil(t, index.Insert([]Record{
		record("a", 0.5, 0.5),
		record("b", 0.9, 0.1),
	}))
	index.Delete([]string{"b"})

	snapshot := index.Snapshot()
	assert.Equal(t, SnapshotVersion, snapshot.Version)
	assert.Equal(t, 2, snapshot.Dimension)
	require.Len(t, snapshot.Records, 1)
	assert.Equal(t, "a", snapshot.Records[0].ID)

	restored, envErr := FromSnapshot(snapshot)
	require.Nil(t, envErr)

	matches, envErr := restored.Search([]float32{0.5, 0.5}, 1)
	require.Nil(t, envErr)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].Record.ID)
}

func TestFromSnapshotVersionMismatch(t *testing.T) {
	_, envErr := FromSnapshot(Snapshot{Version: 99, Dimension: 2, Params: DefaultParams()})
	require.NotNil(t, envErr)
	assert.Equal(t, types.CodeSnapshotVersion, envErr.Code)
	assert.Equal(t, types.KindExpected, envErr.Kind)
}

func TestLevelAssignmentDeterministic(t *testing.T) {
	index, _ := NewIndex(2, DefaultParams())
	other, _ := NewIndex(2, DefaultParams())

	for i := 0; i < 200; i++ {
		assert.Equal(t, index.levelFor(i), other.levelFor(i))
		assert.Less(t, index.levelFor(i), index.params.MaxLayer)
	}
}

func TestVectorNorm(t *testing.T) {
	assert.InDelta(t, 5.0, vectorNorm([]float32{3, 4}), 1e-9)
	assert.Equal(t, 0.0, vectorNorm([]float32{0, 0}))
	assert.InDelta(t, math.Sqrt(2), vectorNorm([]float32{1, 1}), 1e-9)
}
