package embedder

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/sca/pkg/types"
)

func testCtx() *types.RequestContext {
	return types.NewRequestContext(context.Background())
}

func TestLocalEmbedBatchDeterministic(t *testing.T) {
	emb := NewLocal()

	first, envErr := emb.EmbedBatch(testCtx(), []string{"func main() {}", "package demo"})
	require.Nil(t, envErr)
	second, envErr := emb.EmbedBatch(testCtx(), []string{"func main() {}", "package demo"})
	require.Nil(t, envErr)

	require.Len(t, first, 2)
	assert.Equal(t, first, second)
	assert.NotEqual(t, first[0], first[1])
}

func TestLocalVectorsAreUnitLength(t *testing.T) {
	emb := NewLocal(WithDimension(64))
	vectors, envErr := emb.EmbedBatch(testCtx(), []string{"some text"})
	require.Nil(t, envErr)
	require.Len(t, vectors[0], 64)

	var norm float64
	for _, v := range vectors[0] {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestLocalDimension(t *testing.T) {
	emb := NewLocal()
	assert.Equal(t, LocalDimension, emb.Dimension())

	dim, envErr := emb.DetectDimension(testCtx())
	require.Nil(t, envErr)
	assert.Equal(t, LocalDimension, dim)

	custom := NewLocal(WithDimension(128))
	assert.Equal(t, 128, custom.Dimension())
}

func TestValidateBatch(t *testing.T) {
	assert.NotNil(t, ValidateBatch(nil))
	assert.NotNil(t, ValidateBatch([]string{}))
	assert.NotNil(t, ValidateBatch([]string{"ok", ""}))
	assert.Nil(t, ValidateBatch([]string{"ok"}))
}

func TestLocalCancellation(t *testing.T) {
	emb := NewLocal()
	rc := types.NewRequestContext(context.Background())
	rc.Cancel()

	_, envErr := emb.EmbedBatch(rc, []string{"text"})
	require.NotNil(t, envErr)
	assert.True(t, envErr.IsCancelled())
}

func TestMemoryCache(t *testing.T) {
	cache := NewMemoryCache(2)
	cache.Set("a", []float32{1, 2})
	cache.Set("b", []float32{3, 4})

	got, ok := cache.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, got)

	// Mutating the returned slice must not poison the cache.
	got[0] = 99
	again, ok := cache.Get("a")
	require.True(t, ok)
	assert.Equal(t, float32(1), again[0])

	cache.Set("c", []float32{5}) // evicts the LRU entry
	assert.Equal(t, 2, cache.Len())
}

func TestSQLiteCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "embeddings.db")
	cache, envErr := OpenSQLiteCache(path, 0)
	require.Nil(t, envErr)
	defer func() { _ = cache.Close() }()

	rc := testCtx()

	_, ok, envErr := cache.Get(rc, "missing")
	require.Nil(t, envErr)
	assert.False(t, ok)

	vector := []float32{0.25, -0.5, 1.0}
	require.Nil(t, cache.Put(rc, "hash1", vector))

	got, ok, envErr := cache.Get(rc, "hash1")
	require.Nil(t, envErr)
	require.True(t, ok)
	assert.Equal(t, vector, got)
}

func TestLocalWithDiskCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.db")
	cache, envErr := OpenSQLiteCache(path, 0)
	require.Nil(t, envErr)

	emb := NewLocal(WithDimension(16), WithDiskCache(cache))
	defer func() { _ = emb.Close() }()

	rc := testCtx()
	first, envErr := emb.EmbedBatch(rc, []string{"cached text"})
	require.Nil(t, envErr)

	// A second provider sharing the disk cache returns the same vector.
	cache2, envErr := OpenSQLiteCache(path, 0)
	require.Nil(t, envErr)
	emb2 := NewLocal(WithDimension(16), WithDiskCache(cache2))
	defer func() { _ = emb2.Close() }()

	second, envErr := emb2.EmbedBatch(rc, []string{"cached text"})
	require.Nil(t, envErr)
	assert.Equal(t, first, second)
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	result, envErr := Retry(testCtx(), policy, func() (string, *types.ErrorEnvelope) {
		attempts++
		if attempts < 3 {
			return "", types.Unexpected(types.CodeEmbeddingFailed, "transient", types.Retriable)
		}
		return "ok", nil
	})

	require.Nil(t, envErr)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnNonRetriable(t *testing.T) {
	attempts := 0
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}

	_, envErr := Retry(testCtx(), policy, func() (int, *types.ErrorEnvelope) {
		attempts++
		return 0, types.Expected(types.CodeInvalidValue, "permanent")
	})

	require.NotNil(t, envErr)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, types.CodeInvalidValue, envErr.Code)
}

func TestRetryExhaustionPreservesCode(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}

	_, envErr := Retry(testCtx(), policy, func() (int, *types.ErrorEnvelope) {
		return 0, types.Unexpected(types.CodeEmbeddingFailed, "down", types.Retriable)
	})

	require.NotNil(t, envErr)
	assert.Equal(t, types.CodeEmbeddingFailed, envErr.Code)
	assert.Equal(t, types.KindUnexpected, envErr.Kind)
	assert.Equal(t, types.NonRetriable, envErr.Class)
}

func TestRetryNeverRunsAfterCancel(t *testing.T) {
	rc := types.NewRequestContext(context.Background())
	rc.Cancel()

	attempts := 0
	_, envErr := Retry(rc, DefaultRetryPolicy(), func() (int, *types.ErrorEnvelope) {
		attempts++
		return 0, nil
	})

	require.NotNil(t, envErr)
	assert.True(t, envErr.IsCancelled())
	assert.Zero(t, attempts)
}

func TestFactory(t *testing.T) {
	emb, envErr := New(Config{Provider: "local", Dimension: 32})
	require.Nil(t, envErr)
	assert.Equal(t, ProviderLocal, emb.Provider())
	assert.Equal(t, 32, emb.Dimension())

	_, envErr = New(Config{Provider: "definitely-not-real"})
	require.NotNil(t, envErr)
	assert.Equal(t, types.CodeInvalidValue, envErr.Code)
}
