package embedder

import (
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/dshills/sca/pkg/types"
)

// LocalDimension is the default dimension of the local provider.
const LocalDimension = 384

// ProviderLocal is the provider tag of the local embedder.
const ProviderLocal = "local"

// Local is the offline embedding provider. Vectors are derived
// deterministically from the text's sha256 digest chain and normalized to
// unit length, so cosine similarity behaves sensibly and identical inputs
// always produce identical embeddings. Sessions are pooled: a caller holds
// one session slot for the duration of a batch.
type Local struct {
	dimension int
	sessions  chan struct{}
	memCache  *MemoryCache
	diskCache DiskCache
}

// LocalOption configures the local provider.
type LocalOption func(*Local)

// WithDimension overrides the vector dimension.
func WithDimension(dimension int) LocalOption {
	return func(l *Local) {
		if dimension > 0 {
			l.dimension = dimension
		}
	}
}

// WithMemoryCache attaches an in-memory cache.
func WithMemoryCache(cache *MemoryCache) LocalOption {
	return func(l *Local) { l.memCache = cache }
}

// WithDiskCache attaches an on-disk cache consulted after the memory cache.
func WithDiskCache(cache DiskCache) LocalOption {
	return func(l *Local) { l.diskCache = cache }
}

// WithSessionPoolSize sets the number of concurrently usable sessions.
func WithSessionPoolSize(size int) LocalOption {
	return func(l *Local) {
		if size > 0 {
			l.sessions = make(chan struct{}, size)
		}
	}
}

// NewLocal creates a local provider with default dimension and a single
// session.
func NewLocal(opts ...LocalOption) *Local {
	l := &Local{
		dimension: LocalDimension,
		sessions:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// EmbedBatch embeds texts in input order. The session slot is held for the
// whole batch; cancellation is observed while waiting for a session and
// between texts.
func (l *Local) EmbedBatch(rc *types.RequestContext, texts []string) ([][]float32, *types.ErrorEnvelope) {
	if env := ValidateBatch(texts); env != nil {
		return nil, env
	}

	select {
	case l.sessions <- struct{}{}:
		defer func() { <-l.sessions }()
	case <-rc.Done():
		return nil, rc.EnsureNotCancelled("embedder.acquire_session")
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if env := rc.EnsureNotCancelled("embedder.embed_batch"); env != nil {
			return nil, env
		}
		vector, env := l.embedOne(rc, text)
		if env != nil {
			return nil, env
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (l *Local) embedOne(rc *types.RequestContext, text string) ([]float32, *types.ErrorEnvelope) {
	hash := HashText(text)

	if l.memCache != nil {
		if vector, ok := l.memCache.Get(hash); ok && len(vector) == l.dimension {
			return vector, nil
		}
	}
	if l.diskCache != nil {
		if vector, ok, env := l.diskCache.Get(rc, hash); env != nil {
			return nil, env
		} else if ok && len(vector) == l.dimension {
			if l.memCache != nil {
				l.memCache.Set(hash, vector)
			}
			return vector, nil
		}
	}

	vector := deriveVector(text, l.dimension)

	if l.memCache != nil {
		l.memCache.Set(hash, vector)
	}
	if l.diskCache != nil {
		if env := l.diskCache.Put(rc, hash, vector); env != nil {
			return nil, env
		}
	}
	return vector, nil
}

// Dimension returns the configured dimension.
func (l *Local) Dimension() int { return l.dimension }

// DetectDimension returns the configured dimension; the local provider has no
// remote model to probe.
func (l *Local) DetectDimension(rc *types.RequestContext) (int, *types.ErrorEnvelope) {
	if env := rc.EnsureNotCancelled("embedder.detect_dimension"); env != nil {
		return 0, env
	}
	return l.dimension, nil
}

// Provider returns "local".
func (l *Local) Provider() string { return ProviderLocal }

// Close releases the disk cache when attached.
func (l *Local) Close() error {
	if l.diskCache != nil {
		return l.diskCache.Close()
	}
	return nil
}

// deriveVector expands the text digest into a unit-length vector. Each block
// of dimension values comes from sha256(digest || counter), mapped into
// [-1, 1].
func deriveVector(text string, dimension int) []float32 {
	seed := sha256.Sum256([]byte(text))
	vector := make([]float32, dimension)

	var counter uint32
	idx := 0
	for idx < dimension {
		var block [36]byte
		copy(block[:32], seed[:])
		binary.LittleEndian.PutUint32(block[32:], counter)
		digest := sha256.Sum256(block[:])
		counter++

		for off := 0; off+4 <= len(digest) && idx < dimension; off += 4 {
			bits := binary.LittleEndian.Uint32(digest[off : off+4])
			vector[idx] = float32(bits)/float32(math.MaxUint32)*2 - 1
			idx++
		}
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vector[0] = 1
		return vector
	}
	for i := range vector {
		vector[i] = float32(float64(vector[i]) / norm)
	}
	return vector
}
