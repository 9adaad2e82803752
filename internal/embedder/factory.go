package embedder

import (
	"github.com/dshills/sca/pkg/types"
)

// Config selects and tunes the embedding provider.
type Config struct {
	Provider        string
	Dimension       int
	SessionPoolSize int
	CacheEntries    int
	DiskCachePath   string
	DiskCacheBytes  int64
}

// New constructs an embedder from configuration. Only the local provider is
// wired here; remote providers (openai-compatible, ollama, gemini) implement
// the same Embedder contract and are selected by the same provider tag when
// linked in.
func New(cfg Config) (Embedder, *types.ErrorEnvelope) {
	provider := cfg.Provider
	if provider == "" {
		provider = ProviderLocal
	}

	switch provider {
	case ProviderLocal:
		opts := []LocalOption{
			WithDimension(cfg.Dimension),
			WithSessionPoolSize(cfg.SessionPoolSize),
		}
		if cfg.CacheEntries > 0 {
			opts = append(opts, WithMemoryCache(NewMemoryCache(cfg.CacheEntries)))
		}
		if cfg.DiskCachePath != "" {
			disk, env := OpenSQLiteCache(cfg.DiskCachePath, cfg.DiskCacheBytes)
			if env != nil {
				return nil, env
			}
			opts = append(opts, WithDiskCache(disk))
		}
		return NewLocal(opts...), nil
	default:
		return nil, types.Expected(types.CodeInvalidValue, "unknown embedding provider").
			WithMeta("provider", provider).
			WithMeta("supported", ProviderLocal)
	}
}
