// Package config defines the validated configuration schema. Files are
// accepted as TOML or JSON with unknown fields rejected; environment
// variables override file values (defaults -> file -> env -> flags) and
// ${VAR} expansion is permitted in string values.
package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dshills/sca/pkg/types"
)

// SchemaVersion is the only accepted config version.
const SchemaVersion = 1

// Config is the top-level configuration.
type Config struct {
	Version   int             `json:"version" toml:"version"`
	Core      CoreConfig      `json:"core" toml:"core"`
	Embedding EmbeddingConfig `json:"embedding" toml:"embedding"`
	VectorDB  VectorDBConfig  `json:"vectorDb" toml:"vectorDb"`
	Sync      SyncConfig      `json:"sync" toml:"sync"`
}

// CoreConfig tunes the pipeline runtime.
type CoreConfig struct {
	TimeoutMs                   int64       `json:"timeoutMs" toml:"timeoutMs"`
	MaxConcurrency              int         `json:"maxConcurrency" toml:"maxConcurrency"`
	MaxInFlightFiles            int         `json:"maxInFlightFiles" toml:"maxInFlightFiles"`
	MaxInFlightEmbeddingBatches int         `json:"maxInFlightEmbeddingBatches" toml:"maxInFlightEmbeddingBatches"`
	MaxInFlightInserts          int         `json:"maxInFlightInserts" toml:"maxInFlightInserts"`
	MaxBufferedChunks           int         `json:"maxBufferedChunks" toml:"maxBufferedChunks"`
	MaxBufferedEmbeddings       int         `json:"maxBufferedEmbeddings" toml:"maxBufferedEmbeddings"`
	MaxChunkChars               int         `json:"maxChunkChars" toml:"maxChunkChars"`
	Retry                       RetryConfig `json:"retry" toml:"retry"`
}

// RetryConfig tunes the embedding/vector-store retry wrapper.
type RetryConfig struct {
	MaxAttempts    int   `json:"maxAttempts" toml:"maxAttempts"`
	BaseDelayMs    int64 `json:"baseDelayMs" toml:"baseDelayMs"`
	MaxDelayMs     int64 `json:"maxDelayMs" toml:"maxDelayMs"`
	JitterRatioPct int   `json:"jitterRatioPct" toml:"jitterRatioPct"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider        string               `json:"provider" toml:"provider"`
	Model           string               `json:"model" toml:"model"`
	BaseURL         string               `json:"baseUrl" toml:"baseUrl"`
	Dimension       int                  `json:"dimension" toml:"dimension"`
	BatchSize       int                  `json:"batchSize" toml:"batchSize"`
	TimeoutMs       int64                `json:"timeoutMs" toml:"timeoutMs"`
	LocalFirst      bool                 `json:"localFirst" toml:"localFirst"`
	LocalOnly       bool                 `json:"localOnly" toml:"localOnly"`
	SessionPoolSize int                  `json:"sessionPoolSize" toml:"sessionPoolSize"`
	Routing         RoutingConfig        `json:"routing" toml:"routing"`
	Cache           EmbeddingCacheConfig `json:"cache" toml:"cache"`
}

// RoutingMode selects how embedding work is routed between providers.
type RoutingMode string

const (
	RoutingLocalFirst  RoutingMode = "localFirst"
	RoutingRemoteFirst RoutingMode = "remoteFirst"
	RoutingSplit       RoutingMode = "split"
)

// RoutingConfig controls provider routing.
type RoutingConfig struct {
	Mode  RoutingMode `json:"mode" toml:"mode"`
	Split SplitConfig `json:"split" toml:"split"`
}

// SplitConfig bounds the remote share in split routing. MaxRemoteBatches is
// a count of batches per request.
type SplitConfig struct {
	MaxRemoteBatches int `json:"maxRemoteBatches" toml:"maxRemoteBatches"`
}

// EmbeddingCacheConfig controls the embedding caches.
type EmbeddingCacheConfig struct {
	Enabled      bool  `json:"enabled" toml:"enabled"`
	MaxEntries   int   `json:"maxEntries" toml:"maxEntries"`
	DiskEnabled  bool  `json:"diskEnabled" toml:"diskEnabled"`
	DiskMaxBytes int64 `json:"diskMaxBytes" toml:"diskMaxBytes"`
}

// VectorDBConfig selects and tunes the vector store.
type VectorDBConfig struct {
	Provider        string          `json:"provider" toml:"provider"`
	IndexMode       types.IndexMode `json:"indexMode" toml:"indexMode"`
	BatchSize       int             `json:"batchSize" toml:"batchSize"`
	TimeoutMs       int64           `json:"timeoutMs" toml:"timeoutMs"`
	SnapshotStorage string          `json:"snapshotStorage" toml:"snapshotStorage"`
}

// SyncConfig tunes scanning and change detection.
type SyncConfig struct {
	AllowedExtensions []string `json:"allowedExtensions" toml:"allowedExtensions"`
	IgnorePatterns    []string `json:"ignorePatterns" toml:"ignorePatterns"`
	MaxFiles          int      `json:"maxFiles" toml:"maxFiles"`
	MaxFileSizeBytes  int64    `json:"maxFileSizeBytes" toml:"maxFileSizeBytes"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		Version: SchemaVersion,
		Core: CoreConfig{
			TimeoutMs:                   120_000,
			MaxConcurrency:              8,
			MaxInFlightFiles:            4,
			MaxInFlightEmbeddingBatches: 2,
			MaxInFlightInserts:          2,
			MaxBufferedChunks:           256,
			MaxBufferedEmbeddings:       256,
			MaxChunkChars:               2_500,
			Retry: RetryConfig{
				MaxAttempts:    3,
				BaseDelayMs:    100,
				MaxDelayMs:     5_000,
				JitterRatioPct: 20,
			},
		},
		Embedding: EmbeddingConfig{
			Provider:        "local",
			Dimension:       384,
			BatchSize:       32,
			TimeoutMs:       60_000,
			LocalFirst:      true,
			LocalOnly:       true,
			SessionPoolSize: 2,
			Routing:         RoutingConfig{Mode: RoutingLocalFirst},
			Cache: EmbeddingCacheConfig{
				Enabled:      true,
				MaxEntries:   10_000,
				DiskEnabled:  false,
				DiskMaxBytes: 64 << 20,
			},
		},
		VectorDB: VectorDBConfig{
			Provider:        "local",
			IndexMode:       types.IndexModeDense,
			BatchSize:       128,
			TimeoutMs:       60_000,
			SnapshotStorage: "project",
		},
		Sync: SyncConfig{
			MaxFiles:         100_000,
			MaxFileSizeBytes: 2_000_000,
		},
	}
}

var extensionPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Validate checks every bound from the schema and normalizes list fields.
func (c *Config) Validate() *types.ErrorEnvelope {
	if c.Version != SchemaVersion {
		return invalid("version", fmt.Sprintf("must be %d", SchemaVersion))
	}

	if err := checkRange("core.timeoutMs", c.Core.TimeoutMs, 1_000, 600_000); err != nil {
		return err
	}
	if err := checkRange("core.maxConcurrency", int64(c.Core.MaxConcurrency), 1, 256); err != nil {
		return err
	}
	if err := checkRange("core.maxInFlightFiles", int64(c.Core.MaxInFlightFiles), 1, 256); err != nil {
		return err
	}
	if err := checkRange("core.maxInFlightEmbeddingBatches", int64(c.Core.MaxInFlightEmbeddingBatches), 1, 256); err != nil {
		return err
	}
	if err := checkRange("core.maxInFlightInserts", int64(c.Core.MaxInFlightInserts), 1, 256); err != nil {
		return err
	}
	if err := checkRange("core.maxBufferedChunks", int64(c.Core.MaxBufferedChunks), 1, 1_000_000); err != nil {
		return err
	}
	if err := checkRange("core.maxBufferedEmbeddings", int64(c.Core.MaxBufferedEmbeddings), 1, 1_000_000); err != nil {
		return err
	}
	if err := checkRange("core.maxChunkChars", int64(c.Core.MaxChunkChars), 1, 20_000); err != nil {
		return err
	}
	if err := checkRange("core.retry.maxAttempts", int64(c.Core.Retry.MaxAttempts), 1, 10); err != nil {
		return err
	}
	if err := checkRange("core.retry.baseDelayMs", c.Core.Retry.BaseDelayMs, 1, 60_000); err != nil {
		return err
	}
	if err := checkRange("core.retry.maxDelayMs", c.Core.Retry.MaxDelayMs, 1, 600_000); err != nil {
		return err
	}
	if err := checkRange("core.retry.jitterRatioPct", int64(c.Core.Retry.JitterRatioPct), 0, 100); err != nil {
		return err
	}

	if err := checkRange("embedding.dimension", int64(c.Embedding.Dimension), 1, 65_536); err != nil {
		return err
	}
	if err := checkRange("embedding.batchSize", int64(c.Embedding.BatchSize), 1, 8_192); err != nil {
		return err
	}
	if err := checkRange("embedding.timeoutMs", c.Embedding.TimeoutMs, 1_000, 1_200_000); err != nil {
		return err
	}
	switch c.Embedding.Routing.Mode {
	case RoutingLocalFirst, RoutingRemoteFirst, RoutingSplit:
	default:
		return invalid("embedding.routing.mode", "must be one of localFirst, remoteFirst, split")
	}

	switch c.VectorDB.IndexMode {
	case types.IndexModeDense, types.IndexModeHybrid:
	default:
		return invalid("vectorDb.indexMode", "must be dense or hybrid")
	}
	if err := checkRange("vectorDb.batchSize", int64(c.VectorDB.BatchSize), 1, 16_384); err != nil {
		return err
	}
	if err := checkRange("vectorDb.timeoutMs", c.VectorDB.TimeoutMs, 1_000, 1_200_000); err != nil {
		return err
	}
	if err := validateSnapshotStorage(c.VectorDB.SnapshotStorage); err != nil {
		return err
	}

	if len(c.Sync.AllowedExtensions) > 128 {
		return invalid("sync.allowedExtensions", "at most 128 entries")
	}
	if len(c.Sync.IgnorePatterns) > 512 {
		return invalid("sync.ignorePatterns", "at most 512 entries")
	}
	if err := checkRange("sync.maxFiles", int64(c.Sync.MaxFiles), 1, 10_000_000); err != nil {
		return err
	}
	if err := checkRange("sync.maxFileSizeBytes", c.Sync.MaxFileSizeBytes, 1, 100_000_000); err != nil {
		return err
	}

	normalized, env := NormalizeExtensions(c.Sync.AllowedExtensions)
	if env != nil {
		return env
	}
	c.Sync.AllowedExtensions = normalized
	return nil
}

// NormalizeExtensions trims, lowercases, strips a leading dot, validates,
// sorts, and deduplicates an extension list.
func NormalizeExtensions(extensions []string) ([]string, *types.ErrorEnvelope) {
	if len(extensions) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool, len(extensions))
	out := make([]string, 0, len(extensions))
	for _, raw := range extensions {
		ext := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "."))
		if ext == "" {
			continue
		}
		if !extensionPattern.MatchString(ext) {
			return nil, invalid("sync.allowedExtensions", "entries must be alphanumeric").
				WithMeta("entry", raw)
		}
		if seen[ext] {
			continue
		}
		seen[ext] = true
		out = append(out, ext)
	}
	sort.Strings(out)
	return out, nil
}

func validateSnapshotStorage(value string) *types.ErrorEnvelope {
	switch value {
	case "disabled", "project":
		return nil
	}
	if strings.HasPrefix(value, "/") {
		return nil // custom absolute path
	}
	return invalid("vectorDb.snapshotStorage", "must be disabled, project, or an absolute path")
}

func checkRange(field string, value, min, max int64) *types.ErrorEnvelope {
	if value < min || value > max {
		return invalid(field, fmt.Sprintf("must be within [%d, %d]", min, max)).
			WithMeta("value", fmt.Sprintf("%d", value))
	}
	return nil
}

func invalid(field, message string) *types.ErrorEnvelope {
	return types.Expected(types.CodeInvalidValue, field+" "+message).WithMeta("field", field)
}
