package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/dshills/sca/pkg/types"
)

// EnvPrefix is the environment-variable namespace: SCA_<SECTION>_<FIELD>.
const EnvPrefix = "SCA_"

// Load reads configuration with precedence defaults -> file -> environment.
// A missing file yields defaults plus env. The format is chosen by
// extension: .toml (default) or .json.
func Load(path string) (Config, *types.ErrorEnvelope) {
	cfg := Default()

	if path != "" {
		payload, err := os.ReadFile(path)
		switch {
		case err == nil:
			if env := decodeInto(&cfg, path, payload); env != nil {
				return Config{}, env
			}
		case os.IsNotExist(err):
			// Defaults only.
		default:
			return Config{}, types.AsEnvelope(err)
		}
	}

	if env := applyEnv(&cfg, os.LookupEnv); env != nil {
		return Config{}, env
	}

	expandStrings(&cfg)

	if env := cfg.Validate(); env != nil {
		return Config{}, env
	}
	return cfg, nil
}

func decodeInto(cfg *Config, path string, payload []byte) *types.ErrorEnvelope {
	if strings.HasSuffix(path, ".json") {
		decoder := json.NewDecoder(strings.NewReader(string(payload)))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(cfg); err != nil {
			return types.Expected(types.CodeInvalidValue, "config parse failed: "+err.Error()).
				WithMeta("path", path)
		}
		return nil
	}

	meta, err := toml.Decode(string(payload), cfg)
	if err != nil {
		return types.Expected(types.CodeInvalidValue, "config parse failed: "+err.Error()).
			WithMeta("path", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return types.Expected(types.CodeInvalidValue, "config contains unknown fields").
			WithMeta("field", undecoded[0].String()).
			WithMeta("path", path)
	}
	return nil
}

// applyEnv overrides config fields from SCA_* environment variables.
// Booleans accept true|false|1|0; CSV list entries are trimmed and empty
// entries dropped. Validation later sorts and deduplicates
// sync.allowedExtensions; other lists keep their order and duplicates.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) *types.ErrorEnvelope {
	for key, set := range envSetters(cfg) {
		value, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		if env := set(strings.TrimSpace(value)); env != nil {
			return env.WithMeta("variable", EnvPrefix+key)
		}
	}
	return nil
}

type setter func(string) *types.ErrorEnvelope

func envSetters(cfg *Config) map[string]setter {
	return map[string]setter{
		"CORE_TIMEOUT_MS":                      setInt64(&cfg.Core.TimeoutMs),
		"CORE_MAX_CONCURRENCY":                 setInt(&cfg.Core.MaxConcurrency),
		"CORE_MAX_IN_FLIGHT_FILES":             setInt(&cfg.Core.MaxInFlightFiles),
		"CORE_MAX_IN_FLIGHT_EMBEDDING_BATCHES": setInt(&cfg.Core.MaxInFlightEmbeddingBatches),
		"CORE_MAX_IN_FLIGHT_INSERTS":           setInt(&cfg.Core.MaxInFlightInserts),
		"CORE_MAX_BUFFERED_CHUNKS":             setInt(&cfg.Core.MaxBufferedChunks),
		"CORE_MAX_BUFFERED_EMBEDDINGS":         setInt(&cfg.Core.MaxBufferedEmbeddings),
		"CORE_MAX_CHUNK_CHARS":                 setInt(&cfg.Core.MaxChunkChars),
		"CORE_RETRY_MAX_ATTEMPTS":              setInt(&cfg.Core.Retry.MaxAttempts),
		"CORE_RETRY_BASE_DELAY_MS":             setInt64(&cfg.Core.Retry.BaseDelayMs),
		"CORE_RETRY_MAX_DELAY_MS":              setInt64(&cfg.Core.Retry.MaxDelayMs),
		"CORE_RETRY_JITTER_RATIO_PCT":          setInt(&cfg.Core.Retry.JitterRatioPct),
		"EMBEDDING_PROVIDER":                   setString(&cfg.Embedding.Provider),
		"EMBEDDING_MODEL":                      setString(&cfg.Embedding.Model),
		"EMBEDDING_BASE_URL":                   setString(&cfg.Embedding.BaseURL),
		"EMBEDDING_DIMENSION":                  setInt(&cfg.Embedding.Dimension),
		"EMBEDDING_BATCH_SIZE":                 setInt(&cfg.Embedding.BatchSize),
		"EMBEDDING_TIMEOUT_MS":                 setInt64(&cfg.Embedding.TimeoutMs),
		"EMBEDDING_LOCAL_FIRST":                setBool(&cfg.Embedding.LocalFirst),
		"EMBEDDING_LOCAL_ONLY":                 setBool(&cfg.Embedding.LocalOnly),
		"EMBEDDING_SESSION_POOL_SIZE":          setInt(&cfg.Embedding.SessionPoolSize),
		"EMBEDDING_ROUTING_MODE":               setRoutingMode(&cfg.Embedding.Routing.Mode),
		"EMBEDDING_CACHE_ENABLED":              setBool(&cfg.Embedding.Cache.Enabled),
		"EMBEDDING_CACHE_MAX_ENTRIES":          setInt(&cfg.Embedding.Cache.MaxEntries),
		"EMBEDDING_CACHE_DISK_ENABLED":         setBool(&cfg.Embedding.Cache.DiskEnabled),
		"EMBEDDING_CACHE_DISK_MAX_BYTES":       setInt64(&cfg.Embedding.Cache.DiskMaxBytes),
		"VECTOR_DB_PROVIDER":                   setString(&cfg.VectorDB.Provider),
		"VECTOR_DB_INDEX_MODE":                 setIndexMode(&cfg.VectorDB.IndexMode),
		"VECTOR_DB_BATCH_SIZE":                 setInt(&cfg.VectorDB.BatchSize),
		"VECTOR_DB_TIMEOUT_MS":                 setInt64(&cfg.VectorDB.TimeoutMs),
		"VECTOR_DB_SNAPSHOT_STORAGE":           setString(&cfg.VectorDB.SnapshotStorage),
		"SYNC_ALLOWED_EXTENSIONS":              setCSV(&cfg.Sync.AllowedExtensions),
		"SYNC_IGNORE_PATTERNS":                 setCSV(&cfg.Sync.IgnorePatterns),
		"SYNC_MAX_FILES":                       setInt(&cfg.Sync.MaxFiles),
		"SYNC_MAX_FILE_SIZE_BYTES":             setInt64(&cfg.Sync.MaxFileSizeBytes),
	}
}

func setString(target *string) setter {
	return func(value string) *types.ErrorEnvelope {
		*target = value
		return nil
	}
}

func setInt(target *int) setter {
	return func(value string) *types.ErrorEnvelope {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return types.Expected(types.CodeInvalidValue, "expected an integer").WithMeta("value", value)
		}
		*target = parsed
		return nil
	}
}

func setInt64(target *int64) setter {
	return func(value string) *types.ErrorEnvelope {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return types.Expected(types.CodeInvalidValue, "expected an integer").WithMeta("value", value)
		}
		*target = parsed
		return nil
	}
}

func setBool(target *bool) setter {
	return func(value string) *types.ErrorEnvelope {
		switch strings.ToLower(value) {
		case "true", "1":
			*target = true
		case "false", "0":
			*target = false
		default:
			return types.Expected(types.CodeInvalidValue, "expected true|false|1|0").WithMeta("value", value)
		}
		return nil
	}
}

func setCSV(target *[]string) setter {
	return func(value string) *types.ErrorEnvelope {
		var out []string
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
		*target = out
		return nil
	}
}

func setRoutingMode(target *RoutingMode) setter {
	return func(value string) *types.ErrorEnvelope {
		*target = RoutingMode(value)
		return nil
	}
}

func setIndexMode(target *types.IndexMode) setter {
	return func(value string) *types.ErrorEnvelope {
		*target = types.IndexMode(value)
		return nil
	}
}

// expandStrings applies ${VAR} expansion to string-valued fields.
func expandStrings(cfg *Config) {
	expand := func(value string) string {
		return os.Expand(value, func(name string) string {
			return os.Getenv(name)
		})
	}

	cfg.Embedding.Provider = expand(cfg.Embedding.Provider)
	cfg.Embedding.Model = expand(cfg.Embedding.Model)
	cfg.Embedding.BaseURL = expand(cfg.Embedding.BaseURL)
	cfg.VectorDB.Provider = expand(cfg.VectorDB.Provider)
	cfg.VectorDB.SnapshotStorage = expand(cfg.VectorDB.SnapshotStorage)
	for i, pattern := range cfg.Sync.IgnorePatterns {
		cfg.Sync.IgnorePatterns[i] = expand(pattern)
	}
}
