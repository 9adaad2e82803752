package cli

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/dshills/sca/internal/config"
	"github.com/dshills/sca/internal/embedder"
	"github.com/dshills/sca/internal/filesync"
	"github.com/dshills/sca/internal/fsys"
	"github.com/dshills/sca/internal/jobs"
	"github.com/dshills/sca/internal/pipeline"
	"github.com/dshills/sca/internal/splitter"
	"github.com/dshills/sca/internal/vector"
	"github.com/dshills/sca/internal/workspace"
	"github.com/dshills/sca/pkg/types"
)

// app wires the adapters for one codebase root according to its config.
type app struct {
	layout workspace.Layout
	cfg    config.Config
	logger *slog.Logger

	embedder embedder.Embedder
	store    vector.Store
	sync     filesync.Store
	jobs     *jobs.Manager
}

func newApp(codebaseRoot string, logger *slog.Logger) (*app, *types.ErrorEnvelope) {
	layout := workspace.NewLayout(codebaseRoot)

	cfg, env := config.Load(layout.ConfigPath())
	if env != nil {
		return nil, env
	}

	embCfg := embedder.Config{
		Provider:        cfg.Embedding.Provider,
		Dimension:       cfg.Embedding.Dimension,
		SessionPoolSize: cfg.Embedding.SessionPoolSize,
	}
	if cfg.Embedding.Cache.Enabled {
		embCfg.CacheEntries = cfg.Embedding.Cache.MaxEntries
	}
	if cfg.Embedding.Cache.DiskEnabled {
		embCfg.DiskCachePath = filepath.Join(layout.EmbeddingCacheDir(), "embeddings.db")
		embCfg.DiskCacheBytes = cfg.Embedding.Cache.DiskMaxBytes
	}
	emb, env := embedder.New(embCfg)
	if env != nil {
		return nil, env
	}

	return &app{
		layout:   layout,
		cfg:      cfg,
		logger:   logger,
		embedder: emb,
		store:    vector.NewLocalStore(layout.CollectionsDir()),
		sync:     filesync.NewLocal(layout.SyncDir()),
		jobs:     jobs.NewManager(layout.JobsDir()),
	}, nil
}

func (a *app) close() {
	_ = a.embedder.Close()
}

func (a *app) collection() types.CollectionName {
	return types.DeriveCollectionName(a.layout.CodebaseRoot(), a.cfg.VectorDB.IndexMode)
}

func (a *app) pipelineDeps() pipeline.Deps {
	return pipeline.Deps{
		FS:       fsys.NewLocal(a.layout.CodebaseRoot()),
		Splitter: splitter.New(),
		Embedder: a.embedder,
		Store:    a.store,
		Sync:     a.sync,
		Logger:   a.logger,
	}
}

func (a *app) pipelineOptions() pipeline.Options {
	return pipeline.Options{
		CodebaseRoot:                a.layout.CodebaseRoot(),
		Collection:                  a.collection(),
		IndexMode:                   a.cfg.VectorDB.IndexMode,
		AllowedExtensions:           a.cfg.Sync.AllowedExtensions,
		IgnorePatterns:              a.cfg.Sync.IgnorePatterns,
		MaxFiles:                    a.cfg.Sync.MaxFiles,
		MaxFileSizeBytes:            a.cfg.Sync.MaxFileSizeBytes,
		MaxChunkChars:               a.cfg.Core.MaxChunkChars,
		EmbedBatchSize:              a.cfg.Embedding.BatchSize,
		VectorBatchSize:             a.cfg.VectorDB.BatchSize,
		MaxInFlightFiles:            a.cfg.Core.MaxInFlightFiles,
		MaxInFlightEmbeddingBatches: a.cfg.Core.MaxInFlightEmbeddingBatches,
		MaxInFlightInserts:          a.cfg.Core.MaxInFlightInserts,
		MaxBufferedChunks:           a.cfg.Core.MaxBufferedChunks,
		MaxBufferedEmbeddings:       a.cfg.Core.MaxBufferedEmbeddings,
		Retry: embedder.RetryPolicy{
			MaxAttempts:    a.cfg.Core.Retry.MaxAttempts,
			BaseDelay:      time.Duration(a.cfg.Core.Retry.BaseDelayMs) * time.Millisecond,
			MaxDelay:       time.Duration(a.cfg.Core.Retry.MaxDelayMs) * time.Millisecond,
			JitterRatioPct: a.cfg.Core.Retry.JitterRatioPct,
		},
	}
}

func (a *app) timeout() time.Duration {
	return time.Duration(a.cfg.Core.TimeoutMs) * time.Millisecond
}
