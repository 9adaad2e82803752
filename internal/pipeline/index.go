package pipeline

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/dshills/sca/internal/embedder"
	"github.com/dshills/sca/internal/filesync"
	"github.com/dshills/sca/internal/fsys"
	"github.com/dshills/sca/internal/ignore"
	"github.com/dshills/sca/internal/merkle"
	"github.com/dshills/sca/internal/splitter"
	"github.com/dshills/sca/internal/vector"
	"github.com/dshills/sca/pkg/types"
)

// Deps are the adapters the pipeline orchestrates.
type Deps struct {
	FS       fsys.Filesystem
	Splitter splitter.Splitter
	Embedder embedder.Embedder
	Store    vector.Store
	Sync     filesync.Store
	Logger   *slog.Logger
}

// ProgressFunc receives phase progress events.
type ProgressFunc func(phase string, current, total int)

// Options configure one pipeline run.
type Options struct {
	CodebaseRoot string
	Collection   types.CollectionName
	IndexMode    types.IndexMode

	// Scan stage.
	AllowedExtensions []string
	IgnorePatterns    []string
	// FileList restricts the run to the given paths and skips the walk.
	FileList         []types.RelativePath
	MaxFiles         int
	MaxFileSizeBytes int64

	// Split stage.
	ChunkSizeLines int
	OverlapLines   int
	MaxChunkChars  int

	// Embed and upsert stages.
	EmbedBatchSize              int
	VectorBatchSize             int
	MaxInFlightFiles            int
	MaxInFlightEmbeddingBatches int
	MaxInFlightInserts          int
	MaxBufferedChunks           int
	MaxBufferedEmbeddings       int
	Retry                       embedder.RetryPolicy

	// ForceReindex drops the collection before indexing.
	ForceReindex bool

	// Snapshot overrides the Merkle snapshot written on completion. When nil
	// the snapshot is built from the hashes of the files this run processed.
	Snapshot *merkle.Snapshot

	OnProgress ProgressFunc
}

func (o *Options) normalize() *types.ErrorEnvelope {
	if o.CodebaseRoot == "" {
		return types.Expected(types.CodeInvalidValue, "codebase root must be set")
	}
	if o.Collection == "" {
		o.Collection = types.DeriveCollectionName(o.CodebaseRoot, o.indexMode())
	}
	if o.EmbedBatchSize < 1 {
		o.EmbedBatchSize = 32
	}
	if o.VectorBatchSize < 1 {
		o.VectorBatchSize = 128
	}
	if o.MaxInFlightFiles < 1 {
		o.MaxInFlightFiles = 4
	}
	if o.MaxInFlightEmbeddingBatches < 1 {
		o.MaxInFlightEmbeddingBatches = 2
	}
	if o.MaxInFlightInserts < 1 {
		o.MaxInFlightInserts = 2
	}
	if o.MaxBufferedChunks < 1 {
		o.MaxBufferedChunks = 256
	}
	if o.MaxBufferedEmbeddings < 1 {
		o.MaxBufferedEmbeddings = o.EmbedBatchSize * o.MaxInFlightEmbeddingBatches
	}
	if o.MaxChunkChars < 1 {
		o.MaxChunkChars = splitter.DefaultMaxChunkChars
	}
	return nil
}

func (o *Options) indexMode() types.IndexMode {
	if o.IndexMode == "" {
		return types.IndexModeDense
	}
	return o.IndexMode
}

// Status describes how a run ended.
type Status string

const (
	StatusCompleted    Status = "completed"
	StatusLimitReached Status = "limit_reached"
)

// Result summarizes a completed run.
type Result struct {
	IndexedFiles    int    `json:"indexedFiles"`
	SkippedFiles    int    `json:"skippedFiles"`
	TotalChunks     int    `json:"totalChunks"`
	UpsertedRecords int    `json:"upsertedRecords"`
	Status          Status `json:"status"`
	RootHash        string `json:"rootHash,omitempty"`
}

// New validates dependencies and options and returns the Prepared state.
func New(deps Deps, opts Options) (*Prepared, *types.ErrorEnvelope) {
	if deps.FS == nil || deps.Splitter == nil || deps.Embedder == nil || deps.Store == nil || deps.Sync == nil {
		return nil, types.Invariant(types.CodeInternal, "pipeline dependencies incomplete")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if env := opts.normalize(); env != nil {
		return nil, env
	}

	matcher, env := ignore.NewMatcherForRoot(opts.CodebaseRoot, opts.IgnorePatterns)
	if env != nil {
		return nil, env
	}

	return &Prepared{run: &run{
		deps:       deps,
		opts:       opts,
		matcher:    matcher,
		fileHashes: make(map[types.RelativePath]string),
	}}, nil
}

// Run drives a pipeline through every transition and returns the result.
func Run(rc *types.RequestContext, deps Deps, opts Options) (Result, *types.ErrorEnvelope) {
	prepared, env := New(deps, opts)
	if env != nil {
		return Result{}, env
	}
	scanned, env := prepared.Scan(rc)
	if env != nil {
		return Result{}, env
	}
	chunked, env := scanned.Split(rc)
	if env != nil {
		return Result{}, env
	}
	embedded, env := chunked.Embed(rc)
	if env != nil {
		return Result{}, env
	}
	upserted, env := embedded.Upsert(rc)
	if env != nil {
		return Result{}, env
	}
	completed, env := upserted.Complete(rc)
	if env != nil {
		return Result{}, env
	}
	return completed.Result, nil
}

type embedOutcome struct {
	chunks  []types.Chunk
	vectors [][]float32
	env     *types.ErrorEnvelope
}

type fileOutcome struct {
	path    types.RelativePath
	chunks  []types.Chunk
	skipped bool
}

// run carries the state shared by the typestate wrappers. The split stage
// starts the embed scheduler and inserter goroutines; later transitions wait
// on their completion signals.
type run struct {
	deps    Deps
	opts    Options
	matcher *ignore.Matcher

	internal *types.RequestContext

	files []types.RelativePath

	hashMu     sync.Mutex
	fileHashes map[types.RelativePath]string

	chunkQueue   *BoundedQueue[types.Chunk]
	embedFutures chan chan embedOutcome
	embedSem     chan struct{}
	insertSem    chan struct{}

	embedWg    sync.WaitGroup
	insertWg   sync.WaitGroup
	schedDone  chan struct{}
	insertDone chan struct{}

	failOnce sync.Once
	failure  atomic.Pointer[types.ErrorEnvelope]

	indexedFiles atomic.Int64
	skippedFiles atomic.Int64
	totalChunks  atomic.Int64
	upserted     atomic.Int64

	limitReached bool
}

func (r *run) fail(env *types.ErrorEnvelope) {
	r.failOnce.Do(func() {
		r.failure.Store(env)
		if r.internal != nil {
			r.internal.Cancel()
		}
	})
}

// firstError prefers the recorded stage failure; cancellation of the caller
// wins over secondary queue-closed noise.
func (r *run) firstError(rc *types.RequestContext, env *types.ErrorEnvelope) *types.ErrorEnvelope {
	if stored := r.failure.Load(); stored != nil {
		return stored
	}
	if cancelEnv := rc.EnsureNotCancelled("pipeline"); cancelEnv != nil {
		return cancelEnv
	}
	return env
}

func (r *run) progress(phase string, current, total int) {
	if r.opts.OnProgress != nil {
		r.opts.OnProgress(phase, current, total)
	}
}

// scan produces the lexicographically ordered file list (stage 1). It also
// prepares the target collection, dropping it first on force reindex.
func (r *run) scan(rc *types.RequestContext) *types.ErrorEnvelope {
	if env := rc.EnsureNotCancelled("pipeline.scan"); env != nil {
		return env
	}

	if env := r.ensureCollection(rc); env != nil {
		return env
	}

	if len(r.opts.FileList) > 0 {
		files := make([]types.RelativePath, 0, len(r.opts.FileList))
		for _, path := range r.opts.FileList {
			if r.matcher.Ignored(path.String()) {
				continue
			}
			if !r.extensionAllowed(path) {
				continue
			}
			files = append(files, path)
		}
		sortRelative(files)
		r.files = files
		r.progress("scan", len(files), len(files))
		return nil
	}

	files, limitReached, env := scanTree(rc, r.deps.FS, r.matcher, scanOptions{
		allowedExtensions: r.opts.AllowedExtensions,
		maxFiles:          r.opts.MaxFiles,
	})
	if env != nil {
		return env
	}
	r.files = files
	r.limitReached = limitReached
	r.progress("scan", len(files), len(files))
	return nil
}

func (r *run) extensionAllowed(path types.RelativePath) bool {
	if len(r.opts.AllowedExtensions) == 0 {
		return true
	}
	ext := path.Extension()
	for _, allowed := range r.opts.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func (r *run) ensureCollection(rc *types.RequestContext) *types.ErrorEnvelope {
	exists, env := r.deps.Store.HasCollection(rc, r.opts.Collection)
	if env != nil {
		return env
	}

	if exists && r.opts.ForceReindex {
		if env := r.deps.Store.Clear(rc, r.opts.Collection); env != nil {
			return env
		}
		exists = false
	}
	if exists {
		return nil
	}

	dimension, env := r.deps.Embedder.DetectDimension(rc)
	if env != nil {
		return env
	}
	return r.deps.Store.CreateCollection(rc, r.opts.Collection, dimension)
}

// split streams files through the splitter into the bounded chunk queue
// (stage 2) and starts the embed scheduler (stage 3) and inserter (stage 4)
// that drain it concurrently. Returns when all chunks are enqueued.
func (r *run) split(rc *types.RequestContext) *types.ErrorEnvelope {
	if env := rc.EnsureNotCancelled("pipeline.split"); env != nil {
		return env
	}

	r.internal = types.WithCorrelationID(rc.Context(), rc.CorrelationID())

	queue, env := NewBoundedQueue[types.Chunk](r.opts.MaxBufferedChunks)
	if env != nil {
		return env
	}
	r.chunkQueue = queue

	futureSlots := r.opts.MaxBufferedEmbeddings / r.opts.EmbedBatchSize
	if futureSlots < 1 {
		futureSlots = 1
	}
	r.embedFutures = make(chan chan embedOutcome, futureSlots)
	r.embedSem = make(chan struct{}, r.opts.MaxInFlightEmbeddingBatches)
	r.insertSem = make(chan struct{}, r.opts.MaxInFlightInserts)
	r.schedDone = make(chan struct{})
	r.insertDone = make(chan struct{})

	go r.embedScheduler()
	go r.inserter()

	if env := r.splitFiles(); env != nil {
		r.chunkQueue.Close()
		return r.firstError(rc, env)
	}

	r.chunkQueue.Close()
	if stored := r.failure.Load(); stored != nil {
		return stored
	}
	return nil
}

// splitFiles reads and splits files with bounded prefetch, then enqueues the
// chunks in file order so downstream batches follow scan order.
func (r *run) splitFiles() *types.ErrorEnvelope {
	rc := r.internal
	inflight := make(map[int]chan fileOutcome, r.opts.MaxInFlightFiles)
	nextToSubmit := 0

	submit := func(index int) {
		future := make(chan fileOutcome, 1)
		inflight[index] = future
		go func(path types.RelativePath) {
			future <- r.splitOne(rc, path)
		}(r.files[index])
	}

	for index := range r.files {
		if env := rc.EnsureNotCancelled("pipeline.split_files"); env != nil {
			return env
		}

		for nextToSubmit < len(r.files) && (len(inflight) < r.opts.MaxInFlightFiles || nextToSubmit <= index) {
			submit(nextToSubmit)
			nextToSubmit++
		}

		future := inflight[index]
		delete(inflight, index)

		var outcome fileOutcome
		select {
		case outcome = <-future:
		case <-rc.Done():
			return rc.EnsureNotCancelled("pipeline.split_files")
		}

		if outcome.skipped {
			r.skippedFiles.Add(1)
			continue
		}

		for _, chunk := range outcome.chunks {
			if len(chunk.Content) > r.opts.MaxChunkChars {
				r.deps.Logger.Warn("chunk dropped: exceeds max chunk chars",
					slog.String("path", chunk.RelativePath.String()),
					slog.Int("chars", len(chunk.Content)))
				continue
			}
			if env := r.chunkQueue.Enqueue(rc, chunk); env != nil {
				return env
			}
			r.totalChunks.Add(1)
		}
		r.indexedFiles.Add(1)
		r.progress("split", index+1, len(r.files))
	}
	return nil
}

// splitOne reads, hashes, and splits a single file. Unreadable or non-UTF-8
// files are skipped with a warning; adapter failures abort the run.
func (r *run) splitOne(rc *types.RequestContext, path types.RelativePath) fileOutcome {
	content, env := r.deps.FS.ReadFile(rc, path.String(), fsys.ReadOptions{MaxSizeBytes: r.opts.MaxFileSizeBytes})
	if env != nil {
		if env.IsCancelled() {
			r.fail(env)
			return fileOutcome{path: path, skipped: true}
		}
		r.deps.Logger.Warn("file skipped",
			slog.String("path", path.String()),
			slog.String("code", env.Code),
			slog.String("reason", env.Message))
		return fileOutcome{path: path, skipped: true}
	}

	r.hashMu.Lock()
	r.fileHashes[path] = types.HashContent([]byte(content))
	r.hashMu.Unlock()

	language := types.LanguageForPath(path)
	chunks, env := r.deps.Splitter.Split(rc, path, content, language, splitter.Options{
		ChunkSizeLines: r.opts.ChunkSizeLines,
		OverlapLines:   r.opts.OverlapLines,
		MaxChunkChars:  r.opts.MaxChunkChars,
	})
	if env != nil {
		if env.IsCancelled() || env.Code != types.CodeSplitterInput {
			r.fail(env)
		} else {
			r.deps.Logger.Warn("file skipped by splitter",
				slog.String("path", path.String()),
				slog.String("reason", env.Message))
		}
		return fileOutcome{path: path, skipped: true}
	}

	return fileOutcome{path: path, chunks: chunks}
}

// embedScheduler accumulates chunks into batches and schedules them, in
// producer order, onto bounded embed workers.
func (r *run) embedScheduler() {
	defer close(r.schedDone)
	defer close(r.embedFutures)
	rc := r.internal

	var pending []types.Chunk
	for {
		chunk, env := r.chunkQueue.Dequeue(rc)
		if env != nil {
			if env.Code == types.CodeQueueClosed {
				break
			}
			if !env.IsCancelled() {
				r.fail(env)
			}
			return
		}
		pending = append(pending, chunk)
		if len(pending) >= r.opts.EmbedBatchSize {
			if !r.scheduleEmbed(pending) {
				return
			}
			pending = nil
		}
	}

	if len(pending) > 0 {
		r.scheduleEmbed(pending)
	}
}

func (r *run) scheduleEmbed(chunks []types.Chunk) bool {
	rc := r.internal
	future := make(chan embedOutcome, 1)

	select {
	case r.embedFutures <- future:
	case <-rc.Done():
		return false
	}

	r.embedWg.Add(1)
	go func() {
		defer r.embedWg.Done()

		select {
		case r.embedSem <- struct{}{}:
			defer func() { <-r.embedSem }()
		case <-rc.Done():
			future <- embedOutcome{env: rc.EnsureNotCancelled("pipeline.embed")}
			return
		}

		texts := make([]string, len(chunks))
		for i, chunk := range chunks {
			texts[i] = chunk.Content
		}

		vectors, env := embedder.Retry(rc, r.opts.Retry, func() ([][]float32, *types.ErrorEnvelope) {
			return r.deps.Embedder.EmbedBatch(rc, texts)
		})
		if env != nil {
			future <- embedOutcome{env: env}
			return
		}
		if len(vectors) != len(chunks) {
			future <- embedOutcome{env: types.Invariant(types.CodeInternal, "embedder returned wrong vector count").
				WithMeta("expected", strconv.Itoa(len(chunks))).
				WithMeta("found", strconv.Itoa(len(vectors)))}
			return
		}
		future <- embedOutcome{chunks: chunks, vectors: vectors}
	}()
	return true
}

// inserter consumes embedded batches in producer order and writes vector
// batches with bounded concurrency.
func (r *run) inserter() {
	defer close(r.insertDone)
	rc := r.internal

	var batch []vector.Record
	for future := range r.embedFutures {
		var outcome embedOutcome
		select {
		case outcome = <-future:
		case <-rc.Done():
			return
		}
		if outcome.env != nil {
			if !outcome.env.IsCancelled() {
				r.fail(outcome.env)
			}
			return
		}

		for i, chunk := range outcome.chunks {
			batch = append(batch, vector.Record{
				ID:       chunk.ID.String(),
				Vector:   outcome.vectors[i],
				Document: types.DocumentFromChunk(chunk),
			})
			if len(batch) >= r.opts.VectorBatchSize {
				if !r.scheduleUpsert(batch) {
					return
				}
				batch = nil
			}
		}
	}

	if len(batch) > 0 {
		r.scheduleUpsert(batch)
	}
}

func (r *run) scheduleUpsert(batch []vector.Record) bool {
	rc := r.internal

	select {
	case r.insertSem <- struct{}{}:
	case <-rc.Done():
		return false
	}

	r.insertWg.Add(1)
	go func(records []vector.Record) {
		defer r.insertWg.Done()
		defer func() { <-r.insertSem }()

		if env := r.deps.Store.Upsert(rc, r.opts.Collection, records); env != nil {
			if !env.IsCancelled() {
				r.fail(env)
			}
			return
		}
		r.upserted.Add(int64(len(records)))
	}(batch)
	return true
}

// awaitEmbeds blocks until every embedding batch has been scheduled and
// resolved (stage 3 complete).
func (r *run) awaitEmbeds(rc *types.RequestContext) *types.ErrorEnvelope {
	<-r.schedDone
	r.embedWg.Wait()
	return r.firstError(rc, nil)
}

// awaitUpserts blocks until the inserter has drained and every upsert has
// completed (stage 4 complete).
func (r *run) awaitUpserts(rc *types.RequestContext) *types.ErrorEnvelope {
	<-r.insertDone
	r.insertWg.Wait()
	return r.firstError(rc, nil)
}

// complete writes the Merkle snapshot and assembles the result (stage 5). On
// failure or cancellation the snapshot is not written, so the next run
// reprocesses the same files.
func (r *run) complete(rc *types.RequestContext) (Result, *types.ErrorEnvelope) {
	if env := r.firstError(rc, nil); env != nil {
		return Result{}, env
	}

	snapshot := r.opts.Snapshot
	if snapshot == nil {
		r.hashMu.Lock()
		built := merkle.Build(r.fileHashes)
		r.hashMu.Unlock()
		snapshot = &built
	}
	if env := r.deps.Sync.SaveSnapshot(rc, r.opts.CodebaseRoot, *snapshot); env != nil {
		return Result{}, env
	}

	status := StatusCompleted
	if r.limitReached {
		status = StatusLimitReached
	}

	result := Result{
		IndexedFiles:    int(r.indexedFiles.Load()),
		SkippedFiles:    int(r.skippedFiles.Load()),
		TotalChunks:     int(r.totalChunks.Load()),
		UpsertedRecords: int(r.upserted.Load()),
		Status:          status,
		RootHash:        snapshot.RootHash(),
	}
	r.progress("complete", 1, 1)
	return result, nil
}
