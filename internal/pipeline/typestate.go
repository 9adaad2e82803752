package pipeline

import (
	"sync"

	"github.com/dshills/sca/pkg/types"
)

// The indexing pipeline is a linear state machine:
//
//	Prepared -> Scanned -> Chunked -> Embedded -> Upserted -> Completed
//
// Each state is a distinct type whose only outward API is the legal next
// transition, so skipping or reordering stages does not compile. A transition
// consumes its receiver; reusing a consumed state is a construction-time
// error (core:internal, invariant).

// Prepared is the initial state: dependencies and options validated.
type Prepared struct {
	run  *run
	used consumeGuard
}

// Scanned holds the ordered file list produced by the scan stage.
type Scanned struct {
	run  *run
	used consumeGuard
}

// Chunked indicates every file has been split and all chunks are queued.
type Chunked struct {
	run  *run
	used consumeGuard
}

// Embedded indicates every embedding batch has completed.
type Embedded struct {
	run  *run
	used consumeGuard
}

// Upserted indicates every vector batch has been written to the store.
type Upserted struct {
	run  *run
	used consumeGuard
}

// Completed is the terminal state carrying the run result.
type Completed struct {
	Result Result
}

type consumeGuard struct {
	mu       sync.Mutex
	consumed bool
}

// consume marks the state used; a second call is an invariant violation.
func (g *consumeGuard) consume(state string) *types.ErrorEnvelope {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.consumed {
		return types.Invariant(types.CodeInternal, "pipeline state already consumed").
			WithMeta("state", state)
	}
	g.consumed = true
	return nil
}

// Scan walks the codebase and produces the ordered file list.
func (p *Prepared) Scan(rc *types.RequestContext) (*Scanned, *types.ErrorEnvelope) {
	if env := p.used.consume("prepared"); env != nil {
		return nil, env
	}
	if env := p.run.scan(rc); env != nil {
		return nil, env
	}
	return &Scanned{run: p.run}, nil
}

// Split starts the streaming split/embed/upsert machinery and returns once
// every file has been split and its chunks enqueued. Embedding and upserts
// continue concurrently behind the returned state.
func (s *Scanned) Split(rc *types.RequestContext) (*Chunked, *types.ErrorEnvelope) {
	if env := s.used.consume("scanned"); env != nil {
		return nil, env
	}
	if env := s.run.split(rc); env != nil {
		return nil, env
	}
	return &Chunked{run: s.run}, nil
}

// Embed waits for all embedding batches to finish.
func (c *Chunked) Embed(rc *types.RequestContext) (*Embedded, *types.ErrorEnvelope) {
	if env := c.used.consume("chunked"); env != nil {
		return nil, env
	}
	if env := c.run.awaitEmbeds(rc); env != nil {
		return nil, env
	}
	return &Embedded{run: c.run}, nil
}

// Upsert waits for all vector batches to be written.
func (e *Embedded) Upsert(rc *types.RequestContext) (*Upserted, *types.ErrorEnvelope) {
	if env := e.used.consume("embedded"); env != nil {
		return nil, env
	}
	if env := e.run.awaitUpserts(rc); env != nil {
		return nil, env
	}
	return &Upserted{run: e.run}, nil
}

// Complete writes the Merkle snapshot (unless the run failed or was
// cancelled) and returns the terminal state.
func (u *Upserted) Complete(rc *types.RequestContext) (*Completed, *types.ErrorEnvelope) {
	if env := u.used.consume("upserted"); env != nil {
		return nil, env
	}
	result, env := u.run.complete(rc)
	if env != nil {
		return nil, env
	}
	return &Completed{Result: result}, nil
}
