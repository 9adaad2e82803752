package types

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestContext carries cancellation, deadline, and a correlation id through
// every boundary call. Adapter methods take it as their first argument.
type RequestContext struct {
	ctx           context.Context
	cancel        context.CancelFunc
	correlationID string
}

// NewRequestContext creates a request context with a fresh req_* correlation id.
func NewRequestContext(parent context.Context) *RequestContext {
	return newWithID(parent, NewCorrelationID("req"))
}

// NewJobContext creates a request context with a fresh job_* correlation id.
func NewJobContext(parent context.Context) *RequestContext {
	return newWithID(parent, NewCorrelationID("job"))
}

// WithCorrelationID creates a request context with an explicit correlation id.
// Empty ids are replaced by a generated one.
func WithCorrelationID(parent context.Context, correlationID string) *RequestContext {
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		correlationID = NewCorrelationID("req")
	}
	return newWithID(parent, correlationID)
}

func newWithID(parent context.Context, id string) *RequestContext {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &RequestContext{ctx: ctx, cancel: cancel, correlationID: id}
}

// NewCorrelationID generates an opaque correlation id with the given prefix.
func NewCorrelationID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// WithDeadline returns a derived context that cancels at the given time.
func (r *RequestContext) WithDeadline(deadline time.Time) *RequestContext {
	ctx, cancel := context.WithDeadline(r.ctx, deadline)
	return &RequestContext{ctx: ctx, cancel: cancel, correlationID: r.correlationID}
}

// WithTimeout returns a derived context that cancels after d.
func (r *RequestContext) WithTimeout(d time.Duration) *RequestContext {
	return r.WithDeadline(time.Now().Add(d))
}

// Context returns the underlying context.Context.
func (r *RequestContext) Context() context.Context {
	return r.ctx
}

// CorrelationID returns the opaque correlation id.
func (r *RequestContext) CorrelationID() string {
	return r.correlationID
}

// Cancel cancels the request. Safe to call more than once.
func (r *RequestContext) Cancel() {
	r.cancel()
}

// IsCancelled reports whether the request has been cancelled or timed out.
func (r *RequestContext) IsCancelled() bool {
	return r.ctx.Err() != nil
}

// Done returns the cancellation channel.
func (r *RequestContext) Done() <-chan struct{} {
	return r.ctx.Done()
}

// EnsureNotCancelled returns a core:cancelled (or core:timeout) envelope when
// the context is no longer live, tagged with the operation name.
func (r *RequestContext) EnsureNotCancelled(operation string) *ErrorEnvelope {
	switch r.ctx.Err() {
	case nil:
		return nil
	case context.DeadlineExceeded:
		return Timeout("operation timed out").WithMeta("operation", operation)
	default:
		return Cancelled("operation cancelled").WithMeta("operation", operation)
	}
}
