// Package types defines the domain vocabulary shared by every layer of sca:
// validated identifiers, chunk and document records, the structured error
// envelope, and the request context carried across adapter boundaries.
//
// # Error Envelope
//
// Every fallible boundary operation returns *ErrorEnvelope, which implements
// error. An envelope carries a kind (Expected, Invariant, Unexpected), a
// retry class (Retriable, NonRetriable), a stable namespaced code such as
// "core:cancelled" or "vector:dimension_mismatch", a short message, and
// optional metadata. Metadata is redacted at serialization time: secret-like
// keys are replaced by "[REDACTED]" and query/content values by
// "[REDACTED,len=N]".
//
//	env := types.Expected(types.CodeInvalidValue, "topK out of range").
//		WithMeta("topK", "99")
//
// Foreign errors are normalized with AsEnvelope, which classifies I/O errors
// by kind and maps context.Canceled to "core:cancelled".
//
// # Request Context
//
// RequestContext couples a context.Context with a correlation id. It is the
// first argument of every adapter method. Callers check cancellation at loop
// boundaries and before expensive I/O:
//
//	if err := rc.EnsureNotCancelled("index.scan"); err != nil {
//		return err
//	}
//
// # Identifiers
//
// CodebaseID, CollectionName, ChunkID, and RelativePath are validated on
// construction and stored as opaque strings. Derivations are deterministic:
// identical inputs always produce identical identifiers.
package types
