// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Middleware (or the batch runner) sets values; services only read them. The
// package stays free of net/http so the resolve engine can import it without
// pulling transport code in.
//
// Usage in services:
//
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests and batch runs:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithRequestID(ctx, "batch-42")
package requestcontext

import (
	"context"
	"time"
)

type (
	requestIDKey    struct{}
	requestTimeKey  struct{}
	sourceSystemKey struct{}
)

// RequestID retrieves the correlation ID from the context. Empty if unset.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a correlation ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// SourceSystem retrieves the upstream system currently being processed.
// Set by ingest adapters and the batch runner for log enrichment.
func SourceSystem(ctx context.Context) string {
	if src, ok := ctx.Value(sourceSystemKey{}).(string); ok {
		return src
	}
	return ""
}

// WithSourceSystem injects the upstream system name into the context.
func WithSourceSystem(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceSystemKey{}, source)
}

// Now retrieves the request-scoped time from context, falling back to
// time.Now() for non-HTTP contexts (workers, CLI, tests that don't inject).
//
// Resolution stamps every decision with this value, so injecting a fixed time
// makes the whole engine deterministic under test.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
