// Package kit carries request-scoped identifiers through context.Context so
// log lines from HTTP handlers and sync runs can be correlated.
package kit

import "context"

type contextKey string

const (
	TraceIDKey   contextKey = "kit_trace_id"
	SyncRunIDKey contextKey = "kit_sync_run_id"
)

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

// WithSyncRunID tags a context with the id of the sync run it belongs to.
func WithSyncRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SyncRunIDKey, id)
}
func GetSyncRunID(ctx context.Context) string {
	v, _ := ctx.Value(SyncRunIDKey).(string)
	return v
}
