package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID contextKey = "trace_id"
	keyRunID   contextKey = "run_id"
	keyTier    contextKey = "tier"
	keySubject contextKey = "subject"
)

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithRunID adds the engine run ID to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, keyRunID, runID)
}

// RunID extracts the engine run ID from context.
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRunID).(string)
	return v, ok && v != ""
}

// WithTier records the assessed tier on the context.
func WithTier(ctx context.Context, tier Tier) context.Context {
	return context.WithValue(ctx, keyTier, tier)
}

// TierFrom extracts the assessed tier from context.
func TierFrom(ctx context.Context) (Tier, bool) {
	v, ok := ctx.Value(keyTier).(Tier)
	return v, ok && v != ""
}

// WithSubject records the authenticated principal (JWT sub or API key id).
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, keySubject, subject)
}

// Subject extracts the authenticated principal from context.
func Subject(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keySubject).(string)
	return v, ok && v != ""
}
