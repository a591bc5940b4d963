package logging

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// NewRunID generates a new run id
func NewRunID() string {
	return uuid.New().String()
}

// ContextWithRun creates a context carrying the run id and test name
func ContextWithRun(ctx context.Context, runID, test string) context.Context {
	if runID != "" {
		ctx = context.WithValue(ctx, RunIDKey, runID)
	}
	if test != "" {
		ctx = context.WithValue(ctx, TestKey, test)
	}
	return ctx
}

// ContextWithWorker tags the context with a worker index
func ContextWithWorker(ctx context.Context, worker int) context.Context {
	return context.WithValue(ctx, WorkerKey, worker)
}

// ExtractRunID extracts the run id from context
func ExtractRunID(ctx context.Context) string {
	if id := ctx.Value(RunIDKey); id != nil {
		if str, ok := id.(string); ok {
			return str
		}
	}
	return ""
}

// ParseRunID accepts a run id supplied from outside, e.g. to correlate a
// rerun with the failed run. Invalid ids yield a fresh one.
func ParseRunID(raw string) string {
	raw = strings.TrimSpace(raw)
	if id, err := uuid.Parse(raw); err == nil {
		return id.String()
	}
	return NewRunID()
}
