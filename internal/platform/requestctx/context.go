// Package requestctx carries per-request values (logger, trace and acting cart owner) on a context.
package requestctx

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type key uint8

const (
	keyLogger key = iota + 1
	keyTrace
	keyActor
)

var discard = zap.NewNop()

// TraceInfo is the trace metadata extracted from the incoming request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// Resource formats the trace as the Cloud Logging trace resource name. It is empty unless both the
// project and the trace id are known.
func (t TraceInfo) Resource() string {
	if t.ProjectID == "" || t.TraceID == "" {
		return ""
	}
	return "projects/" + t.ProjectID + "/traces/" + t.TraceID
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func value[T any](ctx context.Context, k key) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(k).(T)
	return v, ok
}

// WithLogger attaches a request scoped logger. A nil logger installs the no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = discard
	}
	return context.WithValue(orBackground(ctx), keyLogger, logger)
}

// Logger returns the request logger, falling back to NoopLogger.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := value[*zap.Logger](ctx, keyLogger); ok && logger != nil {
		return logger
	}
	return discard
}

// NoopLogger is the logger returned when none was attached.
func NoopLogger() *zap.Logger { return discard }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(orBackground(ctx), keyTrace, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	return value[TraceInfo](ctx, keyTrace)
}

func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// actor is shared by pointer so a value set deep in a handler is visible to the middleware that
// installed it.
type actor struct {
	mu    sync.RWMutex
	owner string
}

// WithActor records the cart owner key ("user:abc", "guest:xyz") acting on the request. When an
// outer layer already installed an actor slot the value is written into it and ctx is returned as is.
func WithActor(ctx context.Context, owner string) context.Context {
	ctx = orBackground(ctx)
	if slot, ok := value[*actor](ctx, keyActor); ok {
		slot.mu.Lock()
		slot.owner = owner
		slot.mu.Unlock()
		return ctx
	}
	return context.WithValue(ctx, keyActor, &actor{owner: owner})
}

// Actor returns the recorded cart owner key, or "".
func Actor(ctx context.Context) string {
	slot, ok := value[*actor](ctx, keyActor)
	if !ok {
		return ""
	}
	slot.mu.RLock()
	defer slot.mu.RUnlock()
	return slot.owner
}
