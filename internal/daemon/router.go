package daemon

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/loopwork/beacon/internal/observability"
	"github.com/loopwork/beacon/internal/protocol"
)

// HandlerFunc serves one RPC method. The connection identifies the
// caller for subscription ownership.
type HandlerFunc func(ctx context.Context, c *connection, params json.RawMessage) (any, error)

// Router dispatches requests by method name. Handler panics become
// INTERNAL error responses; they never take the daemon down.
type Router struct {
	logger  *slog.Logger
	metrics *observability.Metrics

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	draining bool
}

// NewRouter creates an empty router.
func NewRouter(logger *slog.Logger, metrics *observability.Metrics) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger:   logger.With("component", "router"),
		metrics:  metrics,
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds a method name to a handler.
func (r *Router) Register(method string, fn HandlerFunc) {
	r.mu.Lock()
	r.handlers[method] = fn
	r.mu.Unlock()
}

// Methods lists the registered method names.
func (r *Router) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		out = append(out, m)
	}
	return out
}

// Drain makes every subsequent dispatch fail with SHUTDOWN_IN_PROGRESS,
// except daemon.shutdown itself.
func (r *Router) Drain() {
	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()
}

// Dispatch runs the handler for a request frame.
func (r *Router) Dispatch(ctx context.Context, c *connection, frame *protocol.Frame) (result any, err error) {
	r.mu.RLock()
	fn, ok := r.handlers[frame.Method]
	draining := r.draining
	r.mu.RUnlock()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panicked", "method", frame.Method, "panic", rec)
			result = nil
			err = protocol.Errorf(protocol.CodeInternal, "handler panic in %s", frame.Method)
		}
		r.observe(frame.Method, err)
	}()

	if draining && frame.Method != "daemon.shutdown" {
		return nil, protocol.Errorf(protocol.CodeShutdown, "daemon is shutting down")
	}
	if !ok {
		return nil, protocol.Errorf(protocol.CodeMethodUnknown, "unknown method %q", frame.Method)
	}
	return fn(ctx, c, frame.Params)
}

func (r *Router) observe(method string, err error) {
	if r.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.metrics.RPCRequests.WithLabelValues(method, status).Inc()
}

// decodeParams unmarshals request params into a typed struct. Absent
// params decode as the zero value.
func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return protocol.Errorf(protocol.CodeInvalidParams, "invalid params: %v", err)
	}
	return nil
}
