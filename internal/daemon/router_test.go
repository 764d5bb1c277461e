package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/loopwork/beacon/internal/protocol"
)

func TestRouterDispatchUnknownMethod(t *testing.T) {
	r := NewRouter(nil, nil)
	_, err := r.Dispatch(context.Background(), nil, &protocol.Frame{ID: "1", Method: "nope"})
	if !errors.Is(err, protocol.Errorf(protocol.CodeMethodUnknown, "")) {
		t.Fatalf("expected METHOD_UNKNOWN, got %v", err)
	}
}

func TestRouterDispatchRunsHandler(t *testing.T) {
	r := NewRouter(nil, nil)
	r.Register("echo", func(_ context.Context, _ *connection, params json.RawMessage) (any, error) {
		var p struct {
			Text string `json:"text"`
		}
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return p.Text, nil
	})

	result, err := r.Dispatch(context.Background(), nil, &protocol.Frame{
		ID: "1", Method: "echo", Params: json.RawMessage(`{"text":"hi"}`),
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result != "hi" {
		t.Errorf("result = %v, want hi", result)
	}
}

func TestRouterRecoversHandlerPanic(t *testing.T) {
	r := NewRouter(nil, nil)
	r.Register("boom", func(context.Context, *connection, json.RawMessage) (any, error) {
		panic("kaput")
	})

	_, err := r.Dispatch(context.Background(), nil, &protocol.Frame{ID: "1", Method: "boom"})
	if !errors.Is(err, protocol.Errorf(protocol.CodeInternal, "")) {
		t.Fatalf("expected INTERNAL from panic, got %v", err)
	}

	// The router must stay serviceable afterwards.
	r.Register("ok", func(context.Context, *connection, json.RawMessage) (any, error) {
		return true, nil
	})
	if _, err := r.Dispatch(context.Background(), nil, &protocol.Frame{ID: "2", Method: "ok"}); err != nil {
		t.Fatalf("dispatch after panic: %v", err)
	}
}

func TestRouterDrainRejectsAllButShutdown(t *testing.T) {
	r := NewRouter(nil, nil)
	called := false
	r.Register("daemon.ping", func(context.Context, *connection, json.RawMessage) (any, error) {
		return map[string]any{"pong": true}, nil
	})
	r.Register("daemon.shutdown", func(context.Context, *connection, json.RawMessage) (any, error) {
		called = true
		return nil, nil
	})

	r.Drain()

	_, err := r.Dispatch(context.Background(), nil, &protocol.Frame{ID: "1", Method: "daemon.ping"})
	if !errors.Is(err, protocol.Errorf(protocol.CodeShutdown, "")) {
		t.Fatalf("expected SHUTDOWN_IN_PROGRESS, got %v", err)
	}
	if _, err := r.Dispatch(context.Background(), nil, &protocol.Frame{ID: "2", Method: "daemon.shutdown"}); err != nil {
		t.Fatalf("daemon.shutdown must pass through a drain: %v", err)
	}
	if !called {
		t.Error("shutdown handler did not run")
	}
}

func TestDecodeParamsAbsentIsZeroValue(t *testing.T) {
	var p struct {
		N int `json:"n"`
	}
	if err := decodeParams(nil, &p); err != nil {
		t.Fatalf("absent params: %v", err)
	}
	if p.N != 0 {
		t.Errorf("expected zero value, got %d", p.N)
	}

	err := decodeParams(json.RawMessage(`{`), &p)
	if !errors.Is(err, protocol.Errorf(protocol.CodeInvalidParams, "")) {
		t.Fatalf("expected INVALID_PARAMS for malformed json, got %v", err)
	}
}
