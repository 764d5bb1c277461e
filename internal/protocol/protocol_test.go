package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecodeFrameKinds(t *testing.T) {
	tests := []struct {
		name string
		line string
		want FrameKind
	}{
		{"request", `{"id":"r-1","method":"daemon.ping"}`, FrameRequest},
		{"request with empty id", `{"id":"","method":"daemon.ping"}`, FrameRequest},
		{"response", `{"id":"r-1","result":{"pong":true}}`, FrameResponse},
		{"error response", `{"id":"r-2","error":{"code":1002,"message":"no"}}`, FrameResponse},
		{"notification", `{"method":"log","params":{}}`, FrameNotification},
		{"invalid", `{"params":{}}`, FrameInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := DecodeFrame([]byte(tt.line))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got := f.Kind(); got != tt.want {
				t.Fatalf("kind = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeFrameMalformed(t *testing.T) {
	if _, err := DecodeFrame([]byte(`{"id":`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
	if _, err := DecodeFrame([]byte(`[1,2,3]`)); err == nil {
		t.Fatal("expected error for non-object frame")
	}
}

func TestEncodeFrameTerminatesWithNewline(t *testing.T) {
	out, err := EncodeFrame(Response{ID: "r-1", Result: map[string]bool{"pong": true}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.HasSuffix(out, []byte("\n")) {
		t.Fatal("frame must end with newline")
	}
	if bytes.Count(out, []byte("\n")) != 1 {
		t.Fatal("frame must occupy exactly one line")
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	err := NewError(CodeChannelNotFound, "no such channel", nil)
	wrapped := NewError(CodeInternal, "outer", err)

	if !errors.Is(wrapped, &Error{Code: CodeInternal}) {
		t.Fatal("expected code match on outer error")
	}
	if !errors.Is(wrapped, &Error{Code: CodeChannelNotFound}) {
		t.Fatal("expected code match through unwrap chain")
	}
}

func TestAsErrorDefaultsToInternal(t *testing.T) {
	e := AsError(errors.New("boom"))
	if e.Code != CodeInternal {
		t.Fatalf("code = %q, want internal", e.Code)
	}
	if e.Payload().Code != CodeInternal.Number() {
		t.Fatal("payload code mismatch")
	}
}

func TestResolveSocketPath(t *testing.T) {
	t.Setenv(SocketEnvVar, "")
	t.Setenv("XDG_RUNTIME_DIR", "")

	if got := ResolveSocketPath("/custom.sock"); got != "/custom.sock" {
		t.Fatalf("explicit path ignored: %q", got)
	}

	t.Setenv(SocketEnvVar, "/env.sock")
	if got := ResolveSocketPath(""); got != "/env.sock" {
		t.Fatalf("env override ignored: %q", got)
	}

	t.Setenv(SocketEnvVar, "")
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	if got := ResolveSocketPath(""); got != "/run/user/1000/beacon-daemon.sock" {
		t.Fatalf("xdg path wrong: %q", got)
	}

	t.Setenv("XDG_RUNTIME_DIR", "")
	if got := ResolveSocketPath(""); got != "/tmp/beacon-daemon.sock" {
		t.Fatalf("fallback path wrong: %q", got)
	}
}
