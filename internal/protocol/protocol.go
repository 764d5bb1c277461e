// Package protocol defines the control-plane wire protocol: newline-delimited
// JSON frames over a local stream socket, the request/response/notification
// envelopes, and the daemon error taxonomy.
package protocol

import (
	"bytes"
	"encoding/json"
)

// Frame is the decoded form of one wire line. Classification follows the
// routing rule: a frame with an id is a request (method present) or a
// response; a frame without an id is a notification.
type Frame struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorPayload   `json:"error,omitempty"`

	hasID bool
}

// FrameKind classifies a decoded frame.
type FrameKind int

const (
	FrameInvalid FrameKind = iota
	FrameRequest
	FrameResponse
	FrameNotification
)

// Kind classifies the frame per the routing rule.
func (f *Frame) Kind() FrameKind {
	switch {
	case f.hasID && f.Method != "":
		return FrameRequest
	case f.hasID:
		return FrameResponse
	case f.Method != "":
		return FrameNotification
	default:
		return FrameInvalid
	}
}

// DecodeFrame parses one wire line. It distinguishes an absent id from an
// empty one so that responses with id "" still correlate.
func DecodeFrame(line []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return nil, err
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, err
	}
	_, f.hasID = probe["id"]
	return &f, nil
}

// Request is an outgoing method call.
type Request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// Response answers a request. Exactly one of Result and Error is set.
type Response struct {
	ID     string        `json:"id"`
	Result any           `json:"result,omitempty"`
	Error  *ErrorPayload `json:"error,omitempty"`
}

// Notification is a server-pushed frame with no id.
type Notification struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// EncodeFrame serialises a frame value and appends the terminating newline.
// The payload is guaranteed to occupy exactly one line: encoding/json never
// emits raw newlines inside a document.
func EncodeFrame(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
