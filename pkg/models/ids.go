// Package models defines the canonical, platform-neutral data model shared
// by the daemon, the channel adapters, and the agent runtime: inbound and
// outbound content variants, inbound events, outbound intents, destinations,
// and session checkpoints.
package models

// ChannelID identifies a channel instance. It is opaque and distinct from
// SessionID so the two cannot be crossed accidentally.
type ChannelID string

// SessionID identifies a live or restorable agent session.
type SessionID string

// ChannelState is the connection state of a channel instance.
type ChannelState string

const (
	ChannelDisconnected ChannelState = "disconnected"
	ChannelConnecting   ChannelState = "connecting"
	ChannelConnected    ChannelState = "connected"
	ChannelReconnecting ChannelState = "reconnecting"
	ChannelError        ChannelState = "error"
)

// SessionState is the lifecycle state of an agent session.
type SessionState string

const (
	SessionIdle       SessionState = "idle"
	SessionRunning    SessionState = "running"
	SessionPaused     SessionState = "paused"
	SessionCompleted  SessionState = "completed"
	SessionFailed     SessionState = "failed"
	SessionAborted    SessionState = "aborted"
	SessionTerminated SessionState = "terminated"
)

// Terminal reports whether the state rejects send/pause/resume.
func (s SessionState) Terminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionAborted, SessionTerminated:
		return true
	}
	return false
}
