package models

import "encoding/json"

// ConversationType classifies the conversation a destination points at.
type ConversationType string

const (
	ConversationDirect  ConversationType = "direct"
	ConversationGroup   ConversationType = "group"
	ConversationChannel ConversationType = "channel"
	ConversationThread  ConversationType = "thread"
	ConversationTopic   ConversationType = "topic"
)

// DestinationMetadata carries conversational context alongside a ref.
type DestinationMetadata struct {
	ConversationType ConversationType `json:"conversationType"`
	Title            string           `json:"title,omitempty"`
	ParticipantCount int              `json:"participantCount,omitempty"`
	// PlatformData holds adapter-specific extras such as the id of the
	// message a reply should attach to.
	PlatformData map[string]any `json:"platformData,omitempty"`
}

// Destination is a channel-scoped routing token. Ref is opaque outside the
// adapter that produced it.
type Destination struct {
	ChannelID ChannelID           `json:"channelId"`
	Ref       string              `json:"ref"`
	Metadata  DestinationMetadata `json:"metadata"`
}

// InboundEventType tags a canonical inbound event.
type InboundEventType string

const (
	EventMessageReceived     InboundEventType = "message_received"
	EventMessageEdited       InboundEventType = "message_edited"
	EventMessageDeleted      InboundEventType = "message_deleted"
	EventReactionAdded       InboundEventType = "reaction_added"
	EventReactionRemoved     InboundEventType = "reaction_removed"
	EventCommandReceived     InboundEventType = "command_received"
	EventCallbackReceived    InboundEventType = "callback_received"
	EventConversationStarted InboundEventType = "conversation_started"
	EventMemberJoined        InboundEventType = "member_joined"
	EventMemberLeft          InboundEventType = "member_left"
	EventUnknown             InboundEventType = "unknown"
)

// InboundEvent is the canonical form of a platform update. Origin is always
// present; Author where the platform identifies one. Timestamp is Unix
// milliseconds.
type InboundEvent struct {
	Type      InboundEventType `json:"type"`
	Origin    Destination      `json:"origin"`
	Author    *Author          `json:"author,omitempty"`
	Timestamp int64            `json:"timestamp"`

	Content   *InboundContent  `json:"content,omitempty"`
	MessageID string           `json:"messageId,omitempty"`
	Command   *CommandPayload  `json:"command,omitempty"`
	Callback  *CallbackPayload `json:"callback,omitempty"`
	Reaction  *ReactionPayload `json:"reaction,omitempty"`
	Raw       json.RawMessage  `json:"raw,omitempty"`
}

// CommandPayload is the parsed form of a slash command.
type CommandPayload struct {
	Command string `json:"command"`
	Args    string `json:"args"`
}

// CallbackPayload identifies a pressed callback button.
type CallbackPayload struct {
	CallbackID string `json:"callbackId"`
	Data       string `json:"data,omitempty"`
}

// ReactionPayload identifies an added or removed reaction.
type ReactionPayload struct {
	Emoji     string `json:"emoji"`
	MessageID string `json:"messageId,omitempty"`
}

// LifecycleEventType tags a channel lifecycle transition.
type LifecycleEventType string

const (
	LifecycleConnected    LifecycleEventType = "connected"
	LifecycleDisconnected LifecycleEventType = "disconnected"
	LifecycleReconnecting LifecycleEventType = "reconnecting"
	LifecycleChannelError LifecycleEventType = "channel_error"
)

// LifecycleEvent reports a channel state transition or recoverable fault.
type LifecycleEvent struct {
	Type        LifecycleEventType `json:"type"`
	ChannelID   ChannelID          `json:"channelId"`
	Error       string             `json:"error,omitempty"`
	Recoverable bool               `json:"recoverable,omitempty"`
	Timestamp   int64              `json:"timestamp"`
}
