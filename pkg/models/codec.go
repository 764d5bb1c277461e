package models

import "encoding/json"

// knownInboundContentTypes is the closed set this build understands.
// Adding a variant requires updating this set and every consumer switch;
// codec_test.go enforces the former.
var knownInboundContentTypes = map[InboundContentType]bool{
	InboundText:     true,
	InboundMedia:    true,
	InboundLocation: true,
	InboundContact:  true,
	InboundSticker:  true,
	InboundPollVote: true,
}

// UnmarshalJSON decodes an inbound content variant, quarantining
// unrecognised tags as InboundUnknown with the raw payload preserved.
func (c *InboundContent) UnmarshalJSON(data []byte) error {
	type plain InboundContent
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = InboundContent(p)
	if !knownInboundContentTypes[c.Type] {
		c.Type = InboundUnknown
		c.Raw = append(json.RawMessage(nil), data...)
	}
	return nil
}

var knownInboundEventTypes = map[InboundEventType]bool{
	EventMessageReceived:     true,
	EventMessageEdited:       true,
	EventMessageDeleted:      true,
	EventReactionAdded:       true,
	EventReactionRemoved:     true,
	EventCommandReceived:     true,
	EventCallbackReceived:    true,
	EventConversationStarted: true,
	EventMemberJoined:        true,
	EventMemberLeft:          true,
}

// UnmarshalJSON decodes an inbound event, quarantining unrecognised tags.
func (e *InboundEvent) UnmarshalJSON(data []byte) error {
	type plain InboundEvent
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = InboundEvent(p)
	if !knownInboundEventTypes[e.Type] {
		e.Type = EventUnknown
		e.Raw = append(json.RawMessage(nil), data...)
	}
	return nil
}
