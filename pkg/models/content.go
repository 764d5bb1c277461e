package models

import "encoding/json"

// MediaKind classifies a media payload.
type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaAudio     MediaKind = "audio"
	MediaVoice     MediaKind = "voice"
	MediaDocument  MediaKind = "document"
	MediaAnimation MediaKind = "animation"
)

// MediaReference is an opaque handle to platform-hosted media. Only the
// adapter that produced it may interpret ID.
type MediaReference struct {
	Platform string `json:"platform"`
	ID       string `json:"id"`
}

// Author describes the sender of an inbound event.
type Author struct {
	ID          string `json:"id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	IsBot       bool   `json:"isBot"`
}

// InboundContentType tags an inbound content variant.
type InboundContentType string

const (
	InboundText     InboundContentType = "text"
	InboundMedia    InboundContentType = "media"
	InboundLocation InboundContentType = "location"
	InboundContact  InboundContentType = "contact"
	InboundSticker  InboundContentType = "sticker"
	InboundPollVote InboundContentType = "poll_vote"
	// InboundUnknown quarantines a variant this build does not recognise.
	// The raw payload is preserved for logging only.
	InboundUnknown InboundContentType = "unknown"
)

// InboundContent is a tagged variant. Exactly one payload field matching
// Type is set. Consumers must switch on Type exhaustively and route
// InboundUnknown to a logged warning rather than failing.
type InboundContent struct {
	Type     InboundContentType `json:"type"`
	Text     *TextContent       `json:"text,omitempty"`
	Media    *MediaContent      `json:"media,omitempty"`
	Location *LocationContent   `json:"location,omitempty"`
	Contact  *ContactContent    `json:"contact,omitempty"`
	Sticker  *StickerContent    `json:"sticker,omitempty"`
	PollVote *PollVoteContent   `json:"pollVote,omitempty"`
	Raw      json.RawMessage    `json:"raw,omitempty"`
}

// TextContent is plain inbound text.
type TextContent struct {
	Text string `json:"text"`
}

// MediaContent describes an inbound media payload by reference.
type MediaContent struct {
	Kind      MediaKind      `json:"kind"`
	MimeType  string         `json:"mimeType,omitempty"`
	Filename  string         `json:"filename,omitempty"`
	Size      int64          `json:"size,omitempty"`
	Caption   string         `json:"caption,omitempty"`
	Reference MediaReference `json:"reference"`
}

// LocationContent is a geographic point.
type LocationContent struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ContactContent is a shared contact card.
type ContactContent struct {
	Phone string `json:"phone"`
	First string `json:"first"`
	Last  string `json:"last,omitempty"`
}

// StickerContent is a platform sticker by reference.
type StickerContent struct {
	Emoji     string         `json:"emoji,omitempty"`
	Reference MediaReference `json:"reference"`
}

// PollVoteContent records a poll answer.
type PollVoteContent struct {
	PollID   string `json:"pollId"`
	Selected []int  `json:"selected"`
}

// NewTextContent builds a text inbound content value.
func NewTextContent(text string) InboundContent {
	return InboundContent{Type: InboundText, Text: &TextContent{Text: text}}
}

// FormattingHint describes how outbound text is formatted.
type FormattingHint string

const (
	FormatPlain    FormattingHint = "plain"
	FormatMarkdown FormattingHint = "markdown"
	FormatHTML     FormattingHint = "html"
)

// MediaSourceType tags an outbound media source variant.
type MediaSourceType string

const (
	MediaSourceURL    MediaSourceType = "url"
	MediaSourceBytes  MediaSourceType = "bytes"
	MediaSourceStream MediaSourceType = "stream"
)

// MediaSource locates the bytes of an outbound media payload. Stream
// sources are process-local and never serialised.
type MediaSource struct {
	Type  MediaSourceType `json:"type"`
	URL   string          `json:"url,omitempty"`
	Bytes []byte          `json:"bytes,omitempty"`
}

// OutboundContentType tags an outbound content variant.
type OutboundContentType string

const (
	OutboundText     OutboundContentType = "text"
	OutboundMedia    OutboundContentType = "media"
	OutboundLocation OutboundContentType = "location"
	OutboundCompound OutboundContentType = "compound"
)

// OutboundContent is a tagged variant of agent-produced content.
type OutboundContent struct {
	Type     OutboundContentType   `json:"type"`
	Text     *OutboundTextContent  `json:"text,omitempty"`
	Media    *OutboundMediaContent `json:"media,omitempty"`
	Location *LocationContent      `json:"location,omitempty"`
	// Parts holds text and media parts for compound content, in order.
	Parts []OutboundContent `json:"parts,omitempty"`
}

// OutboundTextContent is outbound text with an optional formatting hint.
type OutboundTextContent struct {
	Text           string         `json:"text"`
	FormattingHint FormattingHint `json:"formattingHint,omitempty"`
}

// OutboundMediaContent is outbound media with its source.
type OutboundMediaContent struct {
	Kind     MediaKind   `json:"kind"`
	Source   MediaSource `json:"source"`
	Caption  string      `json:"caption,omitempty"`
	Filename string      `json:"filename,omitempty"`
}

// NewOutboundText builds a plain outbound text content value.
func NewOutboundText(text string, hint FormattingHint) OutboundContent {
	return OutboundContent{
		Type: OutboundText,
		Text: &OutboundTextContent{Text: text, FormattingHint: hint},
	}
}
