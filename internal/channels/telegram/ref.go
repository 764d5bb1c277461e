package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Ref is the decoded form of a telegram routing token. ThreadID and
// MessageID are zero when absent; Telegram never issues zero ids.
type Ref struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// EncodeRef renders a ref as "chatId:threadId:messageId". Absent segments
// stay empty but their separating colons are retained so the grammar is
// position-stable.
func EncodeRef(chatID int64, threadID, messageID int) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(chatID, 10))
	b.WriteByte(':')
	if threadID != 0 {
		b.WriteString(strconv.Itoa(threadID))
	}
	b.WriteByte(':')
	if messageID != 0 {
		b.WriteString(strconv.Itoa(messageID))
	}
	return b.String()
}

// RoutingRef renders the routing-grade form of a ref, which omits the
// message id. Replies carry the message id in destination metadata
// instead.
func (r Ref) RoutingRef() string {
	return EncodeRef(r.ChatID, r.ThreadID, 0)
}

// String renders the full ref including the message id.
func (r Ref) String() string {
	return EncodeRef(r.ChatID, r.ThreadID, r.MessageID)
}

// DecodeRef parses a ref produced by EncodeRef. Anything other than
// exactly two colons, or a non-integer chat id, is rejected.
func DecodeRef(s string) (Ref, error) {
	if strings.Count(s, ":") != 2 {
		return Ref{}, fmt.Errorf("invalid ref %q: expected chatId:threadId:messageId", s)
	}
	parts := strings.SplitN(s, ":", 3)

	chatID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Ref{}, errors.New("Invalid chat ID in ref")
	}

	ref := Ref{ChatID: chatID}
	if parts[1] != "" {
		ref.ThreadID, err = strconv.Atoi(parts[1])
		if err != nil {
			return Ref{}, errors.New("Invalid thread ID in ref")
		}
	}
	if parts[2] != "" {
		ref.MessageID, err = strconv.Atoi(parts[2])
		if err != nil {
			return Ref{}, errors.New("Invalid message ID in ref")
		}
	}
	return ref, nil
}
