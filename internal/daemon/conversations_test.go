package daemon

import (
	"errors"
	"testing"
	"time"

	"github.com/loopwork/beacon/internal/protocol"
)

func TestConversationsBindLookupUnbind(t *testing.T) {
	now := time.Date(2025, 1, 24, 12, 0, 0, 0, time.UTC)
	c := NewConversations(func() time.Time { return now })
	key := ConversationKey{ChannelID: "tg-main", Ref: "1001"}

	b := c.Bind(key, "sess-1")
	if b.SessionID != "sess-1" || b.BoundAt != now.UnixMilli() {
		t.Fatalf("unexpected binding %+v", b)
	}

	if id, ok := c.Lookup(key); !ok || id != "sess-1" {
		t.Errorf("Lookup = %q, %v", id, ok)
	}

	// Rebinding replaces the session.
	c.Bind(key, "sess-2")
	if id, _ := c.Lookup(key); id != "sess-2" {
		t.Errorf("rebinding must replace, got %q", id)
	}

	if err := c.Unbind(key); err != nil {
		t.Fatalf("Unbind: %v", err)
	}
	if _, ok := c.Lookup(key); ok {
		t.Error("binding must be gone after Unbind")
	}
}

func TestConversationsUnbindUnknownIsError(t *testing.T) {
	c := NewConversations(nil)
	err := c.Unbind(ConversationKey{ChannelID: "tg-main", Ref: "404"})
	if !errors.Is(err, protocol.Errorf(protocol.CodeInvalidParams, "")) {
		t.Fatalf("expected INVALID_PARAMS, got %v", err)
	}
}

func TestConversationsListOrdered(t *testing.T) {
	c := NewConversations(nil)
	c.Bind(ConversationKey{ChannelID: "b", Ref: "2"}, "s1")
	c.Bind(ConversationKey{ChannelID: "a", Ref: "9"}, "s2")
	c.Bind(ConversationKey{ChannelID: "b", Ref: "1"}, "s3")

	got := c.List()
	if len(got) != 3 {
		t.Fatalf("expected 3 bindings, got %d", len(got))
	}
	want := []ConversationKey{
		{ChannelID: "a", Ref: "9"},
		{ChannelID: "b", Ref: "1"},
		{ChannelID: "b", Ref: "2"},
	}
	for i, k := range want {
		if got[i].Key != k {
			t.Errorf("position %d: got %+v, want %+v", i, got[i].Key, k)
		}
	}
}

func TestConversationsDropSession(t *testing.T) {
	c := NewConversations(nil)
	c.Bind(ConversationKey{ChannelID: "a", Ref: "1"}, "gone")
	c.Bind(ConversationKey{ChannelID: "a", Ref: "2"}, "gone")
	c.Bind(ConversationKey{ChannelID: "a", Ref: "3"}, "kept")

	c.DropSession("gone")

	got := c.List()
	if len(got) != 1 || got[0].SessionID != "kept" {
		t.Fatalf("expected only the kept binding, got %+v", got)
	}
}
