package telegram

import (
	"testing"

	tgmodels "github.com/go-telegram/bot/models"
	"github.com/loopwork/beacon/pkg/models"
)

func TestRefRoundTrip(t *testing.T) {
	encoded := EncodeRef(-100987654321, 42, 17)
	if encoded != "-100987654321:42:17" {
		t.Fatalf("encoded = %q", encoded)
	}

	ref, err := DecodeRef(encoded)
	if err != nil {
		t.Fatalf("DecodeRef: %v", err)
	}
	if ref.ChatID != -100987654321 || ref.ThreadID != 42 || ref.MessageID != 17 {
		t.Fatalf("ref = %+v", ref)
	}
}

func TestDecodeRefRejections(t *testing.T) {
	if _, err := DecodeRef("abc::"); err == nil || err.Error() != "Invalid chat ID in ref" {
		t.Fatalf("chat id error = %v", err)
	}
	for _, bad := range []string{"", "123", "1:2", "1:2:3:4", "1:x:", "1::y"} {
		if _, err := DecodeRef(bad); err == nil {
			t.Fatalf("DecodeRef(%q) should fail", bad)
		}
	}
}

func TestEncodeRefEmptySegments(t *testing.T) {
	if got := EncodeRef(5, 0, 0); got != "5::" {
		t.Fatalf("EncodeRef(5,0,0) = %q", got)
	}
	ref, err := DecodeRef("5::")
	if err != nil {
		t.Fatalf("DecodeRef: %v", err)
	}
	if ref.ChatID != 5 || ref.ThreadID != 0 || ref.MessageID != 0 {
		t.Fatalf("ref = %+v", ref)
	}
}

func TestCommandParse(t *testing.T) {
	m := &mapper{channelID: "tg"}
	ev := m.mapUpdate(&tgmodels.Update{Message: &tgmodels.Message{
		ID:   9,
		Text: "/settings@mybot dark mode",
		Chat: tgmodels.Chat{ID: 1, Type: tgmodels.ChatTypePrivate},
		From: &tgmodels.User{ID: 7},
	}})
	if ev == nil || ev.Type != models.EventCommandReceived {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Command.Command != "settings" || ev.Command.Args != "dark mode" {
		t.Fatalf("command = %+v", ev.Command)
	}
}

func TestChatTypeMapping(t *testing.T) {
	m := &mapper{channelID: "tg"}
	ev := m.mapUpdate(&tgmodels.Update{Message: &tgmodels.Message{
		ID:              3,
		Text:            "hi",
		MessageThreadID: 8,
		Chat:            tgmodels.Chat{ID: -100, Type: tgmodels.ChatTypeSupergroup, IsForum: true, Title: "Test Forum"},
		From:            &tgmodels.User{ID: 7},
	}})
	if ev.Origin.Metadata.ConversationType != models.ConversationTopic {
		t.Fatalf("conversationType = %s", ev.Origin.Metadata.ConversationType)
	}
	if ev.Origin.Metadata.Title != "Test Forum" {
		t.Fatalf("title = %q", ev.Origin.Metadata.Title)
	}
	if ev.Origin.Ref != "-100:8:" {
		t.Fatalf("routing ref = %q", ev.Origin.Ref)
	}
	if got := ev.Origin.Metadata.PlatformData["replyToMessageId"]; got != 3 {
		t.Fatalf("replyToMessageId = %v", got)
	}
}

func TestPhotoMapping(t *testing.T) {
	m := &mapper{channelID: "tg"}
	ev := m.mapUpdate(&tgmodels.Update{Message: &tgmodels.Message{
		ID:      4,
		Caption: "Photo caption",
		Photo: []tgmodels.PhotoSize{
			{FileID: "small", FileSize: 1000},
			{FileID: "large", FileSize: 50000},
		},
		Chat: tgmodels.Chat{ID: 1, Type: tgmodels.ChatTypePrivate},
		From: &tgmodels.User{ID: 7},
	}})
	if ev.Content == nil || ev.Content.Type != models.InboundMedia {
		t.Fatalf("content = %+v", ev.Content)
	}
	media := ev.Content.Media
	if media.Kind != models.MediaPhoto || media.Size != 50000 || media.Caption != "Photo caption" {
		t.Fatalf("media = %+v", media)
	}
	if media.Reference.Platform != "telegram" || media.Reference.ID != "large" {
		t.Fatalf("reference = %+v", media.Reference)
	}
}

func TestAuthorFallback(t *testing.T) {
	m := &mapper{channelID: "tg"}
	ev := m.mapUpdate(&tgmodels.Update{Message: &tgmodels.Message{
		ID:   2,
		Text: "anon",
		Chat: tgmodels.Chat{ID: -5, Type: tgmodels.ChatTypeChannel},
	}})
	if ev.Author == nil || ev.Author.ID != "unknown" || ev.Author.IsBot {
		t.Fatalf("author = %+v", ev.Author)
	}
	if ev.Origin.Metadata.ConversationType != models.ConversationChannel {
		t.Fatalf("conversationType = %s", ev.Origin.Metadata.ConversationType)
	}
}

func TestCallbackWithoutMessageDropped(t *testing.T) {
	m := &mapper{channelID: "tg"}
	if ev := m.mapUpdate(&tgmodels.Update{CallbackQuery: &tgmodels.CallbackQuery{
		ID:   "cb-1",
		From: tgmodels.User{ID: 7},
		Data: "pressed",
	}}); ev != nil {
		t.Fatalf("callback without message should be dropped, got %+v", ev)
	}

	ev := m.mapUpdate(&tgmodels.Update{CallbackQuery: &tgmodels.CallbackQuery{
		ID:   "cb-2",
		From: tgmodels.User{ID: 7},
		Data: "pressed",
		Message: tgmodels.MaybeInaccessibleMessage{Message: &tgmodels.Message{
			ID:   11,
			Chat: tgmodels.Chat{ID: 1, Type: tgmodels.ChatTypePrivate},
		}},
	}})
	if ev == nil || ev.Type != models.EventCallbackReceived {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Callback.CallbackID != "cb-2" || ev.Callback.Data != "pressed" {
		t.Fatalf("callback = %+v", ev.Callback)
	}
}

func TestMembershipTransition(t *testing.T) {
	m := &mapper{channelID: "tg"}

	joined := m.mapUpdate(&tgmodels.Update{MyChatMember: &tgmodels.ChatMemberUpdated{
		Chat:          tgmodels.Chat{ID: -9, Type: tgmodels.ChatTypeGroup},
		From:          tgmodels.User{ID: 7},
		OldChatMember: tgmodels.ChatMember{Type: tgmodels.ChatMemberTypeLeft},
		NewChatMember: tgmodels.ChatMember{Type: tgmodels.ChatMemberTypeMember},
	}})
	if joined == nil || joined.Type != models.EventConversationStarted {
		t.Fatalf("event = %+v", joined)
	}

	// Promotion stays a member on both sides and is ignored.
	promoted := m.mapUpdate(&tgmodels.Update{MyChatMember: &tgmodels.ChatMemberUpdated{
		Chat:          tgmodels.Chat{ID: -9, Type: tgmodels.ChatTypeGroup},
		OldChatMember: tgmodels.ChatMember{Type: tgmodels.ChatMemberTypeMember},
		NewChatMember: tgmodels.ChatMember{Type: tgmodels.ChatMemberTypeAdministrator},
	}})
	if promoted != nil {
		t.Fatalf("promotion should be ignored, got %+v", promoted)
	}
}

func TestEditedMessage(t *testing.T) {
	m := &mapper{channelID: "tg"}
	ev := m.mapUpdate(&tgmodels.Update{EditedMessage: &tgmodels.Message{
		ID:   6,
		Text: "fixed typo",
		Chat: tgmodels.Chat{ID: 1, Type: tgmodels.ChatTypePrivate},
		From: &tgmodels.User{ID: 7, Username: "ada", FirstName: "Ada"},
	}})
	if ev.Type != models.EventMessageEdited {
		t.Fatalf("type = %s", ev.Type)
	}
	if ev.Content == nil || ev.Content.Text.Text != "fixed typo" {
		t.Fatalf("content = %+v", ev.Content)
	}
	if ev.Author.Username != "ada" || ev.Author.DisplayName != "Ada" {
		t.Fatalf("author = %+v", ev.Author)
	}
}
