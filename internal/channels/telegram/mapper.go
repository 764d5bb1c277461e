package telegram

import (
	"strconv"
	"strings"

	tgmodels "github.com/go-telegram/bot/models"
	"github.com/loopwork/beacon/internal/channels"
	"github.com/loopwork/beacon/pkg/models"
)

const platformName = "telegram"

// mapper converts raw bot API updates into canonical inbound events.
type mapper struct {
	channelID models.ChannelID
}

// updateInfo extracts the filterable projection of an update before any
// canonical conversion happens.
func updateInfo(u *tgmodels.Update) channels.UpdateInfo {
	var from *tgmodels.User
	switch {
	case u.Message != nil:
		from = u.Message.From
	case u.EditedMessage != nil:
		from = u.EditedMessage.From
	case u.CallbackQuery != nil:
		from = &u.CallbackQuery.From
	case u.MyChatMember != nil:
		from = &u.MyChatMember.From
	case u.PollAnswer != nil:
		from = u.PollAnswer.User
	}
	if from == nil {
		return channels.UpdateInfo{}
	}
	return channels.UpdateInfo{AuthorID: strconv.FormatInt(from.ID, 10), HasAuthor: true}
}

// mapUpdate converts one update. A nil result means the update carries
// nothing the canonical model represents and is dropped.
func (m *mapper) mapUpdate(u *tgmodels.Update) *models.InboundEvent {
	switch {
	case u.Message != nil:
		return m.mapMessage(u.Message, false)
	case u.EditedMessage != nil:
		return m.mapMessage(u.EditedMessage, true)
	case u.CallbackQuery != nil:
		return m.mapCallback(u.CallbackQuery)
	case u.MyChatMember != nil:
		return m.mapMembership(u.MyChatMember)
	case u.PollAnswer != nil:
		return m.mapPollAnswer(u.PollAnswer)
	}
	return nil
}

func (m *mapper) mapMessage(msg *tgmodels.Message, edited bool) *models.InboundEvent {
	ev := &models.InboundEvent{
		Type:      models.EventMessageReceived,
		Origin:    m.destination(msg.Chat, msg.MessageThreadID, msg.ID),
		Author:    mapAuthor(msg.From),
		Timestamp: int64(msg.Date) * 1000,
		MessageID: strconv.Itoa(msg.ID),
	}

	switch {
	case edited:
		ev.Type = models.EventMessageEdited
	case len(msg.NewChatMembers) > 0:
		ev.Type = models.EventMemberJoined
		ev.Author = mapAuthor(&msg.NewChatMembers[0])
		return ev
	case strings.HasPrefix(msg.Text, "/"):
		ev.Type = models.EventCommandReceived
		cmd, args := parseCommand(msg.Text)
		ev.Command = &models.CommandPayload{Command: cmd, Args: args}
		return ev
	}

	if content := mapContent(msg); content != nil {
		ev.Content = content
	}
	return ev
}

// parseCommand splits "/settings@mybot dark mode" into ("settings",
// "dark mode"): strip the slash, cut at the first space, drop the @bot
// suffix, trim the remainder.
func parseCommand(text string) (command, args string) {
	head, tail, _ := strings.Cut(text, " ")
	command = strings.TrimPrefix(head, "/")
	if at := strings.Index(command, "@"); at >= 0 {
		command = command[:at]
	}
	return command, strings.TrimSpace(tail)
}

func (m *mapper) mapCallback(cb *tgmodels.CallbackQuery) *models.InboundEvent {
	// A callback without its originating message has no routable
	// destination, so it is dropped.
	msg := cb.Message.Message
	if msg == nil {
		return nil
	}
	return &models.InboundEvent{
		Type:      models.EventCallbackReceived,
		Origin:    m.destination(msg.Chat, msg.MessageThreadID, msg.ID),
		Author:    mapAuthor(&cb.From),
		Timestamp: int64(msg.Date) * 1000,
		MessageID: strconv.Itoa(msg.ID),
		Callback:  &models.CallbackPayload{CallbackID: cb.ID, Data: cb.Data},
	}
}

func (m *mapper) mapMembership(mu *tgmodels.ChatMemberUpdated) *models.InboundEvent {
	if !isNonMember(mu.OldChatMember.Type) || !isMember(mu.NewChatMember.Type) {
		return nil
	}
	return &models.InboundEvent{
		Type:      models.EventConversationStarted,
		Origin:    m.destination(mu.Chat, 0, 0),
		Author:    mapAuthor(&mu.From),
		Timestamp: int64(mu.Date) * 1000,
	}
}

func (m *mapper) mapPollAnswer(pa *tgmodels.PollAnswer) *models.InboundEvent {
	if pa.User == nil {
		return nil
	}
	// Poll answers carry no chat; route them to the voter's private chat.
	chat := tgmodels.Chat{ID: pa.User.ID, Type: tgmodels.ChatTypePrivate}
	return &models.InboundEvent{
		Type:   models.EventMessageReceived,
		Origin: m.destination(chat, 0, 0),
		Author: mapAuthor(pa.User),
		Content: &models.InboundContent{
			Type:     models.InboundPollVote,
			PollVote: &models.PollVoteContent{PollID: pa.PollID, Selected: pa.OptionIDs},
		},
	}
}

func isNonMember(t tgmodels.ChatMemberType) bool {
	return t == tgmodels.ChatMemberTypeLeft || t == tgmodels.ChatMemberTypeBanned
}

func isMember(t tgmodels.ChatMemberType) bool {
	switch t {
	case tgmodels.ChatMemberTypeOwner, tgmodels.ChatMemberTypeAdministrator, tgmodels.ChatMemberTypeMember:
		return true
	}
	return false
}

// destination builds the canonical destination for a chat. The routing ref
// omits the message id; replies find it in platformData instead.
func (m *mapper) destination(chat tgmodels.Chat, threadID, messageID int) models.Destination {
	ref := Ref{ChatID: chat.ID, ThreadID: threadID}

	meta := models.DestinationMetadata{
		ConversationType: conversationType(chat, threadID),
		Title:            chat.Title,
	}
	platformData := map[string]any{"chatType": string(chat.Type)}
	if messageID != 0 {
		platformData["replyToMessageId"] = messageID
	}
	if threadID != 0 {
		platformData["messageThreadId"] = threadID
	}
	meta.PlatformData = platformData

	return models.Destination{ChannelID: m.channelID, Ref: ref.RoutingRef(), Metadata: meta}
}

func conversationType(chat tgmodels.Chat, threadID int) models.ConversationType {
	switch chat.Type {
	case tgmodels.ChatTypePrivate:
		return models.ConversationDirect
	case tgmodels.ChatTypeGroup:
		return models.ConversationGroup
	case tgmodels.ChatTypeSupergroup:
		if chat.IsForum {
			return models.ConversationTopic
		}
		if threadID != 0 {
			return models.ConversationThread
		}
		return models.ConversationGroup
	case tgmodels.ChatTypeChannel:
		return models.ConversationChannel
	}
	return models.ConversationGroup
}

func mapAuthor(u *tgmodels.User) *models.Author {
	if u == nil {
		return &models.Author{ID: "unknown", IsBot: false}
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	return &models.Author{
		ID:          strconv.FormatInt(u.ID, 10),
		Username:    u.Username,
		DisplayName: name,
		IsBot:       u.IsBot,
	}
}

// mapContent converts the message body. The highest-resolution photo size
// wins; every media kind carries the platform file id as its reference.
func mapContent(msg *tgmodels.Message) *models.InboundContent {
	ref := func(id string) models.MediaReference {
		return models.MediaReference{Platform: platformName, ID: id}
	}

	switch {
	case len(msg.Photo) > 0:
		best := msg.Photo[0]
		for _, p := range msg.Photo[1:] {
			if int64(p.FileSize) > int64(best.FileSize) {
				best = p
			}
		}
		return &models.InboundContent{
			Type: models.InboundMedia,
			Media: &models.MediaContent{
				Kind:      models.MediaPhoto,
				Size:      int64(best.FileSize),
				Caption:   msg.Caption,
				Reference: ref(best.FileID),
			},
		}
	case msg.Video != nil:
		return &models.InboundContent{
			Type: models.InboundMedia,
			Media: &models.MediaContent{
				Kind:      models.MediaVideo,
				MimeType:  msg.Video.MimeType,
				Filename:  msg.Video.FileName,
				Size:      int64(msg.Video.FileSize),
				Caption:   msg.Caption,
				Reference: ref(msg.Video.FileID),
			},
		}
	case msg.Audio != nil:
		return &models.InboundContent{
			Type: models.InboundMedia,
			Media: &models.MediaContent{
				Kind:      models.MediaAudio,
				MimeType:  msg.Audio.MimeType,
				Filename:  msg.Audio.FileName,
				Size:      int64(msg.Audio.FileSize),
				Caption:   msg.Caption,
				Reference: ref(msg.Audio.FileID),
			},
		}
	case msg.Voice != nil:
		return &models.InboundContent{
			Type: models.InboundMedia,
			Media: &models.MediaContent{
				Kind:      models.MediaVoice,
				MimeType:  msg.Voice.MimeType,
				Size:      int64(msg.Voice.FileSize),
				Caption:   msg.Caption,
				Reference: ref(msg.Voice.FileID),
			},
		}
	case msg.Document != nil:
		return &models.InboundContent{
			Type: models.InboundMedia,
			Media: &models.MediaContent{
				Kind:      models.MediaDocument,
				MimeType:  msg.Document.MimeType,
				Filename:  msg.Document.FileName,
				Size:      int64(msg.Document.FileSize),
				Caption:   msg.Caption,
				Reference: ref(msg.Document.FileID),
			},
		}
	case msg.Animation != nil:
		return &models.InboundContent{
			Type: models.InboundMedia,
			Media: &models.MediaContent{
				Kind:      models.MediaAnimation,
				MimeType:  msg.Animation.MimeType,
				Filename:  msg.Animation.FileName,
				Size:      int64(msg.Animation.FileSize),
				Caption:   msg.Caption,
				Reference: ref(msg.Animation.FileID),
			},
		}
	case msg.Location != nil:
		return &models.InboundContent{
			Type:     models.InboundLocation,
			Location: &models.LocationContent{Lat: msg.Location.Latitude, Lng: msg.Location.Longitude},
		}
	case msg.Contact != nil:
		return &models.InboundContent{
			Type: models.InboundContact,
			Contact: &models.ContactContent{
				Phone: msg.Contact.PhoneNumber,
				First: msg.Contact.FirstName,
				Last:  msg.Contact.LastName,
			},
		}
	case msg.Sticker != nil:
		return &models.InboundContent{
			Type: models.InboundSticker,
			Sticker: &models.StickerContent{
				Emoji:     msg.Sticker.Emoji,
				Reference: ref(msg.Sticker.FileID),
			},
		}
	case msg.Text != "":
		c := models.NewTextContent(msg.Text)
		return &c
	}
	return nil
}
