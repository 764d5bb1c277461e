package telegram

import (
	"context"
	"strings"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/loopwork/beacon/internal/protocol"
	"github.com/loopwork/beacon/pkg/models"
)

// Process translates a canonical outbound intent into bot API calls.
// Informational intents collapse into a debounced typing action; the
// responding and error intents send real messages.
func (c *Channel) Process(ctx context.Context, intent models.OutboundIntent) (models.IntentConfirmation, error) {
	conf := models.IntentConfirmation{IntentType: intent.Type, Timestamp: c.now().UnixMilli()}

	ref, err := DecodeRef(intent.Destination.Ref)
	if err != nil {
		perr := protocol.NewError(protocol.CodeInvalidParams, "telegram: bad destination ref", err)
		conf.Error = perr.Message
		return conf, perr
	}

	lock := c.chatLock(ref.ChatID)
	lock.Lock()
	defer lock.Unlock()

	switch intent.Type {
	case models.IntentThinking, models.IntentStreaming, models.IntentToolCall, models.IntentToolProgress:
		err = c.sendTyping(ctx, ref)
	case models.IntentResponding:
		err = c.sendResponse(ctx, ref, intent)
		c.typing.reset(intent.Destination.Ref)
	case models.IntentError:
		err = c.sendError(ctx, ref, intent)
		c.typing.reset(intent.Destination.Ref)
	default:
		err = protocol.Errorf(protocol.CodeInvalidParams, "telegram: unsupported intent type %q", intent.Type)
	}

	if err != nil {
		c.metrics.RecordIntentFailed()
		conf.Error = protocol.AsError(err).Message
		return conf, err
	}
	c.metrics.RecordIntentHandled()
	conf.Success = true
	return conf, nil
}

// sendTyping issues a typing chat-action, debounced per destination. The
// platform expires the indicator after roughly five seconds, so streaming
// and tool-call intents refresh it on the same cadence.
func (c *Channel) sendTyping(ctx context.Context, ref Ref) error {
	if !c.typing.shouldSend(ref.RoutingRef()) {
		return nil
	}
	_, err := c.api.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID:          ref.ChatID,
		MessageThreadID: ref.ThreadID,
		Action:          tgmodels.ChatActionTyping,
	})
	if err != nil {
		return protocol.NewError(protocol.CodeAdapterAPI, "telegram: sendChatAction", err)
	}
	return nil
}

func (c *Channel) sendResponse(ctx context.Context, ref Ref, intent models.OutboundIntent) error {
	if intent.Content == nil {
		return protocol.Errorf(protocol.CodeInvalidParams, "telegram: responding intent without content")
	}
	content := *intent.Content

	switch content.Type {
	case models.OutboundMedia:
		return c.sendMedia(ctx, ref, content.Media)
	case models.OutboundLocation:
		if content.Location == nil {
			return protocol.Errorf(protocol.CodeInvalidParams, "telegram: location content missing payload")
		}
		_, err := c.api.SendLocation(ctx, &bot.SendLocationParams{
			ChatID:          ref.ChatID,
			MessageThreadID: ref.ThreadID,
			Latitude:        content.Location.Lat,
			Longitude:       content.Location.Lng,
		})
		if err != nil {
			return protocol.NewError(protocol.CodeAdapterAPI, "telegram: sendLocation", err)
		}
		return nil
	case models.OutboundText, models.OutboundCompound:
		return c.sendTextual(ctx, ref, intent, content)
	}
	return protocol.Errorf(protocol.CodeInvalidParams, "telegram: unsupported content type %q", content.Type)
}

// sendTextual sends text and compound content. Media parts of a compound
// go out first as individual messages; text parts are concatenated with
// blank-line separators into one message.
func (c *Channel) sendTextual(ctx context.Context, ref Ref, intent models.OutboundIntent, content models.OutboundContent) error {
	var texts []string
	hint := models.FormatPlain

	collect := func(t *models.OutboundTextContent) {
		if t == nil || t.Text == "" {
			return
		}
		texts = append(texts, t.Text)
		if hint == models.FormatPlain && t.FormattingHint != "" {
			hint = t.FormattingHint
		}
	}

	switch content.Type {
	case models.OutboundText:
		collect(content.Text)
	case models.OutboundCompound:
		for _, part := range content.Parts {
			switch part.Type {
			case models.OutboundText:
				collect(part.Text)
			case models.OutboundMedia:
				if err := c.sendMedia(ctx, ref, part.Media); err != nil {
					return err
				}
			}
		}
	}

	if len(texts) == 0 {
		return nil
	}
	text := strings.Join(texts, "\n\n")

	params := &bot.SendMessageParams{
		ChatID:          ref.ChatID,
		MessageThreadID: ref.ThreadID,
		Text:            text,
	}
	switch hint {
	case models.FormatMarkdown:
		params.ParseMode = tgmodels.ParseModeMarkdown
	case models.FormatHTML:
		params.ParseMode = tgmodels.ParseModeHTML
		params.Text = SanitizeHTML(text)
	}
	if replyTo := replyToMessageID(intent.Destination); replyTo != 0 {
		params.ReplyParameters = &tgmodels.ReplyParameters{MessageID: replyTo}
	}

	_, err := c.api.SendMessage(ctx, params)
	if err != nil && hint == models.FormatMarkdown {
		// MarkdownV2 is strict about escaping. Rather than drop the
		// reply, degrade to the HTML subset the converter produces.
		params.ParseMode = tgmodels.ParseModeHTML
		params.Text = MarkdownToHTML(text)
		_, err = c.api.SendMessage(ctx, params)
	}
	if err != nil {
		return protocol.NewError(protocol.CodeAdapterAPI, "telegram: sendMessage", err)
	}
	return nil
}

func (c *Channel) sendMedia(ctx context.Context, ref Ref, media *models.OutboundMediaContent) error {
	if media == nil {
		return protocol.Errorf(protocol.CodeInvalidParams, "telegram: media content missing payload")
	}
	if media.Source.Type != models.MediaSourceURL {
		return protocol.Errorf(protocol.CodeAdapterAPI,
			"telegram: media source %q not supported, only url sources can be sent", media.Source.Type)
	}

	file := &tgmodels.InputFileString{Data: media.Source.URL}
	var err error
	switch media.Kind {
	case models.MediaPhoto:
		_, err = c.api.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID: ref.ChatID, MessageThreadID: ref.ThreadID, Photo: file, Caption: media.Caption,
		})
	case models.MediaVideo:
		_, err = c.api.SendVideo(ctx, &bot.SendVideoParams{
			ChatID: ref.ChatID, MessageThreadID: ref.ThreadID, Video: file, Caption: media.Caption,
		})
	case models.MediaAudio:
		_, err = c.api.SendAudio(ctx, &bot.SendAudioParams{
			ChatID: ref.ChatID, MessageThreadID: ref.ThreadID, Audio: file, Caption: media.Caption,
		})
	case models.MediaVoice:
		_, err = c.api.SendVoice(ctx, &bot.SendVoiceParams{
			ChatID: ref.ChatID, MessageThreadID: ref.ThreadID, Voice: file, Caption: media.Caption,
		})
	case models.MediaDocument:
		_, err = c.api.SendDocument(ctx, &bot.SendDocumentParams{
			ChatID: ref.ChatID, MessageThreadID: ref.ThreadID, Document: file, Caption: media.Caption,
		})
	case models.MediaAnimation:
		_, err = c.api.SendAnimation(ctx, &bot.SendAnimationParams{
			ChatID: ref.ChatID, MessageThreadID: ref.ThreadID, Animation: file, Caption: media.Caption,
		})
	default:
		return protocol.Errorf(protocol.CodeInvalidParams, "telegram: unsupported media kind %q", media.Kind)
	}
	if err != nil {
		return protocol.NewError(protocol.CodeAdapterAPI, "telegram: send media", err)
	}
	return nil
}

func (c *Channel) sendError(ctx context.Context, ref Ref, intent models.OutboundIntent) error {
	text := "⚠️ " + intent.Error
	params := &bot.SendMessageParams{
		ChatID:          ref.ChatID,
		MessageThreadID: ref.ThreadID,
		Text:            text,
	}
	if replyTo := replyToMessageID(intent.Destination); replyTo != 0 {
		params.ReplyParameters = &tgmodels.ReplyParameters{MessageID: replyTo}
	}
	if _, err := c.api.SendMessage(ctx, params); err != nil {
		return protocol.NewError(protocol.CodeAdapterAPI, "telegram: sendMessage", err)
	}
	return nil
}

// replyToMessageID pulls the reply target out of destination metadata.
// JSON round-trips turn ints into float64, so both shapes are accepted.
func replyToMessageID(dest models.Destination) int {
	v, ok := dest.Metadata.PlatformData["replyToMessageId"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
