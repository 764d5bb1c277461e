package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/loopwork/beacon/internal/protocol"
)

const defaultAPIHost = "https://api.telegram.org"

// getUpdatesTimeoutPad is added to the long-poll hold time to form the
// HTTP deadline, so a healthy held-open request is never cut short.
const getUpdatesTimeoutPad = 10 * time.Second

// getUpdatesParams is the getUpdates request body. The bot library only
// long-polls through its own internal loop, so the adapter issues this
// call itself and owns the offset bookkeeping.
type getUpdatesParams struct {
	Offset         int64    `json:"offset,omitempty"`
	Limit          int      `json:"limit,omitempty"`
	Timeout        int      `json:"timeout,omitempty"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

// botAPI is the slice of the bot client the adapter uses. Tests substitute
// a fake; production wires apiClient.
type botAPI interface {
	GetUpdates(ctx context.Context, params getUpdatesParams) ([]*tgmodels.Update, error)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*tgmodels.Message, error)
	SendVideo(ctx context.Context, params *bot.SendVideoParams) (*tgmodels.Message, error)
	SendAudio(ctx context.Context, params *bot.SendAudioParams) (*tgmodels.Message, error)
	SendVoice(ctx context.Context, params *bot.SendVoiceParams) (*tgmodels.Message, error)
	SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*tgmodels.Message, error)
	SendAnimation(ctx context.Context, params *bot.SendAnimationParams) (*tgmodels.Message, error)
	SendLocation(ctx context.Context, params *bot.SendLocationParams) (*tgmodels.Message, error)
	GetFile(ctx context.Context, params *bot.GetFileParams) (*tgmodels.File, error)
	FileDownloadLink(f *tgmodels.File) string
}

// apiClient pairs the bot library's outbound method surface with a
// direct long-poll GetUpdates.
type apiClient struct {
	*bot.Bot

	token   string
	baseURL string
	http    *http.Client
}

// newBotClient builds the real client. BaseURL overrides the API host for
// self-hosted bot API servers and tests.
func newBotClient(token, baseURL string) (*apiClient, error) {
	opts := []bot.Option{bot.WithSkipGetMe()}
	if baseURL != "" {
		opts = append(opts, bot.WithServerURL(baseURL))
	}
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, err
	}
	if baseURL == "" {
		baseURL = defaultAPIHost
	}
	return &apiClient{
		Bot:     b,
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}, nil
}

// GetUpdates long-polls the API once. The request is held open for the
// requested timeout; the HTTP deadline is padded past it so only a stuck
// connection trips it.
func (c *apiClient) GetUpdates(ctx context.Context, params getUpdatesParams) ([]*tgmodels.Update, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(params.Timeout)*time.Second+getUpdatesTimeoutPad)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/bot"+c.token+"/getUpdates", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		OK          bool               `json:"ok"`
		Description string             `json:"description"`
		Result      []*tgmodels.Update `json:"result"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, protocol.NewError(protocol.CodeAdapterAPI, "telegram: decode getUpdates response", err)
	}
	if !parsed.OK {
		return nil, protocol.Errorf(protocol.CodeAdapterAPI, "telegram: getUpdates rejected: %s", parsed.Description)
	}
	return parsed.Result, nil
}
