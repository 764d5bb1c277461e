package telegram

import (
	"context"
	"io"
	"net/http"

	"github.com/go-telegram/bot"
	"github.com/loopwork/beacon/internal/protocol"
	"github.com/loopwork/beacon/pkg/models"
)

// FetchMedia resolves a media reference produced by this adapter: getFile
// to learn the file path, then a streamed download. The caller closes the
// returned reader.
func (c *Channel) FetchMedia(ctx context.Context, ref models.MediaReference) (io.ReadCloser, error) {
	if ref.Platform != platformName {
		return nil, protocol.Errorf(protocol.CodeInvalidParams,
			"telegram: media reference belongs to platform %q", ref.Platform)
	}

	file, err := c.api.GetFile(ctx, &bot.GetFileParams{FileID: ref.ID})
	if err != nil {
		return nil, protocol.NewError(protocol.CodeAdapterAPI, "telegram: getFile", err)
	}
	if file.FilePath == "" {
		return nil, protocol.Errorf(protocol.CodeAdapterAPI, "telegram: getFile returned no file path for %s", ref.ID)
	}

	url := c.api.FileDownloadLink(file)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, protocol.NewError(protocol.CodeAdapterAPI, "telegram: build download request", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, protocol.NewError(protocol.CodeAdapterAPI, "telegram: download media", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, protocol.Errorf(protocol.CodeAdapterAPI, "telegram: media download returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
