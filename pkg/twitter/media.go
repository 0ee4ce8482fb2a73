package twitter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"socialqueue/pkg/constants"
	"socialqueue/pkg/oauth1"
	"socialqueue/pkg/twitter/types"

	"github.com/sirupsen/logrus"
)

// UploadError reports the first attachment that could not be uploaded.
// A failed batch never returns a partial list of media ids.
type UploadError struct {
	URL     string
	Command string
	Message string
	// ChannelMessage is the error text the API itself reported (an INIT
	// rejection or a failed processing state). Empty for transport errors.
	ChannelMessage string
	Err            error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("media upload failed at %s for %s: %s", e.Command, e.URL, e.Message)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// RewriteAttachmentURL turns Dropbox share links into direct downloads.
func RewriteAttachmentURL(rawURL string) string {
	return strings.Replace(rawURL, constants.DropboxShareHost, constants.DropboxDirectHost, 1)
}

// MediaCategory classifies a MIME type the way the upload endpoint expects.
func MediaCategory(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "video"):
		return constants.CategoryVideo
	case strings.HasSuffix(mimeType, "gif"):
		return constants.CategoryGIF
	default:
		return constants.CategoryImage
	}
}

// ChunkCount is the number of APPEND calls needed for an encoded payload.
func ChunkCount(encodedLen, chunkSize int) int {
	if encodedLen == 0 {
		return 0
	}
	return (encodedLen + chunkSize - 1) / chunkSize
}

// UploadAll uploads each URL in order and returns the media ids in the same
// order. Each attachment finishes INIT, APPEND, FINALIZE and any STATUS
// polling before the next one starts.
func (c *Client) UploadAll(ctx context.Context, urls []string, token oauth1.Token) ([]string, error) {
	ids := make([]string, 0, len(urls))
	for _, rawURL := range urls {
		id, err := c.upload(ctx, rawURL, token)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Client) upload(ctx context.Context, rawURL string, token oauth1.Token) (string, error) {
	source := RewriteAttachmentURL(rawURL)
	logger := c.logger.WithField("attachment_url", source)

	data, mimeType, err := c.download(ctx, source)
	if err != nil {
		return "", &UploadError{URL: source, Command: constants.CommandDownload, Message: err.Error(), Err: err}
	}
	category := MediaCategory(mimeType)

	initResp, err := c.mediaCommand(ctx, token, map[string]string{
		"command":        constants.CommandInit,
		"total_bytes":    strconv.Itoa(len(data)),
		"media_type":     mimeType,
		"media_category": category,
	})
	if err != nil {
		return "", uploadFailure(source, constants.CommandInit, err, true)
	}
	if initResp.MediaIDString == "" {
		return "", &UploadError{URL: source, Command: constants.CommandInit, Message: "response has no media_id_string"}
	}
	mediaID := initResp.MediaIDString
	logger = logger.WithFields(logrus.Fields{"media_id": mediaID, "media_category": category})

	encoded := base64.StdEncoding.EncodeToString(data)
	chunks := ChunkCount(len(encoded), c.cfg.ChunkSize)
	for i := 0; i < chunks; i++ {
		end := (i + 1) * c.cfg.ChunkSize
		if end > len(encoded) {
			end = len(encoded)
		}
		_, err := c.mediaCommand(ctx, token, map[string]string{
			"command":       constants.CommandAppend,
			"media_id":      mediaID,
			"media_data":    encoded[i*c.cfg.ChunkSize : end],
			"segment_index": strconv.Itoa(i),
		})
		if err != nil {
			return "", uploadFailure(source, fmt.Sprintf("%s %d", constants.CommandAppend, i), err, false)
		}
	}

	if _, err := c.mediaCommand(ctx, token, map[string]string{
		"command":  constants.CommandFinalize,
		"media_id": mediaID,
	}); err != nil {
		return "", uploadFailure(source, constants.CommandFinalize, err, false)
	}

	if category != constants.CategoryImage {
		if err := c.awaitProcessing(ctx, source, mediaID, token); err != nil {
			return "", err
		}
	}

	logger.WithField("chunks", chunks).Debug("Attachment uploaded")
	return mediaID, nil
}

func uploadFailure(source, command string, err error, surfaceChannel bool) *UploadError {
	ue := &UploadError{URL: source, Command: command, Message: err.Error(), Err: err}
	var apiErr *APIError
	if surfaceChannel && errors.As(err, &apiErr) {
		ue.ChannelMessage = apiErr.ChannelMessage()
	}
	return ue
}

func (c *Client) download(ctx context.Context, source string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("attachment download returned status %d", resp.StatusCode)
	}

	limit := c.cfg.MaxMediaBytes
	if resp.ContentLength > limit {
		return nil, "", fmt.Errorf("attachment is %d bytes, the limit is %d", resp.ContentLength, limit)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read attachment: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("attachment exceeds the %d byte limit", limit)
	}

	mimeType := resp.Header.Get("Content-Type")
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = parsed
	}
	if mimeType == "" {
		mimeType, _, _ = mime.ParseMediaType(http.DetectContentType(data))
	}
	return data, mimeType, nil
}

// mediaCommand posts one multipart command to the upload endpoint. Multipart
// bodies are not part of the OAuth signature.
func (c *Client) mediaCommand(ctx context.Context, token oauth1.Token, fields map[string]string) (*types.MediaResponse, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, key := range []string{"command", "total_bytes", "media_type", "media_category", "media_id", "segment_index", "media_data"} {
		value, ok := fields[key]
		if !ok {
			continue
		}
		if err := w.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("failed to write %s field: %w", key, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	body, err := c.do(ctx, request{
		name:        "media/upload " + fields["command"],
		method:      http.MethodPost,
		url:         c.cfg.UploadBaseURL + constants.MediaUploadPath,
		body:        buf.Bytes(),
		contentType: w.FormDataContentType(),
		token:       &token,
	})
	if err != nil {
		return nil, err
	}
	return decodeMediaResponse(body)
}

func (c *Client) mediaStatus(ctx context.Context, mediaID string, token oauth1.Token) (*types.MediaResponse, error) {
	query := url.Values{"command": {constants.CommandStatus}, "media_id": {mediaID}}
	body, err := c.do(ctx, request{
		name:   "media/upload STATUS",
		method: http.MethodGet,
		url:    c.cfg.UploadBaseURL + constants.MediaUploadPath + "?" + query.Encode(),
		token:  &token,
	})
	if err != nil {
		return nil, err
	}
	return decodeMediaResponse(body)
}

func decodeMediaResponse(body []byte) (*types.MediaResponse, error) {
	var resp types.MediaResponse
	if len(bytes.TrimSpace(body)) == 0 {
		return &resp, nil
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode media response: %w", err)
	}
	return &resp, nil
}

// awaitProcessing polls STATUS until the media is usable. The wait between
// polls follows check_after_secs and the total wait is capped by
// MediaProcessingTimeout.
func (c *Client) awaitProcessing(ctx context.Context, source, mediaID string, token oauth1.Token) error {
	var waited time.Duration
	for {
		resp, err := c.mediaStatus(ctx, mediaID, token)
		if err != nil {
			return uploadFailure(source, constants.CommandStatus, err, false)
		}

		info := resp.ProcessingInfo
		if info == nil {
			return nil
		}

		switch info.State {
		case constants.ProcessingSucceeded:
			return nil
		case constants.ProcessingFailed:
			msg := "media processing failed"
			ue := &UploadError{URL: source, Command: constants.CommandStatus, Message: msg}
			if info.Error != nil && info.Error.Message != "" {
				ue.Message = info.Error.Message
				ue.ChannelMessage = info.Error.Message
			}
			return ue
		}

		delay := time.Duration(info.CheckAfterSecs) * time.Second
		if delay < constants.MinMediaStatusDelay {
			delay = constants.MinMediaStatusDelay
		}
		if waited+delay > c.cfg.MediaProcessingTimeout {
			return &UploadError{
				URL:     source,
				Command: constants.CommandStatus,
				Message: fmt.Sprintf("media %s still %s after %s", mediaID, info.State, waited),
			}
		}

		c.logger.WithFields(logrus.Fields{
			"media_id": mediaID,
			"state":    info.State,
			"delay_ms": delay.Milliseconds(),
		}).Debug("Waiting for media processing")

		if err := c.cfg.Sleep(ctx, delay); err != nil {
			return &UploadError{URL: source, Command: constants.CommandStatus, Message: err.Error(), Err: err}
		}
		waited += delay
	}
}
