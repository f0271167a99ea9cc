// Package telegram implements the relay transport on the Telegram Bot API:
// a long-polling subscription to the source chat and a send primitive that
// classifies provider errors into the transport taxonomy.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"telerelay/internal/models"
	"telerelay/internal/privacy"
	"telerelay/pkg/transport"

	"github.com/sirupsen/logrus"
)

const (
	// pollFailureBudget is how many consecutive getUpdates failures the
	// subscription absorbs before declaring the connection lost.
	pollFailureBudget = 3
	pollRetryDelay    = 2 * time.Second
)

// ClientConfig carries the settings the client needs.
type ClientConfig struct {
	BaseURL     string
	BotToken    string
	PollTimeout time.Duration
	HTTPTimeout time.Duration
}

// Client talks to the Bot API. It holds no global state; the update offset
// lives in the subscription goroutine.
type Client struct {
	baseURL     string
	token       string
	pollTimeout time.Duration
	httpClient  *http.Client
	logger      *logrus.Logger
}

var _ transport.Transport = (*Client)(nil)

// NewClient creates a Bot API client.
func NewClient(cfg ClientConfig, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.BotToken,
		pollTimeout: cfg.PollTimeout,
		httpClient:  &http.Client{Timeout: cfg.HTTPTimeout},
		logger:      logger,
	}
}

// Subscribe verifies the bot session and starts a long-poll loop filtered to
// sourceID. The error channel receives a single connection-loss error when
// the loop gives up; both channels close when the stream terminates.
func (c *Client) Subscribe(ctx context.Context, sourceID string) (<-chan models.Message, <-chan error, error) {
	if err := c.checkSession(ctx); err != nil {
		return nil, nil, err
	}

	msgs := make(chan models.Message, 16)
	errs := make(chan error, 1)

	go c.pollLoop(ctx, sourceID, msgs, errs)

	return msgs, errs, nil
}

// Send delivers msg to destinationID: copyMessage when the source message
// carries media, sendMessage otherwise.
func (c *Client) Send(ctx context.Context, destinationID string, msg models.Message) error {
	var method string
	var payload interface{}

	if msg.HasMedia {
		method = "copyMessage"
		payload = copyMessageRequest{
			ChatID:     destinationID,
			FromChatID: msg.SourceID,
			MessageID:  msg.MessageID,
		}
	} else {
		method = "sendMessage"
		payload = sendMessageRequest{
			ChatID: destinationID,
			Text:   msg.Body,
		}
	}

	resp, err := c.call(ctx, method, payload)
	if err != nil {
		return &transport.TransientError{Cause: err}
	}
	if resp.OK {
		return nil
	}
	return classifyAPIError(resp)
}

// checkSession calls getMe so a bad token or unreachable API fails the
// subscription up front instead of inside the poll loop.
func (c *Client) checkSession(ctx context.Context) error {
	resp, err := c.call(ctx, "getMe", struct{}{})
	if err != nil {
		return &transport.ConnectionError{Cause: err}
	}
	if !resp.OK {
		return &transport.ConnectionError{Cause: fmt.Errorf("getMe failed: %s (code %d)", resp.Description, resp.ErrorCode)}
	}
	return nil
}

func (c *Client) pollLoop(ctx context.Context, sourceID string, msgs chan<- models.Message, errs chan<- error) {
	defer close(msgs)
	defer close(errs)

	var offset int64
	failures := 0

	for {
		if ctx.Err() != nil {
			return
		}

		updates, err := c.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			if failures >= pollFailureBudget {
				errs <- &transport.ConnectionError{Cause: err}
				return
			}
			c.logger.WithError(err).WithField("failures", failures).Warn("getUpdates failed, retrying")

			select {
			case <-ctx.Done():
				return
			case <-time.After(pollRetryDelay):
			}
			continue
		}
		failures = 0

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}

			post := u.Message
			if post == nil {
				post = u.ChannelPost
			}
			if post == nil || !chatMatches(post.Chat, sourceID) {
				continue
			}

			select {
			case msgs <- toMessage(post, sourceID):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Client) getUpdates(ctx context.Context, offset int64) ([]update, error) {
	resp, err := c.call(ctx, "getUpdates", getUpdatesRequest{
		Offset:         offset,
		Timeout:        int(c.pollTimeout / time.Second),
		AllowedUpdates: []string{"message", "channel_post"},
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("getUpdates failed: %s (code %d)", resp.Description, resp.ErrorCode)
	}

	var updates []update
	if err := json.Unmarshal(resp.Result, &updates); err != nil {
		return nil, fmt.Errorf("failed to decode updates: %w", err)
	}
	return updates, nil
}

// call posts one Bot API method. Transport-level failures come back as
// errors; API-level failures come back inside the decoded response.
func (c *Client) call(ctx context.Context, method string, payload interface{}) (*apiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		// The request URL embeds the token; scrub it before the error can
		// reach a log line or the error log table.
		return nil, fmt.Errorf("%s request failed: %s", method, privacy.Redact(err.Error(), c.token))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, httpResp.Body)
		_ = httpResp.Body.Close()
	}()

	if httpResp.StatusCode >= 500 {
		return nil, fmt.Errorf("%s returned status %d", method, httpResp.StatusCode)
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	return &resp, nil
}

// classifyAPIError maps a Bot API failure to the transport taxonomy.
func classifyAPIError(resp *apiResponse) error {
	switch {
	case resp.ErrorCode == http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if resp.Parameters != nil {
			retryAfter = time.Duration(resp.Parameters.RetryAfter) * time.Second
		}
		return &transport.RateLimitError{RetryAfter: retryAfter}
	case resp.ErrorCode >= 400 && resp.ErrorCode < 500:
		return &transport.PermanentError{Reason: resp.Description}
	default:
		return &transport.TransientError{Cause: fmt.Errorf("%s (code %d)", resp.Description, resp.ErrorCode)}
	}
}

// chatMatches compares an update's chat against the configured source,
// which may be a @username or a numeric chat ID.
func chatMatches(chat apiChat, sourceID string) bool {
	trimmed := strings.TrimPrefix(sourceID, "@")
	if chat.Username != "" && strings.EqualFold(chat.Username, trimmed) {
		return true
	}
	if id, err := strconv.ParseInt(sourceID, 10, 64); err == nil {
		return id == chat.ID
	}
	return false
}

func toMessage(post *apiMessage, sourceID string) models.Message {
	msg := models.Message{
		SourceID:   sourceID,
		MessageID:  post.MessageID,
		Body:       post.Text,
		ReceivedAt: time.Unix(post.Date, 0).UTC(),
	}
	if msg.Body == "" {
		msg.Body = post.Caption
	}

	switch {
	case len(post.Photo) > 0:
		msg.HasMedia = true
		msg.MediaKind = models.MediaPhoto
		msg.MediaRef = post.Photo[len(post.Photo)-1].FileID
	case post.Video != nil:
		msg.HasMedia = true
		msg.MediaKind = models.MediaVideo
		msg.MediaRef = post.Video.FileID
	case post.Document != nil:
		msg.HasMedia = true
		msg.MediaKind = models.MediaDocument
		msg.MediaRef = post.Document.FileID
	case post.Voice != nil:
		msg.HasMedia = true
		msg.MediaKind = models.MediaVoice
		msg.MediaRef = post.Voice.FileID
	case post.Sticker != nil:
		msg.HasMedia = true
		msg.MediaKind = models.MediaSticker
		msg.MediaRef = post.Sticker.FileID
	}
	return msg
}
