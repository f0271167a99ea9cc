package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"telerelay/internal/models"
	"telerelay/pkg/transport"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestClient(serverURL string) *Client {
	return NewClient(ClientConfig{
		BaseURL:     serverURL,
		BotToken:    "test-token",
		PollTimeout: time.Second,
		HTTPTimeout: 5 * time.Second,
	}, newTestLogger())
}

// apiServer fakes the Bot API: per-method handlers keyed by method name.
type apiServer struct {
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	calls    map[string]int
}

func newAPIServer() *apiServer {
	return &apiServer{
		handlers: make(map[string]http.HandlerFunc),
		calls:    make(map[string]int),
	}
}

func (s *apiServer) handle(method string, fn http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = fn
}

func (s *apiServer) callCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *apiServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[len("/bottest-token/"):]

	s.mu.Lock()
	s.calls[method]++
	fn := s.handlers[method]
	s.mu.Unlock()

	if fn == nil {
		http.NotFound(w, r)
		return
	}
	fn(w, r)
}

func respondOK(w http.ResponseWriter, result interface{}) {
	raw, _ := json.Marshal(result)
	_ = json.NewEncoder(w).Encode(apiResponse{OK: true, Result: raw})
}

func respondError(w http.ResponseWriter, code int, description string, retryAfter int) {
	resp := apiResponse{OK: false, ErrorCode: code, Description: description}
	if retryAfter > 0 {
		resp.Parameters = &responseParameters{RetryAfter: retryAfter}
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func TestSendTextMessage(t *testing.T) {
	srv := newAPIServer()
	var gotReq sendMessageRequest
	srv.handle("sendMessage", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		respondOK(w, apiMessage{MessageID: 99})
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := newTestClient(ts.URL)
	err := client.Send(context.Background(), "@mirror", models.Message{
		SourceID:  "@deals",
		MessageID: 7,
		Body:      "50% off sale!",
	})

	require.NoError(t, err)
	assert.Equal(t, "@mirror", gotReq.ChatID)
	assert.Equal(t, "50% off sale!", gotReq.Text)
}

func TestSendMediaUsesCopyMessage(t *testing.T) {
	srv := newAPIServer()
	var gotReq copyMessageRequest
	srv.handle("copyMessage", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		respondOK(w, apiMessage{MessageID: 100})
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := newTestClient(ts.URL)
	err := client.Send(context.Background(), "@mirror", models.Message{
		SourceID:  "@deals",
		MessageID: 7,
		Body:      "caption",
		HasMedia:  true,
		MediaKind: models.MediaPhoto,
	})

	require.NoError(t, err)
	assert.Equal(t, "@mirror", gotReq.ChatID)
	assert.Equal(t, "@deals", gotReq.FromChatID)
	assert.Equal(t, int64(7), gotReq.MessageID)
	assert.Equal(t, 0, srv.callCount("sendMessage"))
}

func TestSendClassifiesRateLimit(t *testing.T) {
	srv := newAPIServer()
	srv.handle("sendMessage", func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusTooManyRequests, "Too Many Requests: retry after 30", 30)
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := newTestClient(ts.URL)
	err := client.Send(context.Background(), "@mirror", models.Message{Body: "x"})

	rle, ok := transport.AsRateLimit(err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, rle.RetryAfter)
}

func TestSendClassifiesPermanentError(t *testing.T) {
	srv := newAPIServer()
	srv.handle("sendMessage", func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusForbidden, "Forbidden: bot was kicked", 0)
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := newTestClient(ts.URL)
	err := client.Send(context.Background(), "@mirror", models.Message{Body: "x"})

	pe, ok := transport.AsPermanent(err)
	require.True(t, ok)
	assert.Contains(t, pe.Reason, "kicked")
}

func TestSendClassifiesServerErrorAsTransient(t *testing.T) {
	srv := newAPIServer()
	srv.handle("sendMessage", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := newTestClient(ts.URL)
	err := client.Send(context.Background(), "@mirror", models.Message{Body: "x"})

	assert.True(t, transport.IsTransient(err))
}

func TestSendNetworkFailureIsTransient(t *testing.T) {
	client := newTestClient("http://127.0.0.1:1")
	err := client.Send(context.Background(), "@mirror", models.Message{Body: "x"})
	assert.True(t, transport.IsTransient(err))
	assert.NotContains(t, err.Error(), "bottest-token", "token must not leak into errors")
}

func TestSubscribeFailsOnBadSession(t *testing.T) {
	srv := newAPIServer()
	srv.handle("getMe", func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusUnauthorized, "Unauthorized", 0)
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := newTestClient(ts.URL)
	_, _, err := client.Subscribe(context.Background(), "@deals")
	require.Error(t, err)

	var ce *transport.ConnectionError
	assert.ErrorAs(t, err, &ce)
}

func TestSubscribeDeliversMatchingMessages(t *testing.T) {
	srv := newAPIServer()
	srv.handle("getMe", func(w http.ResponseWriter, r *http.Request) {
		respondOK(w, map[string]interface{}{"id": 1, "is_bot": true})
	})

	var offsetMu sync.Mutex
	var seenOffsets []int64
	srv.handle("getUpdates", func(w http.ResponseWriter, r *http.Request) {
		var req getUpdatesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		offsetMu.Lock()
		seenOffsets = append(seenOffsets, req.Offset)
		first := len(seenOffsets) == 1
		offsetMu.Unlock()

		if !first {
			respondOK(w, []update{})
			return
		}
		respondOK(w, []update{
			{
				UpdateID:    10,
				ChannelPost: &apiMessage{MessageID: 1, Chat: apiChat{ID: -100, Username: "deals"}, Text: "50% off sale!", Date: 1700000000},
			},
			{
				UpdateID: 11,
				Message:  &apiMessage{MessageID: 2, Chat: apiChat{ID: 55, Username: "other"}, Text: "ignore me", Date: 1700000001},
			},
			{
				UpdateID:    12,
				ChannelPost: &apiMessage{MessageID: 3, Chat: apiChat{ID: -100, Username: "deals"}, Caption: "photo caption", Date: 1700000002, Photo: []apiFile{{FileID: "small"}, {FileID: "big"}}},
			},
		})
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newTestClient(ts.URL)
	msgs, errs, err := client.Subscribe(ctx, "@deals")
	require.NoError(t, err)

	first := <-msgs
	assert.Equal(t, int64(1), first.MessageID)
	assert.Equal(t, "50% off sale!", first.Body)
	assert.False(t, first.HasMedia)

	second := <-msgs
	assert.Equal(t, int64(3), second.MessageID)
	assert.Equal(t, "photo caption", second.Body)
	assert.True(t, second.HasMedia)
	assert.Equal(t, models.MediaPhoto, second.MediaKind)
	assert.Equal(t, "big", second.MediaRef)

	// Offset must advance past the last seen update.
	require.Eventually(t, func() bool {
		offsetMu.Lock()
		defer offsetMu.Unlock()
		return len(seenOffsets) >= 2 && seenOffsets[1] == 13
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	for range msgs {
	}
	_, open := <-errs
	assert.False(t, open)
}

func TestSubscribeReportsConnectionLossAfterRepeatedFailures(t *testing.T) {
	srv := newAPIServer()
	srv.handle("getMe", func(w http.ResponseWriter, r *http.Request) {
		respondOK(w, map[string]interface{}{"id": 1})
	})
	srv.handle("getUpdates", func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusInternalServerError, "boom", 0)
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := newTestClient(ts.URL)
	_, errs, err := client.Subscribe(context.Background(), "@deals")
	require.NoError(t, err)

	select {
	case lossErr := <-errs:
		var ce *transport.ConnectionError
		assert.ErrorAs(t, lossErr, &ce)
	case <-time.After(30 * time.Second):
		t.Fatal("expected connection loss signal")
	}
}

func TestChatMatches(t *testing.T) {
	assert.True(t, chatMatches(apiChat{Username: "deals"}, "@deals"))
	assert.True(t, chatMatches(apiChat{Username: "Deals"}, "@deals"))
	assert.True(t, chatMatches(apiChat{ID: -100123}, "-100123"))
	assert.False(t, chatMatches(apiChat{Username: "other"}, "@deals"))
	assert.False(t, chatMatches(apiChat{ID: 42}, "@deals"))
}

func TestClassifyAPIErrorFallbackTransient(t *testing.T) {
	err := classifyAPIError(&apiResponse{OK: false, ErrorCode: 0, Description: "weird"})
	assert.True(t, transport.IsTransient(err))

	err = classifyAPIError(&apiResponse{OK: false, ErrorCode: http.StatusBadRequest, Description: fmt.Sprintf("Bad Request: %s", "chat not found")})
	_, ok := transport.AsPermanent(err)
	assert.True(t, ok)
}
