package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"socialqueue/internal/constants"
	apperrors "socialqueue/internal/errors"
	"socialqueue/internal/models"
	"socialqueue/internal/service"
	"socialqueue/pkg/twitter"
	"socialqueue/pkg/twitter/types"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testToken = "test-token"
	testOwner = "alice@example.com"
	testID    = "3f2504e0-4f89-41d3-9a0c-0305e82c3301"
)

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Enqueue(ctx context.Context, owner string, req service.EnqueueRequest) (string, error) {
	args := m.Called(ctx, owner, req)
	return args.String(0), args.Error(1)
}

func (m *mockQueue) Get(ctx context.Context, owner, id string) (*models.EntryView, error) {
	args := m.Called(ctx, owner, id)
	if view := args.Get(0); view != nil {
		return view.(*models.EntryView), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockQueue) List(ctx context.Context, owner string) ([]models.EntryView, error) {
	args := m.Called(ctx, owner)
	if views := args.Get(0); views != nil {
		return views.([]models.EntryView), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockQueue) Update(ctx context.Context, owner, id string, req service.UpdateRequest) error {
	args := m.Called(ctx, owner, id, req)
	return args.Error(0)
}

func (m *mockQueue) Cancel(ctx context.Context, owner, id string) error {
	args := m.Called(ctx, owner, id)
	return args.Error(0)
}

type mockTwitter struct {
	mock.Mock
}

func (m *mockTwitter) RequestToken(ctx context.Context, callbackURL string) (*types.RequestToken, error) {
	args := m.Called(ctx, callbackURL)
	if token := args.Get(0); token != nil {
		return token.(*types.RequestToken), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTwitter) AccessToken(ctx context.Context, requestToken, verifier string) (*types.AccessToken, error) {
	args := m.Called(ctx, requestToken, verifier)
	if token := args.Get(0); token != nil {
		return token.(*types.AccessToken), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTwitter) Search(ctx context.Context, username, query string) (json.RawMessage, error) {
	args := m.Called(ctx, username, query)
	if body := args.Get(0); body != nil {
		return body.(json.RawMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

type testServer struct {
	*Server
	queue   *mockQueue
	twitter *mockTwitter
	feed    *service.StatusFeed
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &models.Config{
		Server:  models.ServerConfig{Port: 8080, ReadTimeoutSec: 5, WriteTimeoutSec: 5, IdleTimeoutSec: 5},
		Twitter: models.TwitterConfig{CallbackURL: constants.DefaultTwitterCallbackURL},
	}
	queue := new(mockQueue)
	tw := new(mockTwitter)
	feed := service.NewStatusFeed(logger)
	tokens := func() map[string]string { return map[string]string{testToken: testOwner} }

	return &testServer{
		Server:  NewServer(cfg, queue, tw, feed, tokens, logger),
		queue:   queue,
		twitter: tw,
		feed:    feed,
	}
}

func (ts *testServer) do(method, target, body string, authed bool) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) apperrors.HTTPErrorResponse {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/health", "", false)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.Equal(t, constants.CORSAllowOrigin, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/metrics", "", false)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"counters"`)
}

func TestServer_Preflight(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodOptions, "/scheduled", "", false)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, constants.CORSAllowMethods, w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, constants.CORSAllowHeaders, w.Header().Get("Access-Control-Allow-Headers"))
}

func TestServer_ScheduledRequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
		w := ts.do(method, "/scheduled", "", false)
		assert.Equal(t, http.StatusUnauthorized, w.Code, method)
		assert.Equal(t, constants.CORSAllowOrigin, w.Header().Get("Access-Control-Allow-Origin"), method)
	}
	ts.queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)
}

func TestServer_Enqueue(t *testing.T) {
	ts := newTestServer(t)
	scheduled := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ts.queue.On("Enqueue", mock.Anything, testOwner, mock.MatchedBy(func(req service.EnqueueRequest) bool {
		return req.ScheduledAt.Equal(scheduled) &&
			req.Credentials == `{"oauth_token":"t","oauth_token_secret":"s"}` &&
			req.Payload == `{"blocks":[{"text":"hi","uid":"b1"}]}` &&
			req.SourceBlockRef == "b1"
	})).Return(testID, nil)

	body := `{
		"scheduleDate": "2026-03-01T12:00:00.000Z",
		"oauth": "{\"oauth_token\":\"t\",\"oauth_token_secret\":\"s\"}",
		"payload": "{\"blocks\":[{\"text\":\"hi\",\"uid\":\"b1\"}]}",
		"blockUid": "b1"
	}`
	w := ts.do(http.MethodPost, "/scheduled", body, true)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"id":"`+testID+`"}`, w.Body.String())
	ts.queue.AssertExpectations(t)
}

func TestServer_EnqueueValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"scheduleDate":`},
		{"empty body", ``},
		{"missing schedule date", `{"oauth":"{}","payload":"{}"}`},
		{"bad schedule date", `{"scheduleDate":"tomorrow","oauth":"{}","payload":"{}"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			w := ts.do(http.MethodPost, "/scheduled", tt.body, true)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			ts.queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestServer_EnqueueServiceErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.queue.On("Enqueue", mock.Anything, testOwner, mock.Anything).
		Return("", apperrors.NewValidationError("payload", "must contain at least one block")).Once()
	ts.queue.On("Enqueue", mock.Anything, testOwner, mock.Anything).
		Return("", apperrors.NewDatabaseError("put", errors.New("disk full"))).Once()

	body := `{"scheduleDate":"2026-03-01T12:00:00Z","oauth":"{}","payload":"{}"}`

	w := ts.do(http.MethodPost, "/scheduled", body, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "payload must contain at least one block", decodeError(t, w).Error.Message)

	w = ts.do(http.MethodPost, "/scheduled", body, true)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperrors.ErrCodeDatabaseQuery, decodeError(t, w).Error.Code)
}

func TestServer_List(t *testing.T) {
	ts := newTestServer(t)
	ts.queue.On("List", mock.Anything, testOwner).Return([]models.EntryView{{
		ID:            testID,
		BlockUID:      "b1",
		CreatedDate:   "2026-03-01T09:00:00.000Z",
		ScheduledDate: "2026-03-01T12:00:00.000Z",
		Status:        models.StatusPending,
	}}, nil)

	w := ts.do(http.MethodGet, "/scheduled", "", true)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"scheduledTweets":[{
		"uuid":"`+testID+`",
		"blockUid":"b1",
		"createdDate":"2026-03-01T09:00:00.000Z",
		"scheduledDate":"2026-03-01T12:00:00.000Z",
		"status":"PENDING"
	}]}`, w.Body.String())
}

func TestServer_ListEmpty(t *testing.T) {
	ts := newTestServer(t)
	ts.queue.On("List", mock.Anything, testOwner).Return(nil, nil)

	w := ts.do(http.MethodGet, "/scheduled", "", true)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"scheduledTweets":[]}`, w.Body.String())
}

func TestServer_GetSingle(t *testing.T) {
	ts := newTestServer(t)
	ts.queue.On("Get", mock.Anything, testOwner, testID).Return(&models.EntryView{
		ID:      testID,
		Status:  models.StatusSuccess,
		Message: "https://twitter.com/acme/status/123",
	}, nil)
	ts.queue.On("Get", mock.Anything, testOwner, "3f2504e0-4f89-41d3-9a0c-0305e82c3399").
		Return(nil, apperrors.NewNotFoundError("scheduled entry", "3f2504e0-4f89-41d3-9a0c-0305e82c3399"))

	w := ts.do(http.MethodGet, "/scheduled?id="+testID, "", true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"message":"https://twitter.com/acme/status/123"`)

	w = ts.do(http.MethodGet, "/scheduled?uuid=3f2504e0-4f89-41d3-9a0c-0305e82c3399", "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Update(t *testing.T) {
	ts := newTestServer(t)
	ts.queue.On("Update", mock.Anything, testOwner, testID, mock.MatchedBy(func(req service.UpdateRequest) bool {
		return req.ScheduledAt.Equal(time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)) && req.Credentials == ""
	})).Return(nil)

	body := `{"uuid":"` + testID + `","scheduleDate":"2026-03-02T08:30:00.000Z","payload":"{\"blocks\":[{\"text\":\"x\"}]}"}`
	w := ts.do(http.MethodPut, "/scheduled", body, true)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
	ts.queue.AssertExpectations(t)
}

func TestServer_UpdateErrors(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPut, "/scheduled", `{"scheduleDate":"2026-03-02T08:30:00Z"}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ts.queue.On("Update", mock.Anything, testOwner, testID, mock.Anything).
		Return(apperrors.New(apperrors.ErrCodeAlreadyDispatched, "entry already dispatched").
			WithUserMessage("This post has already been sent and can no longer be changed."))

	body := `{"uuid":"` + testID + `","scheduleDate":"2026-03-02T08:30:00Z","payload":"{}"}`
	w = ts.do(http.MethodPut, "/scheduled", body, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.ErrCodeAlreadyDispatched, decodeError(t, w).Error.Code)
}

func TestServer_Cancel(t *testing.T) {
	ts := newTestServer(t)
	ts.queue.On("Cancel", mock.Anything, testOwner, testID).Return(nil)

	w := ts.do(http.MethodDelete, "/scheduled?id="+testID, "", true)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	w = ts.do(http.MethodDelete, "/scheduled", `{"uuid":"`+testID+`"}`, true)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(http.MethodDelete, "/scheduled", "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ts.queue.AssertNumberOfCalls(t, "Cancel", 2)
}

func TestServer_TwitterLogin(t *testing.T) {
	ts := newTestServer(t)
	ts.twitter.On("RequestToken", mock.Anything, "https://roamjs.com/oauth?auth=true&state=abc+123").
		Return(&types.RequestToken{Token: "req-token", CallbackConfirmed: true}, nil)

	w := ts.do(http.MethodPost, "/twitter/login", `{"state":"abc 123"}`, false)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"token":"req-token"}`, w.Body.String())
}

func TestServer_TwitterLoginUpstreamFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.twitter.On("RequestToken", mock.Anything, mock.Anything).
		Return(nil, errors.New("Oauth Callback was not Confirmed"))

	w := ts.do(http.MethodPost, "/twitter/login", `{"state":"s"}`, false)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Oauth Callback was not Confirmed", decodeError(t, w).Error.Message)
}

func TestServer_TwitterAuth(t *testing.T) {
	ts := newTestServer(t)
	ts.twitter.On("AccessToken", mock.Anything, "req-token", "verifier").
		Return(&types.AccessToken{Token: "user-token", Secret: "user-secret", ScreenName: "acme"}, nil)

	w := ts.do(http.MethodPost, "/twitter/auth", `{"oauth_token":"req-token","oauth_verifier":"verifier"}`, false)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"oauth_token":"user-token","oauth_token_secret":"user-secret","label":"acme"}`, w.Body.String())

	w = ts.do(http.MethodPost, "/twitter/auth", `{"oauth_token":"req-token"}`, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_TwitterSearch(t *testing.T) {
	ts := newTestServer(t)
	ts.twitter.On("Search", mock.Anything, "acme", "launch day").
		Return(json.RawMessage(`{"statuses":[{"id_str":"1"}]}`), nil)
	ts.twitter.On("Search", mock.Anything, "acme", "broken").
		Return(nil, &twitter.APIError{Endpoint: "search/tweets", StatusCode: http.StatusTooManyRequests, Message: "Rate limit exceeded"})

	w := ts.do(http.MethodGet, "/twitter/search?username=acme&query=launch+day", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"statuses":[{"id_str":"1"}]}`, w.Body.String())

	w = ts.do(http.MethodGet, "/twitter/search?query=x", "", false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "username is required", decodeError(t, w).Error.Message)

	w = ts.do(http.MethodGet, "/twitter/search?username=acme", "", false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "query is required", decodeError(t, w).Error.Message)

	w = ts.do(http.MethodGet, "/twitter/search?username=acme&query=broken", "", false)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperrors.ErrCodeUpstreamTransport, decodeError(t, w).Error.Code)
}

func TestServer_StatusStream(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/scheduled/stream?access_token=" + testToken
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return ts.feed.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	ts.feed.Publish(models.StatusEvent{ID: "other", OwnerID: "bob@example.com", Status: models.StatusFailed})
	ts.feed.Publish(models.StatusEvent{
		ID:      testID,
		OwnerID: testOwner,
		Channel: models.ChannelTwitter,
		Status:  models.StatusSuccess,
		Message: "https://twitter.com/acme/status/123",
	})

	var event models.StatusEvent
	require.NoError(t, wsjson.Read(ctx, conn, &event))
	assert.Equal(t, testID, event.ID)
	assert.Equal(t, models.StatusSuccess, event.Status)
	assert.Equal(t, "https://twitter.com/acme/status/123", event.Message)

	_ = conn.Close(websocket.StatusNormalClosure, "")
	assert.Eventually(t, func() bool { return ts.feed.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_StatusStreamRejectsUnknownToken(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/scheduled/stream?access_token=wrong"
	_, resp, err := websocket.Dial(ctx, wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCurrentTokens_FallsBackToStartupConfig(t *testing.T) {
	startup := &models.Config{APITokens: map[string]string{"boot": testOwner}}
	tokens := currentTokens(nil, startup)
	assert.Equal(t, map[string]string{"boot": testOwner}, tokens())

	startup.APITokens = map[string]string{"rotated": testOwner}
	assert.Equal(t, map[string]string{"rotated": testOwner}, tokens())
}
