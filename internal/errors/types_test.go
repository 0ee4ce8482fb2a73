package errors

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name: "error without cause",
			err: &AppError{
				Code:    ErrCodeInvalidConfig,
				Message: "configuration is invalid",
			},
			expected: "INVALID_CONFIG: configuration is invalid",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeDatabaseQuery,
				Message: "database query failed",
				Cause:   errors.New("database is locked"),
			},
			expected: "DATABASE_QUERY: database query failed: database is locked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := New(ErrCodeValidationFailed, "validation failed")

	result := err.WithContext("field", "scheduleDate").WithContext("value", "yesterday")

	assert.Equal(t, err, result)
	assert.Len(t, err.Context, 2)
	assert.Equal(t, "scheduleDate", err.Context["field"])
}

func TestAs_FindsWrappedAppError(t *testing.T) {
	inner := New(ErrCodeChannelAuth, "credentials rejected").WithUserMessage("Invalid credentials")
	wrapped := fmt.Errorf("dispatch entry abc: %w", inner)

	appErr, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrCodeChannelAuth, appErr.Code)
	assert.Equal(t, ErrCodeChannelAuth, GetCode(wrapped))
	assert.Equal(t, "Invalid credentials", GetUserMessage(wrapped))
}

func TestResultMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil", err: nil, expected: ""},
		{name: "plain error keeps raw text", err: errors.New("NoSuchKey: payload missing"), expected: "NoSuchKey: payload missing"},
		{
			name:     "app error with user message",
			err:      New(ErrCodeChannelRejection, "rejected").WithUserMessage("Tweet is too long. Make it shorter!"),
			expected: "Tweet is too long. Make it shorter!",
		},
		{
			name:     "app error without user message",
			err:      Wrap(errors.New("timeout"), ErrCodeUpstreamTransport, "channel API call failed"),
			expected: "UPSTREAM_TRANSPORT: channel API call failed: timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ResultMessage(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewUpstreamError("/1.1/statuses/update.json", 503, errors.New("unavailable"))))
	assert.True(t, IsRetryable(NewUpstreamError("/1.1/statuses/update.json", 429, errors.New("slow down"))))
	assert.False(t, IsRetryable(NewUpstreamError("/1.1/statuses/update.json", 403, errors.New("forbidden"))))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{NewValidationError("payload", "is required"), http.StatusBadRequest},
		{New(ErrCodeAlreadyDispatched, "entry already dispatched"), http.StatusBadRequest},
		{NewAuthError("missing token"), http.StatusUnauthorized},
		{NewNotFoundError("scheduled post", "abc"), http.StatusNotFound},
		{NewUpstreamError("/oauth/request_token", 500, errors.New("boom")), http.StatusInternalServerError},
		{errors.New("unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(GetCode(tt.err)), func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatusCode(tt.err))
		})
	}
}

func TestToHTTPResponse_StripsSensitiveContext(t *testing.T) {
	err := NewValidationError("oauth", "is required").
		WithContext("token", "abc").
		WithContext("secret", "def")

	resp := ToHTTPResponse(err, "req_1")

	assert.Equal(t, ErrCodeValidationFailed, resp.Error.Code)
	assert.Equal(t, "oauth is required", resp.Error.Message)
	assert.Equal(t, "req_1", resp.RequestID)
	ctx, ok := resp.Error.Context.(map[string]interface{})
	require.True(t, ok)
	assert.NotContains(t, ctx, "token")
	assert.NotContains(t, ctx, "secret")
	assert.Equal(t, "oauth", ctx["field"])
}

func TestFields(t *testing.T) {
	err := New(ErrCodeAttachmentUpload, "upload failed").
		WithContext("media_id", "77").
		WithContext("token", "should-not-appear")

	fields := Fields(err)
	assert.Equal(t, ErrCodeAttachmentUpload, fields["error_code"])
	assert.Equal(t, false, fields["retryable"])
	assert.Equal(t, "77", fields["media_id"])
	assert.NotContains(t, fields, "token")
	assert.Equal(t, err, fields[logrus.ErrorKey])

	plain := Fields(errors.New("plain"))
	assert.Len(t, plain, 1)
}

func TestLog_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(&buf)

	Log(logger.WithField("entry_id", "abc"), New(ErrCodeAttachmentUpload, "upload failed"), "Attachment upload failed")
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), `"error_code":"ATTACHMENT_UPLOAD"`)
	assert.Contains(t, buf.String(), `"entry_id":"abc"`)

	buf.Reset()
	Log(logger, NewUpstreamError("/x", 502, errors.New("bad gateway")), "Retrying")
	assert.Contains(t, buf.String(), `"level":"warning"`)
}
