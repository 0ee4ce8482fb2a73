package twitter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"socialqueue/pkg/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestToken(t *testing.T) {
	var auth, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, constants.RequestTokenPath, r.URL.Path)
		auth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		_, _ = w.Write([]byte("oauth_token=req-token&oauth_token_secret=req-secret&oauth_callback_confirmed=true"))
	}))
	defer srv.Close()

	token, err := NewClient(testConfig(srv)).RequestToken(context.Background(), "https://example.com/oauth?auth=true&state=xyz")
	require.NoError(t, err)

	assert.Equal(t, "req-token", token.Token)
	assert.Equal(t, "req-secret", token.Secret)
	assert.True(t, token.CallbackConfirmed)
	assert.Contains(t, auth, `oauth_callback="https%3A%2F%2Fexample.com%2Foauth%3Fauth%3Dtrue%26state%3Dxyz"`)
	assert.NotContains(t, auth, "oauth_token=")
	assert.Empty(t, body)
}

func TestRequestToken_CallbackNotConfirmed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("oauth_token=req-token&oauth_token_secret=req-secret"))
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv)).RequestToken(context.Background(), "https://example.com/cb")
	assert.EqualError(t, err, "Oauth Callback was not Confirmed")
}

func TestAccessToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, constants.AccessTokenPath, r.URL.Path)
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("oauth_token=access-token&oauth_token_secret=access-secret&user_id=99&screen_name=acme"))
	}))
	defer srv.Close()

	token, err := NewClient(testConfig(srv)).AccessToken(context.Background(), "req-token", "verifier-1")
	require.NoError(t, err)

	assert.Equal(t, "access-token", token.Token)
	assert.Equal(t, "access-secret", token.Secret)
	assert.Equal(t, "acme", token.ScreenName)
	assert.Contains(t, auth, `oauth_token="req-token"`)
	assert.Contains(t, auth, `oauth_verifier="verifier-1"`)
}

func TestAccessToken_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"code":89,"message":"Invalid or expired token."}]}`))
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv)).AccessToken(context.Background(), "stale", "v")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, []int{89}, apiErr.Codes())
}
