package twitter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"socialqueue/pkg/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(constants.BearerTokenPath, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "consumer-key" || pass != "consumer-secret" || r.FormValue("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"token_type":"bearer","access_token":"AAAA"}`))
	})
	mux.HandleFunc(constants.SearchTweetsPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer AAAA" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("q") != "from:acme roam research AND -filter:retweets" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"statuses":[{"id_str":"1"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	result, err := NewClient(testConfig(srv)).Search(context.Background(), "acme", "roam research")
	require.NoError(t, err)
	assert.JSONEq(t, `{"statuses":[{"id_str":"1"}]}`, string(result))
}

func TestSearch_BearerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errors":[{"code":99,"message":"Unable to verify your credentials"}]}`))
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv)).Search(context.Background(), "acme", "x")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, constants.BearerTokenPath[1:], apiErr.Endpoint)
}

func TestSearchQuery(t *testing.T) {
	assert.Equal(t, "from:acme hello AND -filter:retweets", SearchQuery("acme", "hello"))
}
