package main

import (
	stderrors "errors"
	"net/http"
	"net/url"

	"socialqueue/internal/constants"
	apperrors "socialqueue/internal/errors"
	"socialqueue/internal/middleware"
	"socialqueue/internal/validation"
	"socialqueue/pkg/twitter"
)

type loginBody struct {
	State string `json:"state"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type authBody struct {
	Token    string `json:"oauth_token"`
	Verifier string `json:"oauth_verifier"`
}

type authResponse struct {
	Token  string `json:"oauth_token"`
	Secret string `json:"oauth_token_secret"`
	Label  string `json:"label"`
}

// handleTwitterLogin starts the OAuth flow. The caller's state is carried
// through the callback URL.
func (s *Server) handleTwitterLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body loginBody
		if err := decodeBody(w, r, &body); err != nil {
			middleware.WriteError(w, r, err)
			return
		}

		callback, err := callbackWithState(s.cfg.Twitter.CallbackURL, body.State)
		if err != nil {
			middleware.WriteError(w, r, apperrors.NewConfigError("twitter.callback_url", err.Error()))
			return
		}

		token, err := s.twitter.RequestToken(r.Context(), callback)
		if err != nil {
			middleware.WriteError(w, r, upstreamError("oauth/request_token", err))
			return
		}
		writeJSON(w, http.StatusOK, loginResponse{Token: token.Token})
	}
}

// handleTwitterAuth completes the OAuth flow and returns the user's token
// pair, labelled with their screen name.
func (s *Server) handleTwitterAuth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body authBody
		if err := decodeBody(w, r, &body); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		if body.Token == "" || body.Verifier == "" {
			middleware.WriteError(w, r, apperrors.NewValidationError("oauth_token and oauth_verifier", "are required"))
			return
		}

		token, err := s.twitter.AccessToken(r.Context(), body.Token, body.Verifier)
		if err != nil {
			middleware.WriteError(w, r, upstreamError("oauth/access_token", err))
			return
		}
		writeJSON(w, http.StatusOK, authResponse{
			Token:  token.Token,
			Secret: token.Secret,
			Label:  token.ScreenName,
		})
	}
}

func (s *Server) handleTwitterSearch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		username, query := q.Get("username"), q.Get("query")
		if username == "" {
			middleware.WriteError(w, r, apperrors.NewValidationError("username", "is required"))
			return
		}
		if query == "" {
			middleware.WriteError(w, r, apperrors.NewValidationError("query", "is required"))
			return
		}
		if err := validation.ValidateStringLength(query, "query", 1, constants.MaxSearchQueryChars); err != nil {
			middleware.WriteError(w, r, err)
			return
		}

		result, err := s.twitter.Search(r.Context(), username, query)
		if err != nil {
			middleware.WriteError(w, r, upstreamError("search/tweets", err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result)
	}
}

func callbackWithState(base, state string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// upstreamError keeps the Twitter status code on the error context. The
// response message is the upstream error text.
func upstreamError(endpoint string, err error) error {
	status := http.StatusBadGateway
	var apiErr *twitter.APIError
	if stderrors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	return apperrors.NewUpstreamError(endpoint, status, err)
}
