package twitter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"socialqueue/pkg/constants"
	"socialqueue/pkg/oauth1"
	"socialqueue/pkg/twitter/types"
)

// RequestToken starts the three-legged flow. callbackURL receives the user
// after they authorize the application.
func (c *Client) RequestToken(ctx context.Context, callbackURL string) (*types.RequestToken, error) {
	body, err := c.do(ctx, request{
		name:   "oauth/request_token",
		method: http.MethodPost,
		url:    c.cfg.APIBaseURL + constants.RequestTokenPath,
		form:   url.Values{"oauth_callback": {callbackURL}},
		token:  &oauth1.Token{},
	})
	if err != nil {
		return nil, err
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse request token response: %w", err)
	}
	token := &types.RequestToken{
		Token:             values.Get("oauth_token"),
		Secret:            values.Get("oauth_token_secret"),
		CallbackConfirmed: values.Get("oauth_callback_confirmed") == "true",
	}
	if !token.CallbackConfirmed {
		return nil, fmt.Errorf("Oauth Callback was not Confirmed")
	}
	return token, nil
}

// AccessToken exchanges an authorized request token and verifier for the
// user's long-lived token pair.
func (c *Client) AccessToken(ctx context.Context, requestToken, verifier string) (*types.AccessToken, error) {
	body, err := c.do(ctx, request{
		name:   "oauth/access_token",
		method: http.MethodPost,
		url:    c.cfg.APIBaseURL + constants.AccessTokenPath,
		form:   url.Values{"oauth_token": {requestToken}, "oauth_verifier": {verifier}},
		token:  &oauth1.Token{},
	})
	if err != nil {
		return nil, err
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse access token response: %w", err)
	}
	token := &types.AccessToken{
		Token:      values.Get("oauth_token"),
		Secret:     values.Get("oauth_token_secret"),
		UserID:     values.Get("user_id"),
		ScreenName: values.Get("screen_name"),
	}
	if token.Token == "" || token.Secret == "" {
		return nil, fmt.Errorf("access token response is missing the token pair")
	}
	return token, nil
}
