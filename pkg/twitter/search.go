package twitter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"socialqueue/pkg/constants"
	"socialqueue/pkg/oauth1"
	"socialqueue/pkg/twitter/types"
)

// BearerToken obtains an app-only token with the client credentials grant.
func (c *Client) BearerToken(ctx context.Context) (string, error) {
	credentials := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
	header := make(http.Header)
	header.Set("Authorization", "Basic "+credentials)

	body, err := c.do(ctx, request{
		name:   "oauth2/token",
		method: http.MethodPost,
		url:    c.cfg.APIBaseURL + constants.BearerTokenPath,
		form:   url.Values{"grant_type": {"client_credentials"}},
		header: header,
	})
	if err != nil {
		return "", err
	}

	var token types.BearerToken
	if err := json.Unmarshal(body, &token); err != nil {
		return "", fmt.Errorf("failed to decode bearer token: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("bearer token response has no access_token")
	}
	return token.AccessToken, nil
}

// SearchQuery builds the query that restricts a search to one author and
// drops retweets.
func SearchQuery(username, query string) string {
	return fmt.Sprintf("from:%s %s AND -filter:retweets", username, query)
}

// Search runs an app-only search over username's recent tweets and returns
// the API's JSON unchanged.
func (c *Client) Search(ctx context.Context, username, query string) (json.RawMessage, error) {
	bearer, err := c.BearerToken(ctx)
	if err != nil {
		return nil, err
	}

	header := make(http.Header)
	header.Set("Authorization", "Bearer "+bearer)

	body, err := c.do(ctx, request{
		name:   "search/tweets",
		method: http.MethodGet,
		url:    c.cfg.APIBaseURL + constants.SearchTweetsPath + "?q=" + oauth1.PercentEncode(SearchQuery(username, query)),
		header: header,
	})
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("search response is not JSON")
	}
	return json.RawMessage(body), nil
}
