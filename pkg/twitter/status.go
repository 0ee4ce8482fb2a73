package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"socialqueue/pkg/constants"
	"socialqueue/pkg/oauth1"
	"socialqueue/pkg/twitter/types"
)

// PostStatus publishes one status. Parameters travel in the query string,
// which the API requires to be RFC 3986 encoded (spaces as %20 and
// ! ' ( ) * escaped).
func (c *Client) PostStatus(ctx context.Context, update types.StatusUpdate, token oauth1.Token) (*types.Status, error) {
	endpoint := c.cfg.APIBaseURL + constants.StatusUpdatePath + "?" + EncodeStatusQuery(update)

	body, err := c.do(ctx, request{
		name:   "statuses/update",
		method: http.MethodPost,
		url:    endpoint,
		token:  &token,
	})
	if err != nil {
		return nil, err
	}

	var status types.Status
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	if status.IDStr == "" {
		return nil, fmt.Errorf("status response has no id_str")
	}
	return &status, nil
}

// EncodeStatusQuery renders update as a query string with parameters in
// the order status, media_ids, in_reply_to_status_id,
// auto_populate_reply_metadata. Media ids are comma-joined.
func EncodeStatusQuery(update types.StatusUpdate) string {
	parts := []string{"status=" + oauth1.PercentEncode(update.Status)}
	if len(update.MediaIDs) > 0 {
		parts = append(parts, "media_ids="+oauth1.PercentEncode(strings.Join(update.MediaIDs, ",")))
	}
	if update.InReplyToStatusID != "" {
		parts = append(parts,
			"in_reply_to_status_id="+oauth1.PercentEncode(update.InReplyToStatusID),
			"auto_populate_reply_metadata=true",
		)
	}
	return strings.Join(parts, "&")
}
