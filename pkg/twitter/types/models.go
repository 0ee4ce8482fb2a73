package types

import "encoding/json"

// ErrorDetail is one entry of the v1.1 "errors" array.
type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse covers both error shapes the API returns: the v1.1
// {"errors":[...]} array and the upload endpoint's {"error":"..."} string.
type ErrorResponse struct {
	Errors []ErrorDetail `json:"errors"`
	Error  string        `json:"error"`
}

// UnmarshalJSON tolerates "errors" being a plain string, which some
// endpoints return for malformed requests.
func (r *ErrorResponse) UnmarshalJSON(data []byte) error {
	var raw struct {
		Errors json.RawMessage `json:"errors"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Error = raw.Error
	if len(raw.Errors) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw.Errors, &r.Errors); err != nil {
		var msg string
		if json.Unmarshal(raw.Errors, &msg) == nil && r.Error == "" {
			r.Error = msg
		}
	}
	return nil
}

// StatusUpdate is one post in a thread.
type StatusUpdate struct {
	Status            string
	MediaIDs          []string
	InReplyToStatusID string
}

type User struct {
	ScreenName string `json:"screen_name"`
}

// Status is the subset of a posted tweet the dispatcher needs.
type Status struct {
	IDStr string `json:"id_str"`
	User  User   `json:"user"`
}

type ProcessingError struct {
	Code    int    `json:"code"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

type ProcessingInfo struct {
	State          string           `json:"state"`
	CheckAfterSecs int              `json:"check_after_secs"`
	ProgressPct    int              `json:"progress_percent"`
	Error          *ProcessingError `json:"error,omitempty"`
}

// MediaResponse is returned by INIT, FINALIZE and STATUS.
type MediaResponse struct {
	MediaIDString  string          `json:"media_id_string"`
	ProcessingInfo *ProcessingInfo `json:"processing_info,omitempty"`
}

// RequestToken is the first leg of the three-legged OAuth flow.
type RequestToken struct {
	Token             string
	Secret            string
	CallbackConfirmed bool
}

// AccessToken is the per-user credential pair stored with each queue entry.
type AccessToken struct {
	Token      string `json:"oauth_token"`
	Secret     string `json:"oauth_token_secret"`
	UserID     string `json:"user_id,omitempty"`
	ScreenName string `json:"screen_name,omitempty"`
}

type BearerToken struct {
	TokenType   string `json:"token_type"`
	AccessToken string `json:"access_token"`
}
