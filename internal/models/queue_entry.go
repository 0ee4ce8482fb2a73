package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyCompleted is returned by queue stores when a write requires a
// PENDING entry and the entry has already been dispatched.
var ErrAlreadyCompleted = errors.New("queue entry is no longer pending")

// ErrEntryNotFound is returned by queue store writes that target a missing id.
var ErrEntryNotFound = errors.New("queue entry not found")

// Channel identifies the social platform an entry is published to.
type Channel string

const (
	ChannelTwitter Channel = "twitter"
)

// Status is the lifecycle state of a QueueEntry. It leaves PENDING exactly once.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// IsTerminal reports whether the status is one a dispatch writes.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// QueueEntry is one scheduled thread.
type QueueEntry struct {
	ID          string    `json:"uuid"`
	Channel     Channel   `json:"channel"`
	OwnerID     string    `json:"userId"`
	CreatedAt   time.Time `json:"created"`
	ScheduledAt time.Time `json:"date"`

	// Credentials holds the serialized per-user channel credentials as supplied at
	// creation. It is never returned to clients.
	Credentials string `json:"-"`

	// Exactly one of Payload and PayloadKey is set. Payload is the inline
	// document, PayloadKey the blob store key of an externally stored one.
	Payload    string `json:"payload,omitempty"`
	PayloadKey string `json:"payloadKey,omitempty"`

	SourceBlockRef string `json:"blockUid,omitempty"`
	Status         Status `json:"status"`
	ResultMessage  string `json:"message,omitempty"`

	// CompletedAt is set together with the terminal status.
	CompletedAt *time.Time `json:"completed,omitempty"`
}

// Credentials is the per-user token pair obtained from the channel's access
// token exchange.
type Credentials struct {
	Token       string `json:"oauth_token"`
	TokenSecret string `json:"oauth_token_secret"`
}

// ParseCredentials decodes the serialized credential document stored on an entry.
func ParseCredentials(raw string) (Credentials, error) {
	var creds Credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return Credentials{}, fmt.Errorf("failed to parse credentials: %w", err)
	}
	if creds.Token == "" || creds.TokenSecret == "" {
		return Credentials{}, fmt.Errorf("credentials are missing a token or token secret")
	}
	return creds, nil
}

// EntryView is the client facing representation of a QueueEntry.
type EntryView struct {
	ID            string `json:"uuid"`
	BlockUID      string `json:"blockUid,omitempty"`
	CreatedDate   string `json:"createdDate"`
	ScheduledDate string `json:"scheduledDate"`
	Status        Status `json:"status"`
	Message       string `json:"message,omitempty"`
}

// StatusEvent is published when an entry reaches a terminal status.
type StatusEvent struct {
	ID      string  `json:"uuid"`
	OwnerID string  `json:"-"`
	Channel Channel `json:"channel"`
	Status  Status  `json:"status"`
	Message string  `json:"message"`
	At      string  `json:"at"`
}
