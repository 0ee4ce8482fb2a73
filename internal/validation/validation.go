package validation

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"socialqueue/internal/constants"
	"socialqueue/internal/errors"
	"socialqueue/internal/models"

	"github.com/google/uuid"
)

// ValidateEntryID checks that id is a canonical UUID.
func ValidateEntryID(id string) error {
	if id == "" {
		return errors.NewValidationError("id", "is required")
	}
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.String() != strings.ToLower(id) {
		return errors.NewValidationError("id", "is not a valid identifier")
	}
	return nil
}

// ParseScheduleDate parses an RFC 3339 timestamp such as the one produced by
// JavaScript's Date.toJSON.
func ParseScheduleDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.NewValidationError("scheduleDate", "is required")
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, errors.NewValidationError("scheduleDate", "must be an RFC 3339 timestamp")
	}
	return t.UTC(), nil
}

// ValidateCredentials checks that the serialized credentials carry a token pair.
func ValidateCredentials(raw string) error {
	if raw == "" {
		return errors.NewValidationError("oauth", "is required")
	}
	if _, err := models.ParseCredentials(raw); err != nil {
		return errors.Wrap(err, errors.ErrCodeValidationFailed, "invalid credentials").
			WithContext("field", "oauth").
			WithUserMessage("oauth must contain oauth_token and oauth_token_secret")
	}
	return nil
}

// ValidatePayload parses a payload document and checks its size and shape.
func ValidatePayload(raw string) (*models.Payload, error) {
	if raw == "" {
		return nil, errors.NewValidationError("payload", "is required")
	}
	if len(raw) > constants.MaxPayloadBytes {
		return nil, errors.NewValidationError("payload",
			fmt.Sprintf("too large (max %d bytes)", constants.MaxPayloadBytes))
	}

	payload, err := models.ParsePayload([]byte(raw))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidationFailed, "invalid payload").
			WithContext("field", "payload").
			WithUserMessage("payload must be a JSON document with a blocks array")
	}
	if len(payload.Blocks) == 0 {
		return nil, errors.NewValidationError("payload", "must contain at least one block")
	}
	if len(payload.Blocks) > constants.MaxSegmentsPerEntry {
		return nil, errors.NewValidationError("payload",
			fmt.Sprintf("has too many blocks (max %d)", constants.MaxSegmentsPerEntry))
	}
	return payload, nil
}

// ValidateOwnerID validates the authenticated owner identifier
func ValidateOwnerID(owner string) error {
	if owner == "" {
		return errors.NewAuthError("missing owner")
	}
	if len(owner) > constants.MaxOwnerIDLength {
		return errors.NewValidationError("owner", "is too long")
	}
	for _, char := range owner {
		if char == '\x00' || char == '\n' || char == '\r' {
			return errors.NewValidationError("owner", "contains invalid characters")
		}
	}
	return nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength < 0 {
		return nil
	}

	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes)).
			WithUserMessage("Request body too large")
	}

	return nil
}

// ValidateStringLength validates string length against bounds
func ValidateStringLength(value, fieldName string, minLength, maxLength int) error {
	if len(value) < minLength {
		return errors.NewValidationError(fieldName, fmt.Sprintf("too short (min %d characters)", minLength))
	}

	if len(value) > maxLength {
		return errors.NewValidationError(fieldName, fmt.Sprintf("too long (max %d characters)", maxLength))
	}

	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	if timeoutSec < 1 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s must be at least 1 second", fieldName))
	}

	if timeoutSec > 3600 { // Max 1 hour
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max 3600 seconds)", fieldName))
	}

	return nil
}
