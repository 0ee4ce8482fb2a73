package dynamostore

import (
	"fmt"
	"time"

	"socialqueue/internal/models"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func marshalEntry(e *models.QueueEntry) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		attrID:          str(e.ID),
		attrChannel:     str(string(e.Channel)),
		attrOwner:       str(e.OwnerID),
		attrCreated:     str(formatDate(e.CreatedAt)),
		attrDate:        str(formatDate(e.ScheduledAt)),
		attrCredentials: str(e.Credentials),
		attrStatus:      str(string(e.Status)),
	}
	// Empty strings are omitted rather than stored.
	optional := map[string]string{
		attrPayload:    e.Payload,
		attrPayloadKey: e.PayloadKey,
		attrBlockRef:   e.SourceBlockRef,
		attrMessage:    e.ResultMessage,
	}
	for name, value := range optional {
		if value != "" {
			item[name] = str(value)
		}
	}
	if e.CompletedAt != nil {
		item[attrCompleted] = str(formatDate(*e.CompletedAt))
	}
	return item
}

func unmarshalEntry(item map[string]types.AttributeValue) (*models.QueueEntry, error) {
	e := &models.QueueEntry{
		ID:             stringAttr(item, attrID),
		Channel:        models.Channel(stringAttr(item, attrChannel)),
		OwnerID:        stringAttr(item, attrOwner),
		Credentials:    stringAttr(item, attrCredentials),
		Payload:        stringAttr(item, attrPayload),
		PayloadKey:     stringAttr(item, attrPayloadKey),
		SourceBlockRef: stringAttr(item, attrBlockRef),
		Status:         models.Status(stringAttr(item, attrStatus)),
		ResultMessage:  stringAttr(item, attrMessage),
	}
	if e.ID == "" {
		return nil, fmt.Errorf("item has no %s attribute", attrID)
	}

	var err error
	if e.CreatedAt, err = parseDate(item, attrCreated); err != nil {
		return nil, err
	}
	if e.ScheduledAt, err = parseDate(item, attrDate); err != nil {
		return nil, err
	}
	if _, ok := item[attrCompleted]; ok {
		completed, err := parseDate(item, attrCompleted)
		if err != nil {
			return nil, err
		}
		e.CompletedAt = &completed
	}
	return e, nil
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

// parseDate accepts the fixed-width layout and any RFC 3339 timestamp.
func parseDate(item map[string]types.AttributeValue, name string) (time.Time, error) {
	raw := stringAttr(item, name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s attribute %q: %w", name, raw, err)
	}
	return t.UTC(), nil
}
