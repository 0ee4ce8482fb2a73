// Package dynamostore keeps queue entries in a DynamoDB table keyed by uuid,
// with a schedule index (channel, date) and an owner index (userId, channel).
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"socialqueue/internal/constants"
	"socialqueue/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// API is the subset of the DynamoDB client the store calls.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type Config struct {
	Table         string
	ScheduleIndex string
	OwnerIndex    string
}

// Item attribute names.
const (
	attrID          = "uuid"
	attrChannel     = "channel"
	attrOwner       = "userId"
	attrCreated     = "created"
	attrDate        = "date"
	attrCredentials = "oauth"
	attrPayload     = "payload"
	attrPayloadKey  = "payloadKey"
	attrBlockRef    = "blockUid"
	attrStatus      = "status"
	attrMessage     = "message"
	attrCompleted   = "completed"
)

// dateLayout is fixed width so that string order is time order.
const dateLayout = "2006-01-02T15:04:05.000Z"

type Store struct {
	api API
	cfg Config
	now func() time.Time
}

func New(api API, cfg Config) *Store {
	if cfg.Table == "" {
		cfg.Table = constants.DefaultDynamoTable
	}
	if cfg.ScheduleIndex == "" {
		cfg.ScheduleIndex = constants.DefaultScheduleIndex
	}
	if cfg.OwnerIndex == "" {
		cfg.OwnerIndex = constants.DefaultOwnerIndex
	}
	return &Store{api: api, cfg: cfg, now: time.Now}
}

func (s *Store) Put(ctx context.Context, entry *models.QueueEntry) error {
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.cfg.Table),
		Item:                     marshalEntry(entry),
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": attrID},
	})
	if err != nil {
		return fmt.Errorf("failed to put queue entry: %w", err)
	}
	return nil
}

// Get returns the entry with the given id, or nil when there is none.
func (s *Store) Get(ctx context.Context, id string) (*models.QueueEntry, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.cfg.Table),
		Key:            keyOf(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return unmarshalEntry(out.Item)
}

// QueryDue returns the entries of a channel scheduled within [from, to).
// Dates have millisecond precision, so the exclusive bound becomes to-1ms.
func (s *Store) QueryDue(ctx context.Context, channel models.Channel, from, to time.Time) ([]*models.QueueEntry, error) {
	if !from.Before(to) {
		return nil, nil
	}
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.cfg.Table),
		IndexName:              aws.String(s.cfg.ScheduleIndex),
		KeyConditionExpression: aws.String("#channel = :channel AND #date BETWEEN :from AND :to"),
		ExpressionAttributeNames: map[string]string{
			"#channel": attrChannel,
			"#date":    attrDate,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":channel": str(string(channel)),
			":from":    str(formatDate(from)),
			":to":      str(formatDate(to.Add(-time.Millisecond))),
		},
	}
	entries, err := s.query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query due entries: %w", err)
	}
	return entries, nil
}

func (s *Store) ListByOwner(ctx context.Context, owner string, channel models.Channel) ([]*models.QueueEntry, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.cfg.Table),
		IndexName:              aws.String(s.cfg.OwnerIndex),
		KeyConditionExpression: aws.String("#owner = :owner AND #channel = :channel"),
		ExpressionAttributeNames: map[string]string{
			"#owner":   attrOwner,
			"#channel": attrChannel,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner":   str(owner),
			":channel": str(string(channel)),
		},
	}
	entries, err := s.query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return entries, nil
}

// Update rewrites the schedule, payload and credentials of a PENDING entry.
func (s *Store) Update(ctx context.Context, entry *models.QueueEntry) error {
	names := map[string]string{
		"#id":     attrID,
		"#status": attrStatus,
		"#date":   attrDate,
		"#oauth":  attrCredentials,
		"#pl":     attrPayload,
		"#plk":    attrPayloadKey,
		"#block":  attrBlockRef,
	}
	values := map[string]types.AttributeValue{
		":pending": str(string(models.StatusPending)),
		":date":    str(formatDate(entry.ScheduledAt)),
		":oauth":   str(entry.Credentials),
	}

	set := "SET #date = :date, #oauth = :oauth"
	var remove []string
	for _, f := range []struct{ name, placeholder, value string }{
		{"#pl", ":pl", entry.Payload},
		{"#plk", ":plk", entry.PayloadKey},
		{"#block", ":block", entry.SourceBlockRef},
	} {
		if f.value == "" {
			remove = append(remove, f.name)
			continue
		}
		set += ", " + f.name + " = " + f.placeholder
		values[f.placeholder] = str(f.value)
	}
	expr := set
	if len(remove) > 0 {
		expr += " REMOVE " + strings.Join(remove, ", ")
	}

	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.cfg.Table),
		Key:                       keyOf(entry.ID),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(#id) AND #status = :pending"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return s.conditionalFailure(ctx, entry.ID, err, "failed to update queue entry")
	}
	return nil
}

// Complete moves a PENDING entry to its terminal status. The write is
// conditional, so a second completion gets models.ErrAlreadyCompleted.
func (s *Store) Complete(ctx context.Context, id string, status models.Status, message string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.cfg.Table),
		Key:                 keyOf(id),
		UpdateExpression:    aws.String("SET #status = :status, #message = :message, #completed = :completed"),
		ConditionExpression: aws.String("attribute_exists(#id) AND #status = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#id":        attrID,
			"#status":    attrStatus,
			"#message":   attrMessage,
			"#completed": attrCompleted,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":    str(string(status)),
			":message":   str(message),
			":completed": str(formatDate(s.now())),
			":pending":   str(string(models.StatusPending)),
		},
	})
	if err != nil {
		return s.conditionalFailure(ctx, id, err, "failed to complete queue entry")
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.cfg.Table),
		Key:       keyOf(id),
	})
	if err != nil {
		return fmt.Errorf("failed to delete queue entry: %w", err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, input *dynamodb.QueryInput) ([]*models.QueueEntry, error) {
	var entries []*models.QueueEntry
	for {
		out, err := s.api.Query(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, item := range out.Items {
			entry, err := unmarshalEntry(item)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return entries, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// conditionalFailure tells a missing entry from one that already left PENDING.
func (s *Store) conditionalFailure(ctx context.Context, id string, err error, msg string) error {
	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	entry, getErr := s.Get(ctx, id)
	if getErr != nil {
		return getErr
	}
	if entry == nil {
		return models.ErrEntryNotFound
	}
	return models.ErrAlreadyCompleted
}

func keyOf(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrID: str(id)}
}

func str(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}
