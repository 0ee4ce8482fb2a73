package service

import (
	"context"
	"time"

	"socialqueue/internal/models"
)

// QueueStore persists queue entries. Implementations: database.Database
// (SQLite) and dynamostore.Store (DynamoDB).
type QueueStore interface {
	Put(ctx context.Context, entry *models.QueueEntry) error
	// Get returns nil and no error when the id is unknown.
	Get(ctx context.Context, id string) (*models.QueueEntry, error)
	// QueryDue returns the channel's entries with ScheduledAt in [from, to),
	// whatever their status.
	QueryDue(ctx context.Context, channel models.Channel, from, to time.Time) ([]*models.QueueEntry, error)
	ListByOwner(ctx context.Context, owner string, channel models.Channel) ([]*models.QueueEntry, error)
	// Update rewrites the schedule, credentials and payload of a PENDING entry.
	Update(ctx context.Context, entry *models.QueueEntry) error
	// Complete writes the terminal status. It fails with
	// models.ErrAlreadyCompleted once the entry has left PENDING.
	Complete(ctx context.Context, id string, status models.Status, message string) error
	Delete(ctx context.Context, id string) error
}

// BlobStore holds payload documents too large to keep on the entry.
type BlobStore interface {
	Put(ctx context.Context, key string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
