package service

import (
	"context"
	stderrors "errors"
	"time"

	"socialqueue/internal/blob"
	"socialqueue/internal/constants"
	apperrors "socialqueue/internal/errors"
	"socialqueue/internal/metrics"
	"socialqueue/internal/models"
	"socialqueue/internal/validation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// viewDateLayout matches JavaScript's Date.prototype.toJSON.
const viewDateLayout = "2006-01-02T15:04:05.000Z"

// EnqueueRequest carries a new thread to schedule. Credentials and Payload are
// the serialized documents exactly as the client sent them.
type EnqueueRequest struct {
	ScheduledAt    time.Time
	Credentials    string
	Payload        string
	SourceBlockRef string
}

// UpdateRequest replaces the schedule and payload of a PENDING entry.
// Credentials and SourceBlockRef are only replaced when non-empty.
type UpdateRequest struct {
	ScheduledAt    time.Time
	Payload        string
	Credentials    string
	SourceBlockRef string
}

type QueueServiceConfig struct {
	Channel        models.Channel
	InlineMaxBytes int
}

// QueueService backs the scheduling endpoints: enqueue, read, update and cancel.
type QueueService struct {
	store  QueueStore
	blobs  BlobStore
	cfg    QueueServiceConfig
	logger *logrus.Logger
	now    func() time.Time
	newID  func() string
}

func NewQueueService(store QueueStore, blobs BlobStore, cfg QueueServiceConfig, logger *logrus.Logger) *QueueService {
	if cfg.Channel == "" {
		cfg.Channel = models.ChannelTwitter
	}
	if cfg.InlineMaxBytes <= 0 {
		cfg.InlineMaxBytes = constants.DefaultPayloadInlineMaxBytes
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &QueueService{
		store:  store,
		blobs:  blobs,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Enqueue stores a new PENDING entry and returns its id.
func (s *QueueService) Enqueue(ctx context.Context, owner string, req EnqueueRequest) (string, error) {
	if err := validation.ValidateOwnerID(owner); err != nil {
		return "", err
	}
	if req.ScheduledAt.IsZero() {
		return "", apperrors.NewValidationError("scheduleDate", "is required")
	}
	if err := validation.ValidateCredentials(req.Credentials); err != nil {
		return "", err
	}
	payload, err := validation.ValidatePayload(req.Payload)
	if err != nil {
		return "", err
	}

	entry := &models.QueueEntry{
		ID:             s.newID(),
		Channel:        s.cfg.Channel,
		OwnerID:        owner,
		CreatedAt:      s.now().UTC(),
		ScheduledAt:    req.ScheduledAt.UTC(),
		Credentials:    req.Credentials,
		SourceBlockRef: req.SourceBlockRef,
		Status:         models.StatusPending,
	}
	if entry.SourceBlockRef == "" {
		entry.SourceBlockRef = payload.FirstUID()
	}
	if err := s.placePayload(ctx, entry, req.Payload, blob.PayloadKey(entry.Channel, entry.ID)); err != nil {
		return "", err
	}

	if err := s.store.Put(ctx, entry); err != nil {
		if entry.PayloadKey != "" {
			s.deleteBlob(ctx, entry.PayloadKey)
		}
		return "", apperrors.NewDatabaseError("put", err)
	}

	metrics.IncrementCounter(metrics.EntriesEnqueuedTotal, map[string]string{"channel": string(entry.Channel)}, "Queue entries created")
	s.logger.WithFields(logrus.Fields{
		LogFieldEntryID:     entry.ID,
		LogFieldOwner:       SanitizeOwner(ctx, owner),
		LogFieldChannel:     entry.Channel,
		LogFieldScheduledAt: entry.ScheduledAt.Format(time.RFC3339),
		LogFieldSize:        len(req.Payload),
		LogFieldPayloadKey:  entry.PayloadKey,
	}).Info("Entry scheduled")
	return entry.ID, nil
}

// Get returns one of the owner's entries.
func (s *QueueService) Get(ctx context.Context, owner, id string) (*models.EntryView, error) {
	entry, err := s.owned(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	view := s.view(entry)
	return &view, nil
}

// List returns every entry the owner has scheduled on the service's channel.
func (s *QueueService) List(ctx context.Context, owner string) ([]models.EntryView, error) {
	if err := validation.ValidateOwnerID(owner); err != nil {
		return nil, err
	}
	entries, err := s.store.ListByOwner(ctx, owner, s.cfg.Channel)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list", err)
	}
	views := make([]models.EntryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, s.view(entry))
	}
	return views, nil
}

// Update reschedules a PENDING entry and replaces its payload.
func (s *QueueService) Update(ctx context.Context, owner, id string, req UpdateRequest) error {
	entry, err := s.owned(ctx, owner, id)
	if err != nil {
		return err
	}
	if entry.Status != models.StatusPending {
		return alreadyDispatched(id)
	}
	if req.ScheduledAt.IsZero() {
		return apperrors.NewValidationError("scheduleDate", "is required")
	}
	payload, err := validation.ValidatePayload(req.Payload)
	if err != nil {
		return err
	}
	if req.Credentials != "" {
		if err := validation.ValidateCredentials(req.Credentials); err != nil {
			return err
		}
		entry.Credentials = req.Credentials
	}
	if req.SourceBlockRef != "" {
		entry.SourceBlockRef = req.SourceBlockRef
	} else if entry.SourceBlockRef == "" {
		entry.SourceBlockRef = payload.FirstUID()
	}

	previousKey := entry.PayloadKey
	entry.ScheduledAt = req.ScheduledAt.UTC()
	revisionKey := blob.RevisionKey(entry.Channel, entry.ID, uuid.NewString())
	if err := s.placePayload(ctx, entry, req.Payload, revisionKey); err != nil {
		return err
	}

	if err := s.store.Update(ctx, entry); err != nil {
		if entry.PayloadKey != "" {
			s.deleteBlob(ctx, entry.PayloadKey)
		}
		switch {
		case stderrors.Is(err, models.ErrAlreadyCompleted):
			return alreadyDispatched(id)
		case stderrors.Is(err, models.ErrEntryNotFound):
			return apperrors.NewNotFoundError("scheduled entry", id)
		default:
			return apperrors.NewDatabaseError("update", err)
		}
	}
	if previousKey != "" && previousKey != entry.PayloadKey {
		s.deleteBlob(ctx, previousKey)
	}

	s.logger.WithFields(logrus.Fields{
		LogFieldEntryID:     id,
		LogFieldOwner:       SanitizeOwner(ctx, owner),
		LogFieldScheduledAt: entry.ScheduledAt.Format(time.RFC3339),
	}).Info("Entry updated")
	return nil
}

// Cancel removes an entry and its stored payload. Removing the payload is
// best effort.
func (s *QueueService) Cancel(ctx context.Context, owner, id string) error {
	entry, err := s.owned(ctx, owner, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return apperrors.NewDatabaseError("delete", err)
	}
	if entry.PayloadKey != "" {
		s.deleteBlob(ctx, entry.PayloadKey)
	}

	s.logger.WithFields(logrus.Fields{
		LogFieldEntryID: id,
		LogFieldOwner:   SanitizeOwner(ctx, owner),
		LogFieldStatus:  entry.Status,
	}).Info("Entry cancelled")
	return nil
}

// owned loads an entry and hides entries of other owners behind NOT_FOUND.
func (s *QueueService) owned(ctx context.Context, owner, id string) (*models.QueueEntry, error) {
	if err := validation.ValidateOwnerID(owner); err != nil {
		return nil, err
	}
	if err := validation.ValidateEntryID(id); err != nil {
		return nil, err
	}
	entry, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get", err)
	}
	if entry == nil || entry.OwnerID != owner || entry.Channel != s.cfg.Channel {
		return nil, apperrors.NewNotFoundError("scheduled entry", id)
	}
	return entry, nil
}

// placePayload keeps small payloads on the entry and writes larger ones to
// the blob store under key.
func (s *QueueService) placePayload(ctx context.Context, entry *models.QueueEntry, raw, key string) error {
	if len(raw) <= s.cfg.InlineMaxBytes {
		entry.Payload = raw
		entry.PayloadKey = ""
		return nil
	}
	if s.blobs == nil {
		return apperrors.NewValidationError("payload",
			"is too large to store inline and no blob store is configured")
	}

	if err := s.blobs.Put(ctx, key, []byte(raw)); err != nil {
		return apperrors.NewBlobError("put", key, err)
	}
	entry.Payload = ""
	entry.PayloadKey = key
	return nil
}

func (s *QueueService) deleteBlob(ctx context.Context, key string) {
	if s.blobs == nil {
		return
	}
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.logger.WithError(err).WithField(LogFieldPayloadKey, key).Warn("Failed to delete payload blob")
	}
}

func (s *QueueService) view(entry *models.QueueEntry) models.EntryView {
	blockUID := entry.SourceBlockRef
	if blockUID == "" && entry.Payload != "" {
		if payload, err := models.ParsePayload([]byte(entry.Payload)); err == nil {
			blockUID = payload.FirstUID()
		}
	}
	return models.EntryView{
		ID:            entry.ID,
		BlockUID:      blockUID,
		CreatedDate:   entry.CreatedAt.UTC().Format(viewDateLayout),
		ScheduledDate: entry.ScheduledAt.UTC().Format(viewDateLayout),
		Status:        entry.Status,
		Message:       entry.ResultMessage,
	}
}

func alreadyDispatched(id string) *apperrors.AppError {
	return apperrors.New(apperrors.ErrCodeAlreadyDispatched, "entry is no longer pending").
		WithContext("entry_id", id).
		WithUserMessage("This post has already been sent and can no longer be changed.")
}

// LoadPayload reads an entry's payload from the entry itself or the blob store.
// Failures carry the underlying error text as their user message so it is
// recorded on the entry verbatim.
func LoadPayload(ctx context.Context, blobs BlobStore, entry *models.QueueEntry) (*models.Payload, error) {
	raw := []byte(entry.Payload)
	if entry.PayloadKey != "" {
		if blobs == nil {
			return nil, apperrors.New(apperrors.ErrCodeBlobStore, "no blob store configured").
				WithContext("key", entry.PayloadKey).
				WithUserMessage("Payload is stored externally but no blob store is configured")
		}
		body, err := blobs.Get(ctx, entry.PayloadKey)
		if err != nil {
			return nil, apperrors.NewBlobError("get", entry.PayloadKey, err).WithUserMessage(err.Error())
		}
		raw = body
	}

	payload, err := models.ParsePayload(raw)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidationFailed, "stored payload is invalid").
			WithContext("entry_id", entry.ID).
			WithUserMessage(err.Error())
	}
	return payload, nil
}
