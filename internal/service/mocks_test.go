package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"socialqueue/internal/blob"
	"socialqueue/internal/models"
	"socialqueue/pkg/oauth1"
	"socialqueue/pkg/twitter/types"

	"github.com/stretchr/testify/mock"
)

// Mock Twitter API
type mockTwitterAPI struct {
	mock.Mock
}

func (m *mockTwitterAPI) UploadAll(ctx context.Context, urls []string, token oauth1.Token) ([]string, error) {
	args := m.Called(ctx, urls, token)
	if ids := args.Get(0); ids != nil {
		return ids.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTwitterAPI) PostStatus(ctx context.Context, update types.StatusUpdate, token oauth1.Token) (*types.Status, error) {
	args := m.Called(ctx, update, token)
	if status := args.Get(0); status != nil {
		return status.(*types.Status), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTwitterAPI) Permalink(handle, statusID string) string {
	return fmt.Sprintf("https://twitter.com/%s/status/%s", handle, statusID)
}

func postedStatus(id string) *types.Status {
	return &types.Status{IDStr: id, User: types.User{ScreenName: "acme"}}
}

// Recording alert notifier
type recordedAlert struct {
	Subject string
	Body    string
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []recordedAlert
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, recordedAlert{Subject: subject, Body: body})
	return n.err
}

func (n *recordingNotifier) sent() []recordedAlert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]recordedAlert(nil), n.alerts...)
}

// Mock channel
type mockChannel struct {
	mock.Mock
	name models.Channel
}

func (m *mockChannel) Name() models.Channel {
	return m.name
}

func (m *mockChannel) Dispatch(ctx context.Context, segments []models.Segment, creds models.Credentials) (string, error) {
	args := m.Called(ctx, segments, creds)
	return args.String(0), args.Error(1)
}

// memStore is an in-memory QueueStore with the same conditional semantics
// as the real stores.
type memStore struct {
	mu      sync.Mutex
	entries map[string]*models.QueueEntry

	queryErr  error
	updateErr error

	// completeFailures makes the next n Complete calls fail with completeErr.
	completeFailures int
	completeErr      error
	completeCalls    int
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]*models.QueueEntry)}
}

func (s *memStore) Put(_ context.Context, entry *models.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.ID]; ok {
		return fmt.Errorf("duplicate id %s", entry.ID)
	}
	copied := *entry
	s.entries[entry.ID] = &copied
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, nil
	}
	copied := *entry
	return &copied, nil
}

func (s *memStore) QueryDue(_ context.Context, channel models.Channel, from, to time.Time) ([]*models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	var out []*models.QueueEntry
	for _, entry := range s.entries {
		if entry.Channel == channel && !entry.ScheduledAt.Before(from) && entry.ScheduledAt.Before(to) {
			copied := *entry
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (s *memStore) ListByOwner(_ context.Context, owner string, channel models.Channel) ([]*models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.QueueEntry
	for _, entry := range s.entries {
		if entry.OwnerID == owner && entry.Channel == channel {
			copied := *entry
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (s *memStore) Update(_ context.Context, entry *models.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	current, ok := s.entries[entry.ID]
	if !ok {
		return models.ErrEntryNotFound
	}
	if current.Status != models.StatusPending {
		return models.ErrAlreadyCompleted
	}
	copied := *entry
	copied.Status = models.StatusPending
	s.entries[entry.ID] = &copied
	return nil
}

func (s *memStore) Complete(_ context.Context, id string, status models.Status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completeCalls++
	if s.completeFailures > 0 {
		s.completeFailures--
		return s.completeErr
	}
	current, ok := s.entries[id]
	if !ok {
		return models.ErrEntryNotFound
	}
	if current.Status != models.StatusPending {
		return models.ErrAlreadyCompleted
	}
	now := time.Now().UTC()
	current.Status = status
	current.ResultMessage = message
	current.CompletedAt = &now
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *memStore) entry(id string) *models.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil
	}
	copied := *entry
	return &copied
}

// memBlobs is an in-memory BlobStore.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte)}
}

func (b *memBlobs) Put(_ context.Context, key string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putErr != nil {
		return b.putErr
	}
	b.objects[key] = append([]byte(nil), body...)
	return nil
}

func (b *memBlobs) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	body, ok := b.objects[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return body, nil
}

func (b *memBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *memBlobs) has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok
}
