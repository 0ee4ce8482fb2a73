package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"socialqueue/internal/constants"
	apperrors "socialqueue/internal/errors"
	"socialqueue/internal/metrics"
	"socialqueue/internal/models"
	"socialqueue/internal/retry"
	"socialqueue/internal/tracing"

	"github.com/sirupsen/logrus"
)

// Window returns the half-open range [from, to) a tick scans. For a
// minute-aligned tick T it is [T-30s, T+30s) with the default skew, so every
// scheduled time falls into exactly one tick's window.
func Window(tick time.Time, skew time.Duration) (time.Time, time.Time) {
	to := tick.UTC().Round(time.Minute).Add(skew)
	return to.Add(-constants.ScanWindowWidth), to
}

type ScannerConfig struct {
	Skew        time.Duration
	Concurrency int
	WriteBack   retry.BackoffConfig
}

// ScanReport summarizes one tick.
type ScanReport struct {
	From      time.Time
	To        time.Time
	Matched   int
	Succeeded int
	Failed    int
	// Unrecorded counts dispatched entries whose terminal status could not be
	// written. They stay PENDING.
	Unrecorded int
}

// Scanner selects the entries due in a tick's window and dispatches them.
type Scanner struct {
	store    QueueStore
	blobs    BlobStore
	channels []Channel
	feed     *StatusFeed
	cfg      ScannerConfig
	logger   *logrus.Logger
	now      func() time.Time
}

func NewScanner(store QueueStore, blobs BlobStore, channels []Channel, feed *StatusFeed, cfg ScannerConfig, logger *logrus.Logger) *Scanner {
	if cfg.Skew == 0 {
		cfg.Skew = constants.DefaultWindowSkew
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = constants.DefaultScanWorkers
	}
	if cfg.WriteBack.MaxAttempts == 0 {
		cfg.WriteBack = retry.DefaultBackoffConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		store:    store,
		blobs:    blobs,
		channels: channels,
		feed:     feed,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Run processes one tick. Channels are queried concurrently and their due
// entries dispatched concurrently, at most cfg.Concurrency at a time. A
// failing channel query does not stop the other channels; the query errors
// are returned together once every started dispatch has finished.
func (s *Scanner) Run(ctx context.Context, tick time.Time) (ScanReport, error) {
	from, to := Window(tick, s.cfg.Skew)
	report := ScanReport{From: from, To: to}
	start := time.Now()

	ctx, span := tracing.StartScanSpan(ctx, from, to)
	defer span.End()

	logger := s.logger.WithFields(logrus.Fields{
		LogFieldWindowFrom: from.Format(time.RFC3339),
		LogFieldWindowTo:   to.Format(time.RFC3339),
	})
	logger.Debug("Scanning queue")
	metrics.IncrementCounter(metrics.ScanTicksTotal, nil, "Scanner ticks")

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		queryErr []error
	)
	sem := make(chan struct{}, s.cfg.Concurrency)

	for _, channel := range s.channels {
		wg.Add(1)
		go func(channel Channel) {
			defer wg.Done()

			entries, err := s.store.QueryDue(ctx, channel.Name(), from, to)
			if err != nil {
				appErr := apperrors.NewDatabaseError("query due", err).WithContext("channel", channel.Name())
				logger.WithFields(apperrors.Fields(appErr)).Error("Failed to query due entries")
				tracing.RecordError(ctx, appErr)
				mu.Lock()
				queryErr = append(queryErr, appErr)
				mu.Unlock()
				return
			}

			var entryWG sync.WaitGroup
			for _, entry := range entries {
				if entry.Status != models.StatusPending {
					logger.WithFields(logrus.Fields{
						LogFieldEntryID: SanitizeEntryID(entry.ID),
						LogFieldStatus:  entry.Status,
					}).Debug("Skipping entry that is no longer pending")
					continue
				}

				mu.Lock()
				report.Matched++
				mu.Unlock()

				entryWG.Add(1)
				sem <- struct{}{}
				go func(entry *models.QueueEntry) {
					defer entryWG.Done()
					defer func() { <-sem }()

					status, recorded := s.process(ctx, channel, entry)
					mu.Lock()
					defer mu.Unlock()
					if status == models.StatusSuccess {
						report.Succeeded++
					} else {
						report.Failed++
					}
					if !recorded {
						report.Unrecorded++
					}
				}(entry)
			}
			entryWG.Wait()
		}(channel)
	}
	wg.Wait()

	duration := time.Since(start)
	metrics.GetRegistry().AddToCounter(metrics.EntriesMatchedTotal, float64(report.Matched), nil, "Queue entries matched by a scan window")
	metrics.RecordTimer(metrics.ScanDuration, duration, nil, "Scanner tick duration")

	logger.WithFields(logrus.Fields{
		LogFieldCount:    report.Matched,
		"succeeded":      report.Succeeded,
		"failed":         report.Failed,
		"unrecorded":     report.Unrecorded,
		LogFieldDuration: duration.Milliseconds(),
	}).Info("Scan completed")

	return report, stderrors.Join(queryErr...)
}

// process dispatches one entry and records its terminal status. It reports
// the dispatch status and whether the status was written.
func (s *Scanner) process(ctx context.Context, channel Channel, entry *models.QueueEntry) (models.Status, bool) {
	ctx, span := tracing.StartDispatchSpan(ctx, entry.ID, string(entry.Channel))
	defer span.End()

	logger := s.logger.WithFields(logrus.Fields{
		LogFieldEntryID: SanitizeEntryID(entry.ID),
		LogFieldChannel: entry.Channel,
		LogFieldOwner:   SanitizeOwner(ctx, entry.OwnerID),
	})

	start := time.Now()
	status, message := s.dispatch(ctx, channel, entry, logger)
	metrics.RecordTimer(metrics.DispatchDuration, time.Since(start), map[string]string{"channel": string(entry.Channel)}, "Entry dispatch duration")
	metrics.IncrementCounter(metrics.EntriesDispatchedTotal, map[string]string{
		"channel": string(entry.Channel),
		"status":  string(status),
	}, "Queue entries dispatched")
	tracing.AddSpanAttributes(ctx, tracing.AttrStatus.String(string(status)))

	// The write-back outlives cancellation of the tick so a finished
	// dispatch is not left PENDING.
	writeCtx := context.WithoutCancel(ctx)
	if err := s.complete(writeCtx, entry, status, message, logger); err != nil {
		return status, false
	}

	if s.feed != nil {
		s.feed.Publish(models.StatusEvent{
			ID:      entry.ID,
			OwnerID: entry.OwnerID,
			Channel: entry.Channel,
			Status:  status,
			Message: message,
			At:      s.now().UTC().Format(viewDateLayout),
		})
	}
	return status, true
}

// dispatch runs the channel for one entry. Any error or panic becomes a
// FAILED status with its message.
func (s *Scanner) dispatch(ctx context.Context, channel Channel, entry *models.QueueEntry, logger *logrus.Entry) (status models.Status, message string) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("Dispatch panicked")
			status, message = models.StatusFailed, fmt.Sprintf("Unexpected error: %v", r)
		}
	}()

	payload, err := LoadPayload(ctx, s.blobs, entry)
	if err != nil {
		apperrors.Log(logger, err, "Failed to load payload")
		tracing.RecordError(ctx, err)
		return models.StatusFailed, apperrors.ResultMessage(err)
	}
	tracing.AddSpanAttributes(ctx, tracing.AttrSegmentCount.Int(len(payload.Blocks)))

	creds, err := models.ParseCredentials(entry.Credentials)
	if err != nil {
		logger.WithError(err).Error("Failed to read credentials")
		tracing.RecordError(ctx, err)
		return models.StatusFailed, err.Error()
	}

	link, err := channel.Dispatch(ctx, payload.Blocks, creds)
	if err != nil {
		logger.WithFields(apperrors.Fields(err)).
			WithField(LogFieldSegmentCount, len(payload.Blocks)).
			Warn("Thread dispatch failed")
		tracing.RecordError(ctx, err)
		return models.StatusFailed, apperrors.ResultMessage(err)
	}

	logger.WithFields(logrus.Fields{
		LogFieldSegmentCount: len(payload.Blocks),
		LogFieldURL:          link,
	}).Info("Thread dispatched")
	return models.StatusSuccess, link
}

// complete writes the terminal status, retrying transient store failures.
// An entry another run has already completed is left as it is.
func (s *Scanner) complete(ctx context.Context, entry *models.QueueEntry, status models.Status, message string, logger *logrus.Entry) error {
	backoff := retry.NewBackoff(s.cfg.WriteBack)
	backoff.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.WithError(err).WithFields(logrus.Fields{
			LogFieldAttempt:  attempt,
			LogFieldDuration: delay.Milliseconds(),
		}).Warn("Retrying status write-back")
	}

	err := backoff.RetryWithPredicate(ctx, func() error {
		return s.store.Complete(ctx, entry.ID, status, message)
	}, func(err error) bool {
		return !stderrors.Is(err, models.ErrAlreadyCompleted) && !stderrors.Is(err, models.ErrEntryNotFound)
	})
	if err == nil {
		return nil
	}

	if stderrors.Is(err, models.ErrAlreadyCompleted) {
		logger.WithField(LogFieldStatus, status).Warn("Entry was already completed, keeping the recorded status")
	} else {
		metrics.IncrementCounter(metrics.StatusWritebackFailures, nil, "Terminal status writes that failed")
		logger.WithError(err).WithField(LogFieldStatus, status).Error("Failed to record entry status, entry remains pending")
	}
	return err
}
