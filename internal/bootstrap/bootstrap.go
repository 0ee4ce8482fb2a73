// Package bootstrap builds the queue pipeline from configuration. Both the
// long-running server and the Lambda scan function start here.
package bootstrap

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"socialqueue/internal/alert"
	"socialqueue/internal/blob"
	"socialqueue/internal/config"
	"socialqueue/internal/constants"
	"socialqueue/internal/database"
	"socialqueue/internal/dynamostore"
	"socialqueue/internal/models"
	"socialqueue/internal/retry"
	"socialqueue/internal/service"
	"socialqueue/internal/tracing"
	"socialqueue/pkg/twitter"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/sirupsen/logrus"
)

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Config  *models.Config
	Logger  *logrus.Logger
	Store   service.QueueStore
	Blobs   service.BlobStore
	Twitter *twitter.Client
	Channel *service.TwitterChannel
	Queue   *service.QueueService
	Scanner *service.Scanner
	Feed    *service.StatusFeed
	Tracing *tracing.TracingManager

	closers []func() error
}

// NewLogger returns the JSON logger at the configured level. Only verbose
// enables debug output; a configured debug or trace level is capped at info.
func NewLogger(level string, verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		return logger
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		if level != "" {
			logger.Warnf("Invalid log level %q, defaulting to info", level)
		}
		parsed = logrus.InfoLevel
	}
	if parsed > logrus.InfoLevel {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

// New builds every component named in cfg. On error, anything already
// opened is closed.
func New(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	app.Tracing = tracing.NewTracingManager(cfg.Tracing, logger)
	if err := app.Tracing.Initialize(ctx); err != nil {
		logger.WithError(err).Warn("Failed to initialize tracing")
	}
	app.closers = append(app.closers, func() error {
		return app.Tracing.Shutdown(context.Background())
	})

	var awsCfg *aws.Config
	if needsAWS(cfg) {
		loaded, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		awsCfg = &loaded
	}

	store, err := openStore(ctx, cfg, awsCfg, logger, app)
	if err != nil {
		app.close()
		return nil, err
	}
	app.Store = store

	blobs, err := openBlobs(cfg, awsCfg)
	if err != nil {
		app.close()
		return nil, err
	}
	app.Blobs = blobs

	notifier, err := newNotifier(cfg, awsCfg, logger)
	if err != nil {
		app.close()
		return nil, err
	}

	app.Twitter = NewTwitterClient(cfg, logger)
	app.Channel = service.NewTwitterChannel(app.Twitter, notifier, service.TwitterChannelConfig{
		SupportEmail: cfg.SupportEmail,
		AlertSubject: cfg.Alerts.Subject,
	}, logger)

	app.Feed = service.NewStatusFeed(logger)
	app.Queue = service.NewQueueService(app.Store, app.Blobs, service.QueueServiceConfig{
		Channel:        models.ChannelTwitter,
		InlineMaxBytes: cfg.PayloadInlineMaxBytes,
	}, logger)
	app.Scanner = service.NewScanner(app.Store, app.Blobs, []service.Channel{app.Channel}, app.Feed, service.ScannerConfig{
		Skew:        time.Duration(cfg.Scanner.SkewSec) * time.Second,
		Concurrency: cfg.Scanner.Concurrency,
		WriteBack:   retry.FromRetryConfig(cfg.Retry),
	}, logger)

	logger.WithFields(logrus.Fields{
		"database": cfg.Database.Driver,
		"blob":     cfg.Blob.Driver,
		"alerts":   cfg.Alerts.Driver,
	}).Info("Queue pipeline initialized")

	return app, nil
}

// NewTwitterClient builds the process-wide Twitter client from cfg.
func NewTwitterClient(cfg *models.Config, logger *logrus.Logger) *twitter.Client {
	return twitter.NewClient(twitter.Config{
		APIBaseURL:             cfg.Twitter.APIBaseURL,
		UploadBaseURL:          cfg.Twitter.UploadBaseURL,
		PermalinkBaseURL:       cfg.Twitter.PermalinkBaseURL,
		ConsumerKey:            cfg.Twitter.ConsumerKey,
		ConsumerSecret:         cfg.Twitter.ConsumerSecret,
		HTTPClient:             &http.Client{Timeout: time.Duration(cfg.Twitter.TimeoutSec) * time.Second},
		RequestsPerSecond:      cfg.Twitter.RequestsPerSecond,
		BreakerFailures:        cfg.Twitter.BreakerMaxFailures,
		BreakerReset:           time.Duration(cfg.Twitter.BreakerResetSec) * time.Second,
		MediaProcessingTimeout: time.Duration(cfg.Twitter.MediaProcessingTimeoutSec) * time.Second,
		Logger:                 logger,
	})
}

// Close releases stores and flushes tracing.
func (a *App) Close() error {
	return a.close()
}

func (a *App) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return stderrors.Join(errs...)
}

func needsAWS(cfg *models.Config) bool {
	return cfg.Database.Driver == config.DriverDynamoDB ||
		cfg.Blob.Driver == config.DriverS3 ||
		cfg.Alerts.Driver == config.DriverSES
}

func openStore(ctx context.Context, cfg *models.Config, awsCfg *aws.Config, logger *logrus.Logger, app *App) (service.QueueStore, error) {
	switch cfg.Database.Driver {
	case config.DriverDynamoDB:
		return dynamostore.New(dynamodb.NewFromConfig(*awsCfg), dynamostore.Config{
			Table:         cfg.Database.Table,
			ScheduleIndex: cfg.Database.ScheduleIndex,
			OwnerIndex:    cfg.Database.OwnerIndex,
		}), nil

	case config.DriverSQLite:
		var db *database.Database
		backoff := retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
			Multiplier:   2.0,
			MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
			Jitter:       true,
		})
		err := backoff.Retry(ctx, func() error {
			var initErr error
			db, initErr = database.New(cfg.Database.Path, database.EncryptionOptionsFromEnv())
			if initErr != nil {
				logger.WithError(initErr).Warn("Failed to initialize database")
			}
			return initErr
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database after retries: %w", err)
		}
		app.closers = append(app.closers, db.Close)
		return db, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func openBlobs(cfg *models.Config, awsCfg *aws.Config) (service.BlobStore, error) {
	switch cfg.Blob.Driver {
	case config.DriverS3:
		store, err := blob.NewS3Store(s3.NewFromConfig(*awsCfg), cfg.Blob.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 payload store: %w", err)
		}
		return store, nil
	case config.DriverFile:
		store, err := blob.NewFileStore(cfg.Blob.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize payload directory: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Blob.Driver)
	}
}

func newNotifier(cfg *models.Config, awsCfg *aws.Config, logger *logrus.Logger) (alert.Notifier, error) {
	if cfg.Alerts.Driver != config.DriverSES {
		return alert.NewLogNotifier(logger, cfg.Alerts.To), nil
	}
	notifier, err := alert.NewSESNotifier(sesv2.NewFromConfig(*awsCfg), cfg.Alerts.From, cfg.Alerts.To, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SES alerts: %w", err)
	}
	return notifier, nil
}
