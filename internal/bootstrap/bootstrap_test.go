package bootstrap

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"socialqueue/internal/config"
	"socialqueue/internal/models"
	"socialqueue/internal/service"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localConfig(t *testing.T) *models.Config {
	t.Helper()
	dir := t.TempDir()
	return &models.Config{
		Database: models.DatabaseConfig{Driver: config.DriverSQLite, Path: filepath.Join(dir, "queue.db")},
		Blob:     models.BlobConfig{Driver: config.DriverFile, Dir: filepath.Join(dir, "payloads")},
		Twitter: models.TwitterConfig{
			ConsumerKey:               "ck",
			ConsumerSecret:            "cs",
			TimeoutSec:                5,
			MediaProcessingTimeoutSec: 30,
		},
		Scanner:               models.ScannerConfig{SkewSec: 30, Concurrency: 2},
		Alerts:                models.AlertConfig{Driver: config.DriverLog, To: "ops@example.com"},
		Retry:                 models.RetryConfig{InitialBackoffMs: 1, MaxBackoffMs: 5, MaxAttempts: 2},
		PayloadInlineMaxBytes: 1024,
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestNew_LocalDrivers(t *testing.T) {
	app, err := New(context.Background(), localConfig(t), quietLogger())
	require.NoError(t, err)
	defer func() { assert.NoError(t, app.Close()) }()

	assert.NotNil(t, app.Store)
	assert.NotNil(t, app.Blobs)
	assert.NotNil(t, app.Twitter)
	assert.NotNil(t, app.Channel)
	assert.NotNil(t, app.Feed)
	assert.NotNil(t, app.Scanner)

	ctx := context.Background()
	scheduled := time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond)
	id, err := app.Queue.Enqueue(ctx, "alice@example.com", service.EnqueueRequest{
		ScheduledAt: scheduled,
		Credentials: `{"oauth_token":"t","oauth_token_secret":"s"}`,
		Payload:     `{"blocks":[{"text":"hello","uid":"blk-1"}]}`,
	})
	require.NoError(t, err)

	view, err := app.Queue.Get(ctx, "alice@example.com", id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, view.Status)
	assert.Equal(t, "blk-1", view.BlockUID)
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := localConfig(t)
	cfg.Database.Driver = "postgres"

	_, err := New(context.Background(), cfg, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown database driver")
}

func TestNew_BadDatabasePath(t *testing.T) {
	cfg := localConfig(t)
	cfg.Database.Path = filepath.Join(t.TempDir(), "missing", "queue.db")

	_, err := New(context.Background(), cfg, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize database after retries")
}

func TestNeedsAWS(t *testing.T) {
	cfg := localConfig(t)
	assert.False(t, needsAWS(cfg))

	cfg.Blob.Driver = config.DriverS3
	assert.True(t, needsAWS(cfg))

	cfg = localConfig(t)
	cfg.Alerts.Driver = config.DriverSES
	assert.True(t, needsAWS(cfg))

	cfg = localConfig(t)
	cfg.Database.Driver = config.DriverDynamoDB
	assert.True(t, needsAWS(cfg))
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level   string
		verbose bool
		want    logrus.Level
	}{
		{"", false, logrus.InfoLevel},
		{"warn", false, logrus.WarnLevel},
		{"error", false, logrus.ErrorLevel},
		{"debug", false, logrus.InfoLevel},
		{"nonsense", false, logrus.InfoLevel},
		{"error", true, logrus.DebugLevel},
	}

	for _, tt := range tests {
		logger := NewLogger(tt.level, tt.verbose)
		assert.Equal(t, tt.want, logger.GetLevel(), "level %q verbose %v", tt.level, tt.verbose)
		_, isJSON := logger.Formatter.(*logrus.JSONFormatter)
		assert.True(t, isJSON)
	}
}
