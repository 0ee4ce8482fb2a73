package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"socialqueue/internal/constants"
	"socialqueue/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks the variables the loader reads so the host environment
// does not leak into a test. Variables that must be settable from a .env file
// are unset entirely and restored afterwards.
func clearEnv(t *testing.T, unset ...string) {
	t.Helper()
	for _, key := range []string{
		"TWITTER_CONSUMER_KEY", "TWITTER_CONSUMER_SECRET", "TWITTER_CALLBACK_URL",
		"SOCIALQUEUE_DB_DRIVER", "SOCIALQUEUE_DB_PATH", "SOCIALQUEUE_TABLE",
		"SOCIALQUEUE_BLOB_DRIVER", "SOCIALQUEUE_BUCKET", "SOCIALQUEUE_BLOB_DIR",
		"SOCIALQUEUE_ALERT_DRIVER", "SOCIALQUEUE_SUPPORT_EMAIL", "LOG_LEVEL", "PORT",
		"SOCIALQUEUE_ENV",
	} {
		t.Setenv(key, "")
	}
	for _, key := range unset {
		require.NoError(t, os.Unsetenv(key))
	}
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()

	validConfig := `{
		"twitter": {
			"consumer_key": "ck",
			"consumer_secret": "cs",
			"timeout_sec": 20
		},
		"database": {
			"path": "/path/to/queue.db"
		},
		"scanner": {
			"schedule": "*/2 * * * *",
			"concurrency": 4
		},
		"retry": {
			"initialBackoffMs": 1000,
			"maxBackoffMs": 5000,
			"maxAttempts": 3
		},
		"api_tokens": {
			"token": "alice@example.com"
		}
	}`

	t.Run("valid config", func(t *testing.T) {
		config, err := LoadConfig(writeConfig(t, tmpDir, validConfig))
		require.NoError(t, err)

		assert.Equal(t, "ck", config.Twitter.ConsumerKey)
		assert.Equal(t, 20, config.Twitter.TimeoutSec)
		assert.Equal(t, "/path/to/queue.db", config.Database.Path)
		assert.Equal(t, "*/2 * * * *", config.Scanner.Schedule)
		assert.Equal(t, 4, config.Scanner.Concurrency)
		assert.Equal(t, 1000, config.Retry.InitialBackoffMs)
		assert.Equal(t, "alice@example.com", config.APITokens["token"])
	})

	t.Run("defaults applied", func(t *testing.T) {
		config, err := LoadConfig(writeConfig(t, t.TempDir(), `{"twitter":{"consumer_key":"ck","consumer_secret":"cs"}}`))
		require.NoError(t, err)

		assert.Equal(t, DriverSQLite, config.Database.Driver)
		assert.Equal(t, constants.DefaultDatabasePath, config.Database.Path)
		assert.Equal(t, DriverFile, config.Blob.Driver)
		assert.Equal(t, constants.DefaultBlobDir, config.Blob.Dir)
		assert.Equal(t, DriverLog, config.Alerts.Driver)
		assert.Equal(t, constants.DefaultSupportEmail, config.Alerts.To)
		assert.Equal(t, constants.DefaultAlertSubject, config.Alerts.Subject)
		assert.Equal(t, constants.DefaultScanSchedule, config.Scanner.Schedule)
		assert.Equal(t, 30, config.Scanner.SkewSec)
		assert.Equal(t, constants.DefaultServerPort, config.Server.Port)
		assert.Equal(t, constants.DefaultTwitterAPIBaseURL, config.Twitter.APIBaseURL)
		assert.Equal(t, constants.DefaultPayloadInlineMaxBytes, config.PayloadInlineMaxBytes)
		assert.Equal(t, "socialqueue", config.Tracing.ServiceName)
		assert.Equal(t, "info", config.LogLevel)
	})

	t.Run("dynamodb defaults table", func(t *testing.T) {
		config, err := LoadConfig(writeConfig(t, t.TempDir(), `{
			"twitter": {"consumer_key": "ck", "consumer_secret": "cs"},
			"database": {"driver": "dynamodb"},
			"blob": {"driver": "s3", "bucket": "payloads"}
		}`))
		require.NoError(t, err)
		assert.Equal(t, constants.DefaultDynamoTable, config.Database.Table)
		assert.Equal(t, constants.DefaultScheduleIndex, config.Database.ScheduleIndex)
		assert.Equal(t, "payloads", config.Blob.Bucket)
	})

	t.Run("missing consumer credentials", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, t.TempDir(), `{"database": {"path": "/tmp/q.db"}}`))
		assert.ErrorIs(t, err, ErrMissingConsumerKey)
	})

	t.Run("non-existent file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(tmpDir, "nonexistent.json"))
		assert.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, t.TempDir(), `{"twitter": {"consumer_key": "ck",`))
		assert.Error(t, err)
	})

	t.Run("traversal path rejected", func(t *testing.T) {
		_, err := LoadConfig("../config.json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid config path")
	})
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		wantErr error
		wantMsg string
	}{
		{
			name:    "unknown database driver",
			config:  `{"twitter":{"consumer_key":"ck","consumer_secret":"cs"},"database":{"driver":"postgres"}}`,
			wantMsg: "unknown database driver",
		},
		{
			name:    "s3 without bucket",
			config:  `{"twitter":{"consumer_key":"ck","consumer_secret":"cs"},"blob":{"driver":"s3"}}`,
			wantErr: ErrMissingBucket,
		},
		{
			name:    "unknown blob driver",
			config:  `{"twitter":{"consumer_key":"ck","consumer_secret":"cs"},"blob":{"driver":"gcs"}}`,
			wantMsg: "unknown blob driver",
		},
		{
			name:    "unknown alert driver",
			config:  `{"twitter":{"consumer_key":"ck","consumer_secret":"cs"},"alerts":{"driver":"pager"}}`,
			wantMsg: "unknown alert driver",
		},
		{
			name:    "port out of range",
			config:  `{"twitter":{"consumer_key":"ck","consumer_secret":"cs"},"server":{"port":70000}}`,
			wantMsg: "invalid server port",
		},
		{
			name:    "timeout out of range",
			config:  `{"twitter":{"consumer_key":"ck","consumer_secret":"cs","timeout_sec":4000}}`,
			wantMsg: "twitter.timeout_sec",
		},
		{
			name:    "skew wider than the window",
			config:  `{"twitter":{"consumer_key":"ck","consumer_secret":"cs"},"scanner":{"skew_sec":60}}`,
			wantMsg: "scanner.skew_sec",
		},
		{
			name:    "sample rate above one",
			config:  `{"twitter":{"consumer_key":"ck","consumer_secret":"cs"},"tracing":{"sample_rate":1.5}}`,
			wantMsg: "sample_rate",
		},
		{
			name:    "api token without owner",
			config:  `{"twitter":{"consumer_key":"ck","consumer_secret":"cs"},"api_tokens":{"tok":""}}`,
			wantMsg: "api_tokens",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := LoadConfig(writeConfig(t, t.TempDir(), tt.config))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
			var configErr models.ConfigError
			assert.ErrorAs(t, err, &configErr)
		})
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TWITTER_CONSUMER_KEY", "env-key")
	t.Setenv("TWITTER_CONSUMER_SECRET", "env-secret")
	t.Setenv("SOCIALQUEUE_DB_DRIVER", "dynamodb")
	t.Setenv("SOCIALQUEUE_TABLE", "Scheduled")
	t.Setenv("SOCIALQUEUE_BLOB_DRIVER", "s3")
	t.Setenv("SOCIALQUEUE_BUCKET", "scheduled-payloads")
	t.Setenv("SOCIALQUEUE_ALERT_DRIVER", "ses")
	t.Setenv("SOCIALQUEUE_SUPPORT_EMAIL", "ops@example.com")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("PORT", "9090")

	config, err := LoadConfig(writeConfig(t, t.TempDir(), `{"twitter":{"consumer_key":"file-key"}}`))
	require.NoError(t, err)

	assert.Equal(t, "env-key", config.Twitter.ConsumerKey)
	assert.Equal(t, "env-secret", config.Twitter.ConsumerSecret)
	assert.Equal(t, DriverDynamoDB, config.Database.Driver)
	assert.Equal(t, "Scheduled", config.Database.Table)
	assert.Equal(t, DriverS3, config.Blob.Driver)
	assert.Equal(t, "scheduled-payloads", config.Blob.Bucket)
	assert.Equal(t, DriverSES, config.Alerts.Driver)
	assert.Equal(t, "ops@example.com", config.SupportEmail)
	assert.Equal(t, "ops@example.com", config.Alerts.From)
	assert.Equal(t, "warn", config.LogLevel)
	assert.Equal(t, 9090, config.Server.Port)
}

func TestLoadConfig_InvalidPortEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "eighty")

	_, err := LoadConfig(writeConfig(t, t.TempDir(), `{"twitter":{"consumer_key":"ck","consumer_secret":"cs"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid PORT")
}

func TestLoadConfig_DotEnvNextToConfig(t *testing.T) {
	clearEnv(t, "TWITTER_CONSUMER_SECRET")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TWITTER_CONSUMER_SECRET=from-dotenv\n"), 0600))

	config, err := LoadConfig(writeConfig(t, dir, `{"twitter":{"consumer_key":"ck"}}`))
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", config.Twitter.ConsumerSecret)
}

func TestLoadConfig_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("TWITTER_CONSUMER_SECRET", "from-env")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TWITTER_CONSUMER_SECRET=from-dotenv\n"), 0600))

	config, err := LoadConfig(writeConfig(t, dir, `{"twitter":{"consumer_key":"ck"}}`))
	require.NoError(t, err)
	assert.Equal(t, "from-env", config.Twitter.ConsumerSecret)
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	_, err := LoadFromEnvironment()
	assert.ErrorIs(t, err, ErrMissingConsumerKey)

	t.Setenv("TWITTER_CONSUMER_KEY", "ck")
	t.Setenv("TWITTER_CONSUMER_SECRET", "cs")
	t.Setenv("SOCIALQUEUE_DB_DRIVER", "dynamodb")

	config, err := LoadFromEnvironment()
	require.NoError(t, err)
	assert.Equal(t, DriverDynamoDB, config.Database.Driver)
	assert.Equal(t, constants.DefaultDynamoTable, config.Database.Table)
}

func TestValidateSecurity(t *testing.T) {
	longToken := strings.Repeat("t", 32)

	tests := []struct {
		name       string
		production bool
		config     models.Config
		wantErr    string
	}{
		{
			name:       "development allows short tokens",
			production: false,
			config:     models.Config{APITokens: map[string]string{"short": "alice"}, LogLevel: "debug"},
		},
		{
			name:       "production rejects short tokens",
			production: true,
			config:     models.Config{APITokens: map[string]string{"short": "alice"}, LogLevel: "info"},
			wantErr:    "at least 32 characters",
		},
		{
			name:       "production rejects debug logging",
			production: true,
			config:     models.Config{APITokens: map[string]string{longToken: "alice"}, LogLevel: "debug"},
			wantErr:    "debug logging",
		},
		{
			name:       "production accepts long tokens",
			production: true,
			config:     models.Config{APITokens: map[string]string{longToken: "alice"}, LogLevel: "info"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.production {
				t.Setenv("SOCIALQUEUE_ENV", "production")
			} else {
				t.Setenv("SOCIALQUEUE_ENV", "development")
			}

			err := validateSecurity(&tt.config)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
