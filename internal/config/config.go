package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"socialqueue/internal/constants"
	"socialqueue/internal/models"
	"socialqueue/internal/security"
	"socialqueue/internal/validation"
	pkgconstants "socialqueue/pkg/constants"

	"github.com/joho/godotenv"
)

// Store and transport drivers.
const (
	DriverSQLite   = "sqlite"
	DriverDynamoDB = "dynamodb"
	DriverFile     = "file"
	DriverS3       = "s3"
	DriverLog      = "log"
	DriverSES      = "ses"
)

var (
	ErrMissingConsumerKey = models.ConfigError{Message: "missing Twitter consumer key or secret (set TWITTER_CONSUMER_KEY and TWITTER_CONSUMER_SECRET)"}
	ErrMissingDBPath      = models.ConfigError{Message: "missing database path"}
	ErrMissingTable       = models.ConfigError{Message: "missing DynamoDB table name"}
	ErrMissingBlobDir     = models.ConfigError{Message: "missing payload blob directory"}
	ErrMissingBucket      = models.ConfigError{Message: "missing S3 bucket for payload blobs"}
)

// LoadConfig reads the JSON config file at path, then a .env file next to it,
// then environment overrides, and finally applies defaults and validates.
func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	return finish(&config)
}

// LoadFromEnvironment builds the config from defaults and the environment
// only. The scan function uses it when no config file is deployed.
func LoadFromEnvironment() (*models.Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	return finish(&models.Config{})
}

func finish(c *models.Config) (*models.Config, error) {
	if err := applyEnvironmentOverrides(c); err != nil {
		return nil, err
	}
	applyDefaults(c)
	if err := validate(c); err != nil {
		return nil, err
	}
	if err := validateSecurity(c); err != nil {
		return nil, err
	}
	return c, nil
}

// loadDotEnv sets variables from a .env file without overriding the
// environment. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) error {
	if key := os.Getenv("TWITTER_CONSUMER_KEY"); key != "" {
		c.Twitter.ConsumerKey = key
	}
	// Consumer secrets should be supplied through the environment.
	if secret := os.Getenv("TWITTER_CONSUMER_SECRET"); secret != "" {
		c.Twitter.ConsumerSecret = secret
	}
	if url := os.Getenv("TWITTER_CALLBACK_URL"); url != "" {
		c.Twitter.CallbackURL = url
	}

	if driver := os.Getenv("SOCIALQUEUE_DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if path := os.Getenv("SOCIALQUEUE_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if table := os.Getenv("SOCIALQUEUE_TABLE"); table != "" {
		c.Database.Table = table
	}

	if driver := os.Getenv("SOCIALQUEUE_BLOB_DRIVER"); driver != "" {
		c.Blob.Driver = driver
	}
	if bucket := os.Getenv("SOCIALQUEUE_BUCKET"); bucket != "" {
		c.Blob.Bucket = bucket
	}
	if dir := os.Getenv("SOCIALQUEUE_BLOB_DIR"); dir != "" {
		c.Blob.Dir = dir
	}

	if driver := os.Getenv("SOCIALQUEUE_ALERT_DRIVER"); driver != "" {
		c.Alerts.Driver = driver
	}
	if email := os.Getenv("SOCIALQUEUE_SUPPORT_EMAIL"); email != "" {
		c.SupportEmail = email
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}

	if port := os.Getenv("PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid PORT %q", port)}
		}
		c.Server.Port = n
	}
	return nil
}

func applyDefaults(c *models.Config) {
	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Driver == DriverSQLite && c.Database.Path == "" {
		c.Database.Path = constants.DefaultDatabasePath
	}
	if c.Database.Driver == DriverDynamoDB && c.Database.Table == "" {
		c.Database.Table = constants.DefaultDynamoTable
	}
	if c.Database.ScheduleIndex == "" {
		c.Database.ScheduleIndex = constants.DefaultScheduleIndex
	}
	if c.Database.OwnerIndex == "" {
		c.Database.OwnerIndex = constants.DefaultOwnerIndex
	}

	if c.Blob.Driver == "" {
		c.Blob.Driver = DriverFile
	}
	if c.Blob.Driver == DriverFile && c.Blob.Dir == "" {
		c.Blob.Dir = constants.DefaultBlobDir
	}

	if c.Twitter.APIBaseURL == "" {
		c.Twitter.APIBaseURL = constants.DefaultTwitterAPIBaseURL
	}
	if c.Twitter.UploadBaseURL == "" {
		c.Twitter.UploadBaseURL = constants.DefaultTwitterUploadBaseURL
	}
	if c.Twitter.PermalinkBaseURL == "" {
		c.Twitter.PermalinkBaseURL = constants.DefaultTwitterPermalinkBaseURL
	}
	if c.Twitter.CallbackURL == "" {
		c.Twitter.CallbackURL = constants.DefaultTwitterCallbackURL
	}
	if c.Twitter.TimeoutSec <= 0 {
		c.Twitter.TimeoutSec = pkgconstants.DefaultHTTPTimeoutSec
	}
	if c.Twitter.RequestsPerSecond <= 0 {
		c.Twitter.RequestsPerSecond = pkgconstants.DefaultRequestsPerSecond
	}
	if c.Twitter.MediaProcessingTimeoutSec <= 0 {
		c.Twitter.MediaProcessingTimeoutSec = constants.DefaultMediaProcessingSec
	}
	if c.Twitter.BreakerMaxFailures == 0 {
		c.Twitter.BreakerMaxFailures = pkgconstants.DefaultBreakerMaxFailures
	}
	if c.Twitter.BreakerResetSec <= 0 {
		c.Twitter.BreakerResetSec = int(pkgconstants.DefaultBreakerResetTimeout.Seconds())
	}

	if c.Scanner.Schedule == "" {
		c.Scanner.Schedule = constants.DefaultScanSchedule
	}
	if c.Scanner.SkewSec <= 0 {
		c.Scanner.SkewSec = int(constants.DefaultWindowSkew.Seconds())
	}
	if c.Scanner.Concurrency <= 0 {
		c.Scanner.Concurrency = constants.DefaultScanWorkers
	}

	if c.SupportEmail == "" {
		c.SupportEmail = constants.DefaultSupportEmail
	}
	if c.Alerts.Driver == "" {
		c.Alerts.Driver = DriverLog
	}
	if c.Alerts.From == "" {
		c.Alerts.From = c.SupportEmail
	}
	if c.Alerts.To == "" {
		c.Alerts.To = c.SupportEmail
	}
	if c.Alerts.Subject == "" {
		c.Alerts.Subject = constants.DefaultAlertSubject
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "socialqueue"
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = 1.0
	}

	if c.PayloadInlineMaxBytes <= 0 {
		c.PayloadInlineMaxBytes = constants.DefaultPayloadInlineMaxBytes
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func validate(c *models.Config) error {
	if c.Twitter.ConsumerKey == "" || c.Twitter.ConsumerSecret == "" {
		return ErrMissingConsumerKey
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return ErrMissingDBPath
		}
	case DriverDynamoDB:
		if c.Database.Table == "" {
			return ErrMissingTable
		}
	default:
		return models.ConfigError{Message: fmt.Sprintf("unknown database driver %q (want %s or %s)", c.Database.Driver, DriverSQLite, DriverDynamoDB)}
	}

	switch c.Blob.Driver {
	case DriverFile:
		if c.Blob.Dir == "" {
			return ErrMissingBlobDir
		}
	case DriverS3:
		if c.Blob.Bucket == "" {
			return ErrMissingBucket
		}
	default:
		return models.ConfigError{Message: fmt.Sprintf("unknown blob driver %q (want %s or %s)", c.Blob.Driver, DriverFile, DriverS3)}
	}

	if c.Alerts.Driver != DriverLog && c.Alerts.Driver != DriverSES {
		return models.ConfigError{Message: fmt.Sprintf("unknown alert driver %q (want %s or %s)", c.Alerts.Driver, DriverLog, DriverSES)}
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return models.ConfigError{Message: fmt.Sprintf("invalid server port %d", c.Server.Port)}
	}
	if err := validation.ValidateTimeout(c.Twitter.TimeoutSec, "twitter.timeout_sec"); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if err := validation.ValidateTimeout(c.Twitter.MediaProcessingTimeoutSec, "twitter.media_processing_timeout_sec"); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if c.Scanner.SkewSec >= int(constants.ScanWindowWidth.Seconds()) {
		return models.ConfigError{Message: fmt.Sprintf("scanner.skew_sec must be below %d", int(constants.ScanWindowWidth.Seconds()))}
	}
	if c.Tracing.SampleRate > 1 {
		return models.ConfigError{Message: "tracing.sample_rate must be between 0 and 1"}
	}

	for token, owner := range c.APITokens {
		if token == "" || owner == "" {
			return models.ConfigError{Message: "api_tokens entries need both a token and an owner"}
		}
		if err := validation.ValidateOwnerID(owner); err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid owner for api token: %v", err)}
		}
	}
	return nil
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("SOCIALQUEUE_ENV") == "production"

	if isProduction {
		for token := range c.APITokens {
			if len(token) < 32 {
				return models.ConfigError{Message: "API tokens must be at least 32 characters long in production"}
			}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else if len(c.APITokens) == 0 {
		fmt.Fprintf(os.Stderr, "WARNING: no api_tokens configured; every scheduling request will be rejected.\n")
	}

	return nil
}
