package models

// Config holds the application configuration
type Config struct {
	Server    ServerConfig      `json:"server"`
	Database  DatabaseConfig    `json:"database"`
	Blob      BlobConfig        `json:"blob"`
	Twitter   TwitterConfig     `json:"twitter"`
	Scanner   ScannerConfig     `json:"scanner"`
	Alerts    AlertConfig       `json:"alerts"`
	Retry     RetryConfig       `json:"retry"`
	Tracing   TracingConfig     `json:"tracing"`
	APITokens map[string]string `json:"api_tokens"`

	// PayloadInlineMaxBytes is the largest payload stored on the entry itself.
	// Larger payloads go to the blob store.
	PayloadInlineMaxBytes int    `json:"payload_inline_max_bytes"`
	SupportEmail          string `json:"support_email"`
	LogLevel              string `json:"log_level"`
}

// ServerConfig holds HTTP server configurations
type ServerConfig struct {
	Port            int `json:"port"`
	ReadTimeoutSec  int `json:"read_timeout_sec"`
	WriteTimeoutSec int `json:"write_timeout_sec"`
	IdleTimeoutSec  int `json:"idle_timeout_sec"`
}

// DatabaseConfig selects and configures the queue store.
type DatabaseConfig struct {
	Driver        string `json:"driver"` // "sqlite" or "dynamodb"
	Path          string `json:"path"`
	Table         string `json:"table"`
	ScheduleIndex string `json:"schedule_index"`
	OwnerIndex    string `json:"owner_index"`
}

// BlobConfig selects and configures the payload blob store.
type BlobConfig struct {
	Driver string `json:"driver"` // "file" or "s3"
	Dir    string `json:"dir"`
	Bucket string `json:"bucket"`
}

// TwitterConfig holds the channel's consumer credentials and endpoints.
type TwitterConfig struct {
	APIBaseURL                string  `json:"api_base_url"`
	UploadBaseURL             string  `json:"upload_base_url"`
	PermalinkBaseURL          string  `json:"permalink_base_url"`
	ConsumerKey               string  `json:"consumer_key"`
	ConsumerSecret            string  `json:"consumer_secret"`
	CallbackURL               string  `json:"callback_url"`
	TimeoutSec                int     `json:"timeout_sec"`
	RequestsPerSecond         float64 `json:"requests_per_second"`
	MediaProcessingTimeoutSec int     `json:"media_processing_timeout_sec"`
	BreakerMaxFailures        uint32  `json:"breaker_max_failures"`
	BreakerResetSec           int     `json:"breaker_reset_sec"`
}

// ScannerConfig configures the scheduled queue scan.
type ScannerConfig struct {
	Schedule    string `json:"schedule"`
	SkewSec     int    `json:"skew_sec"`
	Concurrency int    `json:"concurrency"`
}

// AlertConfig configures the operational alert side channel.
type AlertConfig struct {
	Driver  string `json:"driver"` // "ses" or "log"
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
