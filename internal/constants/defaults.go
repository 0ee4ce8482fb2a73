package constants

import "time"

// Scanner window
const (
	// DefaultWindowSkew moves the scan window past the minute boundary so that
	// entries scheduled for "now" are caught by a tick that fires slightly early.
	DefaultWindowSkew   = 30 * time.Second
	ScanWindowWidth     = 60 * time.Second
	DefaultScanSchedule = "* * * * *"
	DefaultScanWorkers  = 16
)

// Channel API
const (
	DefaultTwitterAPIBaseURL       = "https://api.twitter.com"
	DefaultTwitterUploadBaseURL    = "https://upload.twitter.com"
	DefaultTwitterPermalinkBaseURL = "https://twitter.com"
	DefaultTwitterCallbackURL      = "https://roamjs.com/oauth?auth=true"
	DefaultMediaProcessingSec      = 300
)

// Storage
const (
	DefaultPayloadInlineMaxBytes = 32 * 1024
	DefaultDatabasePath          = "./socialqueue.db"
	DefaultBlobDir               = "./payloads"
	DefaultDynamoTable           = "RoamJSSocial"
	DefaultScheduleIndex         = "primary-index"
	DefaultOwnerIndex            = "user-index"
	PayloadKeyPrefix             = "scheduled"

	DefaultDatabaseFilePermissions = 0600
	DefaultBlobFilePermissions     = 0600
	DefaultBlobDirPermissions      = 0750
)

// Credential encryption at rest
const (
	EncryptionSalt           = "socialqueue-credentials-v1"
	EncryptionKeyBytes       = 32 // AES-256
	EncryptionNonceBytes     = 12
	EncryptionKDFIterations  = 100000
	MinEncryptionSecretChars = 32
	EnvEnableEncryption      = "SOCIALQUEUE_ENABLE_ENCRYPTION"
	EnvEncryptionSecret      = "SOCIALQUEUE_ENCRYPTION_SECRET"
)

// Retry
const (
	DefaultRetryBackoffMs        = 500
	DefaultMaxBackoffMs          = 10000
	DefaultMaxAttempts           = 3
	DefaultDatabaseRetryAttempts = 3
)

// Server
const (
	DefaultServerPort            = 8080
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	ServerErrorChannelSize       = 1
	StatusFeedBufferSize         = 16
)

// CORS
const (
	CORSAllowOrigin  = "https://roamresearch.com"
	CORSAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	CORSAllowHeaders = "Authorization, Content-Type"
)

// Alerts
const (
	DefaultSupportEmail = "support@roamjs.com"
	DefaultAlertSubject = "Social - Scheduled Tweet Failed"
)

// Validation
const (
	MaxPayloadBytes     = 1 << 20
	MaxRequestBodyBytes = 2 << 20
	MaxSegmentsPerEntry = 100
	MaxOwnerIDLength    = 320
	MaxSearchQueryChars = 500
)

// Privacy settings
const (
	DefaultSecretVisibleChars = 4
)
