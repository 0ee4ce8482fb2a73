package constants

import "time"

// Timeouts used by client packages
const (
	DefaultHTTPTimeoutSec        = 30
	DefaultMediaDownloadTimeout  = 60 * time.Second
	DefaultRequestsPerSecond     = 5.0
	DefaultRequestBurst          = 5
	DefaultBreakerMaxFailures    = 5
	DefaultBreakerResetTimeout   = 60 * time.Second
	DefaultMediaProcessingLimit  = 5 * time.Minute
	MinMediaStatusDelay          = time.Second
	DefaultErrorBodyPreviewBytes = 512
)

// Twitter API endpoints, relative to the API or upload base URL
const (
	StatusUpdatePath  = "/1.1/statuses/update.json"
	MediaUploadPath   = "/1.1/media/upload.json"
	RequestTokenPath  = "/oauth/request_token"
	AccessTokenPath   = "/oauth/access_token"
	BearerTokenPath   = "/oauth2/token"
	SearchTweetsPath  = "/1.1/search/tweets.json"
	PermalinkTemplate = "%s/%s/status/%s"
)

// Chunked media upload
const (
	// MediaChunkSize is the number of base64 characters sent per APPEND.
	MediaChunkSize = 5000000

	// MaxMediaBytes caps a downloaded attachment at the largest chunked
	// video the upload endpoint accepts.
	MaxMediaBytes = 512 << 20

	CommandInit     = "INIT"
	CommandAppend   = "APPEND"
	CommandFinalize = "FINALIZE"
	CommandStatus   = "STATUS"
	CommandDownload = "DOWNLOAD"

	CategoryImage = "tweet_image"
	CategoryGIF   = "tweet_gif"
	CategoryVideo = "tweet_video"

	ProcessingPending    = "pending"
	ProcessingInProgress = "in_progress"
	ProcessingSucceeded  = "succeeded"
	ProcessingFailed     = "failed"
)

// Attachment hosts that serve an HTML preview unless rewritten
const (
	DropboxShareHost  = "www.dropbox.com"
	DropboxDirectHost = "dl.dropboxusercontent.com"
)

// File permission constants
const (
	DefaultFilePermissions      = 0600
	DefaultDirectoryPermissions = 0750
)
