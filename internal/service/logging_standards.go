package service

// Field names shared by every log line that mentions a queue entry, a
// dispatch or a request. Handlers in cmd/ use the same names.
const (
	LogFieldEntryID  = "entry_id"
	LogFieldOwner    = "owner"
	LogFieldChannel  = "channel"
	LogFieldStatusID = "status_id"

	// Dispatch
	LogFieldSegmentIndex = "segment_index"
	LogFieldSegmentCount = "segment_count"
	LogFieldAttachments  = "attachment_count"
	LogFieldStatus       = "status"
	LogFieldWindowFrom   = "window_from"
	LogFieldWindowTo     = "window_to"
	LogFieldScheduledAt  = "scheduled_at"
	LogFieldAttempt      = "attempt"

	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSize     = "size_bytes"

	// HTTP, both inbound and toward the channel API
	LogFieldURL        = "url"
	LogFieldEndpoint   = "endpoint"
	LogFieldStatusCode = "status_code"
	LogFieldMethod     = "method"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"
	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"

	LogFieldPayloadKey = "payload_key"
)

// Levels:
//
//	Debug  per-segment progress, media upload commands
//	Info   enqueue/update/cancel, scan summaries, dispatch results
//	Warn   write-back retries, orphaned payload blobs, alert delivery
//	Error  failed dispatches, upload failures, write-backs that gave up
//	Fatal  startup only: missing config, store unreachable
//
// Failure messages read "Failed to <operation>". Owner ids go through
// SanitizeOwner and entry ids through SanitizeEntryID.
