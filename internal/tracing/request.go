package tracing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// RequestInfo identifies one API request in log lines and error bodies.
type RequestInfo struct {
	RequestID string    `json:"request_id"`
	TraceID   string    `json:"trace_id"`
	StartTime time.Time `json:"start_time"`
}

type requestInfoKey struct{}

// NewRequestInfo starts tracking a request. The trace id is the one of the
// span in ctx when there is one, so log lines can be joined with traces.
func NewRequestInfo(ctx context.Context) *RequestInfo {
	traceID := GetOtelTraceID(ctx)
	if traceID == "" {
		traceID = GenerateTraceID()
	}
	return &RequestInfo{
		RequestID: GenerateRequestID(),
		TraceID:   traceID,
		StartTime: time.Now(),
	}
}

func WithRequestInfo(ctx context.Context, info *RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFrom never returns nil. Outside a request all fields are empty.
func RequestInfoFrom(ctx context.Context) *RequestInfo {
	if info, ok := ctx.Value(requestInfoKey{}).(*RequestInfo); ok && info != nil {
		return info
	}
	return &RequestInfo{}
}

// Elapsed is the time since the request started, or 0 for an empty info.
func (i *RequestInfo) Elapsed() time.Duration {
	if i.StartTime.IsZero() {
		return 0
	}
	return time.Since(i.StartTime)
}

func GenerateRequestID() string {
	return "req_" + randomHex(8)
}

// GenerateTraceID returns 32 hex characters, the width of an otel trace id.
func GenerateTraceID() string {
	return randomHex(16)
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(b)
}
