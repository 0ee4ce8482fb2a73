// Package twitter is the client for the Twitter v1.1 REST API used to
// publish scheduled threads: status posts, chunked media upload, the OAuth
// token exchange and app-only search.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"socialqueue/pkg/circuitbreaker"
	"socialqueue/pkg/constants"
	"socialqueue/pkg/oauth1"
	"socialqueue/pkg/twitter/types"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Config holds the process-wide settings for one consumer application.
type Config struct {
	APIBaseURL       string
	UploadBaseURL    string
	PermalinkBaseURL string
	ConsumerKey      string
	ConsumerSecret   string

	HTTPClient        *http.Client
	RequestsPerSecond float64
	BreakerFailures   uint32
	BreakerReset      time.Duration

	// MediaProcessingTimeout bounds the total time spent waiting on STATUS
	// polls for one attachment.
	MediaProcessingTimeout time.Duration
	ChunkSize              int
	MaxMediaBytes          int64

	Logger *logrus.Logger
	// Sleep waits between STATUS polls. Defaults to a timer that honours ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Client struct {
	cfg     Config
	signer  *oauth1.Signer
	http    *http.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.Breaker
	logger  *logrus.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.twitter.com"
	}
	if cfg.UploadBaseURL == "" {
		cfg.UploadBaseURL = "https://upload.twitter.com"
	}
	if cfg.PermalinkBaseURL == "" {
		cfg.PermalinkBaseURL = "https://twitter.com"
	}
	cfg.APIBaseURL = strings.TrimSuffix(cfg.APIBaseURL, "/")
	cfg.UploadBaseURL = strings.TrimSuffix(cfg.UploadBaseURL, "/")
	cfg.PermalinkBaseURL = strings.TrimSuffix(cfg.PermalinkBaseURL, "/")

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: constants.DefaultHTTPTimeoutSec * time.Second}
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = constants.DefaultRequestsPerSecond
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = constants.DefaultBreakerMaxFailures
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = constants.DefaultBreakerResetTimeout
	}
	if cfg.MediaProcessingTimeout <= 0 {
		cfg.MediaProcessingTimeout = constants.DefaultMediaProcessingLimit
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = constants.MediaChunkSize
	}
	if cfg.MaxMediaBytes <= 0 {
		cfg.MaxMediaBytes = constants.MaxMediaBytes
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		cfg.Logger.SetLevel(logrus.WarnLevel)
	}

	return &Client{
		cfg:     cfg,
		signer:  oauth1.NewSigner(cfg.ConsumerKey, cfg.ConsumerSecret),
		http:    cfg.HTTPClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), constants.DefaultRequestBurst),
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:         "twitter",
			MaxFailures:  cfg.BreakerFailures,
			ResetTimeout: cfg.BreakerReset,
			IsFailure:    isOutage,
			Logger:       cfg.Logger,
		}),
		logger: cfg.Logger,
	}
}

// Signer exposes the request signer so callers can pin its clock in tests.
func (c *Client) Signer() *oauth1.Signer {
	return c.signer
}

// BreakerStats reports the state of the breaker guarding outbound calls.
func (c *Client) BreakerStats() circuitbreaker.Stats {
	return c.breaker.Stats()
}

// Permalink builds the public URL of a posted status.
func (c *Client) Permalink(handle, statusID string) string {
	return fmt.Sprintf(constants.PermalinkTemplate, c.cfg.PermalinkBaseURL, handle, statusID)
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Endpoint   string
	StatusCode int
	Errors     []types.ErrorDetail
	// Message is the upload endpoint's "error" string, or a preview of the
	// body when it was not JSON.
	Message string
}

func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		parts := make([]string, len(e.Errors))
		for i, d := range e.Errors {
			parts[i] = fmt.Sprintf("%d: %s", d.Code, d.Message)
		}
		return fmt.Sprintf("twitter %s returned %d: %s", e.Endpoint, e.StatusCode, strings.Join(parts, "; "))
	}
	if e.Message != "" {
		return fmt.Sprintf("twitter %s returned %d: %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("Request failed with status code %d", e.StatusCode)
}

// Codes lists the numeric error codes in response order.
func (e *APIError) Codes() []int {
	codes := make([]int, len(e.Errors))
	for i, d := range e.Errors {
		codes[i] = d.Code
	}
	return codes
}

// ChannelMessage is the human-readable error text the API reported, if any.
func (e *APIError) ChannelMessage() string {
	if e.Message != "" {
		return e.Message
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, d := range e.Errors {
		if d.Message != "" {
			msgs = append(msgs, d.Message)
		}
	}
	return strings.Join(msgs, "\n")
}

// Temporary reports whether the failure is worth retrying later.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// isOutage decides which errors count against the breaker. Content and
// credential rejections are answers from a healthy API.
func isOutage(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

type request struct {
	name   string
	method string
	url    string
	// form is sent url-encoded and included in the signature. Parameters
	// named oauth_* travel in the Authorization header only.
	form url.Values
	// body and contentType carry an unsigned body such as multipart.
	body        []byte
	contentType string
	// token signs the request with OAuth 1.0a when non-nil.
	token  *oauth1.Token
	header http.Header
}

// do sends r through the rate limiter and breaker and returns the body of a
// 2xx response. Anything else is an *APIError.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var respBody []byte
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var reader io.Reader
		contentType := r.contentType
		if r.form != nil {
			reader = strings.NewReader(withoutOAuthParams(r.form).Encode())
			contentType = "application/x-www-form-urlencoded"
		} else if r.body != nil {
			reader = bytes.NewReader(r.body)
		}

		req, err := http.NewRequestWithContext(ctx, r.method, r.url, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		for k, vs := range r.header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if r.token != nil {
			if err := c.signer.Apply(req, r.form, *r.token); err != nil {
				return err
			}
		}

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("request to %s failed: %w", r.name, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read %s response: %w", r.name, err)
		}

		c.logger.WithFields(logrus.Fields{
			"endpoint":    r.name,
			"method":      r.method,
			"status_code": resp.StatusCode,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("Twitter API call completed")

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return newAPIError(r.name, resp.StatusCode, body)
		}
		respBody = body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return respBody, nil
}

func newAPIError(endpoint string, statusCode int, body []byte) *APIError {
	apiErr := &APIError{Endpoint: endpoint, StatusCode: statusCode}

	var parsed types.ErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Errors = parsed.Errors
		apiErr.Message = parsed.Error
		return apiErr
	}

	preview := strings.TrimSpace(string(body))
	if len(preview) > constants.DefaultErrorBodyPreviewBytes {
		preview = preview[:constants.DefaultErrorBodyPreviewBytes]
	}
	apiErr.Message = preview
	return apiErr
}

func withoutOAuthParams(form url.Values) url.Values {
	out := make(url.Values, len(form))
	for k, vs := range form {
		if strings.HasPrefix(k, "oauth_") {
			continue
		}
		out[k] = vs
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
