package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"socialqueue/internal/bootstrap"
	"socialqueue/internal/config"
	"socialqueue/internal/models"
	"socialqueue/pkg/constants"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// PostedStatus is one statuses/update call seen by the fake Twitter API.
type PostedStatus struct {
	ID        string
	Text      string
	InReplyTo string
	MediaIDs  string
}

// TestEnvironment runs the queue pipeline against a fake Twitter API with a
// real SQLite store and file blob store in a temp directory.
type TestEnvironment struct {
	t       *testing.T
	dir     string
	twitter *httptest.Server
	App     *bootstrap.App
	Logs    *logtest.Hook

	mu           sync.Mutex
	posted       []PostedStatus
	uploads      map[string]int
	nextStatusID int
	screenName   string
	initFailure  string
}

// NewTestEnvironment builds the environment. Everything is torn down by
// t.Cleanup.
func NewTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()
	env := &TestEnvironment{
		t:            t,
		dir:          t.TempDir(),
		uploads:      make(map[string]int),
		nextStatusID: 123,
		screenName:   "acme",
	}
	env.setupTwitter()

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	env.Logs = hook

	app, err := bootstrap.New(context.Background(), env.Config(), logger)
	require.NoError(t, err)
	env.App = app
	t.Cleanup(func() {
		_ = app.Close()
	})
	return env
}

// Config points every driver at local resources.
func (env *TestEnvironment) Config() *models.Config {
	return &models.Config{
		Database: models.DatabaseConfig{Driver: config.DriverSQLite, Path: filepath.Join(env.dir, "queue.db")},
		Blob:     models.BlobConfig{Driver: config.DriverFile, Dir: filepath.Join(env.dir, "payloads")},
		Twitter: models.TwitterConfig{
			APIBaseURL:                env.twitter.URL,
			UploadBaseURL:             env.twitter.URL,
			PermalinkBaseURL:          "https://twitter.com",
			ConsumerKey:               "integration-consumer-key",
			ConsumerSecret:            "integration-consumer-secret",
			TimeoutSec:                5,
			RequestsPerSecond:         1000,
			BreakerMaxFailures:        50,
			BreakerResetSec:           1,
			MediaProcessingTimeoutSec: 5,
		},
		Scanner:               models.ScannerConfig{SkewSec: 30, Concurrency: 2},
		Alerts:                models.AlertConfig{Driver: config.DriverLog, To: "ops@example.com", Subject: "Scheduled post failed"},
		Retry:                 models.RetryConfig{InitialBackoffMs: 1, MaxBackoffMs: 5, MaxAttempts: 2},
		PayloadInlineMaxBytes: 256,
		LogLevel:              "debug",
	}
}

// AttachmentURL is an image served by the fake API host.
func (env *TestEnvironment) AttachmentURL(name string) string {
	return env.twitter.URL + "/media/" + name
}

// FailMediaInit makes every INIT command fail with message.
func (env *TestEnvironment) FailMediaInit(message string) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.initFailure = message
}

// Posted returns the statuses posted so far, in order.
func (env *TestEnvironment) Posted() []PostedStatus {
	env.mu.Lock()
	defer env.mu.Unlock()
	return append([]PostedStatus(nil), env.posted...)
}

// UploadCommands counts the media/upload commands received, by command.
func (env *TestEnvironment) UploadCommands() map[string]int {
	env.mu.Lock()
	defer env.mu.Unlock()
	out := make(map[string]int, len(env.uploads))
	for k, v := range env.uploads {
		out[k] = v
	}
	return out
}

// Alerts returns the bodies of operational alerts written to the log.
func (env *TestEnvironment) Alerts() []string {
	var out []string
	for _, entry := range env.Logs.AllEntries() {
		if entry.Message == "Operational alert" {
			out = append(out, fmt.Sprint(entry.Data["body"]))
		}
	}
	return out
}

func (env *TestEnvironment) setupTwitter() {
	mux := http.NewServeMux()
	mux.HandleFunc(constants.StatusUpdatePath, env.handleStatusUpdate)
	mux.HandleFunc(constants.MediaUploadPath, env.handleMediaUpload)
	mux.HandleFunc("/media/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG\r\n\x1a\nfake-image-bytes"))
	})

	env.twitter = httptest.NewServer(mux)
	env.t.Cleanup(env.twitter.Close)
}

func (env *TestEnvironment) handleStatusUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.Header.Get("Authorization") == "" {
		writeTwitterJSON(w, http.StatusUnauthorized, `{"errors":[{"code":89,"message":"Invalid or expired token."}]}`)
		return
	}

	q := r.URL.Query()
	env.mu.Lock()
	id := strconv.Itoa(env.nextStatusID)
	env.nextStatusID++
	env.posted = append(env.posted, PostedStatus{
		ID:        id,
		Text:      q.Get("status"),
		InReplyTo: q.Get("in_reply_to_status_id"),
		MediaIDs:  q.Get("media_ids"),
	})
	screenName := env.screenName
	env.mu.Unlock()

	body, _ := json.Marshal(map[string]interface{}{
		"id_str": id,
		"user":   map[string]string{"screen_name": screenName},
	})
	writeTwitterJSON(w, http.StatusOK, string(body))
}

func (env *TestEnvironment) handleMediaUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	command := r.FormValue("command")

	env.mu.Lock()
	env.uploads[command]++
	failure := env.initFailure
	mediaID := fmt.Sprintf("m%d", env.uploads[constants.CommandInit])
	env.mu.Unlock()

	switch command {
	case constants.CommandInit:
		if failure != "" {
			body, _ := json.Marshal(map[string]string{"error": failure})
			writeTwitterJSON(w, http.StatusBadRequest, string(body))
			return
		}
		writeTwitterJSON(w, http.StatusAccepted, `{"media_id_string":"`+mediaID+`"}`)
	case constants.CommandAppend:
		w.WriteHeader(http.StatusNoContent)
	case constants.CommandFinalize:
		writeTwitterJSON(w, http.StatusCreated, `{"media_id_string":"`+r.FormValue("media_id")+`"}`)
	default:
		http.Error(w, "unknown command", http.StatusBadRequest)
	}
}

func writeTwitterJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
