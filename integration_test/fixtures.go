package integration_test

import (
	"encoding/json"
	"strings"
	"time"

	"socialqueue/internal/models"
	"socialqueue/internal/service"
)

const (
	testOwner = "alice@example.com"
	otherUser = "bob@example.com"
)

// Tick is the scanner tick used by the dispatch scenarios. Its window is
// [12:00:30, 12:01:30).
var Tick = time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)

func credentials() string {
	return `{"oauth_token":"user-token","oauth_token_secret":"user-secret"}`
}

// Thread builds a serialized payload with one segment per text.
func Thread(texts ...string) string {
	p := models.Payload{}
	for i, text := range texts {
		p.Blocks = append(p.Blocks, models.Segment{Text: text, UID: "blk-" + string(rune('a'+i))})
	}
	raw, _ := json.Marshal(p)
	return string(raw)
}

// LongThread builds a payload large enough to be stored as a blob.
func LongThread(segments int) string {
	texts := make([]string, segments)
	for i := range texts {
		texts[i] = strings.Repeat("x", 200)
	}
	return Thread(texts...)
}

// Due is an enqueue request inside Tick's window.
func Due(payload string) service.EnqueueRequest {
	return service.EnqueueRequest{
		ScheduledAt: Tick,
		Credentials: credentials(),
		Payload:     payload,
	}
}
