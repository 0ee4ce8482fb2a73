package models

import (
	"encoding/json"
	"fmt"
)

// Segment is one post's worth of text within a thread. Attachments are
// embedded in Text as inline image markers.
type Segment struct {
	Text string `json:"text"`
	UID  string `json:"uid,omitempty"`
}

// Payload is the ordered list of segments making up a thread. The order is the
// posting order and the reply-chain order.
type Payload struct {
	Blocks []Segment `json:"blocks"`
}

// ParsePayload decodes a stored payload document.
func ParsePayload(raw []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to parse payload: %w", err)
	}
	return &p, nil
}

// FirstUID returns the uid of the first segment, or "" for an empty payload.
func (p *Payload) FirstUID() string {
	if p == nil || len(p.Blocks) == 0 {
		return ""
	}
	return p.Blocks[0].UID
}
