package events

import (
	"encoding/json"
	"time"
)

// Envelope is the wire frame exchanged with the Engine over the pub/sub
// bridge, both inbound (decoded events) and outbound (effects).
type Envelope struct {
	EventType    string          `json:"event_type"`
	DiscussionID string          `json:"discussion_id"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Payload      json.RawMessage `json:"payload"`
}

// Inbound is the payload carried by an engine-inbound envelope: the
// resolved scope plus the decoded union.
type Inbound struct {
	Scope   Scope   `json:"scope"`
	Decoded Decoded `json:"decoded"`
}
