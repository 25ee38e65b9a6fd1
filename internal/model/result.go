package model

import (
	"context"
	"encoding/json"
	"time"
)

// Result is the envelope reported once per successful attempt. Payload is the
// metrics object delivered by the measurement widget (download, upload,
// latency, jitter and friends) and stays opaque here: its schema is owned by
// the remote service, downstream consumers parse it out of the envelope.
type Result struct {
	Success   bool            `json:"success"`
	SessionID string          `json:"sessionID"`
	Endpoint  string          `json:"endpoint,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"result"`
}

// Filename returns the name a persisted result is stored under,
// speedtest-<timestamp>.json with colons and dots flattened to hyphens so the
// name is safe on any filesystem.
func (r Result) Filename() string {
	ts := r.Timestamp.UTC()
	return "speedtest-" + ts.Format("2006-01-02T15-04-05") + "-" + ts.Format(".000")[1:] + "Z.json"
}

// Sink receives a result once per successful attempt. Store is called
// synchronously; its errors are logged by the caller, never escalated, so a
// persistence problem cannot count as a measurement failure.
type Sink interface {
	Store(ctx context.Context, res Result) error
}

// SinkCloser is a Sink holding a resource released on supervisor shutdown.
type SinkCloser interface {
	Sink
	Close() error
}
