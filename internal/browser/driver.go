// Package browser owns the automation process driving the measurement page.
package browser

import (
	"context"
	"encoding/json"
)

// LaunchOptions are the process-launch knobs of one attempt.
type LaunchOptions struct {
	Headless   bool
	ProfileDir string
}

// Driver launches browser processes. Each measurement attempt gets a fresh
// Handle so stuck page state cannot leak into the next attempt.
type Driver interface {
	Launch(ctx context.Context, opts LaunchOptions) (Handle, error)
}

// Handle is one live browser process, exclusively owned by the current
// attempt and destroyed before the attempt reports its outcome.
type Handle interface {
	// Navigate opens url and waits for the measurement widget to settle.
	Navigate(ctx context.Context, url string) error

	// AcceptTerms records the terms acceptance inside the page context. The
	// remote service checks it before a run may start; without it the widget
	// stalls and the attempt surfaces as a timeout.
	AcceptTerms(ctx context.Context) error

	// Results registers the completion callback and returns the channel its
	// payload arrives on. Must be called before Trigger, otherwise a fast
	// completion could fire with nobody listening. The channel delivers at
	// most one payload per attempt; late duplicates are dropped.
	Results(ctx context.Context) (<-chan json.RawMessage, error)

	// Trigger starts the measurement.
	Trigger(ctx context.Context) error

	// Close shuts the browser down gracefully.
	Close(ctx context.Context) error

	// Kill terminates the browser process. Best effort, never blocks.
	Kill()
}
