// Package session runs one measurement attempt end to end.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/netzbremse/netzbremse/internal/browser"
	"github.com/netzbremse/netzbremse/internal/log"
	"github.com/netzbremse/netzbremse/internal/model"
)

// Session owns exactly one attempt at a time. The per-attempt deadline is
// imposed by the caller through ctx; the session's own job is to resolve
// cleanly and to guarantee browser teardown on every exit path, including
// cancellation mid-await.
type Session struct {
	driver browser.Driver
	cfg    model.Config
}

func New(driver browser.Driver, cfg model.Config) *Session {
	return &Session{driver: driver, cfg: cfg}
}

// Run launches a fresh browser, opens the target, triggers the measurement
// and awaits its single completion signal. The returned error is one of
// *model.LaunchError, *model.NavigationError or ctx.Err().
func (s *Session) Run(ctx context.Context) (model.Result, error) {
	id := uuid.NewString()
	ctx = log.ContextAttrs(ctx, slog.String("session_id", id))

	handle, err := s.driver.Launch(ctx, browser.LaunchOptions{
		Headless:   s.cfg.Headless,
		ProfileDir: s.cfg.ProfileDir,
	})
	if err != nil {
		return model.Result{}, &model.LaunchError{Err: err}
	}
	defer browser.Teardown(ctx, handle)

	slog.DebugContext(ctx, "browser launched", "url", s.cfg.URL)

	if err := handle.Navigate(ctx, s.cfg.URL); err != nil {
		return model.Result{}, &model.NavigationError{URL: s.cfg.URL, Err: err}
	}

	if s.cfg.AcceptTerms {
		if err := handle.AcceptTerms(ctx); err != nil {
			return model.Result{}, &model.NavigationError{URL: s.cfg.URL, Err: err}
		}
	}

	// Listener before trigger, otherwise a fast completion could fire with
	// nobody around to receive it.
	results, err := handle.Results(ctx)
	if err != nil {
		return model.Result{}, &model.NavigationError{URL: s.cfg.URL, Err: err}
	}
	if err := handle.Trigger(ctx); err != nil {
		return model.Result{}, &model.NavigationError{URL: s.cfg.URL, Err: err}
	}

	slog.DebugContext(ctx, "measurement triggered, awaiting completion")

	select {
	case payload := <-results:
		select {
		case <-results:
			slog.WarnContext(ctx, "duplicate completion signal discarded")
		default:
		}
		return model.Result{
			Success:   true,
			SessionID: id,
			Timestamp: time.Now().UTC(),
			Payload:   payload,
		}, nil
	case <-ctx.Done():
		return model.Result{}, ctx.Err()
	}
}
