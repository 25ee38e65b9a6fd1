package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/netzbremse/netzbremse/internal/meta"
	"github.com/netzbremse/netzbremse/internal/model"
	"github.com/netzbremse/netzbremse/internal/race"
)

// Session runs one measurement attempt. Implemented by session.Session;
// faked in tests.
type Session interface {
	Run(ctx context.Context) (model.Result, error)
}

// Clock abstracts sleeping so the loop can be tested without timers.
type Clock interface {
	// Sleep blocks for d or until ctx is cancelled.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Supervisor struct {
	session Session
	sinks   []model.Sink
	meta    *meta.Client
	clock   Clock
	cfg     model.Config
	floor   time.Duration
}

func NewSupervisor(cfg model.Config, session Session, sinks ...model.Sink) *Supervisor {
	return &Supervisor{
		session: session,
		sinks:   sinks,
		clock:   realClock{},
		cfg:     cfg,
		floor:   model.SleepFloor,
	}
}

// WithMeta enables the diagnostic network-metadata fetch on each success.
func (s *Supervisor) WithMeta(c *meta.Client) *Supervisor {
	s.meta = c
	return s
}

// WithClock replaces the clock. This method exists for unit testing only.
func (s *Supervisor) WithClock(c Clock) *Supervisor {
	s.clock = c
	return s
}

// Do runs the supervision loop until ctx is cancelled (returns nil) or the
// consecutive-failure budget is spent (returns ErrRetriesExhausted).
func (s *Supervisor) Do(ctx context.Context) error {
	defer s.closeSinks(ctx)

	var failures int
	for {
		started := time.Now()
		res, err := race.Run(ctx, s.cfg.AttemptTimeout, "measurement attempt", s.session.Run)

		switch {
		case err == nil:
			failures = 0
			s.report(ctx, res)
			slog.InfoContext(ctx, "measurement succeeded",
				"elapsed", time.Since(started).Round(time.Millisecond),
				"next_attempt_in", max(s.cfg.TestInterval, s.floor))
			if s.sleep(ctx, s.cfg.TestInterval) != nil {
				return nil
			}

		case ctx.Err() != nil:
			// shutting down, not a measurement failure
			return nil

		default:
			failures++
			slog.ErrorContext(ctx, "measurement attempt failed",
				"error", err,
				"consecutive_failures", failures,
				"max_retries", s.cfg.MaxRetries)
			if failures >= s.cfg.MaxRetries {
				return fmt.Errorf("%w: %d in a row", model.ErrRetriesExhausted, failures)
			}
			slog.InfoContext(ctx, "retrying", "next_attempt_in", max(s.cfg.RetryInterval, s.floor))
			if s.sleep(ctx, s.cfg.RetryInterval) != nil {
				return nil
			}
		}
	}
}

// Once runs a single attempt under the per-attempt deadline and reports it.
func (s *Supervisor) Once(ctx context.Context) error {
	defer s.closeSinks(ctx)

	res, err := race.Run(ctx, s.cfg.AttemptTimeout, "measurement attempt", s.session.Run)
	if err != nil {
		return err
	}
	s.report(ctx, res)
	return nil
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) error {
	return s.clock.Sleep(ctx, max(d, s.floor))
}

// report hands the result to every sink. Persistence problems are a local
// concern: logged, never escalated into the retry accounting.
func (s *Supervisor) report(ctx context.Context, res model.Result) {
	if s.meta != nil {
		info, err := s.meta.Fetch(ctx)
		if err != nil {
			slog.DebugContext(ctx, "network metadata fetch failed", "error", err)
		} else {
			res.Endpoint = info.Colo
			slog.InfoContext(ctx, "network metadata",
				"ip", info.IP, "colo", info.Colo, "country", info.Country, "as_org", info.ASOrg)
		}
	}

	for _, sink := range s.sinks {
		if err := sink.Store(ctx, res); err != nil {
			slog.ErrorContext(ctx, "storing result failed", "error", err)
		}
	}
}

func (s *Supervisor) closeSinks(ctx context.Context) {
	for _, sink := range s.sinks {
		if closer, ok := sink.(model.SinkCloser); ok {
			if err := closer.Close(); err != nil {
				slog.ErrorContext(ctx, "closing sink failed", "error", err)
			}
		}
	}
}
