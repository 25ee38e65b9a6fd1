package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/netzbremse/netzbremse/internal/model"
	"github.com/netzbremse/netzbremse/internal/race"
	"github.com/netzbremse/netzbremse/internal/service"

	"github.com/stretchr/testify/require"
)

// scriptedSession returns one scripted outcome per attempt, in order. A nil
// error yields a success; errHang blocks until the attempt deadline.
type scriptedSession struct {
	mu       sync.Mutex
	script   []error
	attempts int
	torndown int
}

var errHang = errors.New("hang until deadline")

func (s *scriptedSession) Run(ctx context.Context) (model.Result, error) {
	s.mu.Lock()
	if s.attempts >= len(s.script) {
		s.mu.Unlock()
		return model.Result{}, errors.New("unexpected extra attempt")
	}
	step := s.script[s.attempts]
	s.attempts++
	s.mu.Unlock()

	if errors.Is(step, errHang) {
		<-ctx.Done()
		s.mu.Lock()
		s.torndown++ // stands in for the deferred browser teardown
		s.mu.Unlock()
		return model.Result{}, ctx.Err()
	}
	if step != nil {
		return model.Result{}, step
	}
	return model.Result{
		Success:   true,
		SessionID: "test",
		Timestamp: time.Now().UTC(),
		Payload:   json.RawMessage(`{"download":1}`),
	}, nil
}

func (s *scriptedSession) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// fakeClock records requested sleep durations and returns immediately.
type fakeClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// recordingSink counts stored results; when failing, every Store errors.
type recordingSink struct {
	mu      sync.Mutex
	stored  []model.Result
	failing bool
}

func (s *recordingSink) Store(_ context.Context, res model.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("disk full")
	}
	s.stored = append(s.stored, res)
	return nil
}

func (s *recordingSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stored)
}

func testConfig() model.Config {
	return model.Config{
		URL:            "https://example.com",
		TestInterval:   time.Hour,
		AttemptTimeout: 100 * time.Millisecond,
		RetryInterval:  15 * time.Minute,
		MaxRetries:     3,
	}
}

func TestSupervisorRetryBudget(t *testing.T) {
	t.Parallel()
	launchErr := &model.LaunchError{Err: errors.New("no chrome")}

	t.Run("exhausted after max consecutive failures", func(t *testing.T) {
		t.Parallel()
		sess := &scriptedSession{script: []error{launchErr, launchErr, launchErr}}
		clock := &fakeClock{}
		supervisor := service.NewSupervisor(testConfig(), sess).WithClock(clock)

		err := supervisor.Do(t.Context())
		require.ErrorIs(t, err, model.ErrRetriesExhausted)
		require.Equal(t, 3, sess.Attempts(), "no fourth attempt after the budget is spent")
		require.Len(t, clock.Sleeps(), 2, "no sleep after the terminal failure")
	})

	t.Run("success resets the counter", func(t *testing.T) {
		t.Parallel()
		// fail, fail, succeed, then the budget must be full again
		sess := &scriptedSession{script: []error{
			launchErr, launchErr, nil, launchErr, launchErr, launchErr,
		}}
		clock := &fakeClock{}
		sink := &recordingSink{}
		supervisor := service.NewSupervisor(testConfig(), sess, sink).WithClock(clock)

		err := supervisor.Do(t.Context())
		require.ErrorIs(t, err, model.ErrRetriesExhausted)
		require.Equal(t, 6, sess.Attempts(), "failures are consecutive, not cumulative")
		require.Equal(t, 1, sink.Count())
	})

	t.Run("timeout counts as a failure", func(t *testing.T) {
		t.Parallel()
		sess := &scriptedSession{script: []error{errHang, errHang, errHang}}
		clock := &fakeClock{}
		supervisor := service.NewSupervisor(testConfig(), sess).WithClock(clock)

		started := time.Now()
		err := supervisor.Do(t.Context())
		require.ErrorIs(t, err, model.ErrRetriesExhausted)
		require.Less(t, time.Since(started), 5*time.Second)

		sess.mu.Lock()
		defer sess.mu.Unlock()
		require.Equal(t, 3, sess.torndown, "abandoned attempts still unwound before the next one")
	})
}

func TestSupervisorSleeps(t *testing.T) {
	t.Parallel()

	t.Run("floor applies to both intervals", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.TestInterval = time.Second
		cfg.RetryInterval = time.Second

		launchErr := &model.LaunchError{Err: errors.New("no chrome")}
		sess := &scriptedSession{script: []error{nil, launchErr, launchErr, launchErr}}
		clock := &fakeClock{}
		supervisor := service.NewSupervisor(cfg, sess).WithClock(clock)

		err := supervisor.Do(t.Context())
		require.ErrorIs(t, err, model.ErrRetriesExhausted)
		for _, d := range clock.Sleeps() {
			require.GreaterOrEqual(t, d, model.SleepFloor)
		}
	})

	t.Run("configured intervals are used", func(t *testing.T) {
		t.Parallel()
		launchErr := &model.LaunchError{Err: errors.New("no chrome")}
		sess := &scriptedSession{script: []error{nil, launchErr, launchErr, launchErr}}
		clock := &fakeClock{}
		supervisor := service.NewSupervisor(testConfig(), sess).WithClock(clock)

		err := supervisor.Do(t.Context())
		require.ErrorIs(t, err, model.ErrRetriesExhausted)
		require.Equal(t, []time.Duration{time.Hour, 15 * time.Minute, 15 * time.Minute}, clock.Sleeps())
	})
}

func TestSupervisorSinks(t *testing.T) {
	t.Parallel()

	t.Run("sink failure does not count against the budget", func(t *testing.T) {
		t.Parallel()
		launchErr := &model.LaunchError{Err: errors.New("no chrome")}
		// two sink-failing successes interleaved with two attempt failures:
		// the loop must survive all of it and only give up on the third
		// consecutive attempt failure
		sess := &scriptedSession{script: []error{
			nil, launchErr, nil, launchErr, launchErr, launchErr,
		}}
		clock := &fakeClock{}
		sink := &recordingSink{failing: true}
		supervisor := service.NewSupervisor(testConfig(), sess, sink).WithClock(clock)

		err := supervisor.Do(t.Context())
		require.ErrorIs(t, err, model.ErrRetriesExhausted)
		require.Equal(t, 6, sess.Attempts())
	})

	t.Run("one sink invocation per success", func(t *testing.T) {
		t.Parallel()
		launchErr := &model.LaunchError{Err: errors.New("no chrome")}
		sess := &scriptedSession{script: []error{
			nil, nil, launchErr, launchErr, launchErr,
		}}
		clock := &fakeClock{}
		sink := &recordingSink{}
		supervisor := service.NewSupervisor(testConfig(), sess, sink).WithClock(clock)

		err := supervisor.Do(t.Context())
		require.ErrorIs(t, err, model.ErrRetriesExhausted)
		require.Equal(t, 2, sink.Count())
	})
}

func TestSupervisorShutdown(t *testing.T) {
	t.Parallel()

	t.Run("cancellation is not a failure", func(t *testing.T) {
		t.Parallel()
		sess := &scriptedSession{script: []error{nil, nil, nil}}
		clock := &fakeClock{}
		ctx, cancel := context.WithCancel(t.Context())

		supervisor := service.NewSupervisor(testConfig(), sess).WithClock(clock)

		// the fake clock propagates ctx.Err, so cancel before the first sleep
		cancel()
		err := supervisor.Do(ctx)
		require.NoError(t, err)
	})

	t.Run("cancellation mid attempt", func(t *testing.T) {
		t.Parallel()
		sess := &scriptedSession{script: []error{errHang}}
		cfg := testConfig()
		cfg.AttemptTimeout = time.Hour

		ctx, cancel := context.WithCancel(t.Context())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		supervisor := service.NewSupervisor(cfg, sess).WithClock(&fakeClock{})
		err := supervisor.Do(ctx)
		require.NoError(t, err)
	})
}

func TestSupervisorOnce(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		sess := &scriptedSession{script: []error{nil}}
		sink := &recordingSink{}
		err := service.NewSupervisor(testConfig(), sess, sink).Once(t.Context())
		require.NoError(t, err)
		require.Equal(t, 1, sink.Count())
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		sess := &scriptedSession{script: []error{errHang}}
		err := service.NewSupervisor(testConfig(), sess).Once(t.Context())
		var timeoutErr *race.TimeoutError
		require.ErrorAs(t, err, &timeoutErr)
	})
}
