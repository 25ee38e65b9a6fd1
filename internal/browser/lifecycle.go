package browser

import (
	"context"
	"log/slog"
	"time"

	"github.com/netzbremse/netzbremse/internal/race"
)

// GracePeriod bounds graceful shutdown. Much shorter than the attempt timeout
// so teardown itself can never hang the supervisor.
const GracePeriod = 10 * time.Second

// Teardown destroys h: graceful close raced against GracePeriod, forced kill
// as fallback. Called exactly once per attempt, after the attempt's outcome
// is known. It never fails; cleanup problems are logged and absorbed because
// outcome reporting must not be blocked by them.
func Teardown(ctx context.Context, h Handle) {
	teardown(ctx, h, GracePeriod)
}

func teardown(ctx context.Context, h Handle, grace time.Duration) {
	// Detached from the attempt's cancellation, teardown still runs after a
	// timed-out attempt was abandoned.
	ctx = context.WithoutCancel(ctx)

	_, err := race.Run(ctx, grace, "graceful browser close",
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, h.Close(ctx)
		})
	if err == nil {
		return
	}

	slog.WarnContext(ctx, "graceful close failed, killing browser", "error", err)
	h.Kill()
}
