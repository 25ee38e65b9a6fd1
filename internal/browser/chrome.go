package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// resultBinding is the CDP binding the hook script calls with the finished
// measurement record.
const resultBinding = "__netzbremseResult"

// hookScript forwards the widget's completion event into the binding.
const hookScript = `window.addEventListener("speedtest:finished", (ev) => {
	window.` + resultBinding + `(JSON.stringify(ev.detail));
});`

// acceptScript mirrors what the widget stores when a user clicks through the
// terms dialog.
const acceptScript = `window.localStorage.setItem("speedtest.terms-accepted", "true");`

const startButton = `button[data-testid="start-button"]`

// ChromeDriver launches headless Chrome via chromedp.
type ChromeDriver struct{}

func (ChromeDriver) Launch(ctx context.Context, opts LaunchOptions) (Handle, error) {
	if err := os.MkdirAll(opts.ProfileDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating profile directory %s: %w", opts.ProfileDir, err)
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.UserDataDir(opts.ProfileDir),
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	// The browser context descends from Background, not from the attempt:
	// the handle must stay controllable for teardown after the attempt's
	// context is cancelled.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	h := &chromeHandle{
		ctx:           browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}

	// Empty Run starts the process, so exec failures surface here instead of
	// on the first navigation.
	if err := h.run(ctx); err != nil {
		h.Kill()
		return nil, err
	}
	return h, nil
}

type chromeHandle struct {
	ctx           context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
}

// run executes actions on the browser context while honoring the attempt
// context ctx, so a cancelled attempt unblocks mid-action without destroying
// the handle.
func (h *chromeHandle) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (h *chromeHandle) Navigate(ctx context.Context, url string) error {
	return h.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitVisible(startButton, chromedp.ByQuery),
	)
}

func (h *chromeHandle) AcceptTerms(ctx context.Context) error {
	return h.run(ctx, chromedp.Evaluate(acceptScript, nil))
}

func (h *chromeHandle) Results(ctx context.Context) (<-chan json.RawMessage, error) {
	ch := make(chan json.RawMessage, 1)
	chromedp.ListenTarget(h.ctx, func(ev any) {
		called, ok := ev.(*runtime.EventBindingCalled)
		if !ok || called.Name != resultBinding {
			return
		}
		select {
		case ch <- json.RawMessage(called.Payload):
		default:
			slog.WarnContext(h.ctx, "dropping extra completion signal", "binding", resultBinding)
		}
	})

	err := h.run(ctx,
		runtime.AddBinding(resultBinding),
		chromedp.Evaluate(hookScript, nil),
	)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (h *chromeHandle) Trigger(ctx context.Context) error {
	return h.run(ctx, chromedp.Click(startButton, chromedp.ByQuery, chromedp.NodeVisible))
}

// Close asks the browser to shut down over the protocol and waits for the
// process to exit. Honors ctx so a hung browser does not block teardown's
// grace period.
func (h *chromeHandle) Close(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Cancel(h.ctx)
	}()

	select {
	case err := <-done:
		h.cancelAlloc()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *chromeHandle) Kill() {
	h.cancelBrowser()
	h.cancelAlloc()
}
