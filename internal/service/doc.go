package service

// Package service implements the supervision loop around measurement attempts.
//
// Overview
// The Supervisor repeatedly runs one MeasurementSession attempt under a hard
// per-attempt deadline, then decides what to do with the outcome:
//
//	Supervisor              Session                 Browser
//	    |                      |                       |
//	attempt (deadline) ------->| Run() --------------->| launch
//	    |                      |                       | navigate, trigger
//	    |                      |<-- completion signal -|
//	    |                      | teardown ------------>| close, kill fallback
//	    |<----- Result/error --|                       |
//	 success: reset counter, report to sinks, sleep test interval
//	 failure: bump counter, sleep retry interval
//	 counter == max retries: return ErrRetriesExhausted (process exits 1)
//
// Invariants:
//   - Attempts are strictly sequential. The next attempt never starts before
//     the previous attempt's browser is torn down and its outcome handled.
//   - The consecutive-failure counter resets on any success; only launch,
//     navigation and timeout failures count against it.
//   - Sink errors are logged, never counted as measurement failures.
//   - Every sleep lasts at least model.SleepFloor.
//
// Timing is injected through the Clock interface so the loop is testable
// with a fake session and without real sleeps.
