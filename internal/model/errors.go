package model

import (
	"errors"
)

var (
	// ErrTermsNotAccepted is fatal: the remote measurement service refuses to
	// run without an explicit terms acceptance, so the process exits before
	// the first attempt instead of timing out an hour later.
	ErrTermsNotAccepted = errors.New("terms of service not accepted, set NETZBREMSE_ACCEPT_TERMS=true")

	// ErrRetriesExhausted terminates the supervisor loop once the
	// consecutive-failure budget is spent.
	ErrRetriesExhausted = errors.New("too many consecutive failed attempts")
)

// LaunchError marks an attempt that failed before a browser was running.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string {
	return "launching browser: " + e.Err.Error()
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// NavigationError marks an attempt that could not reach or settle the
// measurement page.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return "opening " + e.URL + ": " + e.Err.Error()
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}
