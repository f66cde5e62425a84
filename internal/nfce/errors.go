package nfce

import "errors"

// Sentinel errors used at orchestration decision points.
var (
	// ErrInvalidInput marks a malformed submission (missing
	// jurisdiction parameter). Rejected at admission, never enqueued.
	ErrInvalidInput = errors.New("invalid input")

	// ErrBrowserCrashed is surfaced by the browser pool after it tears
	// itself down because the browser process became unreachable.
	ErrBrowserCrashed = errors.New("browser crashed or was closed unexpectedly during navigation")

	// ErrUnknownJurisdiction is returned by the registry for a code
	// with no registered scraper strategy.
	ErrUnknownJurisdiction = errors.New("unsupported jurisdiction code")

	// ErrBlockedPage is thrown by the worker after persisting a BLOCKED
	// status so the queue schedules a retry.
	ErrBlockedPage = errors.New("page blocked by anti-automation response")

	// ErrJobNotFound is returned by stores when no row matches.
	ErrJobNotFound = errors.New("job not found")
)
