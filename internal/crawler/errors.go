package crawler

import "errors"

var (
	// ErrSetup marks failures that abort a run before any task is dispatched.
	ErrSetup = errors.New("crawl setup failed")
	// ErrSinkFailed aborts a run when the sink failure policy is fatal.
	ErrSinkFailed = errors.New("document sink failed")
	// ErrSessionInUse is returned when a session ID is already bound to a live fetch.
	ErrSessionInUse = errors.New("session already in use")
	// ErrEngineNotStarted is returned by engines asked to fetch before Start.
	ErrEngineNotStarted = errors.New("engine not started")
)
