package session

import "errors"

var (
	// ErrChannelDisconnected is reported once the connect budget is spent.
	// The session keeps running in degraded mode until a reconnect succeeds.
	ErrChannelDisconnected = errors.New("event channel disconnected")
	// ErrReconciliationFailed means every fetch attempt failed; the previous
	// view is kept and marked stale.
	ErrReconciliationFailed = errors.New("reconciliation failed")
	ErrStopped              = errors.New("session stopped")
	ErrUnknownOrder         = errors.New("order not in session")
)
