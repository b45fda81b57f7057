package types

import "errors"

var (
	// ErrScanIO marks a file that could not be read during a scan.
	ErrScanIO = errors.New("scan io error")
	// ErrPatternAmbiguity marks a match discarded below the confidence threshold.
	ErrPatternAmbiguity = errors.New("pattern ambiguity")
	// ErrWorkerExecution wraps worker failures and panics.
	ErrWorkerExecution = errors.New("worker execution failed")
	// ErrLedgerIntegrity is returned when a change would break ledger ordering.
	ErrLedgerIntegrity = errors.New("ledger integrity violation")
	// ErrConcurrencyConflict marks a task deferred because its file is busy.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrInvalidTransition is returned for disallowed task status changes.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotFound is returned when a ledger lookup has no match.
	ErrNotFound = errors.New("not found")
)
