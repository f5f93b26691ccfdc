package domain

import "errors"

var (
	// ErrLedgerCorrupt means a hash-chain mismatch was detected in an evidence
	// ledger segment. It is fatal for that segment: the write path stays
	// blocked until the segment is resolved, and it is never retried.
	ErrLedgerCorrupt = errors.New("evidence ledger hash chain corrupt")

	// ErrTerminalState is returned when a caller attempts to move a binding
	// out of a terminal lifecycle state.
	ErrTerminalState = errors.New("binding is in a terminal state")
)
