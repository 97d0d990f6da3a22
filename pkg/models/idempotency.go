package models

import "time"

// LedgerOutcome is the processing outcome recorded against a fingerprint.
type LedgerOutcome string

const (
	LedgerOutcomeInProgress LedgerOutcome = "IN_PROGRESS"
	LedgerOutcomeProcessed  LedgerOutcome = "PROCESSED"
	LedgerOutcomeFailed     LedgerOutcome = "FAILED"
)

// CheckResult is the result of an atomic check-and-mark against the ledger.
type CheckResult string

const (
	CheckFirstSeen          CheckResult = "FIRST_SEEN"
	CheckAlreadyProcessed   CheckResult = "ALREADY_PROCESSED"
	CheckInProgressConflict CheckResult = "IN_PROGRESS_CONFLICT"
)

// IdempotencyRecord is one durable ledger entry. A fingerprint marked
// PROCESSED is never reprocessed; IN_PROGRESS blocks concurrent duplicates
// until resolved or stale-released.
type IdempotencyRecord struct {
	Fingerprint string        `json:"fingerprint" db:"fingerprint"`
	Outcome     LedgerOutcome `json:"outcome" db:"outcome"`
	FirstSeenAt time.Time     `json:"first_seen_at" db:"first_seen_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}
