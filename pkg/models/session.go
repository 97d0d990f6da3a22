package models

import (
	"time"
)

// SessionStatus is the lifecycle state of an ingestion session. Status only
// advances forward through the listed order; FAILED is reachable from any
// non-terminal state.
type SessionStatus string

const (
	SessionStatusOpen         SessionStatus = "OPEN"
	SessionStatusStaging      SessionStatus = "STAGING"
	SessionStatusTransforming SessionStatus = "TRANSFORMING"
	SessionStatusValidating   SessionStatus = "VALIDATING"
	SessionStatusPromoting    SessionStatus = "PROMOTING"
	SessionStatusCompleted    SessionStatus = "COMPLETED"
	SessionStatusFailed       SessionStatus = "FAILED"
)

var sessionOrder = map[SessionStatus]int{
	SessionStatusOpen:         0,
	SessionStatusStaging:      1,
	SessionStatusTransforming: 2,
	SessionStatusValidating:   3,
	SessionStatusPromoting:    4,
	SessionStatusCompleted:    5,
	SessionStatusFailed:       5,
}

// CanAdvanceTo reports whether the session status may move to next. Forward
// moves only, plus early exit to FAILED from any non-terminal state.
func (s SessionStatus) CanAdvanceTo(next SessionStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == SessionStatusFailed {
		return true
	}
	return sessionOrder[next] > sessionOrder[s]
}

// IsTerminal reports whether the session status is COMPLETED or FAILED.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// EntityKind is the kind of record a session ingests.
type EntityKind string

const (
	EntityKindContract EntityKind = "contract"
	EntityKindCustomer EntityKind = "customer"
)

// Valid reports whether the entity kind is known.
func (k EntityKind) Valid() bool {
	return k == EntityKindContract || k == EntityKindCustomer
}

// SessionCounts aggregates per-record outcomes at the session level.
type SessionCounts struct {
	Received  int `json:"received" db:"received_count"`
	Staged    int `json:"staged" db:"staged_count"`
	Validated int `json:"validated" db:"validated_count"`
	Failed    int `json:"failed" db:"failed_count"`
	Promoted  int `json:"promoted" db:"promoted_count"`
}

// IngestionSession is the unit of batch ingestion. Sessions are append-only:
// they are never deleted, only marked terminal.
type IngestionSession struct {
	ID           string        `json:"id" db:"id"`
	TenantID     string        `json:"tenant_id" db:"tenant_id"`
	SourceSystem string        `json:"source_system" db:"source_system"`
	EntityKind   EntityKind    `json:"entity_kind" db:"entity_kind"`
	Status       SessionStatus `json:"status" db:"status"`
	SessionCounts
	Outcomes  []RecordOutcome `json:"outcomes"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// RecordOutcome explains, per staged record, why it did or did not promote.
type RecordOutcome struct {
	SessionID string    `json:"session_id" db:"session_id"`
	Sequence  int       `json:"sequence" db:"sequence"`
	Status    string    `json:"status" db:"status"`
	Code      string    `json:"code,omitempty" db:"code"`
	Message   string    `json:"message,omitempty" db:"message"`
	Field     string    `json:"field,omitempty" db:"field"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
