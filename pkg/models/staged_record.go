package models

import (
	"encoding/json"
	"time"
)

// StagingStatus tracks a staged record through the pipeline.
type StagingStatus string

const (
	StagingStatusPending     StagingStatus = "PENDING"
	StagingStatusTransformed StagingStatus = "TRANSFORMED"
	StagingStatusValidated   StagingStatus = "VALIDATED"
	StagingStatusPromoted    StagingStatus = "PROMOTED"
	StagingStatusRejected    StagingStatus = "REJECTED"
)

// StagedRecord holds one raw external record pending promotion. The session is
// the unit of lifetime; the sequence number makes processing order within a
// session deterministic.
type StagedRecord struct {
	ID         string          `json:"id" db:"id"`
	SessionID  string          `json:"session_id" db:"session_id"`
	TenantID   string          `json:"tenant_id" db:"tenant_id"`
	Sequence   int             `json:"sequence" db:"sequence"`
	NaturalKey json.RawMessage `json:"natural_key" db:"natural_key"`
	Fields     json.RawMessage `json:"fields" db:"fields"`
	Status     StagingStatus   `json:"status" db:"status"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// FieldMap decodes the raw payload. Returns an empty map for a nil payload.
func (r *StagedRecord) FieldMap() (map[string]any, error) {
	fields := map[string]any{}
	if len(r.Fields) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(r.Fields, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// NaturalKeyMap decodes the natural key fields.
func (r *StagedRecord) NaturalKeyMap() (map[string]any, error) {
	key := map[string]any{}
	if len(r.NaturalKey) == 0 {
		return key, nil
	}
	if err := json.Unmarshal(r.NaturalKey, &key); err != nil {
		return nil, err
	}
	return key, nil
}

// CreateStagedRecordRequest is the request for staging one record.
type CreateStagedRecordRequest struct {
	SessionID  string          `json:"session_id" validate:"required"`
	Sequence   int             `json:"sequence" validate:"gte=1"`
	NaturalKey json.RawMessage `json:"natural_key"`
	Fields     json.RawMessage `json:"fields" validate:"required"`
}
