package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ContractStatus is the closed set of contract lifecycle states.
type ContractStatus string

const (
	ContractStatusDraft     ContractStatus = "DRAFT"
	ContractStatusPending   ContractStatus = "PENDING"
	ContractStatusActive    ContractStatus = "ACTIVE"
	ContractStatusSuspended ContractStatus = "SUSPENDED"
	ContractStatusCancelled ContractStatus = "CANCELLED"
	ContractStatusCompleted ContractStatus = "COMPLETED"
)

// contractTransitions is the single source of truth for lifecycle legality.
// Keeping it in one table avoids drift between validation and promotion.
var contractTransitions = map[ContractStatus][]ContractStatus{
	ContractStatusDraft:     {ContractStatusPending, ContractStatusCancelled},
	ContractStatusPending:   {ContractStatusActive, ContractStatusCancelled, ContractStatusDraft},
	ContractStatusActive:    {ContractStatusSuspended, ContractStatusCancelled, ContractStatusCompleted},
	ContractStatusSuspended: {ContractStatusActive, ContractStatusCancelled},
	ContractStatusCancelled: {},
	ContractStatusCompleted: {},
}

// CanTransition reports whether moving from one status to another is legal.
// Self-transitions are never legal; the status must materially change.
func CanTransition(from, to ContractStatus) bool {
	if from == to {
		return false
	}
	for _, allowed := range contractTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s ContractStatus) IsTerminal() bool {
	return len(contractTransitions[s]) == 0 && s.Valid()
}

// Valid reports whether the status is a member of the closed set.
func (s ContractStatus) Valid() bool {
	_, ok := contractTransitions[s]
	return ok
}

// ParseContractStatus parses a status string, rejecting anything outside the set.
func ParseContractStatus(s string) (ContractStatus, error) {
	status := ContractStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown contract status %q", s)
	}
	return status, nil
}

// ContractDraft is an immutable validated contract value flowing between the
// transform and promotion stages. Changes produce a new draft via the With*
// methods; equality is by (tenant_id, contract_number).
type ContractDraft struct {
	ID             *int64         `json:"id,omitempty"`
	TenantID       string         `json:"tenant_id"`
	ContractNumber string         `json:"contract_number"`
	CustomerRef    string         `json:"customer_ref"`
	Status         ContractStatus `json:"status"`
	// StatusAsserted distinguishes a status the source actually sent from
	// the DRAFT default a silent record falls back to. Promotion preserves
	// the persisted status when it is false.
	StatusAsserted bool `json:"status_asserted"`
}

// WithID returns a copy of the draft carrying the assigned id.
func (d ContractDraft) WithID(id int64) ContractDraft {
	d.ID = &id
	return d
}

// WithStatus returns a copy of the draft asserting the given status.
func (d ContractDraft) WithStatus(status ContractStatus) ContractDraft {
	d.Status = status
	d.StatusAsserted = true
	return d
}

// Equal reports natural-key equality.
func (d ContractDraft) Equal(other ContractDraft) bool {
	return d.TenantID == other.TenantID && d.ContractNumber == other.ContractNumber
}

// Contract is the system-of-record row for a promoted contract.
type Contract struct {
	ID             int64           `json:"id" db:"id"`
	TenantID       string          `json:"tenant_id" db:"tenant_id"`
	ContractNumber string          `json:"contract_number" db:"contract_number"`
	CustomerRef    string          `json:"customer_ref" db:"customer_ref"`
	Status         ContractStatus  `json:"status" db:"status"`
	Data           json.RawMessage `json:"data,omitempty" db:"data"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// CustomerDraft is the validated customer value for entity kind "customer".
type CustomerDraft struct {
	ID         *int64 `json:"id,omitempty"`
	TenantID   string `json:"tenant_id"`
	CustomerID string `json:"customer_id"`
	Name       string `json:"name"`
	TaxID      string `json:"tax_id,omitempty"`
	IsCompany  bool   `json:"is_company"`
}

// Customer is the system-of-record row for a promoted customer.
type Customer struct {
	ID         int64           `json:"id" db:"id"`
	TenantID   string          `json:"tenant_id" db:"tenant_id"`
	CustomerID string          `json:"customer_id" db:"customer_id"`
	Name       string          `json:"name" db:"name"`
	TaxID      *string         `json:"tax_id,omitempty" db:"tax_id"`
	IsCompany  bool            `json:"is_company" db:"is_company"`
	Data       json.RawMessage `json:"data,omitempty" db:"data"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}
