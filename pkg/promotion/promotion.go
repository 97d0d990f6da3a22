// Package promotion commits validated drafts into the system of record. Each
// record is its own transaction: one record's rejection never rolls back
// siblings already promoted in the same session. Conflicts are outcomes,
// infrastructure faults are errors.
package promotion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/zlovtnik/clm-ingest/internal/repositories/contract"
	"github.com/zlovtnik/clm-ingest/pkg/kafka"
	"github.com/zlovtnik/clm-ingest/pkg/models"
	"github.com/zlovtnik/clm-ingest/pkg/outcome"
	"github.com/zlovtnik/clm-ingest/pkg/tracing"
)

// EventPublisher emits promotion events downstream. Nil disables emission.
type EventPublisher interface {
	PublishContractPromoted(ctx context.Context, event *kafka.ContractPromotedEvent) error
}

// ContractStore is the persistence surface the promoter needs for contracts.
type ContractStore interface {
	CommitDraft(ctx context.Context, draft models.ContractDraft) (int64, error)
	UpdateDraft(ctx context.Context, id int64, draft models.ContractDraft, expectedCurrent models.ContractStatus) error
	GetByNumber(ctx context.Context, tenantID, contractNumber string) (*models.Contract, error)
}

// CustomerStore is the persistence surface the promoter needs for customers.
type CustomerStore interface {
	Upsert(ctx context.Context, draft models.CustomerDraft) (int64, error)
}

// SessionTracker records which natural keys already promoted within one
// session. The session manager processes records in sequence order, so the
// first claim is always the lowest sequence number.
type SessionTracker struct {
	mu      sync.Mutex
	claimed map[string]int
}

// NewSessionTracker creates a tracker for one session
func NewSessionTracker() *SessionTracker {
	return &SessionTracker{
		claimed: map[string]int{},
	}
}

// Claim marks the key as promoted by the given sequence. Returns the winning
// sequence and false when an earlier record already claimed the key.
func (t *SessionTracker) Claim(key string, sequence int) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if winner, ok := t.claimed[key]; ok {
		return winner, false
	}
	t.claimed[key] = sequence
	return sequence, true
}

// Promoter commits drafts, gating status changes through the contract
// lifecycle table and serializing writes per natural key.
type Promoter struct {
	contracts ContractStore
	customers CustomerStore
	locker    KeyLocker
	lockTTL   time.Duration
	publisher EventPublisher
	logger    ectologger.Logger
}

// NewPromoter creates a new promoter. publisher may be nil.
func NewPromoter(contracts ContractStore, customers CustomerStore, locker KeyLocker, lockTTL time.Duration, publisher EventPublisher, logger ectologger.Logger) *Promoter {
	return &Promoter{
		contracts: contracts,
		customers: customers,
		locker:    locker,
		lockTTL:   lockTTL,
		publisher: publisher,
		logger:    logger,
	}
}

// PromoteContract attempts to commit one validated contract draft. A nil
// failure with nil error means the record promoted; a non-nil failure is a
// per-record conflict the caller records against the session.
func (p *Promoter) PromoteContract(ctx context.Context, record models.StagedRecord, draft models.ContractDraft, tracker *SessionTracker) (*outcome.Failure, error) {
	ctx, span := tracing.StartSpan(ctx, "promotion.Promoter.PromoteContract")
	defer span.End()

	key := naturalKey(draft.TenantID, draft.ContractNumber)
	if winner, ok := tracker.Claim(key, record.Sequence); !ok {
		return outcome.Failf(outcome.CodeDuplicateInSession, "contract %s already promoted by record %d in this session", draft.ContractNumber, winner), nil
	}

	var fail *outcome.Failure
	err := p.locker.WithLock(ctx, key, p.lockTTL, func() error {
		existing, err := p.contracts.GetByNumber(ctx, draft.TenantID, draft.ContractNumber)
		if err != nil {
			return err
		}

		if existing == nil {
			// Create. DRAFT is the implicit initial state; any other asserted
			// status must be reachable from it.
			if draft.Status != models.ContractStatusDraft && !models.CanTransition(models.ContractStatusDraft, draft.Status) {
				fail = outcome.Failf(outcome.CodePromotionRejected, "new contract cannot start in status %s", draft.Status)
				return nil
			}
			id, err := p.contracts.CommitDraft(ctx, draft)
			if err != nil {
				return err
			}
			p.logger.WithContext(ctx).WithFields(map[string]any{"contract_id": id, "contract_number": draft.ContractNumber, "session_id": record.SessionID}).Info("Promoted contract")
			p.publishPromoted(ctx, id, draft, record.SessionID)
			return nil
		}

		// Update. A record that asserted no status keeps the persisted one;
		// an asserted status must be a legal move from it. The persisted
		// status may have moved since validation, so the conditional write
		// detects the race instead of overwriting it.
		commit := draft
		if !draft.StatusAsserted {
			commit.Status = existing.Status
		} else if !models.CanTransition(existing.Status, draft.Status) {
			fail = outcome.Failf(outcome.CodePromotionRejected, "contract cannot move from %s to %s", existing.Status, draft.Status)
			return nil
		}
		if err := p.contracts.UpdateDraft(ctx, existing.ID, commit, existing.Status); err != nil {
			if err == contract.ErrStatusConflict {
				current, readErr := p.contracts.GetByNumber(ctx, draft.TenantID, draft.ContractNumber)
				if readErr != nil {
					return readErr
				}
				status := "unknown"
				if current != nil {
					status = string(current.Status)
				}
				fail = outcome.Failf(outcome.CodePromotionRejected, "contract status changed to %s while promoting", status)
				return nil
			}
			return err
		}
		p.logger.WithContext(ctx).WithFields(map[string]any{"contract_id": existing.ID, "status": commit.Status, "session_id": record.SessionID}).Info("Promoted contract update")
		p.publishPromoted(ctx, existing.ID, commit, record.SessionID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fail, nil
}

// PromoteCustomer commits one validated customer draft. Customers have no
// lifecycle table; the write is an upsert on the natural key.
func (p *Promoter) PromoteCustomer(ctx context.Context, record models.StagedRecord, draft models.CustomerDraft, tracker *SessionTracker) (*outcome.Failure, error) {
	ctx, span := tracing.StartSpan(ctx, "promotion.Promoter.PromoteCustomer")
	defer span.End()

	key := naturalKey(draft.TenantID, draft.CustomerID)
	if winner, ok := tracker.Claim(key, record.Sequence); !ok {
		return outcome.Failf(outcome.CodeDuplicateInSession, "customer %s already promoted by record %d in this session", draft.CustomerID, winner), nil
	}

	err := p.locker.WithLock(ctx, key, p.lockTTL, func() error {
		id, err := p.customers.Upsert(ctx, draft)
		if err != nil {
			return err
		}
		p.logger.WithContext(ctx).WithFields(map[string]any{"customer_row_id": id, "customer_id": draft.CustomerID, "session_id": record.SessionID}).Info("Promoted customer")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nil, nil
}

// publishPromoted emits the downstream event. Best effort: the promotion
// already committed, a publish failure must not reject the record.
func (p *Promoter) publishPromoted(ctx context.Context, id int64, draft models.ContractDraft, sessionID string) {
	if p.publisher == nil {
		return
	}
	err := p.publisher.PublishContractPromoted(ctx, &kafka.ContractPromotedEvent{
		TenantID:       draft.TenantID,
		ContractID:     id,
		ContractNumber: draft.ContractNumber,
		Status:         draft.Status,
		SessionID:      sessionID,
	})
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"contract_number": draft.ContractNumber}).Error("Failed to publish contract promoted event")
	}
}

func naturalKey(tenantID, ref string) string {
	return fmt.Sprintf("promote:%s:%s", tenantID, ref)
}
