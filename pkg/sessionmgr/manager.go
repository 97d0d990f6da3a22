// Package sessionmgr owns the ingestion session lifecycle. It is the only
// writer of session status and drives each staged record through transform,
// validation, and promotion in sequence order. Partial success is first-class:
// per-record rejections are recorded, only infrastructure faults fail a
// session.
package sessionmgr

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/zlovtnik/clm-ingest/pkg/kafka"
	"github.com/zlovtnik/clm-ingest/pkg/metrics"
	"github.com/zlovtnik/clm-ingest/pkg/models"
	"github.com/zlovtnik/clm-ingest/pkg/outcome"
	"github.com/zlovtnik/clm-ingest/pkg/promotion"
	"github.com/zlovtnik/clm-ingest/pkg/tracing"
	"github.com/zlovtnik/clm-ingest/pkg/transform"
)

// SessionStore is the persistence surface for sessions.
type SessionStore interface {
	Create(ctx context.Context, tenantID, sourceSystem string, entityKind models.EntityKind, received int) (*models.IngestionSession, error)
	Get(ctx context.Context, tenantID, id string) (*models.IngestionSession, error)
	AdvanceStatus(ctx context.Context, tenantID, id string, from, to models.SessionStatus) error
	UpdateCounts(ctx context.Context, tenantID, id string, counts models.SessionCounts) error
	AppendOutcome(ctx context.Context, tenantID string, out models.RecordOutcome) error
}

// StagedStore is the persistence surface for staged records.
type StagedStore interface {
	Insert(ctx context.Context, tenantID string, req models.CreateStagedRecordRequest) (*models.StagedRecord, error)
	ListBySession(ctx context.Context, tenantID, sessionID string) ([]models.StagedRecord, error)
	UpdateStatus(ctx context.Context, tenantID, id string, status models.StagingStatus) error
}

// RecordInput is one raw record submitted at session open.
type RecordInput struct {
	NaturalKey json.RawMessage `json:"natural_key"`
	Fields     json.RawMessage `json:"fields" validate:"required"`
}

// validatedDraft pairs a staged record with the draft its transform produced.
// Exactly one of contract/customer is set, per the session's entity kind.
type validatedDraft struct {
	record   models.StagedRecord
	contract models.ContractDraft
	customer models.CustomerDraft
}

// EventPublisher emits session terminal-state events. Nil disables emission.
type EventPublisher interface {
	PublishSessionCompleted(ctx context.Context, event *kafka.SessionCompletedEvent) error
}

// Manager coordinates the ingestion pipeline for one deployment.
type Manager struct {
	sessions    SessionStore
	staged      StagedStore
	contracts   promotion.ContractStore
	transformer *transform.Transformer
	promoter    *promotion.Promoter
	publisher   EventPublisher
	workers     chan struct{}
	logger      ectologger.Logger
}

// NewManager creates a new session manager. workerCount bounds how many
// sessions advance concurrently; records within one session stay strictly
// ordered regardless. publisher may be nil.
func NewManager(sessions SessionStore, staged StagedStore, contracts promotion.ContractStore, transformer *transform.Transformer, promoter *promotion.Promoter, publisher EventPublisher, workerCount int, logger ectologger.Logger) *Manager {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Manager{
		sessions:    sessions,
		staged:      staged,
		contracts:   contracts,
		transformer: transformer,
		promoter:    promoter,
		publisher:   publisher,
		workers:     make(chan struct{}, workerCount),
		logger:      logger,
	}
}

// Open accepts a batch, creates the session, and stages every record with a
// monotonically increasing sequence number. The session is left in STAGING,
// ready for Advance.
func (m *Manager) Open(ctx context.Context, tenantID, sourceSystem string, entityKind models.EntityKind, records []RecordInput) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "sessionmgr.Manager.Open")
	defer span.End()

	session, err := m.sessions.Create(ctx, tenantID, sourceSystem, entityKind, len(records))
	if err != nil {
		return "", err
	}
	if err := m.sessions.AdvanceStatus(ctx, tenantID, session.ID, models.SessionStatusOpen, models.SessionStatusStaging); err != nil {
		return "", err
	}

	staged := 0
	for i, rec := range records {
		if _, err := m.staged.Insert(ctx, tenantID, models.CreateStagedRecordRequest{
			SessionID:  session.ID,
			Sequence:   i + 1,
			NaturalKey: rec.NaturalKey,
			Fields:     rec.Fields,
		}); err != nil {
			m.failSession(ctx, tenantID, session.ID, models.SessionStatusStaging)
			return session.ID, err
		}
		staged++
	}

	counts := session.SessionCounts
	counts.Staged = staged
	if err := m.sessions.UpdateCounts(ctx, tenantID, session.ID, counts); err != nil {
		m.failSession(ctx, tenantID, session.ID, models.SessionStatusStaging)
		return session.ID, err
	}

	m.logger.WithContext(ctx).WithFields(map[string]any{"session_id": session.ID, "entity_kind": entityKind, "records": staged}).Info("Opened ingestion session")
	return session.ID, nil
}

// Advance drives a staged session to a terminal state. Records are processed
// strictly in sequence order so the duplicate natural-key tie-break is
// deterministic. Returns the final snapshot.
func (m *Manager) Advance(ctx context.Context, tenantID, sessionID string) (*models.IngestionSession, error) {
	ctx, span := tracing.StartSpan(ctx, "sessionmgr.Manager.Advance")
	defer span.End()

	select {
	case m.workers <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-m.workers }()

	start := time.Now()
	session, err := m.sessions.Get(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}

	if err := m.sessions.AdvanceStatus(ctx, tenantID, sessionID, models.SessionStatusStaging, models.SessionStatusTransforming); err != nil {
		return nil, err
	}

	records, err := m.staged.ListBySession(ctx, tenantID, sessionID)
	if err != nil {
		m.failSession(ctx, tenantID, sessionID, models.SessionStatusTransforming)
		return nil, err
	}

	counts := session.SessionCounts
	counts.Staged = len(records)

	drafts, counts, err := m.transformAll(ctx, tenantID, session.EntityKind, records, counts)
	if err != nil {
		m.failSession(ctx, tenantID, sessionID, models.SessionStatusTransforming)
		return nil, err
	}

	if err := m.sessions.AdvanceStatus(ctx, tenantID, sessionID, models.SessionStatusTransforming, models.SessionStatusValidating); err != nil {
		if !isStatusConflict(err) {
			m.failSession(ctx, tenantID, sessionID, models.SessionStatusTransforming)
		}
		return nil, err
	}
	if err := m.sessions.AdvanceStatus(ctx, tenantID, sessionID, models.SessionStatusValidating, models.SessionStatusPromoting); err != nil {
		if !isStatusConflict(err) {
			m.failSession(ctx, tenantID, sessionID, models.SessionStatusValidating)
		}
		return nil, err
	}

	counts, err = m.promoteAll(ctx, tenantID, session.EntityKind, drafts, counts)
	if err != nil {
		m.failSession(ctx, tenantID, sessionID, models.SessionStatusPromoting)
		return nil, err
	}

	if err := m.sessions.UpdateCounts(ctx, tenantID, sessionID, counts); err != nil {
		m.failSession(ctx, tenantID, sessionID, models.SessionStatusPromoting)
		return nil, err
	}
	if err := m.sessions.AdvanceStatus(ctx, tenantID, sessionID, models.SessionStatusPromoting, models.SessionStatusCompleted); err != nil {
		if !isStatusConflict(err) {
			m.failSession(ctx, tenantID, sessionID, models.SessionStatusPromoting)
		}
		return nil, err
	}

	metrics.SessionsTotal.WithLabelValues(tenantID, string(session.EntityKind), string(models.SessionStatusCompleted)).Inc()
	metrics.SessionDuration.WithLabelValues(tenantID, string(session.EntityKind)).Observe(time.Since(start).Seconds())
	m.logger.WithContext(ctx).WithFields(map[string]any{"session_id": sessionID, "promoted": counts.Promoted, "failed": counts.Failed}).Info("Completed ingestion session")
	m.publishCompleted(ctx, tenantID, sessionID, models.SessionStatusCompleted, counts)

	return m.sessions.Get(ctx, tenantID, sessionID)
}

// Status returns a read-only snapshot of the session with counts and the
// ordered outcome list.
func (m *Manager) Status(ctx context.Context, tenantID, sessionID string) (*models.IngestionSession, error) {
	ctx, span := tracing.StartSpan(ctx, "sessionmgr.Manager.Status")
	defer span.End()
	return m.sessions.Get(ctx, tenantID, sessionID)
}

// Cancel marks a session FAILED on operator request. Work already dispatched
// finishes; nothing further in the session is scheduled.
func (m *Manager) Cancel(ctx context.Context, tenantID, sessionID string) error {
	ctx, span := tracing.StartSpan(ctx, "sessionmgr.Manager.Cancel")
	defer span.End()

	session, err := m.sessions.Get(ctx, tenantID, sessionID)
	if err != nil {
		return err
	}
	if err := m.sessions.AdvanceStatus(ctx, tenantID, sessionID, session.Status, models.SessionStatusFailed); err != nil {
		return err
	}
	metrics.SessionsTotal.WithLabelValues(tenantID, string(session.EntityKind), string(models.SessionStatusFailed)).Inc()
	m.publishCompleted(ctx, tenantID, sessionID, models.SessionStatusFailed, session.SessionCounts)
	return nil
}

// publishCompleted emits the terminal-state event. Best effort.
func (m *Manager) publishCompleted(ctx context.Context, tenantID, sessionID string, status models.SessionStatus, counts models.SessionCounts) {
	if m.publisher == nil {
		return
	}
	err := m.publisher.PublishSessionCompleted(ctx, &kafka.SessionCompletedEvent{
		TenantID:  tenantID,
		SessionID: sessionID,
		Status:    status,
		Counts:    counts,
	})
	if err != nil {
		m.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"session_id": sessionID}).Error("Failed to publish session completed event")
	}
}

// transformAll runs transform/validate over every staged record. Validation
// failures become REJECTED outcomes; only errors are infrastructure faults.
func (m *Manager) transformAll(ctx context.Context, tenantID string, kind models.EntityKind, records []models.StagedRecord, counts models.SessionCounts) ([]validatedDraft, models.SessionCounts, error) {
	var drafts []validatedDraft
	for _, record := range records {
		var fail *outcome.Failure
		draft := validatedDraft{record: record}

		switch kind {
		case models.EntityKindCustomer:
			draft.customer, fail = m.transformer.CustomerDraft(ctx, &record)
		default:
			currentStatus, err := m.currentContractStatus(ctx, record)
			if err != nil {
				return nil, counts, err
			}
			draft.contract, fail = m.transformer.ContractDraft(ctx, &record, currentStatus)
		}

		if fail != nil {
			counts.Failed++
			if err := m.reject(ctx, tenantID, record, fail); err != nil {
				return nil, counts, err
			}
			metrics.RecordsProcessed.WithLabelValues(tenantID, string(kind), fail.Code).Inc()
			continue
		}

		counts.Validated++
		if err := m.staged.UpdateStatus(ctx, tenantID, record.ID, models.StagingStatusValidated); err != nil {
			return nil, counts, err
		}
		drafts = append(drafts, draft)
	}
	return drafts, counts, nil
}

// promoteAll commits validated drafts in sequence order. Conflicts become
// REJECTED outcomes and count as failed; the record stays counted validated.
func (m *Manager) promoteAll(ctx context.Context, tenantID string, kind models.EntityKind, drafts []validatedDraft, counts models.SessionCounts) (models.SessionCounts, error) {
	tracker := promotion.NewSessionTracker()
	for _, v := range drafts {
		var fail *outcome.Failure
		var err error
		switch kind {
		case models.EntityKindCustomer:
			fail, err = m.promoter.PromoteCustomer(ctx, v.record, v.customer, tracker)
		default:
			fail, err = m.promoter.PromoteContract(ctx, v.record, v.contract, tracker)
		}
		if err != nil {
			return counts, err
		}

		if fail != nil {
			counts.Failed++
			if err := m.reject(ctx, tenantID, v.record, fail); err != nil {
				return counts, err
			}
			metrics.RecordsProcessed.WithLabelValues(tenantID, string(kind), fail.Code).Inc()
			continue
		}

		counts.Promoted++
		if err := m.staged.UpdateStatus(ctx, tenantID, v.record.ID, models.StagingStatusPromoted); err != nil {
			return counts, err
		}
		if err := m.sessions.AppendOutcome(ctx, tenantID, models.RecordOutcome{
			SessionID: v.record.SessionID,
			Sequence:  v.record.Sequence,
			Status:    string(models.StagingStatusPromoted),
		}); err != nil {
			return counts, err
		}
		metrics.RecordsProcessed.WithLabelValues(tenantID, string(kind), "PROMOTED").Inc()
	}
	return counts, nil
}

// currentContractStatus resolves the persisted status for the record's natural
// key, nil when the contract does not exist yet.
func (m *Manager) currentContractStatus(ctx context.Context, record models.StagedRecord) (*models.ContractStatus, error) {
	key, err := record.NaturalKeyMap()
	if err != nil {
		return nil, nil
	}
	number, _ := key["contract_number"].(string)
	if number == "" {
		return nil, nil
	}
	existing, err := m.contracts.GetByNumber(ctx, record.TenantID, number)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}
	status := existing.Status
	return &status, nil
}

// reject records a per-record failure: staged status REJECTED plus a session
// outcome naming the code, message and field.
func (m *Manager) reject(ctx context.Context, tenantID string, record models.StagedRecord, fail *outcome.Failure) error {
	if err := m.staged.UpdateStatus(ctx, tenantID, record.ID, models.StagingStatusRejected); err != nil {
		return err
	}
	return m.sessions.AppendOutcome(ctx, tenantID, models.RecordOutcome{
		SessionID: record.SessionID,
		Sequence:  record.Sequence,
		Status:    string(models.StagingStatusRejected),
		Code:      fail.Code,
		Message:   fail.Message,
		Field:     fail.Field,
	})
}

// isStatusConflict reports whether the store refused a write because the
// session moved concurrently. Conflicts belong to the competing advancer;
// only infrastructure faults fail the session here.
func isStatusConflict(err error) bool {
	return httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusConflict
}

// failSession moves the session to FAILED after an infrastructure fault. Best
// effort: the original error is what propagates to the caller.
func (m *Manager) failSession(ctx context.Context, tenantID, sessionID string, from models.SessionStatus) {
	if err := m.sessions.AdvanceStatus(ctx, tenantID, sessionID, from, models.SessionStatusFailed); err != nil {
		m.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"session_id": sessionID}).Error("Failed to mark session FAILED")
	}
}
