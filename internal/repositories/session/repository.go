// Package session persists ingestion sessions and their per-record outcomes.
package session

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/zlovtnik/clm-ingest/pkg/database"
	"github.com/zlovtnik/clm-ingest/pkg/models"
	"github.com/zlovtnik/clm-ingest/pkg/tracing"
)

// Repository handles ingestion session persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new session repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create opens a new session in OPEN status with the received count set.
func (r *Repository) Create(ctx context.Context, tenantID, sourceSystem string, entityKind models.EntityKind, received int) (*models.IngestionSession, error) {
	ctx, span := tracing.StartSpan(ctx, "session.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	session := &models.IngestionSession{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		SourceSystem: sourceSystem,
		EntityKind:   entityKind,
		Status:       models.SessionStatusOpen,
		SessionCounts: models.SessionCounts{
			Received: received,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("ingestion_sessions")
	sb.Cols("id", "tenant_id", "source_system", "entity_kind", "status", "received_count", "staged_count", "validated_count", "failed_count", "promoted_count", "created_at", "updated_at")
	sb.Values(session.ID, session.TenantID, session.SourceSystem, session.EntityKind, session.Status, received, 0, 0, 0, 0, now, now)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "source_system": sourceSystem}).Error("Failed to create ingestion session")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create session")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"session_id": session.ID, "received": received}).Info("Opened ingestion session")
	return session, nil
}

// Get retrieves a session snapshot including its ordered outcome list.
func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.IngestionSession, error) {
	ctx, span := tracing.StartSpan(ctx, "session.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "tenant_id", "source_system", "entity_kind", "status", "received_count", "staged_count", "validated_count", "failed_count", "promoted_count", "created_at", "updated_at")
	sb.From("ingestion_sessions")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	var session models.IngestionSession
	if err := r.db.GetContext(ctx, &session, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "session %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"session_id": id, "tenant_id": tenantID}).Error("Failed to get session")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get session")
	}

	outcomes, err := r.ListOutcomes(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	session.Outcomes = outcomes

	return &session, nil
}

// AdvanceStatus moves the session forward. The conditional update enforces the
// forward-only rule at the store, so a stale worker cannot regress a session.
func (r *Repository) AdvanceStatus(ctx context.Context, tenantID, id string, from, to models.SessionStatus) error {
	ctx, span := tracing.StartSpan(ctx, "session.Repository.AdvanceStatus")
	defer span.End()

	if !from.CanAdvanceTo(to) {
		return httperror.NewHTTPErrorf(http.StatusConflict, "session cannot move from %s to %s", from, to)
	}

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("ingestion_sessions")
	sb.Set(sb.Assign("status", to), sb.Assign("updated_at", now))
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.Equal("status", from),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"session_id": id, "from": from, "to": to}).Error("Failed to advance session status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to advance session")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusConflict, "session %s is no longer in status %s", id, from)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"session_id": id, "status": to}).Info("Session status advanced")
	return nil
}

// UpdateCounts stores the aggregated per-record counts on the session row.
func (r *Repository) UpdateCounts(ctx context.Context, tenantID, id string, counts models.SessionCounts) error {
	ctx, span := tracing.StartSpan(ctx, "session.Repository.UpdateCounts")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("ingestion_sessions")
	sb.Set(
		sb.Assign("staged_count", counts.Staged),
		sb.Assign("validated_count", counts.Validated),
		sb.Assign("failed_count", counts.Failed),
		sb.Assign("promoted_count", counts.Promoted),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"session_id": id}).Error("Failed to update session counts")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update session counts")
	}
	return nil
}

// AppendOutcome records one per-record outcome against the session audit trail.
func (r *Repository) AppendOutcome(ctx context.Context, tenantID string, out models.RecordOutcome) error {
	ctx, span := tracing.StartSpan(ctx, "session.Repository.AppendOutcome")
	defer span.End()

	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("session_outcomes")
	sb.Cols("session_id", "tenant_id", "sequence", "status", "code", "message", "field", "created_at")
	sb.Values(out.SessionID, tenantID, out.Sequence, out.Status, out.Code, out.Message, out.Field, out.CreatedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"session_id": out.SessionID, "sequence": out.Sequence}).Error("Failed to append session outcome")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to append outcome")
	}
	return nil
}

// ListOutcomes returns the session's outcomes ordered by sequence.
func (r *Repository) ListOutcomes(ctx context.Context, tenantID, sessionID string) ([]models.RecordOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "session.Repository.ListOutcomes")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("session_id", "sequence", "status", "code", "message", "field", "created_at")
	sb.From("session_outcomes")
	sb.Where(
		sb.Equal("session_id", sessionID),
		sb.Equal("tenant_id", tenantID),
	)
	sb.OrderBy("sequence", "created_at")

	query, args := sb.Build()
	var outcomes []models.RecordOutcome
	if err := r.db.SelectContext(ctx, &outcomes, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"session_id": sessionID}).Error("Failed to list session outcomes")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list outcomes")
	}
	return outcomes, nil
}
