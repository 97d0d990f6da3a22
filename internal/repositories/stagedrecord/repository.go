// Package stagedrecord persists raw records staged per ingestion session.
package stagedrecord

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

// Repository handles staged record persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new staged record repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Insert stages one record in PENDING status.
func (r *Repository) Insert(ctx context.Context, tenantID string, req models.CreateStagedRecordRequest) (*models.StagedRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "stagedrecord.Repository.Insert")
	defer span.End()

	now := time.Now().UTC()
	record := &models.StagedRecord{
		ID:         uuid.New().String(),
		SessionID:  req.SessionID,
		TenantID:   tenantID,
		Sequence:   req.Sequence,
		NaturalKey: req.NaturalKey,
		Fields:     req.Fields,
		Status:     models.StagingStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("staged_records")
	sb.Cols("id", "session_id", "tenant_id", "sequence", "natural_key", "fields", "status", "created_at", "updated_at")
	sb.Values(record.ID, record.SessionID, record.TenantID, record.Sequence, record.NaturalKey, record.Fields, record.Status, now, now)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"session_id": req.SessionID, "sequence": req.Sequence}).Error("Failed to insert staged record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert staged record")
	}

	return record, nil
}

// ListBySession returns all staged records of a session ordered by sequence.
// Sequence order is what makes duplicate tie-breaks deterministic downstream.
func (r *Repository) ListBySession(ctx context.Context, tenantID, sessionID string) ([]models.StagedRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "stagedrecord.Repository.ListBySession")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "session_id", "tenant_id", "sequence", "natural_key", "fields", "status", "created_at", "updated_at")
	sb.From("staged_records")
	sb.Where(
		sb.Equal("session_id", sessionID),
		sb.Equal("tenant_id", tenantID),
	)
	sb.OrderBy("sequence")

	query, args := sb.Build()
	var records []models.StagedRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"session_id": sessionID, "tenant_id": tenantID}).Error("Failed to list staged records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list staged records")
	}
	return records, nil
}

// UpdateStatus moves a staged record to a new staging status.
func (r *Repository) UpdateStatus(ctx context.Context, tenantID, id string, status models.StagingStatus) error {
	ctx, span := tracing.StartSpan(ctx, "stagedrecord.Repository.UpdateStatus")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("staged_records")
	sb.Set(sb.Assign("status", status), sb.Assign("updated_at", time.Now().UTC()))
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "status": status}).Error("Failed to update staged record status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update staged record")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "staged record %s not found", id)
	}
	return nil
}
