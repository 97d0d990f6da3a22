// Package contract persists promoted contracts in the system of record.
package contract

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/zlovtnik/clm-ingest/pkg/database"
	"github.com/zlovtnik/clm-ingest/pkg/models"
	"github.com/zlovtnik/clm-ingest/pkg/tracing"
)

// ErrStatusConflict is returned by UpdateDraft when the persisted status no
// longer matches the expected current status. Callers translate it into a
// per-record conflict outcome rather than an infrastructure failure.
var ErrStatusConflict = httperror.NewHTTPError(http.StatusConflict, "contract status changed since validation")

// Repository handles contract persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new contract repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CommitDraft inserts a new contract and returns the assigned id. The write is
// transactional per record, never batched across a session.
func (r *Repository) CommitDraft(ctx context.Context, draft models.ContractDraft) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "contract.Repository.CommitDraft")
	defer span.End()

	now := time.Now().UTC()
	query := `
		INSERT INTO contracts (tenant_id, contract_number, customer_ref, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	var id int64
	if err := r.db.GetContext(ctx, &id, query, draft.TenantID, draft.ContractNumber, draft.CustomerRef, draft.Status, now, now); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": draft.TenantID, "contract_number": draft.ContractNumber}).Error("Failed to commit contract draft")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit contract")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"contract_id": id, "contract_number": draft.ContractNumber}).Info("Committed contract")
	return id, nil
}

// UpdateDraft applies a status-changing update gated on the expected current
// status. The conditional write is what makes the promotion-time state race
// detectable: zero rows affected means someone moved the contract first.
func (r *Repository) UpdateDraft(ctx context.Context, id int64, draft models.ContractDraft, expectedCurrent models.ContractStatus) error {
	ctx, span := tracing.StartSpan(ctx, "contract.Repository.UpdateDraft")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("contracts")
	sb.Set(
		sb.Assign("customer_ref", draft.CustomerRef),
		sb.Assign("status", draft.Status),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", draft.TenantID),
		sb.Equal("status", expectedCurrent),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"contract_id": id, "expected_status": expectedCurrent}).Error("Failed to update contract draft")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update contract")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrStatusConflict
	}
	return nil
}

// Get retrieves a contract by id.
func (r *Repository) Get(ctx context.Context, tenantID string, id int64) (*models.Contract, error) {
	ctx, span := tracing.StartSpan(ctx, "contract.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "tenant_id", "contract_number", "customer_ref", "status", "created_at", "updated_at")
	sb.From("contracts")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	var contract models.Contract
	if err := r.db.GetContext(ctx, &contract, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "contract %d not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"contract_id": id, "tenant_id": tenantID}).Error("Failed to get contract")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get contract")
	}
	return &contract, nil
}

// GetByNumber retrieves a contract by its natural key. Returns nil when no
// contract with that number exists for the tenant.
func (r *Repository) GetByNumber(ctx context.Context, tenantID, contractNumber string) (*models.Contract, error) {
	ctx, span := tracing.StartSpan(ctx, "contract.Repository.GetByNumber")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "tenant_id", "contract_number", "customer_ref", "status", "created_at", "updated_at")
	sb.From("contracts")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("contract_number", contractNumber),
	)
	sb.Limit(1)

	query, args := sb.Build()
	var contract models.Contract
	if err := r.db.GetContext(ctx, &contract, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "contract_number": contractNumber}).Error("Failed to get contract by number")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get contract")
	}
	return &contract, nil
}
