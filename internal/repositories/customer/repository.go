// Package customer persists promoted customers in the system of record.
package customer

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

// Repository handles customer persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new customer repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Upsert writes a customer draft, inserting on first sight of the natural key
// (tenant_id, customer_id) and updating the mutable fields otherwise. Returns
// the row id either way.
func (r *Repository) Upsert(ctx context.Context, draft models.CustomerDraft) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "customer.Repository.Upsert")
	defer span.End()

	now := time.Now().UTC()
	query := `
		INSERT INTO customers (tenant_id, customer_id, name, tax_id, is_company, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
		ON CONFLICT (tenant_id, customer_id) DO UPDATE SET
			name = EXCLUDED.name,
			tax_id = EXCLUDED.tax_id,
			is_company = EXCLUDED.is_company,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	var id int64
	if err := r.db.GetContext(ctx, &id, query, draft.TenantID, draft.CustomerID, draft.Name, draft.TaxID, draft.IsCompany, now, now); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": draft.TenantID, "customer_id": draft.CustomerID}).Error("Failed to upsert customer")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert customer")
	}
	return id, nil
}

// Get retrieves a customer by natural key. Returns nil when absent.
func (r *Repository) Get(ctx context.Context, tenantID, customerID string) (*models.Customer, error) {
	ctx, span := tracing.StartSpan(ctx, "customer.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "tenant_id", "customer_id", "name", "tax_id", "is_company", "created_at", "updated_at")
	sb.From("customers")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("customer_id", customerID),
	)
	sb.Limit(1)

	query, args := sb.Build()
	var customer models.Customer
	if err := r.db.GetContext(ctx, &customer, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "customer_id": customerID}).Error("Failed to get customer")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get customer")
	}
	return &customer, nil
}

// Exists reports whether a customer with the given natural key is promoted.
// Used by contract validation to resolve customer references.
func (r *Repository) Exists(ctx context.Context, tenantID, customerID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "customer.Repository.Exists")
	defer span.End()

	var count int
	query := `SELECT COUNT(1) FROM customers WHERE tenant_id = $1 AND customer_id = $2`
	if err := r.db.GetContext(ctx, &count, query, tenantID, customerID); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "customer_id": customerID}).Error("Failed to check customer existence")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to check customer")
	}
	return count > 0, nil
}
