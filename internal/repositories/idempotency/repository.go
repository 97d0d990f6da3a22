// Package idempotency is the durable processing ledger keyed by message
// fingerprint. CheckAndMark is the single entry point for claiming work: it
// resolves races between concurrent duplicates inside one conditional write.
package idempotency

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

// Repository handles idempotency ledger persistence
type Repository struct {
	db         database.DB
	logger     ectologger.Logger
	staleAfter time.Duration
}

// NewRepository creates a new ledger repository. staleAfter bounds how long an
// IN_PROGRESS claim blocks duplicates before it is considered abandoned.
func NewRepository(db database.DB, logger ectologger.Logger, staleAfter time.Duration) *Repository {
	return &Repository{
		db:         db,
		logger:     logger,
		staleAfter: staleAfter,
	}
}

// claimRow is the result of the conditional upsert: claimed tells whether this
// caller took the claim, outcome is the row state when it did not.
type claimRow struct {
	Fingerprint string               `db:"fingerprint"`
	Outcome     models.LedgerOutcome `db:"outcome"`
}

// CheckAndMark atomically checks the ledger and, when the fingerprint is
// unseen, FAILED, or stale IN_PROGRESS, claims it as IN_PROGRESS in the same
// statement. Exactly one of N concurrent callers for the same fingerprint
// observes FIRST_SEEN; the rest observe the outcome that blocked them.
func (r *Repository) CheckAndMark(ctx context.Context, fingerprint string) (models.CheckResult, error) {
	ctx, span := tracing.StartSpan(ctx, "idempotency.Repository.CheckAndMark")
	defer span.End()

	now := time.Now().UTC()
	staleCutoff := now.Add(-r.staleAfter)

	// The WHERE on DO UPDATE makes the claim conditional: the row only moves
	// to IN_PROGRESS when it is retryable. RETURNING fires only when a row
	// was written, so zero rows back means the claim was refused.
	query := `
		INSERT INTO idempotency_ledger (fingerprint, outcome, first_seen_at, updated_at)
		VALUES ($1, 'IN_PROGRESS', $2, $2)
		ON CONFLICT (fingerprint) DO UPDATE SET
			outcome = 'IN_PROGRESS',
			updated_at = EXCLUDED.updated_at
		WHERE idempotency_ledger.outcome = 'FAILED'
			OR (idempotency_ledger.outcome = 'IN_PROGRESS' AND idempotency_ledger.updated_at < $3)
		RETURNING fingerprint, outcome
	`

	var claimed []claimRow
	if err := r.db.SelectContext(ctx, &claimed, query, fingerprint, now, staleCutoff); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"fingerprint": fingerprint}).Error("Failed to claim ledger entry")
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to check ledger")
	}
	if len(claimed) > 0 {
		return models.CheckFirstSeen, nil
	}

	// Claim refused. Read the blocking row to classify the refusal.
	record, err := r.Get(ctx, fingerprint)
	if err != nil {
		return "", err
	}
	if record == nil {
		// Row deleted between the upsert and the read. Treat as a live
		// conflict; the caller's retry will claim it.
		return models.CheckInProgressConflict, nil
	}
	if record.Outcome == models.LedgerOutcomeProcessed {
		return models.CheckAlreadyProcessed, nil
	}
	return models.CheckInProgressConflict, nil
}

// MarkOutcome resolves an IN_PROGRESS claim to PROCESSED or FAILED.
func (r *Repository) MarkOutcome(ctx context.Context, fingerprint string, outcome models.LedgerOutcome) error {
	ctx, span := tracing.StartSpan(ctx, "idempotency.Repository.MarkOutcome")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("idempotency_ledger")
	sb.Set(
		sb.Assign("outcome", outcome),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(sb.Equal("fingerprint", fingerprint))

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"fingerprint": fingerprint, "outcome": outcome}).Error("Failed to mark ledger outcome")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark ledger outcome")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "ledger entry %s not found", fingerprint)
	}
	return nil
}

// Get retrieves a ledger entry by fingerprint. Returns nil when unseen.
func (r *Repository) Get(ctx context.Context, fingerprint string) (*models.IdempotencyRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "idempotency.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("fingerprint", "outcome", "first_seen_at", "updated_at")
	sb.From("idempotency_ledger")
	sb.Where(sb.Equal("fingerprint", fingerprint))

	query, args := sb.Build()
	var record models.IdempotencyRecord
	if err := r.db.GetContext(ctx, &record, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"fingerprint": fingerprint}).Error("Failed to get ledger entry")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get ledger entry")
	}
	return &record, nil
}
