package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlovtnik/clm-ingest/pkg/database"
	"github.com/zlovtnik/clm-ingest/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := database.NewDatabaseInstance(sqlx.NewDb(mockDB, "sqlmock"), testLogger())
	return NewRepository(db, testLogger(), 5*time.Minute), mock
}

func claimRows(fingerprint string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"fingerprint", "outcome"}).AddRow(fingerprint, "IN_PROGRESS")
}

func ledgerRow(fingerprint string, outcome models.LedgerOutcome, updatedAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"fingerprint", "outcome", "first_seen_at", "updated_at"}).
		AddRow(fingerprint, string(outcome), updatedAt, updatedAt)
}

func TestCheckAndMark_UnseenFingerprintIsFirstSeen(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("INSERT INTO idempotency_ledger").
		WithArgs("fp-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(claimRows("fp-1"))

	result, err := repo.CheckAndMark(context.Background(), "fp-1")
	require.NoError(t, err)
	assert.Equal(t, models.CheckFirstSeen, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckAndMark_ProcessedRowBlocksTheClaim(t *testing.T) {
	repo, mock := newMockRepository(t)

	// The conditional upsert writes nothing, so zero rows come back and the
	// blocking row is read to classify the refusal.
	mock.ExpectQuery("INSERT INTO idempotency_ledger").
		WithArgs("fp-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"fingerprint", "outcome"}))
	mock.ExpectQuery("SELECT fingerprint, outcome, first_seen_at, updated_at FROM idempotency_ledger").
		WithArgs("fp-1").
		WillReturnRows(ledgerRow("fp-1", models.LedgerOutcomeProcessed, time.Now().UTC()))

	result, err := repo.CheckAndMark(context.Background(), "fp-1")
	require.NoError(t, err)
	assert.Equal(t, models.CheckAlreadyProcessed, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckAndMark_LiveInProgressRowIsConflict(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("INSERT INTO idempotency_ledger").
		WithArgs("fp-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"fingerprint", "outcome"}))
	mock.ExpectQuery("SELECT fingerprint, outcome, first_seen_at, updated_at FROM idempotency_ledger").
		WithArgs("fp-1").
		WillReturnRows(ledgerRow("fp-1", models.LedgerOutcomeInProgress, time.Now().UTC()))

	result, err := repo.CheckAndMark(context.Background(), "fp-1")
	require.NoError(t, err)
	assert.Equal(t, models.CheckInProgressConflict, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckAndMark_RowGoneBetweenClaimAndReadIsConflict(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("INSERT INTO idempotency_ledger").
		WithArgs("fp-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"fingerprint", "outcome"}))
	mock.ExpectQuery("SELECT fingerprint, outcome, first_seen_at, updated_at FROM idempotency_ledger").
		WithArgs("fp-1").
		WillReturnRows(sqlmock.NewRows([]string{"fingerprint", "outcome", "first_seen_at", "updated_at"}))

	result, err := repo.CheckAndMark(context.Background(), "fp-1")
	require.NoError(t, err)
	assert.Equal(t, models.CheckInProgressConflict, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkOutcome_ResolvesClaim(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec("UPDATE idempotency_ledger").
		WithArgs("PROCESSED", sqlmock.AnyArg(), "fp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkOutcome(context.Background(), "fp-1", models.LedgerOutcomeProcessed)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkOutcome_UnknownFingerprintErrors(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec("UPDATE idempotency_ledger").
		WithArgs("FAILED", sqlmock.AnyArg(), "fp-missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkOutcome(context.Background(), "fp-missing", models.LedgerOutcomeFailed)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_UnseenFingerprintReturnsNil(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("SELECT fingerprint, outcome, first_seen_at, updated_at FROM idempotency_ledger").
		WithArgs("fp-missing").
		WillReturnRows(sqlmock.NewRows([]string{"fingerprint", "outcome", "first_seen_at", "updated_at"}))

	record, err := repo.Get(context.Background(), "fp-missing")
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.NoError(t, mock.ExpectationsWereMet())
}
