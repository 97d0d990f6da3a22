package transform

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlovtnik/clm-ingest/pkg/models"
	"github.com/zlovtnik/clm-ingest/pkg/outcome"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {})
}

func stagedContract(t *testing.T, fields map[string]any) *models.StagedRecord {
	t.Helper()
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	return &models.StagedRecord{
		ID:        "rec-1",
		SessionID: "sess-1",
		TenantID:  "t1",
		Sequence:  1,
		Fields:    raw,
		Status:    models.StagingStatusPending,
	}
}

func TestContractDraft_Valid(t *testing.T) {
	tr := NewTransformer(testLogger())

	record := stagedContract(t, map[string]any{
		"contract_number": "CNT-001",
		"customer_ref":    float64(100),
		"target_status":   "PENDING",
	})

	draft, fail := tr.ContractDraft(context.Background(), record, nil)
	require.Nil(t, fail)
	assert.Equal(t, "t1", draft.TenantID)
	assert.Equal(t, "CNT-001", draft.ContractNumber)
	assert.Equal(t, "100", draft.CustomerRef)
	assert.Equal(t, models.ContractStatusPending, draft.Status)
	assert.Nil(t, draft.ID)
}

func TestContractDraft_DefaultsToDraftStatus(t *testing.T) {
	tr := NewTransformer(testLogger())

	record := stagedContract(t, map[string]any{
		"contract_number": "CNT-002",
		"customer_ref":    "cust-1",
	})

	draft, fail := tr.ContractDraft(context.Background(), record, nil)
	require.Nil(t, fail)
	assert.Equal(t, models.ContractStatusDraft, draft.Status)
	assert.False(t, draft.StatusAsserted)
}

func TestContractDraft_NoTargetStatusSkipsTransitionGate(t *testing.T) {
	tr := NewTransformer(testLogger())

	record := stagedContract(t, map[string]any{
		"contract_number": "CNT-002",
		"customer_ref":    "cust-1",
	})

	// The persisted contract is ACTIVE and DRAFT is not reachable from it,
	// but a record that asserts no status is not asking for a move.
	current := models.ContractStatusActive
	draft, fail := tr.ContractDraft(context.Background(), record, &current)
	require.Nil(t, fail)
	assert.False(t, draft.StatusAsserted)
}

func TestContractDraft_FieldFailures(t *testing.T) {
	tr := NewTransformer(testLogger())

	tests := []struct {
		name      string
		fields    map[string]any
		wantCode  string
		wantField string
	}{
		{
			name:      "missing contract number",
			fields:    map[string]any{"customer_ref": "100"},
			wantCode:  outcome.CodeFieldRequired,
			wantField: "contract_number",
		},
		{
			name:      "null contract number",
			fields:    map[string]any{"contract_number": nil, "customer_ref": "100"},
			wantCode:  outcome.CodeFieldRequired,
			wantField: "contract_number",
		},
		{
			name:      "wrong shape contract number",
			fields:    map[string]any{"contract_number": float64(7), "customer_ref": "100"},
			wantCode:  outcome.CodeFieldInvalid,
			wantField: "contract_number",
		},
		{
			name:      "missing customer ref",
			fields:    map[string]any{"contract_number": "CNT-001"},
			wantCode:  outcome.CodeFieldRequired,
			wantField: "customer_ref",
		},
		{
			name:      "non-integer customer ref",
			fields:    map[string]any{"contract_number": "CNT-001", "customer_ref": 1.5},
			wantCode:  outcome.CodeCustomerRefInvalid,
			wantField: "customer_ref",
		},
		{
			name:      "unknown target status",
			fields:    map[string]any{"contract_number": "CNT-001", "customer_ref": "100", "target_status": "FROZEN"},
			wantCode:  outcome.CodeFieldInvalid,
			wantField: "target_status",
		},
		{
			name:      "malformed contract number",
			fields:    map[string]any{"contract_number": "cnt 001!", "customer_ref": "100"},
			wantCode:  outcome.CodeContractNumberInvalid,
			wantField: "contract_number",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, fail := tr.ContractDraft(context.Background(), stagedContract(t, tt.fields), nil)
			require.NotNil(t, fail)
			assert.Equal(t, tt.wantCode, fail.Code)
			assert.Equal(t, tt.wantField, fail.Field)
		})
	}
}

func TestContractDraft_FirstFailureWins(t *testing.T) {
	tr := NewTransformer(testLogger())

	// Both fields are bad; only the first step's failure is reported.
	record := stagedContract(t, map[string]any{
		"contract_number": float64(7),
		"customer_ref":    true,
	})

	_, fail := tr.ContractDraft(context.Background(), record, nil)
	require.NotNil(t, fail)
	assert.Equal(t, "contract_number", fail.Field)
}

func TestContractDraft_IllegalTransition(t *testing.T) {
	tr := NewTransformer(testLogger())

	record := stagedContract(t, map[string]any{
		"contract_number": "CNT-001",
		"customer_ref":    "100",
		"target_status":   "COMPLETED",
	})

	current := models.ContractStatusDraft
	_, fail := tr.ContractDraft(context.Background(), record, &current)
	require.NotNil(t, fail)
	assert.Equal(t, outcome.CodeIllegalTransition, fail.Code)
	assert.Equal(t, "target_status", fail.Field)
}

func TestContractDraft_LegalTransitionAgainstCurrentStatus(t *testing.T) {
	tr := NewTransformer(testLogger())

	record := stagedContract(t, map[string]any{
		"contract_number": "CNT-001",
		"customer_ref":    "100",
		"target_status":   "ACTIVE",
	})

	current := models.ContractStatusPending
	draft, fail := tr.ContractDraft(context.Background(), record, &current)
	require.Nil(t, fail)
	assert.Equal(t, models.ContractStatusActive, draft.Status)
	assert.True(t, draft.StatusAsserted)
}

func TestContractDraft_MalformedPayloadIsTransformError(t *testing.T) {
	tr := NewTransformer(testLogger())

	record := &models.StagedRecord{
		ID:        "rec-1",
		SessionID: "sess-1",
		TenantID:  "t1",
		Sequence:  1,
		Fields:    json.RawMessage(`[1,2,3]`),
	}

	_, fail := tr.ContractDraft(context.Background(), record, nil)
	require.NotNil(t, fail)
	assert.Equal(t, outcome.CodeTransformError, fail.Code)
}

func TestCustomerDraft_Valid(t *testing.T) {
	tr := NewTransformer(testLogger())

	record := stagedContract(t, map[string]any{
		"customer_id": "cust-1",
		"name":        "Acme Inc",
		"is_company":  true,
		"tax_id":      "12-345678",
	})

	draft, fail := tr.CustomerDraft(context.Background(), record)
	require.Nil(t, fail)
	assert.Equal(t, "cust-1", draft.CustomerID)
	assert.Equal(t, "Acme Inc", draft.Name)
	assert.True(t, draft.IsCompany)
	assert.Equal(t, "12-345678", draft.TaxID)
}

func TestCustomerDraft_CompanyRequiresTaxID(t *testing.T) {
	tr := NewTransformer(testLogger())

	record := stagedContract(t, map[string]any{
		"customer_id": "cust-1",
		"name":        "Acme Inc",
		"is_company":  true,
	})

	_, fail := tr.CustomerDraft(context.Background(), record)
	require.NotNil(t, fail)
	assert.Equal(t, outcome.CodeFieldRequired, fail.Code)
	assert.Equal(t, "tax_id", fail.Field)
}

func TestCustomerDraft_TaxIDFormat(t *testing.T) {
	tr := NewTransformer(testLogger())

	record := stagedContract(t, map[string]any{
		"customer_id": "cust-1",
		"name":        "Acme Inc",
		"is_company":  true,
		"tax_id":      "not-a-tax-id",
	})

	_, fail := tr.CustomerDraft(context.Background(), record)
	require.NotNil(t, fail)
	assert.Equal(t, outcome.CodeTaxIDInvalid, fail.Code)
	assert.Equal(t, "tax_id", fail.Field)
}

func TestCustomerDraft_IndividualWithoutTaxID(t *testing.T) {
	tr := NewTransformer(testLogger())

	record := stagedContract(t, map[string]any{
		"customer_id": "cust-2",
		"name":        "Jane Doe",
	})

	draft, fail := tr.CustomerDraft(context.Background(), record)
	require.Nil(t, fail)
	assert.False(t, draft.IsCompany)
	assert.Empty(t, draft.TaxID)
}
