package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allContractStatuses() []ContractStatus {
	return []ContractStatus{
		ContractStatusDraft,
		ContractStatusPending,
		ContractStatusActive,
		ContractStatusSuspended,
		ContractStatusCancelled,
		ContractStatusCompleted,
	}
}

func TestCanTransition_FullTable(t *testing.T) {
	legal := map[ContractStatus][]ContractStatus{
		ContractStatusDraft:     {ContractStatusPending, ContractStatusCancelled},
		ContractStatusPending:   {ContractStatusActive, ContractStatusCancelled, ContractStatusDraft},
		ContractStatusActive:    {ContractStatusSuspended, ContractStatusCancelled, ContractStatusCompleted},
		ContractStatusSuspended: {ContractStatusActive, ContractStatusCancelled},
		ContractStatusCancelled: {},
		ContractStatusCompleted: {},
	}

	// Every (from, to) pair must be decidable and agree with the table.
	for _, from := range allContractStatuses() {
		for _, to := range allContractStatuses() {
			expected := false
			for _, allowed := range legal[from] {
				if allowed == to {
					expected = true
				}
			}
			assert.Equal(t, expected, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCanTransition_SelfTransitionsAlwaysFalse(t *testing.T) {
	for _, s := range allContractStatuses() {
		assert.False(t, CanTransition(s, s), "self-transition %s", s)
	}
}

func TestCanTransition_UnknownStatus(t *testing.T) {
	assert.False(t, CanTransition("BOGUS", ContractStatusActive))
	assert.False(t, CanTransition(ContractStatusActive, "BOGUS"))
}

func TestContractStatus_IsTerminal(t *testing.T) {
	assert.True(t, ContractStatusCancelled.IsTerminal())
	assert.True(t, ContractStatusCompleted.IsTerminal())
	assert.False(t, ContractStatusDraft.IsTerminal())
	assert.False(t, ContractStatusPending.IsTerminal())
	assert.False(t, ContractStatusActive.IsTerminal())
	assert.False(t, ContractStatusSuspended.IsTerminal())
	assert.False(t, ContractStatus("BOGUS").IsTerminal())
}

func TestParseContractStatus(t *testing.T) {
	status, err := ParseContractStatus("ACTIVE")
	require.NoError(t, err)
	assert.Equal(t, ContractStatusActive, status)

	_, err = ParseContractStatus("active")
	assert.Error(t, err)

	_, err = ParseContractStatus("")
	assert.Error(t, err)
}

func TestContractDraft_Immutability(t *testing.T) {
	draft := ContractDraft{
		TenantID:       "t1",
		ContractNumber: "CNT-001",
		CustomerRef:    "100",
		Status:         ContractStatusDraft,
	}

	withStatus := draft.WithStatus(ContractStatusPending)
	assert.Equal(t, ContractStatusDraft, draft.Status)
	assert.Equal(t, ContractStatusPending, withStatus.Status)

	withID := draft.WithID(42)
	assert.Nil(t, draft.ID)
	require.NotNil(t, withID.ID)
	assert.Equal(t, int64(42), *withID.ID)
}

func TestContractDraft_EqualByNaturalKey(t *testing.T) {
	a := ContractDraft{TenantID: "t1", ContractNumber: "CNT-001", Status: ContractStatusDraft}
	b := ContractDraft{TenantID: "t1", ContractNumber: "CNT-001", Status: ContractStatusActive, CustomerRef: "other"}
	c := ContractDraft{TenantID: "t2", ContractNumber: "CNT-001"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
