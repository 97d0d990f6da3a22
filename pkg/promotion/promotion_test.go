package promotion

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlovtnik/clm-ingest/internal/repositories/contract"
	"github.com/zlovtnik/clm-ingest/pkg/kafka"
	"github.com/zlovtnik/clm-ingest/pkg/models"
	"github.com/zlovtnik/clm-ingest/pkg/outcome"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// fakeContractStore keeps contracts in memory keyed by tenant + number.
type fakeContractStore struct {
	nextID    int64
	byNumber  map[string]*models.Contract
	updateErr error
	commits   int
	updates   int
}

func newFakeContractStore() *fakeContractStore {
	return &fakeContractStore{byNumber: map[string]*models.Contract{}}
}

func (s *fakeContractStore) key(tenantID, number string) string {
	return tenantID + "/" + number
}

func (s *fakeContractStore) seed(c models.Contract) {
	s.nextID++
	c.ID = s.nextID
	s.byNumber[s.key(c.TenantID, c.ContractNumber)] = &c
}

func (s *fakeContractStore) CommitDraft(_ context.Context, draft models.ContractDraft) (int64, error) {
	s.commits++
	s.nextID++
	s.byNumber[s.key(draft.TenantID, draft.ContractNumber)] = &models.Contract{
		ID:             s.nextID,
		TenantID:       draft.TenantID,
		ContractNumber: draft.ContractNumber,
		CustomerRef:    draft.CustomerRef,
		Status:         draft.Status,
	}
	return s.nextID, nil
}

func (s *fakeContractStore) UpdateDraft(_ context.Context, id int64, draft models.ContractDraft, expectedCurrent models.ContractStatus) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	existing := s.byNumber[s.key(draft.TenantID, draft.ContractNumber)]
	if existing == nil || existing.ID != id || existing.Status != expectedCurrent {
		return contract.ErrStatusConflict
	}
	s.updates++
	existing.Status = draft.Status
	existing.CustomerRef = draft.CustomerRef
	return nil
}

func (s *fakeContractStore) GetByNumber(_ context.Context, tenantID, contractNumber string) (*models.Contract, error) {
	c, ok := s.byNumber[s.key(tenantID, contractNumber)]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

type fakeCustomerStore struct {
	upserts []models.CustomerDraft
}

func (s *fakeCustomerStore) Upsert(_ context.Context, draft models.CustomerDraft) (int64, error) {
	s.upserts = append(s.upserts, draft)
	return int64(len(s.upserts)), nil
}

type fakePublisher struct {
	events []*kafka.ContractPromotedEvent
}

func (p *fakePublisher) PublishContractPromoted(_ context.Context, event *kafka.ContractPromotedEvent) error {
	p.events = append(p.events, event)
	return nil
}

func newPromoter(contracts ContractStore, customers CustomerStore) *Promoter {
	return NewPromoter(contracts, customers, NewMutexLocker(), time.Second, nil, testLogger())
}

func stagedAt(sequence int) models.StagedRecord {
	return models.StagedRecord{ID: "rec", SessionID: "sess-1", TenantID: "t1", Sequence: sequence}
}

func TestPromoteContract_CreatesNewContract(t *testing.T) {
	store := newFakeContractStore()
	p := newPromoter(store, &fakeCustomerStore{})

	draft := models.ContractDraft{TenantID: "t1", ContractNumber: "CNT-001", CustomerRef: "100", Status: models.ContractStatusDraft}
	fail, err := p.PromoteContract(context.Background(), stagedAt(1), draft, NewSessionTracker())
	require.NoError(t, err)
	require.Nil(t, fail)

	created, err := store.GetByNumber(context.Background(), "t1", "CNT-001")
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, models.ContractStatusDraft, created.Status)
	assert.Equal(t, 1, store.commits)
}

func TestPromoteContract_CreateAcceptsStatusReachableFromDraft(t *testing.T) {
	store := newFakeContractStore()
	p := newPromoter(store, &fakeCustomerStore{})

	draft := models.ContractDraft{TenantID: "t1", ContractNumber: "CNT-001", CustomerRef: "100", Status: models.ContractStatusPending, StatusAsserted: true}
	fail, err := p.PromoteContract(context.Background(), stagedAt(1), draft, NewSessionTracker())
	require.NoError(t, err)
	require.Nil(t, fail)

	created, _ := store.GetByNumber(context.Background(), "t1", "CNT-001")
	require.NotNil(t, created)
	assert.Equal(t, models.ContractStatusPending, created.Status)
}

func TestPromoteContract_CreateRejectsUnreachableStatus(t *testing.T) {
	store := newFakeContractStore()
	p := newPromoter(store, &fakeCustomerStore{})

	draft := models.ContractDraft{TenantID: "t1", ContractNumber: "CNT-001", CustomerRef: "100", Status: models.ContractStatusCompleted, StatusAsserted: true}
	fail, err := p.PromoteContract(context.Background(), stagedAt(1), draft, NewSessionTracker())
	require.NoError(t, err)
	require.NotNil(t, fail)
	assert.Equal(t, outcome.CodePromotionRejected, fail.Code)
	assert.Equal(t, 0, store.commits)
}

func TestPromoteContract_UpdatesExistingContract(t *testing.T) {
	store := newFakeContractStore()
	store.seed(models.Contract{TenantID: "t1", ContractNumber: "CNT-001", CustomerRef: "100", Status: models.ContractStatusPending})
	p := newPromoter(store, &fakeCustomerStore{})

	draft := models.ContractDraft{TenantID: "t1", ContractNumber: "CNT-001", CustomerRef: "100", Status: models.ContractStatusActive, StatusAsserted: true}
	fail, err := p.PromoteContract(context.Background(), stagedAt(1), draft, NewSessionTracker())
	require.NoError(t, err)
	require.Nil(t, fail)

	current, _ := store.GetByNumber(context.Background(), "t1", "CNT-001")
	assert.Equal(t, models.ContractStatusActive, current.Status)
	assert.Equal(t, 1, store.updates)
}

func TestPromoteContract_NoAssertedStatusPreservesPersisted(t *testing.T) {
	store := newFakeContractStore()
	store.seed(models.Contract{TenantID: "t1", ContractNumber: "CNT-001", CustomerRef: "100", Status: models.ContractStatusPending})
	p := newPromoter(store, &fakeCustomerStore{})

	// No asserted status: the transform default is DRAFT, but the update
	// must keep the persisted PENDING instead of regressing it.
	draft := models.ContractDraft{TenantID: "t1", ContractNumber: "CNT-001", CustomerRef: "200", Status: models.ContractStatusDraft}
	fail, err := p.PromoteContract(context.Background(), stagedAt(1), draft, NewSessionTracker())
	require.NoError(t, err)
	require.Nil(t, fail)

	current, _ := store.GetByNumber(context.Background(), "t1", "CNT-001")
	assert.Equal(t, models.ContractStatusPending, current.Status)
	assert.Equal(t, "200", current.CustomerRef)
	assert.Equal(t, 1, store.updates)
}

func TestPromoteContract_RejectsIllegalLifecycleMove(t *testing.T) {
	store := newFakeContractStore()
	store.seed(models.Contract{TenantID: "t1", ContractNumber: "CNT-001", CustomerRef: "100", Status: models.ContractStatusCompleted})
	p := newPromoter(store, &fakeCustomerStore{})

	draft := models.ContractDraft{TenantID: "t1", ContractNumber: "CNT-001", CustomerRef: "100", Status: models.ContractStatusActive, StatusAsserted: true}
	fail, err := p.PromoteContract(context.Background(), stagedAt(1), draft, NewSessionTracker())
	require.NoError(t, err)
	require.NotNil(t, fail)
	assert.Equal(t, outcome.CodePromotionRejected, fail.Code)

	current, _ := store.GetByNumber(context.Background(), "t1", "CNT-001")
	assert.Equal(t, models.ContractStatusCompleted, current.Status)
}

func TestPromoteContract_ConcurrentStatusChangeBecomesRejection(t *testing.T) {
	store := newFakeContractStore()
	store.seed(models.Contract{TenantID: "t1", ContractNumber: "CNT-001", CustomerRef: "100", Status: models.ContractStatusPending})
	store.updateErr = contract.ErrStatusConflict
	p := newPromoter(store, &fakeCustomerStore{})

	draft := models.ContractDraft{TenantID: "t1", ContractNumber: "CNT-001", CustomerRef: "100", Status: models.ContractStatusActive, StatusAsserted: true}
	fail, err := p.PromoteContract(context.Background(), stagedAt(1), draft, NewSessionTracker())
	require.NoError(t, err)
	require.NotNil(t, fail)
	assert.Equal(t, outcome.CodePromotionRejected, fail.Code)
	assert.Contains(t, fail.Message, "while promoting")
}

func TestPromoteContract_DuplicateNaturalKeyInSession(t *testing.T) {
	store := newFakeContractStore()
	p := newPromoter(store, &fakeCustomerStore{})
	tracker := NewSessionTracker()

	draft := models.ContractDraft{TenantID: "t1", ContractNumber: "CNT-001", CustomerRef: "100", Status: models.ContractStatusDraft}

	fail, err := p.PromoteContract(context.Background(), stagedAt(1), draft, tracker)
	require.NoError(t, err)
	require.Nil(t, fail)

	fail, err = p.PromoteContract(context.Background(), stagedAt(2), draft, tracker)
	require.NoError(t, err)
	require.NotNil(t, fail)
	assert.Equal(t, outcome.CodeDuplicateInSession, fail.Code)
	assert.Contains(t, fail.Message, "record 1")
	assert.Equal(t, 1, store.commits)
}

func TestPromoteContract_SameNumberDifferentTenantIsNotDuplicate(t *testing.T) {
	store := newFakeContractStore()
	p := newPromoter(store, &fakeCustomerStore{})
	tracker := NewSessionTracker()

	a := models.ContractDraft{TenantID: "t1", ContractNumber: "CNT-001", CustomerRef: "100", Status: models.ContractStatusDraft}
	b := models.ContractDraft{TenantID: "t2", ContractNumber: "CNT-001", CustomerRef: "100", Status: models.ContractStatusDraft}

	fail, err := p.PromoteContract(context.Background(), stagedAt(1), a, tracker)
	require.NoError(t, err)
	require.Nil(t, fail)

	fail, err = p.PromoteContract(context.Background(), stagedAt(2), b, tracker)
	require.NoError(t, err)
	require.Nil(t, fail)
	assert.Equal(t, 2, store.commits)
}

func TestPromoteCustomer_Upserts(t *testing.T) {
	customers := &fakeCustomerStore{}
	p := newPromoter(newFakeContractStore(), customers)

	draft := models.CustomerDraft{TenantID: "t1", CustomerID: "cust-1", Name: "Acme Inc", IsCompany: true, TaxID: "12-345678"}
	fail, err := p.PromoteCustomer(context.Background(), stagedAt(1), draft, NewSessionTracker())
	require.NoError(t, err)
	require.Nil(t, fail)
	require.Len(t, customers.upserts, 1)
	assert.Equal(t, "cust-1", customers.upserts[0].CustomerID)
}

func TestPromoteCustomer_DuplicateInSession(t *testing.T) {
	customers := &fakeCustomerStore{}
	p := newPromoter(newFakeContractStore(), customers)
	tracker := NewSessionTracker()

	draft := models.CustomerDraft{TenantID: "t1", CustomerID: "cust-1", Name: "Acme Inc"}

	fail, err := p.PromoteCustomer(context.Background(), stagedAt(1), draft, tracker)
	require.NoError(t, err)
	require.Nil(t, fail)

	fail, err = p.PromoteCustomer(context.Background(), stagedAt(2), draft, tracker)
	require.NoError(t, err)
	require.NotNil(t, fail)
	assert.Equal(t, outcome.CodeDuplicateInSession, fail.Code)
	assert.Len(t, customers.upserts, 1)
}

func TestPromoteContract_PublishesEvent(t *testing.T) {
	store := newFakeContractStore()
	publisher := &fakePublisher{}
	p := NewPromoter(store, &fakeCustomerStore{}, NewMutexLocker(), time.Second, publisher, testLogger())

	draft := models.ContractDraft{TenantID: "t1", ContractNumber: "CNT-001", CustomerRef: "100", Status: models.ContractStatusDraft}
	fail, err := p.PromoteContract(context.Background(), stagedAt(1), draft, NewSessionTracker())
	require.NoError(t, err)
	require.Nil(t, fail)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, "CNT-001", publisher.events[0].ContractNumber)
	assert.Equal(t, "sess-1", publisher.events[0].SessionID)
}

func TestSessionTrackerClaim(t *testing.T) {
	tracker := NewSessionTracker()

	winner, ok := tracker.Claim("k", 3)
	assert.True(t, ok)
	assert.Equal(t, 3, winner)

	winner, ok = tracker.Claim("k", 7)
	assert.False(t, ok)
	assert.Equal(t, 3, winner)

	_, ok = tracker.Claim("other", 7)
	assert.True(t, ok)
}
