package reconciliation

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bank-reconciliation-backend/internal/audit"
	"bank-reconciliation-backend/internal/config"
	"bank-reconciliation-backend/internal/models"
	"bank-reconciliation-backend/internal/services/matching"
	"bank-reconciliation-backend/internal/services/workbench"
)

// memStore backs both the orchestrator and the workbench in-memory, with the
// repository's compare-and-swap semantics on state updates.
type memStore struct {
	batch      *models.ReconciliationBatch
	txs        map[uuid.UUID]*models.BankTransaction
	order      []uuid.UUID
	records    map[uuid.UUID]*models.LedgerRecord
	results    []*models.MatchResult
	exceptions []*models.MappingException
	history    []matching.HistoryPoint

	conflictOn uuid.UUID // simulate a human edit landing mid-run
}

func newMemStore(lock models.LockState) *memStore {
	return &memStore{
		batch: &models.ReconciliationBatch{
			ID:        uuid.New(),
			Currency:  "USD",
			LockState: lock,
		},
		txs:     make(map[uuid.UUID]*models.BankTransaction),
		records: make(map[uuid.UUID]*models.LedgerRecord),
	}
}

func (m *memStore) addTx(tx *models.BankTransaction) *models.BankTransaction {
	tx.ID = uuid.New()
	tx.BatchID = m.batch.ID
	tx.Version = 1
	if tx.Currency == "" {
		tx.Currency = "USD"
	}
	if tx.State == "" {
		tx.State = models.StatePending
	}
	m.txs[tx.ID] = tx
	m.order = append(m.order, tx.ID)
	return tx
}

func (m *memStore) addRec(rec *models.LedgerRecord) *models.LedgerRecord {
	rec.ID = uuid.New()
	rec.Currency = "USD"
	rec.Open = true
	m.records[rec.ID] = rec
	return rec
}

func (m *memStore) GetBatch(_ context.Context, _ uuid.UUID) (*models.ReconciliationBatch, error) {
	cp := *m.batch
	return &cp, nil
}

func (m *memStore) TransactionsForBatch(_ context.Context, _ uuid.UUID) ([]*models.BankTransaction, error) {
	out := make([]*models.BankTransaction, 0, len(m.order))
	for _, id := range m.order {
		cp := *m.txs[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) GetTransaction(_ context.Context, id uuid.UUID) (*models.BankTransaction, error) {
	cp := *m.txs[id]
	return &cp, nil
}

func (m *memStore) UpdateState(_ context.Context, id uuid.UUID, expectedVersion int64, to models.WorkbenchState) error {
	if id == m.conflictOn {
		return workbench.ErrConflict
	}
	tx := m.txs[id]
	if tx.Version != expectedVersion {
		return workbench.ErrConflict
	}
	tx.State = to
	tx.Version++
	return nil
}

func (m *memStore) GetLedgerRecord(_ context.Context, id uuid.UUID) (*models.LedgerRecord, error) {
	return m.records[id], nil
}

func (m *memStore) AppendResult(_ context.Context, res *models.MatchResult) error {
	for _, prior := range m.results {
		if prior.TransactionID == res.TransactionID {
			prior.Superseded = true
		}
	}
	m.results = append(m.results, res)
	return nil
}

func (m *memStore) AddException(_ context.Context, exc *models.MappingException) error {
	m.exceptions = append(m.exceptions, exc)
	return nil
}

func (m *memStore) ResolveExceptions(_ context.Context, txID uuid.UUID, resolution, resolvedBy string) error {
	for _, exc := range m.exceptions {
		if exc.TransactionID == txID {
			exc.Resolved = true
			exc.Resolution = resolution
			exc.ResolvedBy = resolvedBy
		}
	}
	return nil
}

func (m *memStore) RefreshBandCounts(_ context.Context, _ uuid.UUID) error { return nil }

func (m *memStore) ListPending(_ context.Context, _ uuid.UUID, _ models.Band) ([]PendingTransaction, error) {
	return nil, nil
}

func (m *memStore) BandStats(_ context.Context, _ uuid.UUID) (BatchStats, error) {
	return BatchStats{}, nil
}

func (m *memStore) FindOpenRecords(_ context.Context, currency string, from, to time.Time) ([]*models.LedgerRecord, error) {
	var out []*models.LedgerRecord
	for _, rec := range m.records {
		if rec.Currency != currency || !rec.Open {
			continue
		}
		if rec.RecordDate.Before(from) || rec.RecordDate.After(to) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *memStore) MatchedHistory(_ context.Context, _ string, _ time.Time) ([]matching.HistoryPoint, error) {
	return m.history, nil
}

func (m *memStore) current(txID uuid.UUID) *models.MatchResult {
	for _, res := range m.results {
		if res.TransactionID == txID && !res.Superseded {
			return res
		}
	}
	return nil
}

func newFixture(t *testing.T, store *memStore) *Service {
	t.Helper()
	cfg := config.Default().Matching
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine, err := matching.NewEngine(cfg, logger)
	require.NoError(t, err)
	wb := workbench.NewService(store, nil, audit.NopSink{}, cfg, logger)
	return NewService(engine, store, store, wb, cfg, audit.NopSink{}, logger)
}

func day(d int) time.Time {
	return time.Date(2024, time.March, d, 0, 0, 0, 0, time.UTC)
}

func TestRunMatching_BatchMustBeOpen(t *testing.T) {
	store := newMemStore(models.BatchLocked)
	svc := newFixture(t, store)

	_, err := svc.RunMatching(context.Background(), store.batch.ID)
	assert.ErrorIs(t, err, ErrBatchNotOpen)
}

func TestRunMatching_AutoMatch(t *testing.T) {
	store := newMemStore(models.BatchOpen)
	svc := newFixture(t, store)

	tx := store.addTx(&models.BankTransaction{
		ExternalID:   "TXN-1",
		ValueDate:    day(10),
		AmountMinor:  50000,
		Reference:    "INV-1042",
		Counterparty: "ACME Consulting",
		Description:  "ACME Consulting invoice 1042",
	})
	rec := store.addRec(&models.LedgerRecord{
		RecordDate:   day(10),
		AmountMinor:  50000,
		Reference:    "INV1042",
		Counterparty: "ACME Consulting",
		Description:  "ACME Consulting invoice 1042",
	})

	outcomes, err := svc.RunMatching(context.Background(), store.batch.ID)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].AutoMatched())

	stored := store.txs[tx.ID]
	assert.Equal(t, models.StateMapped, stored.State)
	assert.Equal(t, int64(2), stored.Version)

	res := store.current(tx.ID)
	require.NotNil(t, res)
	assert.Equal(t, models.OriginAuto, res.Origin)
	assert.Equal(t, models.BandHigh, res.Band)
	require.NotNil(t, res.LedgerRecordID)
	assert.Equal(t, rec.ID, *res.LedgerRecordID)
	assert.NotEmpty(t, res.Candidates)
}

func TestRunMatching_DuplicateStatementLines(t *testing.T) {
	store := newMemStore(models.BatchOpen)
	svc := newFixture(t, store)

	mk := func() *models.BankTransaction {
		return store.addTx(&models.BankTransaction{
			ExternalID:   "TXN-DUP",
			ValueDate:    day(10),
			AmountMinor:  50000,
			Reference:    "INV-1042",
			Counterparty: "ACME Consulting",
			Description:  "ACME Consulting invoice 1042",
		})
	}
	a, b := mk(), mk()
	store.addRec(&models.LedgerRecord{
		RecordDate:   day(10),
		AmountMinor:  50000,
		Reference:    "INV1042",
		Counterparty: "ACME Consulting",
		Description:  "ACME Consulting invoice 1042",
	})

	outcomes, err := svc.RunMatching(context.Background(), store.batch.ID)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	// Exactly one copy survives into matching; the other is flagged.
	require.Len(t, store.exceptions, 1)
	assert.Equal(t, models.ExceptionDuplicate, store.exceptions[0].Kind)

	states := map[models.WorkbenchState]int{
		store.txs[a.ID].State: 1,
	}
	states[store.txs[b.ID].State]++
	assert.Equal(t, 1, states[models.StateException])
	assert.Equal(t, 1, states[models.StateMapped])
}

func TestRunMatching_LeavesHumanStatesAlone(t *testing.T) {
	store := newMemStore(models.BatchOpen)
	svc := newFixture(t, store)

	tx := store.addTx(&models.BankTransaction{
		ExternalID:  "TXN-1",
		ValueDate:   day(10),
		AmountMinor: 50000,
		State:       models.StateMapped,
	})

	outcomes, err := svc.RunMatching(context.Background(), store.batch.ID)
	require.NoError(t, err)
	assert.Nil(t, outcomes)
	assert.Equal(t, models.StateMapped, store.txs[tx.ID].State)
	assert.Equal(t, int64(1), store.txs[tx.ID].Version)
	assert.Empty(t, store.results)
}

func TestRunMatching_ConflictKeepsHumanResult(t *testing.T) {
	store := newMemStore(models.BatchOpen)
	svc := newFixture(t, store)

	tx := store.addTx(&models.BankTransaction{
		ExternalID:   "TXN-1",
		ValueDate:    day(10),
		AmountMinor:  50000,
		Reference:    "INV-1042",
		Counterparty: "ACME Consulting",
		Description:  "ACME Consulting invoice 1042",
	})
	store.addRec(&models.LedgerRecord{
		RecordDate:   day(10),
		AmountMinor:  50000,
		Reference:    "INV1042",
		Counterparty: "ACME Consulting",
		Description:  "ACME Consulting invoice 1042",
	})
	store.conflictOn = tx.ID

	outcomes, err := svc.RunMatching(context.Background(), store.batch.ID)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	// The verdict is discarded: no state change, no persisted result.
	assert.Equal(t, models.StatePending, store.txs[tx.ID].State)
	assert.Equal(t, int64(1), store.txs[tx.ID].Version)
	assert.Empty(t, store.results)
}

func TestRunMatching_DataErrorIsolated(t *testing.T) {
	store := newMemStore(models.BatchOpen)
	svc := newFixture(t, store)

	bad := store.addTx(&models.BankTransaction{
		ExternalID:  "TXN-BAD",
		ValueDate:   day(10),
		AmountMinor: 1000,
		Currency:    "U5D",
	})
	good := store.addTx(&models.BankTransaction{
		ExternalID:   "TXN-GOOD",
		ValueDate:    day(10),
		AmountMinor:  50000,
		Reference:    "INV-1042",
		Counterparty: "ACME Consulting",
		Description:  "ACME Consulting invoice 1042",
	})
	store.addRec(&models.LedgerRecord{
		RecordDate:   day(10),
		AmountMinor:  50000,
		Reference:    "INV1042",
		Counterparty: "ACME Consulting",
		Description:  "ACME Consulting invoice 1042",
	})

	outcomes, err := svc.RunMatching(context.Background(), store.batch.ID)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.Equal(t, models.StateException, store.txs[bad.ID].State)
	require.Len(t, store.exceptions, 1)
	assert.Equal(t, models.ExceptionDataError, store.exceptions[0].Kind)

	// The malformed line never stalls the rest of the batch.
	assert.Equal(t, models.StateMapped, store.txs[good.ID].State)
	require.NotNil(t, store.current(good.ID))
}
