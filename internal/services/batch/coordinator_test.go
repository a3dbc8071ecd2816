package batch

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bank-reconciliation-backend/internal/audit"
	"bank-reconciliation-backend/internal/models"
)

type memStore struct {
	batch *models.ReconciliationBatch
	txns  []TxnState

	// bumpOnSnapshot simulates a concurrent edit landing between the
	// approval snapshot and the final write.
	bumpOnSnapshot bool
}

func (m *memStore) GetBatch(_ context.Context, id uuid.UUID) (*models.ReconciliationBatch, error) {
	cp := *m.batch
	return &cp, nil
}

func (m *memStore) SetLockState(_ context.Context, _ uuid.UUID, from, to models.LockState) error {
	if m.batch.LockState != from {
		return ErrConflict
	}
	m.batch.LockState = to
	return nil
}

func (m *memStore) StatesSnapshot(_ context.Context, _ uuid.UUID) ([]TxnState, error) {
	out := make([]TxnState, len(m.txns))
	copy(out, m.txns)
	if m.bumpOnSnapshot {
		m.txns[0].Version++
		m.bumpOnSnapshot = false
	}
	return out, nil
}

func (m *memStore) MarkApprovedIfUnchanged(_ context.Context, _ uuid.UUID, versions map[uuid.UUID]int64) error {
	for _, t := range m.txns {
		if versions[t.ID] != t.Version {
			return ErrConflict
		}
	}
	m.batch.LockState = models.BatchApproved
	return nil
}

func (m *memStore) StateCounts(_ context.Context, _ uuid.UUID) (map[models.WorkbenchState]int, error) {
	counts := make(map[models.WorkbenchState]int)
	for _, t := range m.txns {
		counts[t.State]++
	}
	return counts, nil
}

func newStore(lock models.LockState, txns ...TxnState) *memStore {
	return &memStore{
		batch: &models.ReconciliationBatch{ID: uuid.New(), LockState: lock},
		txns:  txns,
	}
}

func newCoordinator(store Store) *Coordinator {
	return NewCoordinator(store, audit.NopSink{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func txn(state models.WorkbenchState, openExceptions int) TxnState {
	return TxnState{
		ID:             uuid.New(),
		ExternalID:     "TXN-" + uuid.NewString()[:8],
		State:          state,
		Version:        1,
		OpenExceptions: openExceptions,
	}
}

func TestLockUnlock(t *testing.T) {
	store := newStore(models.BatchOpen)
	c := newCoordinator(store)

	require.NoError(t, c.Lock(context.Background(), store.batch.ID))
	assert.Equal(t, models.BatchLocked, store.batch.LockState)

	// Locking a locked batch is a no-op.
	require.NoError(t, c.Lock(context.Background(), store.batch.ID))

	require.NoError(t, c.Unlock(context.Background(), store.batch.ID))
	assert.Equal(t, models.BatchOpen, store.batch.LockState)
	require.NoError(t, c.Unlock(context.Background(), store.batch.ID))
}

func TestLockUnlock_ApprovedBatchRefused(t *testing.T) {
	store := newStore(models.BatchApproved)
	c := newCoordinator(store)

	assert.ErrorIs(t, c.Lock(context.Background(), store.batch.ID), ErrBatchApproved)
	assert.ErrorIs(t, c.Unlock(context.Background(), store.batch.ID), ErrBatchApproved)
}

func TestApprove(t *testing.T) {
	store := newStore(models.BatchLocked,
		txn(models.StateMapped, 0),
		txn(models.StateApproved, 0),
		txn(models.StatePosted, 0),
	)
	c := newCoordinator(store)

	require.NoError(t, c.Approve(context.Background(), store.batch.ID, "supervisor-1"))
	assert.Equal(t, models.BatchApproved, store.batch.LockState)

	// Approving an approved batch is idempotent.
	require.NoError(t, c.Approve(context.Background(), store.batch.ID, "supervisor-1"))
}

func TestApprove_EnumeratesBlockers(t *testing.T) {
	pending := txn(models.StatePending, 0)
	excepted := txn(models.StateMapped, 2)
	store := newStore(models.BatchLocked,
		txn(models.StateMapped, 0),
		pending,
		excepted,
	)
	c := newCoordinator(store)

	err := c.Approve(context.Background(), store.batch.ID, "supervisor-1")
	var appErr *ApprovalError
	require.ErrorAs(t, err, &appErr)
	require.Len(t, appErr.Blockers, 2)
	assert.NotEqual(t, models.BatchApproved, store.batch.LockState)

	byID := make(map[uuid.UUID]Blocker)
	for _, b := range appErr.Blockers {
		byID[b.TransactionID] = b
	}
	assert.Contains(t, byID[pending.ID].Reason, "in state pending")
	assert.Contains(t, byID[excepted.ID].Reason, "2 unresolved exception(s)")

	// Blockers come back in a stable order.
	assert.LessOrEqual(t, appErr.Blockers[0].TransactionID.String(), appErr.Blockers[1].TransactionID.String())
}

func TestApprove_FailsClosedOnConcurrentEdit(t *testing.T) {
	store := newStore(models.BatchLocked, txn(models.StateMapped, 0))
	store.bumpOnSnapshot = true
	c := newCoordinator(store)

	err := c.Approve(context.Background(), store.batch.ID, "supervisor-1")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, models.BatchLocked, store.batch.LockState)
}

func TestProgress(t *testing.T) {
	store := newStore(models.BatchOpen,
		txn(models.StateMapped, 0),
		txn(models.StateMapped, 0),
		txn(models.StatePending, 0),
	)
	c := newCoordinator(store)

	p, err := c.Progress(context.Background(), store.batch.ID)
	require.NoError(t, err)
	assert.Equal(t, store.batch.ID, p.Batch.ID)
	assert.Equal(t, 2, p.StateCounts[models.StateMapped])
	assert.Equal(t, 1, p.StateCounts[models.StatePending])
}
