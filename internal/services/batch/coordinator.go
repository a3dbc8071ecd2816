// Package batch coordinates the lock/approve lifecycle of a statement batch
// and its aggregate progress view.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"bank-reconciliation-backend/internal/audit"
	"bank-reconciliation-backend/internal/models"
)

var (
	// ErrBatchApproved signals a lock/unlock attempt on an approved batch;
	// unlock reverses lock, never approve.
	ErrBatchApproved = errors.New("batch is approved")

	// ErrConflict signals that batch or transaction state changed while an
	// operation was evaluating it. The operation fails closed.
	ErrConflict = errors.New("batch state changed concurrently")
)

// Blocker describes one transaction preventing batch approval.
type Blocker struct {
	TransactionID uuid.UUID            `json:"transaction_id"`
	ExternalID    string               `json:"external_id"`
	State         models.WorkbenchState `json:"state"`
	Reason        string               `json:"reason"`
}

// ApprovalError enumerates every blocking transaction; approval is never
// refused with a generic failure.
type ApprovalError struct {
	BatchID  uuid.UUID
	Blockers []Blocker
}

func (e *ApprovalError) Error() string {
	ids := make([]string, len(e.Blockers))
	for i, b := range e.Blockers {
		ids[i] = fmt.Sprintf("%s (%s)", b.TransactionID, b.Reason)
	}
	return fmt.Sprintf("batch %s cannot be approved, blocked by: %s", e.BatchID, strings.Join(ids, "; "))
}

// TxnState is the per-transaction view the approval snapshot is built from.
type TxnState struct {
	ID             uuid.UUID
	ExternalID     string
	State          models.WorkbenchState
	Version        int64
	OpenExceptions int
}

// Store is the persistence surface of the coordinator. SetLockState is a
// compare-and-swap and must return ErrConflict when the from-state is stale.
// MarkApprovedIfUnchanged re-reads the transaction versions inside one
// database transaction and fails with ErrConflict if any differ.
type Store interface {
	GetBatch(ctx context.Context, id uuid.UUID) (*models.ReconciliationBatch, error)
	SetLockState(ctx context.Context, id uuid.UUID, from, to models.LockState) error
	StatesSnapshot(ctx context.Context, batchID uuid.UUID) ([]TxnState, error)
	MarkApprovedIfUnchanged(ctx context.Context, batchID uuid.UUID, versions map[uuid.UUID]int64) error
	StateCounts(ctx context.Context, batchID uuid.UUID) (map[models.WorkbenchState]int, error)
}

// Coordinator enforces the batch lifecycle.
type Coordinator struct {
	store Store
	audit audit.Sink
	log   *slog.Logger

	mu       sync.Mutex
	inFlight map[uuid.UUID]bool
}

// NewCoordinator builds a coordinator.
func NewCoordinator(store Store, sink audit.Sink, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:    store,
		audit:    sink,
		log:      logger,
		inFlight: make(map[uuid.UUID]bool),
	}
}

// ApprovalInFlight reports whether an approval is currently evaluating this
// batch. Workbench approvals are refused while it is.
func (c *Coordinator) ApprovalInFlight(batchID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight[batchID]
}

// Lock stops new automatic matching runs over the batch. Manual workbench
// work continues. Locking an already locked batch is a no-op.
func (c *Coordinator) Lock(ctx context.Context, batchID uuid.UUID) error {
	b, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	switch b.LockState {
	case models.BatchApproved:
		return fmt.Errorf("batch %s: %w", batchID, ErrBatchApproved)
	case models.BatchLocked:
		return nil
	}
	if err := c.store.SetLockState(ctx, batchID, models.BatchOpen, models.BatchLocked); err != nil {
		return err
	}
	c.audit.Emit(audit.Event{Kind: audit.EventBatchLocked, BatchID: batchID, Actor: "system"})
	return nil
}

// Unlock reverses Lock. It never reverses an approval.
func (c *Coordinator) Unlock(ctx context.Context, batchID uuid.UUID) error {
	b, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	switch b.LockState {
	case models.BatchApproved:
		return fmt.Errorf("batch %s: %w", batchID, ErrBatchApproved)
	case models.BatchOpen:
		return nil
	}
	if err := c.store.SetLockState(ctx, batchID, models.BatchLocked, models.BatchOpen); err != nil {
		return err
	}
	c.audit.Emit(audit.Event{Kind: audit.EventBatchUnlocked, BatchID: batchID, Actor: "system"})
	return nil
}

// Approve takes a consistent snapshot of per-transaction states and approves
// the batch only if every transaction is in {mapped, approved, posted} with
// no unresolved exception. Any concurrent state change fails the approval
// closed. Approving an approved batch is a no-op.
func (c *Coordinator) Approve(ctx context.Context, batchID uuid.UUID, actor string) error {
	c.mu.Lock()
	if c.inFlight[batchID] {
		c.mu.Unlock()
		return fmt.Errorf("batch %s: %w", batchID, ErrConflict)
	}
	c.inFlight[batchID] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inFlight, batchID)
		c.mu.Unlock()
	}()

	b, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if b.LockState == models.BatchApproved {
		return nil // idempotent
	}

	snapshot, err := c.store.StatesSnapshot(ctx, batchID)
	if err != nil {
		return err
	}

	var blockers []Blocker
	versions := make(map[uuid.UUID]int64, len(snapshot))
	for _, t := range snapshot {
		versions[t.ID] = t.Version
		switch {
		case t.OpenExceptions > 0:
			blockers = append(blockers, Blocker{
				TransactionID: t.ID, ExternalID: t.ExternalID, State: t.State,
				Reason: fmt.Sprintf("%d unresolved exception(s)", t.OpenExceptions),
			})
		case t.State != models.StateMapped && t.State != models.StateApproved && t.State != models.StatePosted:
			blockers = append(blockers, Blocker{
				TransactionID: t.ID, ExternalID: t.ExternalID, State: t.State,
				Reason: fmt.Sprintf("in state %s", t.State),
			})
		}
	}
	if len(blockers) > 0 {
		sort.Slice(blockers, func(i, j int) bool {
			return blockers[i].TransactionID.String() < blockers[j].TransactionID.String()
		})
		return &ApprovalError{BatchID: batchID, Blockers: blockers}
	}

	if err := c.store.MarkApprovedIfUnchanged(ctx, batchID, versions); err != nil {
		return err
	}
	c.audit.Emit(audit.Event{
		Kind: audit.EventBatchApproved, BatchID: batchID, Actor: actor,
		Detail: map[string]any{"transactions": len(snapshot)},
	})
	return nil
}

// Progress is the aggregate view of a batch.
type Progress struct {
	Batch       *models.ReconciliationBatch
	StateCounts map[models.WorkbenchState]int
}

// Progress returns the batch row plus live per-state counts, recomputed from
// the transaction rows rather than trusted from cached counters.
func (c *Coordinator) Progress(ctx context.Context, batchID uuid.UUID) (*Progress, error) {
	b, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	counts, err := c.store.StateCounts(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return &Progress{Batch: b, StateCounts: counts}, nil
}
