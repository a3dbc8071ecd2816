package workbench

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bank-reconciliation-backend/internal/audit"
	"bank-reconciliation-backend/internal/config"
	"bank-reconciliation-backend/internal/models"
)

// Store is the persistence surface the workbench needs. UpdateState is a
// compare-and-swap on the transaction's version stamp and must return
// ErrConflict on a stale version.
type Store interface {
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.BankTransaction, error)
	UpdateState(ctx context.Context, id uuid.UUID, expectedVersion int64, to models.WorkbenchState) error
	GetLedgerRecord(ctx context.Context, id uuid.UUID) (*models.LedgerRecord, error)
	AppendResult(ctx context.Context, res *models.MatchResult) error
	AddException(ctx context.Context, exc *models.MappingException) error
	ResolveExceptions(ctx context.Context, txID uuid.UUID, resolution, resolvedBy string) error
}

// ApprovalGuard reports whether the owning batch is mid-approval; mapping
// approvals are refused while it is.
type ApprovalGuard interface {
	ApprovalInFlight(batchID uuid.UUID) bool
}

// Service drives the per-transaction review state machine.
type Service struct {
	store     Store
	guard     ApprovalGuard
	audit     audit.Sink
	tolerance decimal.Decimal
	log       *slog.Logger
}

// NewService builds a workbench service.
func NewService(store Store, guard ApprovalGuard, sink audit.Sink, cfg config.MatchingConfig, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		guard:     guard,
		audit:     sink,
		tolerance: decimal.NewFromFloat(cfg.AmountTolerance),
		log:       logger,
	}
}

// GetTransaction returns the current row for a transaction.
func (s *Service) GetTransaction(ctx context.Context, txID uuid.UUID) (*models.BankTransaction, error) {
	return s.store.GetTransaction(ctx, txID)
}

// ApplyManualMapping records a human disposition: either a chosen ledger
// record, or nil meaning "no match, keep unmatched". The prior automated
// result is superseded, never deleted. A stale version is rejected with
// ErrConflict, not overwritten.
func (s *Service) ApplyManualMapping(ctx context.Context, txID uuid.UUID, ledgerID *uuid.UUID, reviewerID string, version int64) (*models.BankTransaction, error) {
	tx, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.Version != version {
		return nil, fmt.Errorf("transaction %s: %w", txID, ErrConflict)
	}

	if ledgerID == nil {
		if err := s.move(ctx, tx, models.StatePending, version); err != nil {
			return nil, err
		}
		if err := s.store.AppendResult(ctx, &models.MatchResult{
			ID:            uuid.New(),
			TransactionID: tx.ID,
			Band:          models.BandUnmatched,
			Origin:        models.OriginManual,
			ReviewerID:    reviewerID,
			CreatedAt:     time.Now(),
		}); err != nil {
			return nil, err
		}
		s.audit.Emit(audit.Event{
			Kind: audit.EventMappingWithdrawn, TransactionID: tx.ID, BatchID: tx.BatchID, Actor: reviewerID,
		})
		return s.store.GetTransaction(ctx, txID)
	}

	rec, err := s.store.GetLedgerRecord(ctx, *ledgerID)
	if err != nil {
		return nil, err
	}

	if rec.Currency != tx.Currency {
		reason := fmt.Sprintf("ledger record %s is in %s, transaction is in %s", rec.ID, rec.Currency, tx.Currency)
		if err := s.flag(ctx, tx, version, models.ExceptionCurrencyMismatch, reason, map[string]any{
			"ledger_record_id": rec.ID, "ledger_currency": rec.Currency, "transaction_currency": tx.Currency,
		}, reviewerID); err != nil {
			return nil, err
		}
		return s.store.GetTransaction(ctx, txID)
	}

	if !s.withinTolerance(tx.AmountMinor, rec.AmountMinor) {
		reason := fmt.Sprintf("amount %d differs from ledger amount %d beyond tolerance", tx.AmountMinor, rec.AmountMinor)
		if err := s.flag(ctx, tx, version, models.ExceptionAmountMismatch, reason, map[string]any{
			"ledger_record_id": rec.ID, "transaction_amount": tx.AmountMinor, "ledger_amount": rec.AmountMinor,
		}, reviewerID); err != nil {
			return nil, err
		}
		return s.store.GetTransaction(ctx, txID)
	}

	if err := s.move(ctx, tx, models.StateMapped, version); err != nil {
		return nil, err
	}
	if err := s.store.AppendResult(ctx, &models.MatchResult{
		ID:             uuid.New(),
		TransactionID:  tx.ID,
		LedgerRecordID: &rec.ID,
		Confidence:     100,
		Band:           models.BandHigh,
		Origin:         models.OriginManual,
		ReviewerID:     reviewerID,
		CreatedAt:      time.Now(),
	}); err != nil {
		return nil, err
	}
	s.audit.Emit(audit.Event{
		Kind: audit.EventManualMapped, TransactionID: tx.ID, BatchID: tx.BatchID, Actor: reviewerID,
		Detail: map[string]any{"ledger_record_id": rec.ID},
	})
	return s.store.GetTransaction(ctx, txID)
}

// ApproveMapping moves a mapped transaction to approved, readying it for
// posting. Refused while the owning batch has an approval in flight.
func (s *Service) ApproveMapping(ctx context.Context, txID uuid.UUID, reviewerID string, version int64) (*models.BankTransaction, error) {
	tx, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.Version != version {
		return nil, fmt.Errorf("transaction %s: %w", txID, ErrConflict)
	}
	if s.guard != nil && s.guard.ApprovalInFlight(tx.BatchID) {
		return nil, fmt.Errorf("batch %s: %w", tx.BatchID, ErrApprovalInFlight)
	}
	if tx.State != models.StateMapped {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tx.State, models.StateApproved)
	}
	if err := s.move(ctx, tx, models.StateApproved, version); err != nil {
		return nil, err
	}
	s.audit.Emit(audit.Event{
		Kind: audit.EventMappingApproved, TransactionID: tx.ID, BatchID: tx.BatchID, Actor: reviewerID,
	})
	return s.store.GetTransaction(ctx, txID)
}

// MarkPosted records that the journal entry generator accepted the entry.
// Only ever called by the posting service after a confirmed post.
func (s *Service) MarkPosted(ctx context.Context, txID uuid.UUID) error {
	tx, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if err := s.move(ctx, tx, models.StatePosted, tx.Version); err != nil {
		return err
	}
	s.audit.Emit(audit.Event{
		Kind: audit.EventPosted, TransactionID: tx.ID, BatchID: tx.BatchID, Actor: "system",
	})
	return nil
}

// FlagException moves a transaction to the exception state with a
// human-readable reason and the data that triggered it. System action: uses
// the current version rather than a caller-supplied one.
func (s *Service) FlagException(ctx context.Context, txID uuid.UUID, kind, reason string, detail map[string]any) error {
	tx, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	return s.flag(ctx, tx, tx.Version, kind, reason, detail, "system")
}

// ResolveException explicitly resolves every open exception on the
// transaction and returns it to pending, from where it can be re-matched or
// manually mapped.
func (s *Service) ResolveException(ctx context.Context, txID uuid.UUID, resolution, reviewerID string, version int64) (*models.BankTransaction, error) {
	if resolution == "" {
		return nil, fmt.Errorf("resolution note is required")
	}
	tx, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.Version != version {
		return nil, fmt.Errorf("transaction %s: %w", txID, ErrConflict)
	}
	if tx.State != models.StateException {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tx.State, models.StatePending)
	}
	if err := s.store.ResolveExceptions(ctx, txID, resolution, reviewerID); err != nil {
		return nil, err
	}
	if err := s.move(ctx, tx, models.StatePending, version); err != nil {
		return nil, err
	}
	s.audit.Emit(audit.Event{
		Kind: audit.EventExceptionResolved, TransactionID: tx.ID, BatchID: tx.BatchID, Actor: reviewerID,
		Detail: map[string]any{"resolution": resolution},
	})
	return s.store.GetTransaction(ctx, txID)
}

func (s *Service) move(ctx context.Context, tx *models.BankTransaction, to models.WorkbenchState, version int64) error {
	if err := checkTransition(tx.State, to); err != nil {
		return err
	}
	return s.store.UpdateState(ctx, tx.ID, version, to)
}

func (s *Service) flag(ctx context.Context, tx *models.BankTransaction, version int64, kind, reason string, detail map[string]any, actor string) error {
	if err := s.move(ctx, tx, models.StateException, version); err != nil {
		return err
	}
	payload, err := json.Marshal(detail)
	if err != nil {
		payload = []byte("{}")
	}
	if err := s.store.AddException(ctx, &models.MappingException{
		ID:            uuid.New(),
		TransactionID: tx.ID,
		Kind:          kind,
		Reason:        reason,
		Detail:        payload,
		CreatedAt:     time.Now(),
	}); err != nil {
		return err
	}
	s.audit.Emit(audit.Event{
		Kind: audit.EventExceptionFlagged, TransactionID: tx.ID, BatchID: tx.BatchID, Actor: actor,
		Detail: map[string]any{"kind": kind, "reason": reason},
	})
	return nil
}

func (s *Service) withinTolerance(a, b int64) bool {
	da, db := a, b
	if da < 0 {
		da = -da
	}
	if db < 0 {
		db = -db
	}
	delta := da - db
	if delta < 0 {
		delta = -delta
	}
	if delta == 0 {
		return true
	}
	base := db
	if base == 0 {
		base = 1
	}
	rel := decimal.NewFromInt(delta).Div(decimal.NewFromInt(base))
	return rel.LessThanOrEqual(s.tolerance)
}
