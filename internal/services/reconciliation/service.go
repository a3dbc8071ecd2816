// Package reconciliation orchestrates a matching run over one batch: it
// snapshots the open ledger state, drives the matching engine, persists
// results, and routes transactions into the workbench.
package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"bank-reconciliation-backend/internal/audit"
	"bank-reconciliation-backend/internal/config"
	"bank-reconciliation-backend/internal/models"
	"bank-reconciliation-backend/internal/services/matching"
	"bank-reconciliation-backend/internal/services/workbench"
)

// ErrBatchNotOpen signals an automatic matching run attempted against a
// locked or approved batch.
var ErrBatchNotOpen = errors.New("batch is not open for matching")

// LedgerSource is the external ledger store's query interface. The core
// reads it, never owns it.
type LedgerSource interface {
	FindOpenRecords(ctx context.Context, currency string, from, to time.Time) ([]*models.LedgerRecord, error)
	MatchedHistory(ctx context.Context, currency string, before time.Time) ([]matching.HistoryPoint, error)
}

// PendingTransaction is one review-queue entry.
type PendingTransaction struct {
	Transaction models.BankTransaction    `json:"transaction"`
	Result      *models.MatchResult       `json:"result,omitempty"`
	Exceptions  []models.MappingException `json:"exceptions,omitempty"`
}

// BatchStats aggregates confidence bands over a batch.
type BatchStats struct {
	Total          int64 `json:"total"`
	TotalAmount    int64 `json:"total_amount_minor"`
	HighCount      int64 `json:"high_count"`
	MediumCount    int64 `json:"medium_count"`
	LowCount       int64 `json:"low_count"`
	UnmatchedCount int64 `json:"unmatched_count"`
}

// Store is the persistence surface a matching run needs.
type Store interface {
	GetBatch(ctx context.Context, id uuid.UUID) (*models.ReconciliationBatch, error)
	TransactionsForBatch(ctx context.Context, batchID uuid.UUID) ([]*models.BankTransaction, error)
	UpdateState(ctx context.Context, id uuid.UUID, expectedVersion int64, to models.WorkbenchState) error
	AppendResult(ctx context.Context, res *models.MatchResult) error
	RefreshBandCounts(ctx context.Context, batchID uuid.UUID) error
	ListPending(ctx context.Context, batchID uuid.UUID, band models.Band) ([]PendingTransaction, error)
	BandStats(ctx context.Context, batchID uuid.UUID) (BatchStats, error)
}

// Service runs matching passes and serves the review queue.
type Service struct {
	engine *matching.Engine
	ledger LedgerSource
	store  Store
	wb     *workbench.Service
	cfg    config.MatchingConfig
	audit  audit.Sink
	log    *slog.Logger
}

// NewService builds the orchestrator.
func NewService(engine *matching.Engine, ledger LedgerSource, store Store, wb *workbench.Service, cfg config.MatchingConfig, sink audit.Sink, logger *slog.Logger) *Service {
	return &Service{
		engine: engine,
		ledger: ledger,
		store:  store,
		wb:     wb,
		cfg:    cfg,
		audit:  sink,
		log:    logger,
	}
}

// RunMatching matches every unreviewed transaction in the batch. Duplicate
// statement lines are flagged as exceptions, data errors are isolated to
// their transaction, and human dispositions are never overwritten.
func (s *Service) RunMatching(ctx context.Context, batchID uuid.UUID) ([]*matching.Outcome, error) {
	b, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.LockState != models.BatchOpen {
		return nil, fmt.Errorf("batch %s is %s: %w", batchID, b.LockState, ErrBatchNotOpen)
	}

	txs, err := s.store.TransactionsForBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}

	eligible := s.screenDuplicates(ctx, txs)

	var matchable []*models.BankTransaction
	for _, tx := range eligible {
		if tx.State == models.StatePending || tx.State == models.StateSuggested {
			matchable = append(matchable, tx)
		}
	}
	if len(matchable) == 0 {
		return nil, nil
	}

	snap, err := s.buildSnapshot(ctx, b, matchable)
	if err != nil {
		return nil, err
	}

	outcomes := s.engine.MatchBatch(matchable, snap)
	for _, o := range outcomes {
		s.applyOutcome(ctx, o)
	}

	if err := s.store.RefreshBandCounts(ctx, batchID); err != nil {
		s.log.Error("refreshing band counts", "batch", batchID, "error", err)
	}
	s.audit.Emit(audit.Event{
		Kind: audit.EventMatchingRun, BatchID: batchID, Actor: "system",
		Detail: map[string]any{"transactions": len(matchable)},
	})
	return outcomes, nil
}

// ListPending returns the transactions awaiting human work, optionally
// filtered to one confidence band.
func (s *Service) ListPending(ctx context.Context, batchID uuid.UUID, band models.Band) ([]PendingTransaction, error) {
	return s.store.ListPending(ctx, batchID, band)
}

// Stats returns the per-band aggregates for a batch.
func (s *Service) Stats(ctx context.Context, batchID uuid.UUID) (BatchStats, error) {
	return s.store.BandStats(ctx, batchID)
}

// screenDuplicates flags repeated statement line ids within the batch. The
// transaction seen first in the fixed processing order survives; later
// copies go to the exception queue.
func (s *Service) screenDuplicates(ctx context.Context, txs []*models.BankTransaction) []*models.BankTransaction {
	seen := make(map[string]uuid.UUID)
	var out []*models.BankTransaction
	for _, tx := range orderFixed(txs) {
		if tx.ExternalID != "" {
			if firstID, dup := seen[tx.ExternalID]; dup {
				if tx.State != models.StateException && tx.State != models.StatePosted {
					reason := fmt.Sprintf("statement line %s appears more than once in the batch", tx.ExternalID)
					if err := s.wb.FlagException(ctx, tx.ID, models.ExceptionDuplicate, reason, map[string]any{
						"external_id": tx.ExternalID, "first_transaction_id": firstID,
					}); err != nil {
						s.log.Error("flagging duplicate", "transaction", tx.ID, "error", err)
					}
				}
				continue
			}
			seen[tx.ExternalID] = tx.ID
		}
		out = append(out, tx)
	}
	return out
}

func (s *Service) buildSnapshot(ctx context.Context, b *models.ReconciliationBatch, txs []*models.BankTransaction) (*matching.Snapshot, error) {
	from, to := txs[0].ValueDate, txs[0].ValueDate
	for _, tx := range txs {
		if tx.ValueDate.Before(from) {
			from = tx.ValueDate
		}
		if tx.ValueDate.After(to) {
			to = tx.ValueDate
		}
	}
	window := time.Duration(s.cfg.DateWindowDays) * 24 * time.Hour
	records, err := s.ledger.FindOpenRecords(ctx, b.Currency, from.Add(-window), to.Add(window))
	if err != nil {
		return nil, fmt.Errorf("loading open ledger records: %w", err)
	}
	history, err := s.ledger.MatchedHistory(ctx, b.Currency, from)
	if err != nil {
		return nil, fmt.Errorf("loading match history: %w", err)
	}
	return matching.NewSnapshot(records, history), nil
}

// applyOutcome persists one engine verdict. A version conflict means a human
// edited the transaction mid-run; the verdict is discarded rather than
// clobbering the human's work.
func (s *Service) applyOutcome(ctx context.Context, o *matching.Outcome) {
	tx := o.Transaction

	if o.DataErr != nil {
		if err := s.wb.FlagException(ctx, tx.ID, models.ExceptionDataError, o.DataErr.Error(), map[string]any{
			"currency": tx.Currency,
		}); err != nil {
			s.log.Error("flagging data error", "transaction", tx.ID, "error", err)
		}
		return
	}

	var (
		state models.WorkbenchState
		event string
	)
	switch {
	case o.AutoMatched():
		state, event = models.StateMapped, audit.EventAutoMatched
	case len(o.Ranked) > 0 && o.Confidence >= s.cfg.ReviewMinimum:
		state, event = models.StateSuggested, audit.EventSuggested
	default:
		state, event = models.StatePending, audit.EventUnmatched
	}

	if err := s.store.UpdateState(ctx, tx.ID, tx.Version, state); err != nil {
		if errors.Is(err, workbench.ErrConflict) {
			s.log.Warn("transaction edited during run, keeping human result", "transaction", tx.ID)
		} else {
			s.log.Error("updating transaction state", "transaction", tx.ID, "error", err)
		}
		return
	}

	res := &models.MatchResult{
		ID:            uuid.New(),
		TransactionID: tx.ID,
		Confidence:    o.Confidence,
		Band:          o.Band,
		Origin:        models.OriginAuto,
		Candidates:    encodeCandidates(o.Ranked),
		CreatedAt:     time.Now(),
	}
	if o.Selected != nil {
		res.LedgerRecordID = &o.Selected.ID
	}
	if err := s.store.AppendResult(ctx, res); err != nil {
		s.log.Error("persisting match result", "transaction", tx.ID, "error", err)
		return
	}

	detail := map[string]any{"confidence": o.Confidence, "band": o.Band}
	if o.Selected != nil {
		detail["ledger_record_id"] = o.Selected.ID
	}
	s.audit.Emit(audit.Event{
		Kind: event, TransactionID: tx.ID, BatchID: tx.BatchID, Actor: "system", Detail: detail,
	})
}

func encodeCandidates(ranked []matching.Candidate) datatypes.JSON {
	if len(ranked) == 0 {
		return datatypes.JSON("[]")
	}
	out := make([]models.RankedCandidate, len(ranked))
	for i, c := range ranked {
		out[i] = models.RankedCandidate{
			LedgerRecordID: c.Record.ID,
			Confidence:     c.Confidence,
			SubScores:      c.Scores.Map(),
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(data)
}

func orderFixed(txs []*models.BankTransaction) []*models.BankTransaction {
	out := make([]*models.BankTransaction, len(txs))
	copy(out, txs)
	sort.Slice(out, func(i, j int) bool { return lessFixed(out[i], out[j]) })
	return out
}

func lessFixed(a, b *models.BankTransaction) bool {
	if !a.ValueDate.Equal(b.ValueDate) {
		return a.ValueDate.Before(b.ValueDate)
	}
	if a.ExternalID != b.ExternalID {
		return a.ExternalID < b.ExternalID
	}
	return a.ID.String() < b.ID.String()
}
