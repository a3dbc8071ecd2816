package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bank-reconciliation-backend/internal/models"
	batchsvc "bank-reconciliation-backend/internal/services/batch"
	"bank-reconciliation-backend/internal/services/reconciliation"
)

// BatchRepository persists reconciliation batches and serves the
// coordinator's consistency-sensitive queries.
type BatchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

func (r *BatchRepository) GetBatch(ctx context.Context, id uuid.UUID) (*models.ReconciliationBatch, error) {
	var b models.ReconciliationBatch
	if err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// SetLockState is a compare-and-swap on the batch lock state.
func (r *BatchRepository) SetLockState(ctx context.Context, id uuid.UUID, from, to models.LockState) error {
	res := r.db.WithContext(ctx).
		Model(&models.ReconciliationBatch{}).
		Where("id = ? AND lock_state = ?", id, from).
		Update("lock_state", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("batch %s not in state %s: %w", id, from, batchsvc.ErrConflict)
	}
	return nil
}

// StatesSnapshot reads every transaction's state, version and open
// exception count in one pass.
func (r *BatchRepository) StatesSnapshot(ctx context.Context, batchID uuid.UUID) ([]batchsvc.TxnState, error) {
	var rows []struct {
		ID             uuid.UUID
		ExternalID     string
		State          models.WorkbenchState
		Version        int64
		OpenExceptions int
	}
	err := r.db.WithContext(ctx).
		Model(&models.BankTransaction{}).
		Select(`bank_transactions.id, bank_transactions.external_id, bank_transactions.state,
			bank_transactions.version,
			COUNT(mapping_exceptions.id) FILTER (WHERE mapping_exceptions.resolved = false) AS open_exceptions`).
		Joins("LEFT JOIN mapping_exceptions ON mapping_exceptions.transaction_id = bank_transactions.id").
		Where("bank_transactions.batch_id = ?", batchID).
		Group("bank_transactions.id").
		Order("bank_transactions.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]batchsvc.TxnState, len(rows))
	for i, row := range rows {
		out[i] = batchsvc.TxnState{
			ID:             row.ID,
			ExternalID:     row.ExternalID,
			State:          row.State,
			Version:        row.Version,
			OpenExceptions: row.OpenExceptions,
		}
	}
	return out, nil
}

// MarkApprovedIfUnchanged marks the batch approved inside one database
// transaction, re-checking every transaction version first. Any change since
// the snapshot fails the approval closed.
func (r *BatchRepository) MarkApprovedIfUnchanged(ctx context.Context, batchID uuid.UUID, versions map[uuid.UUID]int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current []struct {
			ID      uuid.UUID
			Version int64
		}
		if err := tx.Model(&models.BankTransaction{}).
			Select("id, version").
			Where("batch_id = ?", batchID).
			Scan(&current).Error; err != nil {
			return err
		}
		if len(current) != len(versions) {
			return fmt.Errorf("batch %s transaction set changed: %w", batchID, batchsvc.ErrConflict)
		}
		for _, row := range current {
			expected, ok := versions[row.ID]
			if !ok || expected != row.Version {
				return fmt.Errorf("transaction %s changed during approval: %w", row.ID, batchsvc.ErrConflict)
			}
		}

		res := tx.Model(&models.ReconciliationBatch{}).
			Where("id = ? AND lock_state <> ?", batchID, models.BatchApproved).
			Updates(map[string]interface{}{
				"lock_state":  models.BatchApproved,
				"approved_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("batch %s already approved: %w", batchID, batchsvc.ErrConflict)
		}
		return nil
	})
}

// StateCounts recomputes the per-state transaction counts from the rows.
func (r *BatchRepository) StateCounts(ctx context.Context, batchID uuid.UUID) (map[models.WorkbenchState]int, error) {
	var rows []struct {
		State models.WorkbenchState
		Count int
	}
	err := r.db.WithContext(ctx).
		Model(&models.BankTransaction{}).
		Select("state, COUNT(*) as count").
		Where("batch_id = ?", batchID).
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[models.WorkbenchState]int, len(rows))
	for _, row := range rows {
		counts[row.State] = row.Count
	}
	return counts, nil
}

// RefreshBandCounts recomputes the batch's cached band counters from the
// current (non-superseded) results.
func (r *BatchRepository) RefreshBandCounts(ctx context.Context, batchID uuid.UUID) error {
	var rows []struct {
		Band  models.Band
		Count int
	}
	err := r.db.WithContext(ctx).
		Model(&models.MatchResult{}).
		Select("match_results.band, COUNT(*) as count").
		Joins("JOIN bank_transactions ON bank_transactions.id = match_results.transaction_id").
		Where("bank_transactions.batch_id = ? AND match_results.superseded = false", batchID).
		Group("match_results.band").
		Scan(&rows).Error
	if err != nil {
		return err
	}

	counts := map[models.Band]int{}
	for _, row := range rows {
		counts[row.Band] = row.Count
	}
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&models.BankTransaction{}).
		Where("batch_id = ?", batchID).
		Count(&total).Error; err != nil {
		return err
	}

	return r.db.WithContext(ctx).
		Model(&models.ReconciliationBatch{}).
		Where("id = ?", batchID).
		Updates(map[string]interface{}{
			"total_transactions": total,
			"high_count":         counts[models.BandHigh],
			"medium_count":       counts[models.BandMedium],
			"low_count":          counts[models.BandLow],
			"unmatched_count":    counts[models.BandUnmatched],
		}).Error
}

// BandStats aggregates band counts and the batch amount total.
func (r *BatchRepository) BandStats(ctx context.Context, batchID uuid.UUID) (reconciliation.BatchStats, error) {
	var stats reconciliation.BatchStats

	var rows []struct {
		Band  models.Band
		Count int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.MatchResult{}).
		Select("match_results.band, COUNT(*) as count").
		Joins("JOIN bank_transactions ON bank_transactions.id = match_results.transaction_id").
		Where("bank_transactions.batch_id = ? AND match_results.superseded = false", batchID).
		Group("match_results.band").
		Scan(&rows).Error
	if err != nil {
		return stats, err
	}
	for _, row := range rows {
		switch row.Band {
		case models.BandHigh:
			stats.HighCount = row.Count
		case models.BandMedium:
			stats.MediumCount = row.Count
		case models.BandLow:
			stats.LowCount = row.Count
		case models.BandUnmatched:
			stats.UnmatchedCount = row.Count
		}
	}

	var totals struct {
		Total       int64
		TotalAmount int64
	}
	err = r.db.WithContext(ctx).
		Model(&models.BankTransaction{}).
		Select("COUNT(*) as total, COALESCE(SUM(ABS(amount_minor)),0) as total_amount").
		Where("batch_id = ?", batchID).
		Scan(&totals).Error
	if err != nil {
		return stats, err
	}
	stats.Total = totals.Total
	stats.TotalAmount = totals.TotalAmount
	return stats, nil
}
