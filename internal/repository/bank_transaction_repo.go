package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bank-reconciliation-backend/internal/models"
	"bank-reconciliation-backend/internal/services/reconciliation"
	"bank-reconciliation-backend/internal/services/workbench"
)

// BankTransactionRepository persists statement transactions and their
// workbench state.
type BankTransactionRepository struct {
	db *gorm.DB
}

func NewBankTransactionRepository(db *gorm.DB) *BankTransactionRepository {
	return &BankTransactionRepository{db: db}
}

func (r *BankTransactionRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*models.BankTransaction, error) {
	var tx models.BankTransaction
	if err := r.db.WithContext(ctx).First(&tx, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *BankTransactionRepository) TransactionsForBatch(ctx context.Context, batchID uuid.UUID) ([]*models.BankTransaction, error) {
	var txs []*models.BankTransaction
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("value_date ASC, external_id ASC, id ASC").
		Find(&txs).Error
	return txs, err
}

// UpdateState is a compare-and-swap on the version stamp. A stale version
// updates zero rows and surfaces as a conflict, never a silent overwrite.
func (r *BankTransactionRepository) UpdateState(ctx context.Context, id uuid.UUID, expectedVersion int64, to models.WorkbenchState) error {
	res := r.db.WithContext(ctx).
		Model(&models.BankTransaction{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(map[string]interface{}{
			"state":   to,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("transaction %s at version %d: %w", id, expectedVersion, workbench.ErrConflict)
	}
	return nil
}

// ListPending returns transactions needing human work, optionally filtered
// to one confidence band, each with its current result and open exceptions.
func (r *BankTransactionRepository) ListPending(ctx context.Context, batchID uuid.UUID, band models.Band) ([]reconciliation.PendingTransaction, error) {
	var txs []models.BankTransaction
	err := r.db.WithContext(ctx).
		Where("batch_id = ? AND state IN ?", batchID,
			[]models.WorkbenchState{models.StatePending, models.StateSuggested, models.StateException}).
		Order("value_date ASC, external_id ASC, id ASC").
		Find(&txs).Error
	if err != nil {
		return nil, err
	}

	var out []reconciliation.PendingTransaction
	for _, tx := range txs {
		var res models.MatchResult
		err := r.db.WithContext(ctx).
			Where("transaction_id = ? AND superseded = false", tx.ID).
			Order("created_at DESC").
			First(&res).Error
		var resPtr *models.MatchResult
		switch {
		case err == nil:
			resPtr = &res
		case err == gorm.ErrRecordNotFound:
		default:
			return nil, err
		}

		if band != "" {
			if resPtr == nil || resPtr.Band != band {
				continue
			}
		}

		var excs []models.MappingException
		if err := r.db.WithContext(ctx).
			Where("transaction_id = ? AND resolved = false", tx.ID).
			Find(&excs).Error; err != nil {
			return nil, err
		}

		out = append(out, reconciliation.PendingTransaction{
			Transaction: tx,
			Result:      resPtr,
			Exceptions:  excs,
		})
	}
	return out, nil
}
