package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bank-reconciliation-backend/internal/models"
)

// MatchResultRepository keeps the append-only result history per
// transaction.
type MatchResultRepository struct {
	db *gorm.DB
}

func NewMatchResultRepository(db *gorm.DB) *MatchResultRepository {
	return &MatchResultRepository{db: db}
}

// AppendResult supersedes the prior current result and inserts the new one
// in a single transaction. Rows are never updated in place or deleted.
func (r *MatchResultRepository) AppendResult(ctx context.Context, res *models.MatchResult) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.MatchResult{}).
			Where("transaction_id = ? AND superseded = false", res.TransactionID).
			Update("superseded", true).Error; err != nil {
			return err
		}
		return tx.Create(res).Error
	})
}

// CurrentResult returns the newest non-superseded result, or nil when the
// transaction has not been matched yet.
func (r *MatchResultRepository) CurrentResult(ctx context.Context, txID uuid.UUID) (*models.MatchResult, error) {
	var res models.MatchResult
	err := r.db.WithContext(ctx).
		Where("transaction_id = ? AND superseded = false", txID).
		Order("created_at DESC").
		First(&res).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}
