package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bank-reconciliation-backend/internal/models"
)

// ExceptionRepository persists mapping exceptions.
type ExceptionRepository struct {
	db *gorm.DB
}

func NewExceptionRepository(db *gorm.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

func (r *ExceptionRepository) AddException(ctx context.Context, exc *models.MappingException) error {
	return r.db.WithContext(ctx).Create(exc).Error
}

func (r *ExceptionRepository) OpenExceptions(ctx context.Context, txID uuid.UUID) ([]models.MappingException, error) {
	var excs []models.MappingException
	err := r.db.WithContext(ctx).
		Where("transaction_id = ? AND resolved = false", txID).
		Order("created_at ASC").
		Find(&excs).Error
	return excs, err
}

// ResolveExceptions marks every open exception on the transaction resolved
// with the given note.
func (r *ExceptionRepository) ResolveExceptions(ctx context.Context, txID uuid.UUID, resolution, resolvedBy string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&models.MappingException{}).
		Where("transaction_id = ? AND resolved = false", txID).
		Updates(map[string]interface{}{
			"resolved":    true,
			"resolution":  resolution,
			"resolved_by": resolvedBy,
			"resolved_at": now,
		}).Error
}
