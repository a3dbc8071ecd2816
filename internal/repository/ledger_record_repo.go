package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bank-reconciliation-backend/internal/models"
	"bank-reconciliation-backend/internal/services/matching"
)

// historyLimit bounds the confirmed-match history fed to the behavioral
// scorer.
const historyLimit = 500

// LedgerRecordRepository reads the ledger store's records. The table is
// owned by the external ledger; this repository never writes it.
type LedgerRecordRepository struct {
	db *gorm.DB
}

func NewLedgerRecordRepository(db *gorm.DB) *LedgerRecordRepository {
	return &LedgerRecordRepository{db: db}
}

func (r *LedgerRecordRepository) GetLedgerRecord(ctx context.Context, id uuid.UUID) (*models.LedgerRecord, error) {
	var rec models.LedgerRecord
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindOpenRecords is the candidate prefilter: open records in one currency
// inside a bounded date window. Records outside are never scored.
func (r *LedgerRecordRepository) FindOpenRecords(ctx context.Context, currency string, from, to time.Time) ([]*models.LedgerRecord, error) {
	var recs []*models.LedgerRecord
	err := r.db.WithContext(ctx).
		Where("open = true AND currency = ? AND record_date BETWEEN ? AND ?", currency, from, to).
		Order("record_date ASC, id ASC").
		Find(&recs).Error
	return recs, err
}

// MatchedHistory returns prior reviewed matches in the currency, feeding the
// behavioral (recurrence) scorer.
func (r *LedgerRecordRepository) MatchedHistory(ctx context.Context, currency string, before time.Time) ([]matching.HistoryPoint, error) {
	var txs []models.BankTransaction
	err := r.db.WithContext(ctx).
		Where("currency = ? AND value_date < ? AND state IN ?", currency, before,
			[]models.WorkbenchState{models.StateMapped, models.StateApproved, models.StatePosted}).
		Order("value_date DESC").
		Limit(historyLimit).
		Find(&txs).Error
	if err != nil {
		return nil, err
	}

	points := make([]matching.HistoryPoint, len(txs))
	for i, tx := range txs {
		points[i] = matching.HistoryPoint{
			Counterparty: tx.Counterparty,
			AmountMinor:  tx.AmountMinor,
			Date:         tx.ValueDate,
		}
	}
	return points, nil
}
