package repository

import "gorm.io/gorm"

// Store aggregates the per-model repositories into one value satisfying the
// service-layer store interfaces.
type Store struct {
	*BankTransactionRepository
	*LedgerRecordRepository
	*MatchResultRepository
	*BatchRepository
	*ExceptionRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		BankTransactionRepository: NewBankTransactionRepository(db),
		LedgerRecordRepository:    NewLedgerRecordRepository(db),
		MatchResultRepository:     NewMatchResultRepository(db),
		BatchRepository:           NewBatchRepository(db),
		ExceptionRepository:       NewExceptionRepository(db),
	}
}
