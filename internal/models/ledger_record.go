package models

import (
	"time"

	"github.com/google/uuid"
)

// LedgerRecord is a posted or pending accounting record (invoice, journal
// entry) that a bank transaction can settle. Owned by the ledger store; this
// service only reads it.
type LedgerRecord struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Kind         string    `gorm:"index"` // invoice | journal_entry
	Reference    string    `gorm:"index"`
	Counterparty string    `gorm:"index"`
	Description  string
	AmountMinor  int64     `gorm:"index"`
	Currency     string    `gorm:"size:3"`
	RecordDate   time.Time `gorm:"index"`
	Open         bool      `gorm:"index"` // false once settled
	CreatedAt    time.Time
}
