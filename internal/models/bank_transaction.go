package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkbenchState is the review lifecycle position of a bank transaction.
type WorkbenchState string

const (
	StatePending   WorkbenchState = "pending"
	StateSuggested WorkbenchState = "suggested"
	StateMapped    WorkbenchState = "mapped"
	StateException WorkbenchState = "exception"
	StateApproved  WorkbenchState = "approved"
	StatePosted    WorkbenchState = "posted"
)

// BankTransaction is one normalized statement line. Statement fields are
// written once at ingestion; only State and Version change afterwards.
type BankTransaction struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	BatchID      uuid.UUID `gorm:"index"`
	ExternalID   string    `gorm:"index"` // statement line identifier from the bank feed
	ValueDate    time.Time `gorm:"index"`
	Description  string
	Counterparty string
	Reference    string
	AmountMinor  int64  `gorm:"index"` // signed, minor units
	Currency     string `gorm:"size:3"`

	State   WorkbenchState `gorm:"index;default:pending"`
	Version int64          // optimistic-concurrency stamp, bumped on every state write

	CreatedAt time.Time
}
