package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Exception kinds.
const (
	ExceptionDuplicate        = "duplicate"
	ExceptionAmountMismatch   = "amount_mismatch"
	ExceptionCurrencyMismatch = "currency_mismatch"
	ExceptionDataError        = "data_error"
	ExceptionPostingFailed    = "posting_failed"
)

// MappingException is a flagged anomaly on a transaction. Unresolved
// exceptions block approval of the owning batch.
type MappingException struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	TransactionID uuid.UUID `gorm:"index"`
	Kind          string    `gorm:"index"`
	Reason        string    // human-readable, always set
	Detail        datatypes.JSON
	Resolved      bool `gorm:"index"`
	Resolution    string
	ResolvedBy    string
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}
