package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// MatchAuditLog is one recorded audit event. The core emits events to a sink;
// this table is the default sink's storage.
type MatchAuditLog struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	TransactionID uuid.UUID `gorm:"index"`
	BatchID       uuid.UUID `gorm:"index"`
	EventKind     string    `gorm:"index"`
	PerformedBy   string
	Detail        datatypes.JSON
	CreatedAt     time.Time
}
