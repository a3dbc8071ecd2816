package models

import (
	"time"

	"github.com/google/uuid"
)

// LockState is the lifecycle of a statement batch.
type LockState string

const (
	BatchOpen     LockState = "open"
	BatchLocked   LockState = "locked"
	BatchApproved LockState = "approved"
)

// ReconciliationBatch groups the transactions of one statement upload.
// Band counters are convenience aggregates refreshed after each matching run;
// approval decisions always re-read the transaction rows.
type ReconciliationBatch struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	SourceName        string
	Currency          string    `gorm:"size:3"`
	LockState         LockState `gorm:"index;default:open"`
	TotalTransactions int
	HighCount         int
	MediumCount       int
	LowCount          int
	UnmatchedCount    int
	CreatedAt         time.Time
	ApprovedAt        *time.Time
}
