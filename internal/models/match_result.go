package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Band is the discrete confidence category used for routing.
type Band string

const (
	BandHigh      Band = "high"
	BandMedium    Band = "medium"
	BandLow       Band = "low"
	BandUnmatched Band = "unmatched"
)

const (
	OriginAuto   = "auto"
	OriginManual = "manual"
)

// MatchResult is one outcome for a bank transaction. Rows are append-only:
// a human override inserts a new row and marks the automated one superseded,
// so the prior value stays available for audit.
type MatchResult struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	TransactionID  uuid.UUID `gorm:"index"`
	LedgerRecordID *uuid.UUID
	Confidence     float64
	Band           Band           `gorm:"index"`
	Candidates     datatypes.JSON // ranked review candidates, newest run only
	Origin         string         // auto | manual
	ReviewerID     string         // empty for auto results
	Superseded     bool           `gorm:"index"`
	CreatedAt      time.Time
}

// RankedCandidate is the JSON shape stored in MatchResult.Candidates.
type RankedCandidate struct {
	LedgerRecordID uuid.UUID          `json:"ledger_record_id"`
	Confidence     float64            `json:"confidence"`
	SubScores      map[string]float64 `json:"sub_scores"`
}
