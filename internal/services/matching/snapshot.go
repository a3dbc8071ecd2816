package matching

import (
	"sync"

	"github.com/google/uuid"

	"bank-reconciliation-backend/internal/models"
)

// Snapshot is the explicit, run-scoped view of the open ledger state. Each
// matching run gets its own snapshot, so concurrent runs over different
// batches never interfere. Claims live only inside the snapshot; they are
// advisory and fully reversible by a later human override.
type Snapshot struct {
	records []*models.LedgerRecord
	history []HistoryPoint

	mu     sync.Mutex
	claims map[uuid.UUID]uuid.UUID // ledger record -> claiming transaction
}

// NewSnapshot builds a snapshot over the given open records and confirmed
// match history.
func NewSnapshot(records []*models.LedgerRecord, history []HistoryPoint) *Snapshot {
	return &Snapshot{
		records: records,
		history: history,
		claims:  make(map[uuid.UUID]uuid.UUID),
	}
}

// Records returns the open ledger records in the snapshot.
func (s *Snapshot) Records() []*models.LedgerRecord { return s.records }

// History returns the confirmed-match history for the behavioral scorer.
func (s *Snapshot) History() []HistoryPoint { return s.history }

// Claim reserves a ledger record for a transaction. It returns false when the
// record is already held by a different transaction.
func (s *Snapshot) Claim(recordID, txID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, held := s.claims[recordID]; held {
		return owner == txID
	}
	s.claims[recordID] = txID
	return true
}

// Claimed reports whether the record is currently claimed.
func (s *Snapshot) Claimed(recordID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, held := s.claims[recordID]
	return held
}
