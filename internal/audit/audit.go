// Package audit emits reconciliation audit events. Emission is
// fire-and-forget: the core never blocks on the sink.
package audit

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bank-reconciliation-backend/internal/models"
)

// Event kinds.
const (
	EventAutoMatched       = "auto_matched"
	EventSuggested         = "suggested"
	EventUnmatched         = "unmatched"
	EventManualMapped      = "manual_mapped"
	EventMappingWithdrawn  = "mapping_withdrawn"
	EventMappingApproved   = "mapping_approved"
	EventExceptionFlagged  = "exception_flagged"
	EventExceptionResolved = "exception_resolved"
	EventPosted            = "posted"
	EventBatchLocked       = "batch_locked"
	EventBatchUnlocked     = "batch_unlocked"
	EventBatchApproved     = "batch_approved"
	EventMatchingRun       = "matching_run"
)

// Event is one audit record emitted by the core.
type Event struct {
	Kind          string
	TransactionID uuid.UUID
	BatchID       uuid.UUID
	Actor         string // reviewer id, or "system"
	Detail        map[string]any
	At            time.Time
}

// Sink receives audit events.
type Sink interface {
	Emit(Event)
}

// NopSink discards every event. Used in tests.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// DBSink persists events as MatchAuditLog rows from a background goroutine.
// Emit never blocks; if the buffer is full the event is dropped with an
// error log rather than stalling a matching run.
type DBSink struct {
	db   *gorm.DB
	log  *slog.Logger
	ch   chan Event
	done chan struct{}
}

// NewDBSink starts the sink's writer goroutine.
func NewDBSink(db *gorm.DB, logger *slog.Logger, buffer int) *DBSink {
	if buffer < 1 {
		buffer = 256
	}
	s := &DBSink{
		db:   db,
		log:  logger,
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

// Emit queues an event without blocking.
func (s *DBSink) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case s.ch <- e:
	default:
		s.log.Error("audit buffer full, dropping event", "kind", e.Kind, "transaction", e.TransactionID)
	}
}

// Close drains the buffer and stops the writer.
func (s *DBSink) Close() {
	close(s.ch)
	<-s.done
}

func (s *DBSink) run() {
	defer close(s.done)
	for e := range s.ch {
		detail, err := json.Marshal(e.Detail)
		if err != nil {
			s.log.Error("marshalling audit detail", "kind", e.Kind, "error", err)
			detail = []byte("{}")
		}
		row := models.MatchAuditLog{
			ID:            uuid.New(),
			TransactionID: e.TransactionID,
			BatchID:       e.BatchID,
			EventKind:     e.Kind,
			PerformedBy:   e.Actor,
			Detail:        detail,
			CreatedAt:     e.At,
		}
		if err := s.db.Create(&row).Error; err != nil {
			s.log.Error("writing audit event", "kind", e.Kind, "error", err)
		}
	}
}
