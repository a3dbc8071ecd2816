// Package workbench implements the manual mapping workbench: an explicit
// per-transaction state machine with an exhaustive transition table and
// optimistic concurrency on every human action.
package workbench

import (
	"errors"
	"fmt"

	"bank-reconciliation-backend/internal/models"
)

var (
	// ErrConflict signals a stale version: someone else edited the
	// transaction first. The write is rejected, never merged.
	ErrConflict = errors.New("transaction was modified concurrently")

	// ErrInvalidTransition signals a state change not in the table.
	ErrInvalidTransition = errors.New("invalid workbench transition")

	// ErrTerminalState signals a mutation attempt on a posted transaction.
	// Corrections require a new reversing entry, not an edit in place.
	ErrTerminalState = errors.New("transaction is posted and immutable")

	// ErrApprovalInFlight signals that the owning batch is mid-approval.
	ErrApprovalInFlight = errors.New("batch approval in flight")
)

// transitionTable enumerates every permitted state change. Anything absent
// is rejected; there is no implicit status mutation.
var transitionTable = map[models.WorkbenchState]map[models.WorkbenchState]bool{
	models.StatePending: {
		models.StatePending:   true, // re-run with no candidate
		models.StateSuggested: true,
		models.StateMapped:    true,
		models.StateException: true,
	},
	models.StateSuggested: {
		models.StatePending:   true, // re-run downgraded the suggestion
		models.StateSuggested: true,
		models.StateMapped:    true,
		models.StateException: true,
	},
	models.StateMapped: {
		models.StatePending:   true, // mapping withdrawn
		models.StateMapped:    true, // re-mapped to a different record
		models.StateApproved:  true,
		models.StateException: true,
	},
	models.StateException: {
		models.StatePending:   true, // resolved
		models.StateException: true, // additional anomaly flagged
	},
	models.StateApproved: {
		models.StateApproved:  true, // posting failure leaves it approved
		models.StatePosted:    true,
		models.StateException: true, // posting retries exhausted
	},
	models.StatePosted: {}, // terminal
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to models.WorkbenchState) bool {
	return transitionTable[from][to]
}

func checkTransition(from, to models.WorkbenchState) error {
	if from == models.StatePosted {
		return ErrTerminalState
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
