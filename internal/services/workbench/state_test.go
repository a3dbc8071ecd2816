package workbench

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"bank-reconciliation-backend/internal/models"
)

func TestTransitionTable(t *testing.T) {
	all := []models.WorkbenchState{
		models.StatePending, models.StateSuggested, models.StateMapped,
		models.StateException, models.StateApproved, models.StatePosted,
	}

	allowed := map[models.WorkbenchState][]models.WorkbenchState{
		models.StatePending:   {models.StatePending, models.StateSuggested, models.StateMapped, models.StateException},
		models.StateSuggested: {models.StatePending, models.StateSuggested, models.StateMapped, models.StateException},
		models.StateMapped:    {models.StatePending, models.StateMapped, models.StateApproved, models.StateException},
		models.StateException: {models.StatePending, models.StateException},
		models.StateApproved:  {models.StateApproved, models.StatePosted, models.StateException},
		models.StatePosted:    {},
	}

	for from, tos := range allowed {
		want := make(map[models.WorkbenchState]bool, len(tos))
		for _, to := range tos {
			want[to] = true
		}
		for _, to := range all {
			assert.Equal(t, want[to], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCheckTransition_PostedIsTerminal(t *testing.T) {
	for _, to := range []models.WorkbenchState{
		models.StatePending, models.StateSuggested, models.StateMapped,
		models.StateException, models.StateApproved, models.StatePosted,
	} {
		err := checkTransition(models.StatePosted, to)
		assert.ErrorIs(t, err, ErrTerminalState, "posted -> %s", to)
	}
}

func TestCheckTransition_RejectsSkippingReview(t *testing.T) {
	err := checkTransition(models.StateSuggested, models.StateApproved)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	err = checkTransition(models.StatePending, models.StatePosted)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
