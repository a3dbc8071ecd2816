// Package posting drives approved mappings through the external journal
// entry generator, with bounded retries and escalation to an exception.
package posting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bank-reconciliation-backend/internal/config"
	"bank-reconciliation-backend/internal/models"
	"bank-reconciliation-backend/internal/services/workbench"
)

// JournalPoster is the external journal entry generator. Post either accepts
// the entry or returns the failure reason.
type JournalPoster interface {
	Post(ctx context.Context, result *models.MatchResult) error
}

// Workbench is the slice of the workbench the poster needs to check, advance
// or escalate a transaction.
type Workbench interface {
	GetTransaction(ctx context.Context, txID uuid.UUID) (*models.BankTransaction, error)
	MarkPosted(ctx context.Context, txID uuid.UUID) error
	FlagException(ctx context.Context, txID uuid.UUID, kind, reason string, detail map[string]any) error
}

// Service posts results for approved transactions.
type Service struct {
	poster  JournalPoster
	wb      Workbench
	retries int
	backoff time.Duration
	log     *slog.Logger
}

// NewService builds a posting service with the configured retry budget.
func NewService(poster JournalPoster, wb Workbench, cfg config.MatchingConfig, logger *slog.Logger) *Service {
	return &Service{
		poster:  poster,
		wb:      wb,
		retries: cfg.PostingRetries,
		backoff: cfg.PostingBackoff.Std(),
		log:     logger,
	}
}

// PostTransaction sends the result downstream. Only an approved transaction
// is ever posted; the guard runs before the first attempt because the
// external post is irreversible. On failure the transaction stays approved
// and the post is retried with doubling backoff; once the attempt budget is
// spent it escalates to an exception carrying the reason.
func (s *Service) PostTransaction(ctx context.Context, txID uuid.UUID, result *models.MatchResult) error {
	tx, err := s.wb.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if tx.State != models.StateApproved {
		return fmt.Errorf("transaction %s is %s, not approved: %w", txID, tx.State, workbench.ErrInvalidTransition)
	}

	var lastErr error
	delay := s.backoff

	for attempt := 1; attempt <= s.retries; attempt++ {
		lastErr = s.poster.Post(ctx, result)
		if lastErr == nil {
			return s.wb.MarkPosted(ctx, txID)
		}

		s.log.Warn("journal posting failed",
			"transaction", txID, "attempt", attempt, "of", s.retries, "error", lastErr)

		if attempt == s.retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	if err := s.wb.FlagException(ctx, txID, models.ExceptionPostingFailed,
		fmt.Sprintf("journal posting failed after %d attempts: %v", s.retries, lastErr),
		map[string]any{"attempts": s.retries, "last_error": lastErr.Error()},
	); err != nil {
		return err
	}
	return fmt.Errorf("posting transaction %s: %w", txID, lastErr)
}
