// Package matching implements the multi-factor matching engine: feature
// extraction, seven layer scorers, weighted confidence combination, candidate
// ranking with deterministic tie-breaks, and advisory candidate claiming.
package matching

import (
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"bank-reconciliation-backend/internal/config"
	"bank-reconciliation-backend/internal/models"
)

// Candidate is one scored (transaction, ledger record) pairing. It exists
// only during a matching pass; only the chosen result is persisted.
type Candidate struct {
	Record     *models.LedgerRecord
	Scores     SubScores
	Confidence float64 // 0-100

	amountDelta int64
	dateDelta   int
}

// Outcome is the engine's verdict for one transaction.
type Outcome struct {
	Transaction *models.BankTransaction
	Confidence  float64
	Band        models.Band
	Selected    *models.LedgerRecord // non-nil only for auto matches
	Ranked      []Candidate          // top-N for review, descending confidence
	DataErr     error                // malformed input; transaction goes to exception
}

// AutoMatched reports whether the engine claimed a record for this outcome.
func (o *Outcome) AutoMatched() bool { return o.Selected != nil }

// Engine combines the layer scorers into confidence scores and selects at
// most one result per transaction.
type Engine struct {
	cfg       config.MatchingConfig
	tolerance decimal.Decimal
	log       *slog.Logger
}

// NewEngine validates the matching configuration and builds an engine.
// Invalid configuration is a startup failure; no run may proceed past it.
func NewEngine(cfg config.MatchingConfig, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("matching config: %w", err)
	}
	return &Engine{
		cfg:       cfg,
		tolerance: decimal.NewFromFloat(cfg.AmountTolerance),
		log:       logger,
	}, nil
}

// MatchBatch matches every transaction against the snapshot. Transactions
// are processed in a fixed order (ascending value date, then external id,
// then id) so claiming never depends on scheduling: re-running over an
// unchanged snapshot yields identical outcomes. Scoring runs in a bounded
// worker pool; selection and claiming stay sequential in the fixed order.
func (e *Engine) MatchBatch(txs []*models.BankTransaction, snap *Snapshot) []*Outcome {
	ordered := make([]*models.BankTransaction, len(txs))
	copy(ordered, txs)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.ValueDate.Equal(b.ValueDate) {
			return a.ValueDate.Before(b.ValueDate)
		}
		if a.ExternalID != b.ExternalID {
			return a.ExternalID < b.ExternalID
		}
		return a.ID.String() < b.ID.String()
	})

	totalsAgree := e.batchTotalsAgree(ordered, snap.Records())

	type scored struct {
		ranked []Candidate
		err    error
	}
	results := make([]scored, len(ordered))

	workers := runtime.NumCPU()
	if workers > len(ordered) {
		workers = len(ordered)
	}
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	jobs := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				ranked, err := e.scoreCandidates(ordered[i], snap, totalsAgree)
				results[i] = scored{ranked: ranked, err: err}
			}
		}()
	}
	for i := range ordered {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	outcomes := make([]*Outcome, len(ordered))
	for i, tx := range ordered {
		if results[i].err != nil {
			outcomes[i] = &Outcome{
				Transaction: tx,
				Band:        models.BandUnmatched,
				DataErr:     results[i].err,
			}
			continue
		}
		outcomes[i] = e.selectOutcome(tx, results[i].ranked, snap)
	}
	return outcomes
}

// MatchTransaction matches a single transaction against the snapshot.
func (e *Engine) MatchTransaction(tx *models.BankTransaction, snap *Snapshot) *Outcome {
	ranked, err := e.scoreCandidates(tx, snap, e.batchTotalsAgree([]*models.BankTransaction{tx}, snap.Records()))
	if err != nil {
		return &Outcome{Transaction: tx, Band: models.BandUnmatched, DataErr: err}
	}
	return e.selectOutcome(tx, ranked, snap)
}

// scoreCandidates runs the hard prefilter and the seven scorers for every
// surviving candidate, returning them ranked. Records outside the currency
// and date window are never scored.
func (e *Engine) scoreCandidates(tx *models.BankTransaction, snap *Snapshot, totalsAgree bool) ([]Candidate, error) {
	if err := checkCurrency(tx.Currency); err != nil {
		return nil, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}

	var ranked []Candidate
	for _, rec := range snap.Records() {
		if !rec.Open {
			continue
		}
		if !strings.EqualFold(rec.Currency, tx.Currency) {
			continue
		}

		f, err := Extract(tx, rec)
		if err != nil {
			return nil, err
		}
		if f.DateDeltaDays > e.cfg.DateWindowDays {
			continue
		}

		ctx := &ScorerContext{
			AmountTolerance:  e.tolerance,
			WindowDays:       e.cfg.DateWindowDays,
			History:          snap.History(),
			BatchTotalsAgree: totalsAgree,
			TxParty:          f.TxParty,
			TxAmountMinor:    tx.AmountMinor,
			TxDate:           tx.ValueDate,
			RecordOpen:       rec.Open,
			CurrencyMatch:    true,
		}

		scores := SubScores{
			Amount:     scoreAmount(f, ctx),
			Temporal:   scoreTemporal(f, ctx),
			Reference:  scoreReference(f, ctx),
			Party:      scoreParty(f, ctx),
			Semantic:   scoreSemantic(f, ctx),
			Behavioral: scoreBehavioral(f, ctx),
			Contextual: scoreContextual(f, ctx),
		}
		if !scores.inRange() {
			// A layer score outside [0,1] is a defect in the scorer, not a
			// recoverable data condition. Drop the candidate.
			e.log.Error("layer score outside [0,1], discarding candidate",
				"transaction", tx.ID, "ledger_record", rec.ID, "scores", scores.Map())
			continue
		}

		ranked = append(ranked, Candidate{
			Record:      rec,
			Scores:      scores,
			Confidence:  e.combine(scores),
			amountDelta: f.AmountDeltaMinor,
			dateDelta:   f.DateDeltaDays,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.amountDelta != b.amountDelta {
			return a.amountDelta < b.amountDelta
		}
		if a.dateDelta != b.dateDelta {
			return a.dateDelta < b.dateDelta
		}
		return a.Record.ID.String() < b.Record.ID.String()
	})
	return ranked, nil
}

// combine folds the layer scores into a 0-100 confidence via the configured
// weights. The weights were validated to sum to 1.0 at startup.
func (e *Engine) combine(s SubScores) float64 {
	w := e.cfg.Weights
	conf := 100 * (w.Amount*s.Amount +
		w.Temporal*s.Temporal +
		w.Reference*s.Reference +
		w.Party*s.Party +
		w.Semantic*s.Semantic +
		w.Behavioral*s.Behavioral +
		w.Contextual*s.Contextual)
	if conf > 100 {
		conf = 100
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}

// selectOutcome applies the threshold policy. At most one candidate is
// claimed; a claim conflict is retried once against the remaining ranking
// before the transaction falls back to review or unmatched.
func (e *Engine) selectOutcome(tx *models.BankTransaction, ranked []Candidate, snap *Snapshot) *Outcome {
	attempts := 0
	for i := range ranked {
		c := &ranked[i]
		if c.Confidence < e.cfg.AutoMatchFloor {
			break
		}
		considered := e.topN(ranked, snap) // captured before our own claim hides the record
		if snap.Claim(c.Record.ID, tx.ID) {
			return &Outcome{
				Transaction: tx,
				Confidence:  c.Confidence,
				Band:        Categorize(c.Confidence, e.cfg.Bands),
				Selected:    c.Record,
				Ranked:      considered,
			}
		}
		attempts++
		if attempts > 1 {
			break
		}
	}

	remaining := e.topN(ranked, snap)
	if len(remaining) > 0 && remaining[0].Confidence >= e.cfg.ReviewMinimum {
		return &Outcome{
			Transaction: tx,
			Confidence:  remaining[0].Confidence,
			Band:        Categorize(remaining[0].Confidence, e.cfg.Bands),
			Ranked:      remaining,
		}
	}

	return &Outcome{Transaction: tx, Band: models.BandUnmatched}
}

// topN trims the ranking to the configured review size, excluding records
// already claimed by other transactions in this pass.
func (e *Engine) topN(ranked []Candidate, snap *Snapshot) []Candidate {
	var out []Candidate
	for _, c := range ranked {
		if snap.Claimed(c.Record.ID) {
			continue
		}
		out = append(out, c)
		if len(out) == e.cfg.ReviewCandidates {
			break
		}
	}
	return out
}

// batchTotalsAgree checks whether the batch's total absolute amount
// reconciles with the snapshot window's open ledger total, within the amount
// tolerance. Feeds the contextual scorer.
func (e *Engine) batchTotalsAgree(txs []*models.BankTransaction, records []*models.LedgerRecord) bool {
	var txTotal, recTotal int64
	for _, tx := range txs {
		txTotal += absMinor(tx.AmountMinor)
	}
	for _, rec := range records {
		recTotal += absMinor(rec.AmountMinor)
	}
	return amountsClose(txTotal, recTotal, e.tolerance)
}
