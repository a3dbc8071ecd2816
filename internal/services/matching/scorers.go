package matching

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// SubScores holds the seven layer scores for one candidate, each in [0,1].
type SubScores struct {
	Amount     float64
	Temporal   float64
	Reference  float64
	Party      float64
	Semantic   float64
	Behavioral float64
	Contextual float64
}

// Map returns the sub-scores keyed by layer name, for persistence.
func (s SubScores) Map() map[string]float64 {
	return map[string]float64{
		"amount":     s.Amount,
		"temporal":   s.Temporal,
		"reference":  s.Reference,
		"party":      s.Party,
		"semantic":   s.Semantic,
		"behavioral": s.Behavioral,
		"contextual": s.Contextual,
	}
}

func (s SubScores) inRange() bool {
	for _, v := range s.Map() {
		if v < 0 || v > 1 {
			return false
		}
	}
	return true
}

// HistoryPoint is one prior confirmed match, used by the behavioral scorer.
type HistoryPoint struct {
	Counterparty string
	AmountMinor  int64
	Date         time.Time
}

// ScorerContext carries the run-level inputs the scorers need beyond the
// pair features.
type ScorerContext struct {
	AmountTolerance  decimal.Decimal // relative, e.g. 0.005
	WindowDays       int
	History          []HistoryPoint
	BatchTotalsAgree bool // batch inflow total reconciles with the window's open ledger total
	TxParty          []string
	TxAmountMinor    int64
	TxDate           time.Time
	RecordOpen       bool
	CurrencyMatch    bool
}

// scoreAmount is 1.0 for an exact minor-unit match and decays linearly to 0
// at the configured relative tolerance.
func scoreAmount(f *Features, ctx *ScorerContext) float64 {
	if f.AmountDeltaMinor == 0 {
		return 1
	}
	if ctx.AmountTolerance.IsZero() {
		return 0
	}
	ratio, _ := f.AmountDeltaRel.Div(ctx.AmountTolerance).Float64()
	if ratio >= 1 {
		return 0
	}
	return 1 - ratio
}

// scoreTemporal is 1.0 for same-day and decays linearly to 0 at the edge of
// the lookback window.
func scoreTemporal(f *Features, ctx *ScorerContext) float64 {
	if ctx.WindowDays <= 0 {
		return 0
	}
	if f.DateDeltaDays >= ctx.WindowDays {
		return 0
	}
	return 1 - float64(f.DateDeltaDays)/float64(ctx.WindowDays)
}

// scoreReference is the normalized token-overlap ratio between the bank and
// ledger reference fields.
func scoreReference(f *Features, _ *ScorerContext) float64 {
	return jaccard(f.TxReference, f.RecReference)
}

// scoreParty fuzzily compares counterparty names: each ledger-side token is
// matched against the best bank-side token by Levenshtein similarity. Bank
// feeds often bury the counterparty in the description, so both fields feed
// the bank side.
func scoreParty(f *Features, _ *ScorerContext) float64 {
	if len(f.RecParty) == 0 {
		return 0
	}
	bankSide := append(append([]string{}, f.TxParty...), f.TxDesc...)
	if len(bankSide) == 0 {
		return 0
	}

	total := 0.0
	for _, rt := range f.RecParty {
		best := 0.0
		for _, bt := range bankSide {
			if sim := tokenSimilarity(rt, bt); sim > best {
				best = sim
			}
		}
		total += best
	}
	return total / float64(len(f.RecParty))
}

// scoreSemantic compares free-text descriptions, catching paraphrased memos
// that the structured fields miss.
func scoreSemantic(f *Features, _ *ScorerContext) float64 {
	return jaccard(f.TxDesc, f.RecDesc)
}

// scoreBehavioral boosts candidates whose counterparty and amount recur at a
// regular cadence in the confirmed-match history (e.g. a monthly vendor).
func scoreBehavioral(_ *Features, ctx *ScorerContext) float64 {
	var dates []time.Time
	for _, h := range ctx.History {
		if !sameParty(ctx.TxParty, h.Counterparty) {
			continue
		}
		if !amountsClose(ctx.TxAmountMinor, h.AmountMinor, ctx.AmountTolerance) {
			continue
		}
		dates = append(dates, h.Date)
	}
	if len(dates) < 2 {
		return 0
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	mean := dates[len(dates)-1].Sub(dates[0]).Hours() / 24 / float64(len(dates)-1)
	if mean <= 0 {
		return 0
	}
	gap := ctx.TxDate.Sub(dates[len(dates)-1]).Hours() / 24
	if gap < 0 {
		gap = -gap
	}
	dev := (gap - mean) / mean
	if dev < 0 {
		dev = -dev
	}
	if dev > 1 {
		dev = 1
	}

	strength := float64(len(dates)) / 4.0
	if strength > 1 {
		strength = 1
	}
	return strength * (1 - dev)
}

// scoreContextual cross-validates the pair against run-level context: the
// record must still be open in the shared currency, and the score is boosted
// when the batch total reconciles against the candidate window.
func scoreContextual(_ *Features, ctx *ScorerContext) float64 {
	if !ctx.RecordOpen || !ctx.CurrencyMatch {
		return 0
	}
	if ctx.BatchTotalsAgree {
		return 1
	}
	return 0.5
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	inter := 0
	for _, t := range b {
		if _, ok := set[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func tokenSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}
	return 1 - float64(levenshtein(a, b))/float64(maxLen)
}

func sameParty(txTokens []string, counterparty string) bool {
	hist := textTokens(counterparty)
	if len(hist) == 0 || len(txTokens) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(txTokens))
	for _, t := range txTokens {
		set[t] = struct{}{}
	}
	for _, t := range hist {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

func amountsClose(a, b int64, tolerance decimal.Decimal) bool {
	delta := absMinor(a) - absMinor(b)
	if delta < 0 {
		delta = -delta
	}
	if delta == 0 {
		return true
	}
	base := absMinor(b)
	if base == 0 {
		base = 1
	}
	rel := decimal.NewFromInt(delta).Div(decimal.NewFromInt(base))
	return rel.LessThanOrEqual(tolerance)
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	dp := make([][]int, len(a)+1)
	for i := range dp {
		dp[i] = make([]int, len(b)+1)
	}
	for i := 0; i <= len(a); i++ {
		dp[i][0] = i
	}
	for j := 0; j <= len(b); j++ {
		dp[0][j] = j
	}
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			dp[i][j] = minOf(dp[i-1][j]+1, dp[i][j-1]+1, dp[i-1][j-1]+cost)
		}
	}
	return dp[len(a)][len(b)]
}

func minOf(a, b, c int) int {
	if a < b && a < c {
		return a
	}
	if b < c {
		return b
	}
	return c
}
