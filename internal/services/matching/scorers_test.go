package matching

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCtx() *ScorerContext {
	return &ScorerContext{
		AmountTolerance: decimal.NewFromFloat(0.005),
		WindowDays:      30,
		RecordOpen:      true,
		CurrencyMatch:   true,
	}
}

func TestScoreAmount(t *testing.T) {
	ctx := testCtx()

	exact, err := Extract(testTx(50000, date(2024, 3, 1)), testRec(50000, date(2024, 3, 1)))
	require.NoError(t, err)
	assert.Equal(t, 1.0, scoreAmount(exact, ctx))

	// 100.50 against 100.00 is a 0.5% deviation, at the tolerance edge.
	edge, err := Extract(testTx(10050, date(2024, 3, 1)), testRec(10000, date(2024, 3, 1)))
	require.NoError(t, err)
	assert.Equal(t, 0.0, scoreAmount(edge, ctx))

	// Halfway inside the tolerance decays to 0.5.
	half, err := Extract(testTx(10025, date(2024, 3, 1)), testRec(10000, date(2024, 3, 1)))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, scoreAmount(half, ctx), 1e-9)
}

func TestScoreTemporal(t *testing.T) {
	ctx := testCtx()

	same, _ := Extract(testTx(100, date(2024, 3, 1)), testRec(100, date(2024, 3, 1)))
	assert.Equal(t, 1.0, scoreTemporal(same, ctx))

	edge, _ := Extract(testTx(100, date(2024, 3, 31)), testRec(100, date(2024, 3, 1)))
	assert.Equal(t, 0.0, scoreTemporal(edge, ctx))

	mid, _ := Extract(testTx(100, date(2024, 3, 16)), testRec(100, date(2024, 3, 1)))
	assert.Equal(t, 0.5, scoreTemporal(mid, ctx))
}

func TestScoreReference(t *testing.T) {
	f := &Features{
		TxReference:  referenceTokens("INV-1042"),
		RecReference: referenceTokens("INV1042"),
	}
	assert.Equal(t, 1.0, scoreReference(f, testCtx()))

	f.RecReference = referenceTokens("INV-9999")
	assert.Equal(t, 0.0, scoreReference(f, testCtx()))

	// No reference on either side carries no signal.
	assert.Equal(t, 0.0, scoreReference(&Features{}, testCtx()))
}

func TestScoreParty(t *testing.T) {
	f := &Features{
		TxParty:  textTokens("ACME Consulting"),
		RecParty: textTokens("ACME Consulting"),
	}
	assert.Equal(t, 1.0, scoreParty(f, testCtx()))

	// Minor misspelling stays a strong signal.
	f.TxParty = textTokens("ACME Consutling")
	assert.Greater(t, scoreParty(f, testCtx()), 0.7)

	// Counterparty buried in the description still counts.
	f = &Features{
		TxDesc:   textTokens("wire transfer ACME Consulting"),
		RecParty: textTokens("ACME Consulting"),
	}
	assert.Equal(t, 1.0, scoreParty(f, testCtx()))

	assert.Equal(t, 0.0, scoreParty(&Features{RecParty: textTokens("ACME")}, testCtx()))
}

func TestScoreBehavioral_RecurringVendor(t *testing.T) {
	ctx := testCtx()
	ctx.TxParty = textTokens("Hosting Works")
	ctx.TxAmountMinor = 9900
	ctx.TxDate = date(2024, 5, 1)
	ctx.History = []HistoryPoint{
		{Counterparty: "Hosting Works", AmountMinor: 9900, Date: date(2024, 1, 1)},
		{Counterparty: "Hosting Works", AmountMinor: 9900, Date: date(2024, 2, 1)},
		{Counterparty: "Hosting Works", AmountMinor: 9900, Date: date(2024, 3, 1)},
		{Counterparty: "Hosting Works", AmountMinor: 9900, Date: date(2024, 4, 1)},
	}

	// Monthly cadence, next payment lands a month after the last: strong.
	assert.Greater(t, scoreBehavioral(&Features{}, ctx), 0.9)

	// The same vendor far off-cadence scores low.
	ctx.TxDate = date(2024, 11, 1)
	assert.Less(t, scoreBehavioral(&Features{}, ctx), 0.1)
}

func TestScoreBehavioral_NeedsHistory(t *testing.T) {
	ctx := testCtx()
	ctx.TxParty = textTokens("ACME")
	ctx.TxAmountMinor = 100
	ctx.TxDate = date(2024, 5, 1)
	ctx.History = []HistoryPoint{
		{Counterparty: "ACME", AmountMinor: 100, Date: date(2024, 4, 1)},
	}
	assert.Equal(t, 0.0, scoreBehavioral(&Features{}, ctx))
}

func TestScoreContextual(t *testing.T) {
	ctx := testCtx()
	assert.Equal(t, 0.5, scoreContextual(&Features{}, ctx))

	ctx.BatchTotalsAgree = true
	assert.Equal(t, 1.0, scoreContextual(&Features{}, ctx))

	ctx.RecordOpen = false
	assert.Equal(t, 0.0, scoreContextual(&Features{}, ctx))
}

// All layer scores stay in [0,1] across a spread of pairings.
func TestScoreRangeProperty(t *testing.T) {
	ctx := testCtx()
	ctx.TxParty = textTokens("Vendor One")
	ctx.TxAmountMinor = 12345
	ctx.TxDate = date(2024, 6, 15)
	ctx.History = []HistoryPoint{
		{Counterparty: "Vendor One", AmountMinor: 12345, Date: date(2024, 4, 15)},
		{Counterparty: "Vendor One", AmountMinor: 12345, Date: date(2024, 5, 15)},
	}

	pairs := []struct {
		txAmount, recAmount int64
		txDay, recDay       time.Time
		txRef, recRef       string
	}{
		{12345, 12345, date(2024, 6, 15), date(2024, 6, 15), "INV-1", "INV1"},
		{12345, 999999, date(2024, 6, 15), date(2024, 5, 20), "", "REFX"},
		{-500, 500, date(2024, 6, 1), date(2024, 6, 29), "AB-12 CD", "CD"},
		{1, 0, date(2024, 6, 15), date(2024, 6, 15), "X", ""},
	}
	for _, p := range pairs {
		tx := testTx(p.txAmount, p.txDay)
		tx.Reference = p.txRef
		tx.Counterparty = "Vendor One"
		rec := testRec(p.recAmount, p.recDay)
		rec.Reference = p.recRef
		rec.Counterparty = "Vendor Two"

		f, err := Extract(tx, rec)
		require.NoError(t, err)

		scores := SubScores{
			Amount:     scoreAmount(f, ctx),
			Temporal:   scoreTemporal(f, ctx),
			Reference:  scoreReference(f, ctx),
			Party:      scoreParty(f, ctx),
			Semantic:   scoreSemantic(f, ctx),
			Behavioral: scoreBehavioral(f, ctx),
			Contextual: scoreContextual(f, ctx),
		}
		for name, v := range scores.Map() {
			assert.GreaterOrEqual(t, v, 0.0, name)
			assert.LessOrEqual(t, v, 1.0, name)
		}
	}
}
