package matching

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bank-reconciliation-backend/internal/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testTx(amount int64, day time.Time) *models.BankTransaction {
	return &models.BankTransaction{
		ID:          uuid.New(),
		AmountMinor: amount,
		Currency:    "USD",
		ValueDate:   day,
	}
}

func testRec(amount int64, day time.Time) *models.LedgerRecord {
	return &models.LedgerRecord{
		ID:          uuid.New(),
		AmountMinor: amount,
		Currency:    "USD",
		RecordDate:  day,
		Open:        true,
	}
}

func TestExtract_Deltas(t *testing.T) {
	tx := testTx(50000, date(2024, 3, 5))
	rec := testRec(49500, date(2024, 3, 1))

	f, err := Extract(tx, rec)
	require.NoError(t, err)
	assert.Equal(t, int64(500), f.AmountDeltaMinor)
	assert.Equal(t, "0.0101", f.AmountDeltaRel.Round(4).String())
	assert.Equal(t, 4, f.DateDeltaDays)
}

func TestExtract_SignIgnoredForDelta(t *testing.T) {
	// An outflow of 500.00 against a 500.00 payable is an exact match.
	f, err := Extract(testTx(-50000, date(2024, 3, 1)), testRec(50000, date(2024, 3, 1)))
	require.NoError(t, err)
	assert.Zero(t, f.AmountDeltaMinor)
}

func TestExtract_MalformedCurrency(t *testing.T) {
	tx := testTx(100, date(2024, 1, 1))
	tx.Currency = "US$"

	_, err := Extract(tx, testRec(100, date(2024, 1, 1)))
	require.ErrorIs(t, err, ErrMalformedCurrency)

	tx.Currency = "USD"
	rec := testRec(100, date(2024, 1, 1))
	rec.Currency = "USDT"
	_, err = Extract(tx, rec)
	require.ErrorIs(t, err, ErrMalformedCurrency)
}

func TestTextTokens(t *testing.T) {
	got := textTokens("Payment to ACME Consulting Ltd., invoice 1042")
	assert.Equal(t, []string{"ACME", "CONSULTING", "1042"}, got)
}

func TestTextTokens_DropsShortAndDuplicate(t *testing.T) {
	got := textTokens("A B ACME ACME x")
	assert.Equal(t, []string{"ACME"}, got)
}

func TestReferenceTokens_PunctuationInsensitive(t *testing.T) {
	// "INV-1042" and "INV1042" must normalize to the same token.
	assert.Equal(t, referenceTokens("INV-1042"), referenceTokens("INV1042"))
	assert.Equal(t, []string{"INV1042"}, referenceTokens("inv-1042"))
}

func TestReferenceTokens_SeparateFieldsStaySeparate(t *testing.T) {
	assert.Equal(t, []string{"INV1042", "PO77"}, referenceTokens("INV-1042 PO/77"))
}
