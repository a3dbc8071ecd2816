package matching

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"bank-reconciliation-backend/internal/models"
)

// ErrMalformedCurrency marks a data error on the transaction or candidate.
// Callers isolate the transaction and keep processing the rest of the batch.
var ErrMalformedCurrency = errors.New("malformed currency code")

// Features is the fixed-shape comparable bundle derived from one
// (transaction, ledger record) pair. Extraction has no side effects.
type Features struct {
	AmountDeltaMinor int64           // absolute difference in minor units
	AmountDeltaRel   decimal.Decimal // delta relative to the ledger amount
	DateDeltaDays    int             // absolute difference in days

	TxReference  []string
	RecReference []string
	TxParty      []string
	RecParty     []string
	TxDesc       []string
	RecDesc      []string
}

// Extract derives features for one pair. It fails only on a malformed
// currency code; that is a data error, never silently coerced.
func Extract(tx *models.BankTransaction, rec *models.LedgerRecord) (*Features, error) {
	if err := checkCurrency(tx.Currency); err != nil {
		return nil, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	if err := checkCurrency(rec.Currency); err != nil {
		return nil, fmt.Errorf("ledger record %s: %w", rec.ID, err)
	}

	txAmt := absMinor(tx.AmountMinor)
	recAmt := absMinor(rec.AmountMinor)
	delta := txAmt - recAmt
	if delta < 0 {
		delta = -delta
	}

	base := recAmt
	if base == 0 {
		base = 1
	}
	rel := decimal.NewFromInt(delta).Div(decimal.NewFromInt(base))

	days := int(tx.ValueDate.Sub(rec.RecordDate).Hours() / 24)
	if days < 0 {
		days = -days
	}

	return &Features{
		AmountDeltaMinor: delta,
		AmountDeltaRel:   rel,
		DateDeltaDays:    days,
		TxReference:      referenceTokens(tx.Reference),
		RecReference:     referenceTokens(rec.Reference),
		TxParty:          textTokens(tx.Counterparty),
		RecParty:         textTokens(rec.Counterparty),
		TxDesc:           textTokens(tx.Description),
		RecDesc:          textTokens(rec.Description),
	}, nil
}

func checkCurrency(code string) error {
	if len(code) != 3 {
		return fmt.Errorf("%w: %q", ErrMalformedCurrency, code)
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return fmt.Errorf("%w: %q", ErrMalformedCurrency, code)
		}
	}
	return nil
}

func absMinor(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// stopTokens are filler words that carry no matching signal.
var stopTokens = map[string]struct{}{
	"THE": {}, "OF": {}, "AND": {}, "FOR": {}, "TO": {}, "FROM": {},
	"LTD": {}, "INC": {}, "LLC": {}, "CO": {}, "GMBH": {},
	"PAYMENT": {}, "PMT": {}, "PAY": {}, "TRANSFER": {}, "TRF": {},
	"REF": {}, "INVOICE": {},
}

// textTokens normalizes free text: uppercase, punctuation to spaces,
// stop tokens and single characters dropped, order-preserving dedupe.
func textTokens(s string) []string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	var out []string
	seen := make(map[string]struct{})
	for _, tok := range strings.Fields(b.String()) {
		if len(tok) < 2 {
			continue
		}
		if _, stop := stopTokens[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// referenceTokens normalizes reference fields. Punctuation inside a field is
// stripped rather than split, so "INV-1042" and "INV1042" compare equal.
func referenceTokens(s string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, field := range strings.Fields(strings.ToUpper(s)) {
		var b strings.Builder
		for _, r := range field {
			if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
				b.WriteRune(r)
			}
		}
		tok := b.String()
		if len(tok) < 2 {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}
