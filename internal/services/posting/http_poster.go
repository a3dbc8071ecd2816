package posting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"bank-reconciliation-backend/internal/models"
)

// HTTPPoster sends entries to the journal entry generator over HTTP.
type HTTPPoster struct {
	url    string
	client *http.Client
}

// NewHTTPPoster builds a poster for the generator at the given URL.
func NewHTTPPoster(url string) *HTTPPoster {
	return &HTTPPoster{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Post submits the result. Any non-2xx response is a failure carrying the
// generator's reason.
func (p *HTTPPoster) Post(ctx context.Context, result *models.MatchResult) error {
	body, err := json.Marshal(map[string]any{
		"transaction_id":   result.TransactionID,
		"ledger_record_id": result.LedgerRecordID,
		"confidence":       result.Confidence,
		"origin":           result.Origin,
	})
	if err != nil {
		return fmt.Errorf("encoding journal entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting journal entry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("journal entry generator rejected entry: %s: %s", resp.Status, reason)
	}
	return nil
}

// LogPoster accepts every entry and logs it. Used when no generator URL is
// configured, so local development does not need the downstream service.
type LogPoster struct {
	Log *slog.Logger
}

func (p LogPoster) Post(_ context.Context, result *models.MatchResult) error {
	p.Log.Info("journal entry accepted (log poster)",
		"transaction", result.TransactionID, "ledger_record", result.LedgerRecordID)
	return nil
}
