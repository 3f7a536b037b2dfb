package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/valuerun/valuerun/internal/domain"
)

const eodhdBaseURL = "https://eodhd.com/api"

// EODHD fetches the latest end-of-day bar from the EODHD /eod endpoint.
type EODHD struct {
	apiKey  string
	baseURL string
	client  *http.Client
	guard   *guard
}

func NewEODHD(apiKey string) *EODHD {
	return &EODHD{
		apiKey:  apiKey,
		baseURL: eodhdBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		guard:   newGuard("eodhd", 10, 5),
	}
}

func (e *EODHD) Name() string { return "EODHD" }

type eodhdBar struct {
	Date          string  `json:"date"`
	Close         float64 `json:"close"`
	AdjustedClose float64 `json:"adjusted_close"`
	Volume        int64   `json:"volume"`
}

func (e *EODHD) Quote(ctx context.Context, symbol string) (*domain.MarketSnapshot, error) {
	return e.guard.do(ctx, func() (*domain.MarketSnapshot, error) {
		return e.fetch(ctx, symbol)
	})
}

func (e *EODHD) fetch(ctx context.Context, symbol string) (*domain.MarketSnapshot, error) {
	endpoint := fmt.Sprintf("%s/eod/%s?%s", e.baseURL, url.PathEscape(symbol), url.Values{
		"api_token": {e.apiKey},
		"fmt":       {"json"},
		"order":     {"d"},
		"limit":     {"1"},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("eodhd request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("eodhd returned status %d for %s", resp.StatusCode, symbol)
	}

	var bars []eodhdBar
	if err := json.NewDecoder(resp.Body).Decode(&bars); err != nil {
		return nil, fmt.Errorf("failed to decode eodhd response: %w", err)
	}
	if len(bars) == 0 {
		return nil, nil
	}

	bar := bars[0]
	if bar.Close <= 0 || bar.Date == "" {
		return nil, fmt.Errorf("eodhd bar for %s has no usable close", symbol)
	}
	volume := bar.Volume
	return &domain.MarketSnapshot{
		Symbol: strings.ToUpper(symbol),
		AsOf:   bar.Date,
		Price:  bar.Close,
		Volume: &volume,
	}, nil
}
