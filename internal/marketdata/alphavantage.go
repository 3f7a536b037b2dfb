package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valuerun/valuerun/internal/domain"
)

const alphaVantageBaseURL = "https://www.alphavantage.co/query"

// AlphaVantage fetches quotes via the GLOBAL_QUOTE function. The free tier is
// heavily throttled, so the limiter is conservative.
type AlphaVantage struct {
	apiKey  string
	baseURL string
	client  *http.Client
	guard   *guard
}

func NewAlphaVantage(apiKey string) *AlphaVantage {
	return &AlphaVantage{
		apiKey:  apiKey,
		baseURL: alphaVantageBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		guard:   newGuard("alphavantage", 0.2, 1),
	}
}

func (a *AlphaVantage) Name() string { return "AlphaVantage" }

// globalQuote mirrors the numbered field names the API returns.
type globalQuote struct {
	Quote struct {
		Price            string `json:"05. price"`
		Volume           string `json:"06. volume"`
		LatestTradingDay string `json:"07. latest trading day"`
	} `json:"Global Quote"`
}

func (a *AlphaVantage) Quote(ctx context.Context, symbol string) (*domain.MarketSnapshot, error) {
	return a.guard.do(ctx, func() (*domain.MarketSnapshot, error) {
		return a.fetch(ctx, symbol)
	})
}

func (a *AlphaVantage) fetch(ctx context.Context, symbol string) (*domain.MarketSnapshot, error) {
	endpoint := a.baseURL + "?" + url.Values{
		"function": {"GLOBAL_QUOTE"},
		"symbol":   {symbol},
		"apikey":   {a.apiKey},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("alphavantage request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alphavantage returned status %d for %s", resp.StatusCode, symbol)
	}

	var payload globalQuote
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode alphavantage response: %w", err)
	}
	// An unknown symbol comes back as an empty quote object, not an error.
	if payload.Quote.Price == "" {
		return nil, nil
	}

	price, err := strconv.ParseFloat(payload.Quote.Price, 64)
	if err != nil || price <= 0 {
		return nil, fmt.Errorf("alphavantage quote for %s has unusable price %q", symbol, payload.Quote.Price)
	}
	snapshot := &domain.MarketSnapshot{
		Symbol: strings.ToUpper(symbol),
		AsOf:   payload.Quote.LatestTradingDay,
		Price:  price,
	}
	if volume, err := strconv.ParseInt(payload.Quote.Volume, 10, 64); err == nil {
		snapshot.Volume = &volume
	}
	return snapshot, nil
}
