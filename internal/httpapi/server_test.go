package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valuerun/valuerun/internal/metrics"
	"github.com/valuerun/valuerun/internal/pipeline"
)

type stubSource map[string]metrics.Result

func (s stubSource) Metric(_ context.Context, symbol, metricID string) (metrics.Result, error) {
	if result, ok := s[symbol+"/"+metricID]; ok {
		return result, nil
	}
	return metrics.Result{Symbol: symbol, MetricID: metricID, Gap: metrics.GapMissingInput}, nil
}

func testServer(source stubSource, hub *Hub) *Server {
	return NewServer(DefaultConfig(), source, []string{"market_cap", "eps_ttm"}, nil, hub)
}

func TestHealthz(t *testing.T) {
	server := testServer(stubSource{}, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSymbolMetrics_ReturnsCatalogue(t *testing.T) {
	source := stubSource{
		"ACME/market_cap": {Symbol: "ACME", MetricID: "market_cap", Value: 5e9, AsOf: "2024-06-28"},
	}
	server := testServer(source, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/symbols/ACME/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Symbol  string           `json:"symbol"`
		Metrics []metrics.Result `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "ACME", payload.Symbol)
	require.Len(t, payload.Metrics, 2)
	assert.InDelta(t, 5e9, payload.Metrics[0].Value, 1)
	assert.Equal(t, metrics.GapMissingInput, payload.Metrics[1].Gap)
}

func TestScreen_EvaluatesInlineDefinition(t *testing.T) {
	source := stubSource{
		"ACME/market_cap": {Symbol: "ACME", MetricID: "market_cap", Value: 5e9},
		"BETA/market_cap": {Symbol: "BETA", MetricID: "market_cap", Value: 1e8},
	}
	server := testServer(source, nil)

	body := []byte(`{
		"symbols": ["ACME", "BETA"],
		"screen": {
			"name": "large caps",
			"criteria": [
				{"name": "big", "left": {"metric": "market_cap"}, "operator": ">=", "right": {"value": 1e9}}
			]
		}
	}`)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/screen", bytes.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Screen  string `json:"screen"`
		Results []struct {
			Symbol string `json:"symbol"`
			Passed bool   `json:"passed"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "large caps", payload.Screen)
	require.Len(t, payload.Results, 2)
	assert.True(t, payload.Results[0].Passed)
	assert.False(t, payload.Results[1].Passed)
}

func TestScreen_RejectsInvalidRequests(t *testing.T) {
	server := testServer(stubSource{}, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/screen", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/screen",
		strings.NewReader(`{"symbols":["ACME"],"screen":{"name":"empty","criteria":[]}}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHub_BroadcastsRunEvents(t *testing.T) {
	hub := NewHub()
	server := testServer(stubSource{}, hub)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/runs"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscriber registers just after the handshake completes.
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.clients) == 1
	}, time.Second, 10*time.Millisecond)

	hub.Publish(pipeline.Event{RunID: "run-1", Symbol: "ACME", Stage: "facts", Facts: 12})

	var event pipeline.Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "run-1", event.RunID)
	assert.Equal(t, "ACME", event.Symbol)
	assert.Equal(t, 12, event.Facts)
}
