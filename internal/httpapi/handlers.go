package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/valuerun/valuerun/internal/metrics"
	"github.com/valuerun/valuerun/internal/screen"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSymbolMetrics resolves the whole catalogue for one symbol through
// the metric source, gaps included.
func (s *Server) handleSymbolMetrics(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	results := make([]metrics.Result, 0, len(s.catalog))
	for _, metricID := range s.catalog {
		result, err := s.source.Metric(r.Context(), symbol, metricID)
		if err != nil {
			log.Error().Err(err).Str("symbol", symbol).Str("metric", metricID).
				Msg("metric resolution failed")
			writeError(w, http.StatusInternalServerError, "metric resolution failed")
			return
		}
		results = append(results, result)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":  symbol,
		"metrics": results,
	})
}

type screenRequest struct {
	Symbols []string      `json:"symbols"`
	Screen  screen.Screen `json:"screen"`
}

// handleScreen evaluates an inline screen definition across a symbol list.
func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	var req screenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Symbols) == 0 {
		writeError(w, http.StatusBadRequest, "no symbols given")
		return
	}
	if err := req.Screen.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	evaluator := screen.Evaluator{Source: s.source}
	results, err := evaluator.Evaluate(r.Context(), req.Symbols, req.Screen)
	if err != nil {
		log.Error().Err(err).Msg("screen evaluation failed")
		writeError(w, http.StatusInternalServerError, "screen evaluation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"screen":  req.Screen.Name,
		"results": results,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
