// Package fx loads daily FX rates from per-pair CSV files and converts
// amounts between currencies at the closest available date.
package fx

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Rate is one observed exchange rate for a currency pair.
type Rate struct {
	AsOf time.Time
	Rate float64
}

// Store reads BASEQUOTE.csv files (e.g. GBPUSD.csv) from a directory and
// caches the parsed series per pair. Missing files are cached as empty
// series so repeated lookups stay cheap.
type Store struct {
	root string

	mu    sync.Mutex
	cache map[string][]Rate
}

// NewStore returns a Store rooted at dir. The directory does not have to
// exist; lookups against an absent directory simply find no rates.
func NewStore(dir string) *Store {
	return &Store{root: dir, cache: make(map[string][]Rate)}
}

// Convert converts amount from one currency into another at the rate closest
// to asOf (an ISO date string). Same-currency conversions are the identity.
// When no direct pair file exists the inverse pair is tried with 1/rate.
// The second return is false when no rate could be resolved.
func (s *Store) Convert(amount float64, from, to, asOf string) (float64, bool) {
	fromCode := strings.ToUpper(strings.TrimSpace(from))
	toCode := strings.ToUpper(strings.TrimSpace(to))
	if fromCode == "" || toCode == "" {
		return 0, false
	}
	if fromCode == toCode {
		return amount, true
	}
	target, err := parseDate(asOf)
	if err != nil {
		return 0, false
	}

	if rate, ok := s.rate(fromCode+toCode, target); ok {
		return amount * rate, true
	}
	if inverse, ok := s.rate(toCode+fromCode, target); ok && inverse != 0 {
		return amount / inverse, true
	}
	log.Debug().Str("from", fromCode).Str("to", toCode).Str("as_of", asOf).
		Msg("no fx rate available")
	return 0, false
}

func (s *Store) rate(pair string, target time.Time) (float64, bool) {
	series := s.loadPair(pair)
	if len(series) == 0 {
		return 0, false
	}
	best := series[0]
	bestDelta := absDays(best.AsOf, target)
	for _, entry := range series[1:] {
		if delta := absDays(entry.AsOf, target); delta < bestDelta {
			best, bestDelta = entry, delta
		}
	}
	return best.Rate, true
}

func (s *Store) loadPair(pair string) []Rate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if series, ok := s.cache[pair]; ok {
		return series
	}
	series, err := readPairFile(filepath.Join(s.root, pair+".csv"))
	if err != nil {
		log.Warn().Err(err).Str("pair", pair).Msg("failed to read fx pair file")
		series = nil
	}
	s.cache[pair] = series
	return series
}

func readPairFile(path string) ([]Rate, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	header := rows[0]
	dateCol := findDateColumn(header)
	rateCol := findRateColumn(header, dateCol)
	if dateCol < 0 || rateCol < 0 {
		return nil, nil
	}

	var series []Rate
	for _, row := range rows[1:] {
		if dateCol >= len(row) || rateCol >= len(row) {
			continue
		}
		asOf, err := parseDate(row[dateCol])
		if err != nil {
			continue
		}
		rate, err := strconv.ParseFloat(strings.TrimSpace(row[rateCol]), 64)
		if err != nil {
			continue
		}
		series = append(series, Rate{AsOf: asOf, Rate: rate})
	}
	return series, nil
}

func findDateColumn(header []string) int {
	preferred := map[string]bool{"date": true, "as_of": true, "asof": true, "datetime": true}
	for i, name := range header {
		if preferred[strings.ToLower(strings.TrimSpace(name))] {
			return i
		}
	}
	for i, name := range header {
		if strings.Contains(strings.ToLower(name), "date") {
			return i
		}
	}
	return -1
}

func findRateColumn(header []string, dateCol int) int {
	preferred := []string{"rate", "value", "price", "close", "adjusted_close"}
	for _, want := range preferred {
		for i, name := range header {
			if i != dateCol && strings.EqualFold(strings.TrimSpace(name), want) {
				return i
			}
		}
	}
	for i := range header {
		if i != dateCol {
			return i
		}
	}
	return -1
}

func parseDate(value string) (time.Time, error) {
	text := strings.TrimSpace(value)
	if len(text) > 10 {
		text = text[:10]
	}
	return time.Parse("2006-01-02", text)
}

func absDays(a, b time.Time) int {
	d := int(a.Sub(b).Hours() / 24)
	if d < 0 {
		return -d
	}
	return d
}
