package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/valuerun/valuerun/internal/marketdata"
)

func pricesCmd() *cobra.Command {
	var (
		provider string
		symbols  string
	)
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Refresh market snapshots from a quote provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			syms := parseSymbols(symbols)
			if len(syms) == 0 {
				return fmt.Errorf("no symbols provided")
			}

			a, err := newApp(cmd.Context(), time.Time{})
			if err != nil {
				return err
			}
			defer a.Close()

			var quotes marketdata.Provider
			switch strings.ToLower(provider) {
			case "eodhd":
				if a.cfg.Providers.EODHDAPIKey == "" {
					return fmt.Errorf("providers.eodhd_api_key not configured")
				}
				quotes = marketdata.NewEODHD(a.cfg.Providers.EODHDAPIKey)
			case "alphavantage":
				if a.cfg.Providers.AlphaVantageAPIKey == "" {
					return fmt.Errorf("providers.alphavantage_api_key not configured")
				}
				quotes = marketdata.NewAlphaVantage(a.cfg.Providers.AlphaVantageAPIKey)
			default:
				return fmt.Errorf("unsupported provider: %s", provider)
			}

			service := marketdata.Service{
				Provider:  quotes,
				Facts:     a.facts,
				Snapshots: a.market,
			}

			type refreshResult struct {
				Symbol  string   `json:"symbol"`
				Price   *float64 `json:"price,omitempty"`
				Skipped bool     `json:"skipped,omitempty"`
				Error   string   `json:"error,omitempty"`
			}
			out := make([]refreshResult, 0, len(syms))
			for _, symbol := range syms {
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				entry := refreshResult{Symbol: symbol}
				snapshot, err := service.Refresh(cmd.Context(), symbol)
				switch {
				case err != nil:
					entry.Error = err.Error()
					log.Warn().Err(err).Str("symbol", symbol).Msg("price refresh failed")
				case snapshot == nil:
					entry.Skipped = true
				default:
					price := snapshot.Price
					entry.Price = &price
					// Market-dependent cached metrics are stale now.
					if err := a.cache.Invalidate(cmd.Context(), symbol); err != nil {
						return err
					}
				}
				out = append(out, entry)
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "eodhd", "quote provider: eodhd|alphavantage")
	cmd.Flags().StringVar(&symbols, "symbols", "", "comma-separated symbols")
	return cmd
}
