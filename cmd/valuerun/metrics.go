package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valuerun/valuerun/internal/metrics"
)

func metricsCmd() *cobra.Command {
	var (
		symbols string
		only    string
		asOf    string
	)
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Compute the metric catalogue for symbols",
		RunE: func(cmd *cobra.Command, args []string) error {
			syms := parseSymbols(symbols)
			if len(syms) == 0 {
				return fmt.Errorf("no symbols provided")
			}
			anchor, err := parseAsOf(asOf)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), anchor)
			if err != nil {
				return err
			}
			defer a.Close()

			ids := metrics.IDs()
			if only != "" {
				ids = splitList(only)
			}

			memo := a.memo()
			type symbolMetrics struct {
				Symbol  string           `json:"symbol"`
				Metrics []metrics.Result `json:"metrics"`
			}
			out := make([]symbolMetrics, 0, len(syms))
			for _, symbol := range syms {
				entry := symbolMetrics{Symbol: symbol}
				for _, metricID := range ids {
					result, err := memo.GetOrCompute(cmd.Context(), symbol, metricID)
					if err != nil {
						return err
					}
					entry.Metrics = append(entry.Metrics, result)
				}
				out = append(out, entry)
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&symbols, "symbols", "", "comma-separated symbols")
	cmd.Flags().StringVar(&only, "only", "", "comma-separated metric ids (defaults to all)")
	cmd.Flags().StringVar(&asOf, "as-of", "", "staleness anchor date, YYYY-MM-DD")
	return cmd
}
