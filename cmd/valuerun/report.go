package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valuerun/valuerun/internal/metrics"
)

func reportCmd() *cobra.Command {
	var (
		symbols string
		asOf    string
		maxAge  int
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report fact coverage and staleness across symbols",
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

			if maxAge == 0 {
				maxAge = a.cfg.Metrics.StalenessDays
			}
			reporter := metrics.CoverageReporter{
				Facts:      a.facts,
				MaxAgeDays: maxAge,
				Env:        a.env,
			}
			coverage, err := reporter.Report(cmd.Context(), syms, metrics.Registry())
			if err != nil {
				return err
			}
			return printJSON(coverage)
		},
	}
	cmd.Flags().StringVar(&symbols, "symbols", "", "comma-separated symbols")
	cmd.Flags().StringVar(&asOf, "as-of", "", "staleness anchor date, YYYY-MM-DD")
	cmd.Flags().IntVar(&maxAge, "max-age-days", 0, "freshness window in days (defaults to config)")
	return cmd
}
