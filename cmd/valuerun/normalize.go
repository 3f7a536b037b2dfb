package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/valuerun/valuerun/internal/pipeline"
)

func normalizeCmd() *cobra.Command {
	var (
		provider   string
		symbols    string
		payloadDir string
	)
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Normalize raw provider payloads into facts and recompute metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			syms := parseSymbols(symbols)
			if len(syms) == 0 {
				return fmt.Errorf("no symbols provided")
			}
			normalizer, err := newNormalizer(provider)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), time.Time{})
			if err != nil {
				return err
			}
			defer a.Close()

			dir := payloadDir
			if dir == "" {
				dir = a.cfg.Data.PayloadDir
			}

			runner := pipeline.Runner{
				Normalizer: normalizer,
				Facts:      a.facts,
				Metrics:    a.values,
				Cache:      a.cache,
				Env:        a.env,
			}
			report, err := runner.Run(cmd.Context(), syms, dirPayloads(dir))
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "sec", "payload provider: sec|eodhd")
	cmd.Flags().StringVar(&symbols, "symbols", "", "comma-separated symbols")
	cmd.Flags().StringVar(&payloadDir, "payload-dir", "", "payload directory (defaults to config)")
	return cmd
}
