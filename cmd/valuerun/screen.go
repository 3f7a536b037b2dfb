package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/valuerun/valuerun/internal/screen"
)

func screenCmd() *cobra.Command {
	var (
		symbols string
		file    string
		asOf    string
	)
	cmd := &cobra.Command{
		Use:   "screen",
		Short: "Evaluate a screen definition across symbols",
		RunE: func(cmd *cobra.Command, args []string) error {
			syms := parseSymbols(symbols)
			if len(syms) == 0 {
				return fmt.Errorf("no symbols provided")
			}
			if file == "" {
				return fmt.Errorf("no screen file provided")
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

			// Bare filenames resolve against the configured screen directory.
			path := file
			if !filepath.IsAbs(path) {
				if _, err := os.Stat(path); err != nil {
					path = filepath.Join(a.cfg.Data.ScreenDir, file)
				}
			}
			def, err := screen.Load(path)
			if err != nil {
				return err
			}

			evaluator := screen.Evaluator{Source: a.memo()}
			results, err := evaluator.Evaluate(cmd.Context(), syms, def)
			if err != nil {
				return err
			}
			return printJSON(struct {
				Screen  string                `json:"screen"`
				Results []screen.SymbolResult `json:"results"`
			}{Screen: def.Name, Results: results})
		},
	}
	cmd.Flags().StringVar(&symbols, "symbols", "", "comma-separated symbols")
	cmd.Flags().StringVar(&file, "file", "", "screen definition YAML")
	cmd.Flags().StringVar(&asOf, "as-of", "", "staleness anchor date, YYYY-MM-DD")
	return cmd
}
