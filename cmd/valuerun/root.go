package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var configPath string

// Execute runs the valuerun CLI.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:           "valuerun",
		Short:         "Normalize fundamentals and compute value metrics",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	root.AddCommand(
		normalizeCmd(),
		metricsCmd(),
		screenCmd(),
		reportCmd(),
		pricesCmd(),
		serveCmd(),
	)
	return root.ExecuteContext(ctx)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseSymbols(s string) []string {
	items := splitList(s)
	for i, item := range items {
		items[i] = strings.ToUpper(item)
	}
	return items
}

// parseAsOf reads an ISO date anchor. Empty means wall-clock now.
func parseAsOf(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --as-of date %q: %w", s, err)
	}
	return t.UTC(), nil
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(b))
	return err
}
