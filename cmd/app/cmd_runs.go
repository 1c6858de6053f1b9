package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"trade_sim/internal/domain"
	"trade_sim/internal/infra"
	"trade_sim/internal/infra/storage"
)

var runsLimit int

// runsCmd lists recorded simulation runs.
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded simulation runs",
	Long: `List the most recent simulation runs stored in the local database.

Example usage:
  trade_sim runs
  trade_sim runs --limit 20`,
	RunE: runListRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().IntVar(&runsLimit, "limit", 10, "Number of runs to show")
}

func runListRuns(cmd *cobra.Command, args []string) error {
	cfg, err := infra.LoadConfig(configPath)
	if errors.Is(err, domain.ErrConfigNotFound) {
		cfg, err = infra.DefaultConfig(), nil
	}
	if err != nil {
		return err
	}
	if !cfg.Storage.Enabled {
		return errors.New("storage is disabled in the configuration")
	}

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(runsLimit)
	if err != nil {
		return err
	}
	return printRuns(cmd.OutOrStdout(), runs)
}

func printRuns(out io.Writer, runs []domain.SimulationRun) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tASSET\tTYPE\tQTY USD\tVOL %\tTIER\tSTARTED\tDURATION\tSTATUS")
	for _, r := range runs {
		duration := "-"
		if !r.StoppedAt.IsZero() {
			duration = r.StoppedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.2f\t%s\t%s\t%s\t%s\n",
			r.ID, r.Asset, r.OrderType, r.QuantityUSD, r.VolatilityPct, r.FeeTier,
			r.StartedAt.Format(time.RFC3339), duration, r.Status)
	}
	return w.Flush()
}
