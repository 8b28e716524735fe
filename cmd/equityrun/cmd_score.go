package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sawpanic/equityrun/internal/scores"
)

func newScoreCmd() *cobra.Command {
	var input string
	var save bool
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a universe of fundamentals cross-sectionally",
		Long: `Reads a JSON array of per-symbol fundamentals, computes the 4-factor
composite (Value/Quality/Momentum/LowVol) and prints the ranking. With
--save the scores and raw metrics are written to the Redis leaderboard.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(input, save)
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "Path to JSON fundamentals file (required)")
	cmd.Flags().BoolVar(&save, "save", false, "Persist scores to the Redis leaderboard")
	cmd.MarkFlagRequired("input")
	return cmd
}

func runScore(input string, save bool) error {
	b, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	var universe []scores.Financials
	if err := json.Unmarshal(b, &universe); err != nil {
		return fmt.Errorf("parse %s: %w", input, err)
	}
	if len(universe) == 0 {
		return fmt.Errorf("%s: empty universe", input)
	}

	ranked := scores.ScoreUniverse(universe, scores.DefaultWeights())

	order := make([]int, len(ranked))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return ranked[order[a]].Composite > ranked[order[b]].Composite
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tCOMPOSITE\tVALUE\tQUALITY\tMOMENTUM\tLOWVOL\tDATA")
	for _, i := range order {
		fs := ranked[i]
		fmt.Fprintf(w, "%s\t%.2f\t%s\t%s\t%s\t%s\t%v\n",
			fs.Symbol, fs.Composite,
			fmtFactor(fs.Value), fmtFactor(fs.Quality),
			fmtFactor(fs.Momentum), fmtFactor(fs.LowVol),
			fs.Sufficient)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if !save {
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.State.RedisAddr == "" {
		return fmt.Errorf("--save needs redis, set state.redis_addr")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	batch := make([]scores.Company, len(universe))
	for i := range universe {
		batch[i] = scores.Company{Financials: universe[i], Score: ranked[i]}
	}
	n, err := newScoreStore(cfg).SaveBatch(ctx, batch)
	if err != nil {
		return err
	}
	fmt.Printf("saved %d scores\n", n)
	return nil
}

func fmtFactor(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *f)
}
