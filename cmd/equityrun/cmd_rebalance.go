package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sawpanic/equityrun/internal/broker"
	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/rebalance"
	"github.com/sawpanic/equityrun/internal/scores"
)

func newRebalanceCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "rebalance",
		Short: "Run one rebalance pass against the current leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRebalance(dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Plan trades without executing them")
	return cmd
}

func runRebalance(dryRun bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.State.RedisAddr == "" {
		return fmt.Errorf("rebalance needs a redis leaderboard, set state.redis_addr")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scoreStore := newScoreStore(cfg)
	brk := newBroker(cfg)

	jnl, err := openJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer jnl.Close()

	if dryRun {
		return planOnly(ctx, cfg, scoreStore, brk)
	}

	job := rebalance.NewJob(cfg.Rebalance, brk, leaderboard{scoreStore}, jnl, nil)
	res, err := job.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("run %s: %d executed, %d failed\n", res.RunID, res.Executed, res.Failed)
	return nil
}

func planOnly(ctx context.Context, cfg *config.Config, scoreStore *scores.Store, brk broker.Broker) error {
	ranked, err := leaderboard{scoreStore}.TopScores(ctx, cfg.Rebalance.TopNStocks)
	if err != nil {
		return err
	}
	ss := make([]rebalance.Score, len(ranked))
	for i, r := range ranked {
		ss[i] = rebalance.Score{Symbol: r.Symbol, Score: r.Score}
	}
	targets := rebalance.ComputeTargetWeights(ss, cfg.Rebalance.MinScore, cfg.Rebalance.TopNStocks, cfg.Rebalance.MaxPositionPct)

	holdings, err := brk.OpenPositions(ctx)
	if err != nil {
		return err
	}
	acct, err := brk.GetAccount(ctx)
	if err != nil {
		return err
	}
	values := make(map[string]float64, len(holdings))
	for _, h := range holdings {
		values[h.Symbol] = h.MarketValue
	}
	trades := rebalance.GenerateTrades(targets, values, acct.EquityUSD,
		cfg.Rebalance.RebalanceThresholdPct, cfg.Rebalance.MinTradeUSD)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tSIDE\tNOTIONAL\tCURRENT\tTARGET\tREASON")
	for _, tr := range trades {
		fmt.Fprintf(w, "%s\t%s\t$%.2f\t%.4f\t%.4f\t%s\n",
			tr.Symbol, tr.Side, tr.NotionalUSD, tr.CurrentWeight, tr.TargetWeight, tr.Reason)
	}
	return w.Flush()
}
