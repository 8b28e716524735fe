package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sawpanic/equityrun/internal/state"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile local position state against the broker",
		RunE:  runReconcile,
	}
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newStateStore(cfg)
	if err != nil {
		return err
	}
	snap, err := store.Load(ctx)
	if err != nil {
		return err
	}
	before := len(snap.Positions)

	brk := newBroker(cfg)
	holdings, err := brk.OpenPositions(ctx)
	if err != nil {
		return err
	}

	err = state.Reconcile(ctx, store, snap, holdings, state.ReconcileParams{
		StopLossPct:        cfg.Risk.StopLossPct,
		TakeProfitPct:      cfg.Risk.TakeProfitPct,
		MaxHoldTradingDays: cfg.Risk.MaxHoldTradingDays,
	})
	if err != nil {
		return err
	}

	fmt.Printf("reconciled: %d -> %d open positions (broker reports %d)\n",
		before, len(snap.Positions), len(holdings))
	return nil
}
