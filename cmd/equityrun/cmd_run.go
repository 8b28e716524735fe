package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/equityrun/internal/engine"
	"github.com/sawpanic/equityrun/internal/feed"
	"github.com/sawpanic/equityrun/internal/metrics"
	"github.com/sawpanic/equityrun/internal/monitor"
	"github.com/sawpanic/equityrun/internal/rebalance"
	"github.com/sawpanic/equityrun/internal/scheduler"
	"github.com/sawpanic/equityrun/internal/scores"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the trading engine, scheduled jobs, and monitor server",
		RunE:  runRun,
	}
}

func runRun(cmd *cobra.Command, args []string) error {
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
	brk := newBroker(cfg)

	jnl, err := openJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer jnl.Close()

	reg := metrics.NewRegistry()
	runLock := &sync.Mutex{}

	var scoreStore *scores.Store
	if cfg.State.RedisAddr != "" {
		scoreStore = newScoreStore(cfg)
	}

	var prices engine.PriceSource
	if cfg.Feed.StreamURL != "" {
		symbols := streamSymbols(ctx, scoreStore)
		if len(symbols) > 0 {
			stream := feed.NewPriceStream(cfg.Feed.StreamURL, symbols)
			go stream.Run(ctx)
			prices = stream
		} else {
			log.Warn().Msg("no universe for price stream, falling back to broker quotes")
		}
	}

	eng := engine.New(*cfg, engine.Deps{
		Store:   store,
		Broker:  brk,
		Source:  feed.NewSentimentPoller(cfg.Feed),
		Prices:  prices,
		Journal: jnl,
		Metrics: reg,
		RunLock: runLock,
	})

	sched := scheduler.New(ctx, runLock)
	if cfg.Rebalance.Schedule != "" && scoreStore != nil {
		job := rebalance.NewJob(cfg.Rebalance, brk, leaderboard{scoreStore}, jnl, reg)
		if _, err := sched.Add(cfg.Rebalance.Schedule, "rebalance", func(ctx context.Context) error {
			_, err := job.Run(ctx)
			return err
		}); err != nil {
			return err
		}
	}
	if cfg.Jobs.ScoreRefreshSchedule != "" && scoreStore != nil {
		if _, err := sched.Add(cfg.Jobs.ScoreRefreshSchedule, "score_refresh", func(ctx context.Context) error {
			return refreshScores(ctx, scoreStore)
		}); err != nil {
			return err
		}
	}
	sched.Start()
	defer sched.Stop()

	if cfg.Monitor.Addr != "" {
		mon := monitor.New(cfg.Monitor.Addr, reg, eng.Snapshot, jnl)
		mon.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			mon.Shutdown(shutdownCtx)
		}()
	}

	return eng.Run(ctx)
}

func streamSymbols(ctx context.Context, store *scores.Store) []string {
	if store == nil {
		return nil
	}
	symbols, err := store.UniverseSymbols(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("universe lookup failed")
		return nil
	}
	return symbols
}

// refreshScores recomputes the leaderboard from the cached raw metrics.
func refreshScores(ctx context.Context, store *scores.Store) error {
	financials, err := store.AllFinancials(ctx)
	if err != nil {
		return err
	}
	if len(financials) == 0 {
		log.Warn().Msg("no cached financials, skipping score refresh")
		return nil
	}

	ranked := scores.ScoreUniverse(financials, scores.DefaultWeights())
	batch := make([]scores.Company, len(financials))
	for i := range financials {
		batch[i] = scores.Company{Financials: financials[i], Score: ranked[i]}
	}
	_, err = store.SaveBatch(ctx, batch)
	return err
}
