package main

import (
	"context"
	"fmt"

	redisv8 "github.com/go-redis/redis/v8"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/broker"
	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/journal"
	"github.com/sawpanic/equityrun/internal/rebalance"
	"github.com/sawpanic/equityrun/internal/scores"
	"github.com/sawpanic/equityrun/internal/state"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", flagConfig, err)
	}
	return cfg, nil
}

func newStateStore(cfg *config.Config) (state.Store, error) {
	switch cfg.State.Backend {
	case "redis":
		client := redisv8.NewClient(&redisv8.Options{
			Addr: cfg.State.RedisAddr,
			DB:   cfg.State.RedisDB,
		})
		return state.NewRedisStore(client, cfg.State.Namespace, cfg.Strategy.CapitalUSD), nil
	case "", "file":
		return state.NewFileStore(cfg.State.FilePath, cfg.Strategy.CapitalUSD), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}
}

func newBroker(cfg *config.Config) broker.Broker {
	if cfg.Broker.Paper && cfg.Broker.BaseURL == "" {
		log.Warn().Msg("no broker endpoint configured, using in-memory paper broker")
		return broker.NewPaper(cfg.Strategy.CapitalUSD)
	}
	return broker.NewClient(cfg.Broker)
}

func newScoreStore(cfg *config.Config) *scores.Store {
	client := redisv9.NewClient(&redisv9.Options{
		Addr: cfg.State.RedisAddr,
		DB:   cfg.State.RedisDB,
	})
	return scores.NewStore(client, "fundamentals")
}

func openJournal(ctx context.Context, cfg *config.Config) (*journal.Journal, error) {
	if !cfg.Journal.Enabled {
		return nil, nil
	}
	return journal.Open(ctx, cfg.Journal.DSN)
}

// leaderboard adapts the scores store to the rebalance job's interface.
type leaderboard struct {
	store *scores.Store
}

func (l leaderboard) TopScores(ctx context.Context, limit int) ([]rebalance.Ranked, error) {
	rs, err := l.store.TopScores(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]rebalance.Ranked, len(rs))
	for i, r := range rs {
		out[i] = rebalance.Ranked{Symbol: r.Symbol, Score: r.Score}
	}
	return out, nil
}
