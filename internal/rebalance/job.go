package rebalance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/broker"
	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/domain"
	"github.com/sawpanic/equityrun/internal/journal"
	"github.com/sawpanic/equityrun/internal/metrics"
	"github.com/sawpanic/equityrun/internal/net/retry"
)

// ScoreSource yields the current composite-score leaderboard.
type ScoreSource interface {
	TopScores(ctx context.Context, limit int) ([]Ranked, error)
}

// Ranked mirrors one leaderboard entry.
type Ranked struct {
	Symbol string
	Score  float64
}

// Job drifts the portfolio toward the score-derived target weights. Sells
// run before buys so the freed cash funds the purchases.
type Job struct {
	cfg     config.RebalanceConfig
	broker  broker.Broker
	scores  ScoreSource
	journal *journal.Journal
	metrics *metrics.Registry
	retry   retry.Policy
}

func NewJob(cfg config.RebalanceConfig, b broker.Broker, scores ScoreSource, j *journal.Journal, m *metrics.Registry) *Job {
	if m == nil {
		m = metrics.NewRegistry()
	}
	return &Job{
		cfg:     cfg,
		broker:  b,
		scores:  scores,
		journal: j,
		metrics: m,
		retry:   retry.DefaultPolicy(),
	}
}

// Result summarizes one rebalance run.
type Result struct {
	RunID    string
	Targets  map[string]float64
	Planned  []domain.Trade
	Executed int
	Failed   int
}

// Run executes one full rebalance pass.
func (j *Job) Run(ctx context.Context) (Result, error) {
	runID := uuid.NewString()
	res := Result{RunID: runID}

	ranked, err := j.scores.TopScores(ctx, j.cfg.TopNStocks)
	if err != nil {
		j.metrics.RebalanceRuns.WithLabelValues("score_fetch_failed").Inc()
		return res, fmt.Errorf("rebalance %s: %w", runID, err)
	}
	scores := make([]Score, len(ranked))
	for i, r := range ranked {
		scores[i] = Score{Symbol: r.Symbol, Score: r.Score}
	}

	res.Targets = ComputeTargetWeights(scores, j.cfg.MinScore, j.cfg.TopNStocks, j.cfg.MaxPositionPct)

	holdings, err := j.broker.OpenPositions(ctx)
	if err != nil {
		j.metrics.RebalanceRuns.WithLabelValues("broker_failed").Inc()
		return res, fmt.Errorf("rebalance %s: holdings: %w", runID, err)
	}
	acct, err := j.broker.GetAccount(ctx)
	if err != nil {
		j.metrics.RebalanceRuns.WithLabelValues("broker_failed").Inc()
		return res, fmt.Errorf("rebalance %s: account: %w", runID, err)
	}

	holdingsValue := make(map[string]float64, len(holdings))
	for _, h := range holdings {
		holdingsValue[h.Symbol] = h.MarketValue
	}

	res.Planned = GenerateTrades(res.Targets, holdingsValue, acct.EquityUSD,
		j.cfg.RebalanceThresholdPct, j.cfg.MinTradeUSD)

	log.Info().
		Str("run_id", runID).
		Int("targets", len(res.Targets)).
		Int("trades", len(res.Planned)).
		Float64("equity_usd", acct.EquityUSD).
		Msg("rebalance planned")

	for _, trade := range res.Planned {
		if err := j.execute(ctx, runID, trade); err != nil {
			res.Failed++
			log.Error().Err(err).
				Str("run_id", runID).
				Str("symbol", trade.Symbol).
				Str("side", string(trade.Side)).
				Msg("rebalance trade failed")
			continue
		}
		res.Executed++
	}

	if res.Failed > 0 {
		j.metrics.RebalanceRuns.WithLabelValues("partial").Inc()
	} else {
		j.metrics.RebalanceRuns.WithLabelValues("ok").Inc()
	}

	log.Info().
		Str("run_id", runID).
		Int("executed", res.Executed).
		Int("failed", res.Failed).
		Msg("rebalance complete")
	return res, nil
}

func (j *Job) execute(ctx context.Context, runID string, trade domain.Trade) error {
	var fill broker.Fill
	err := j.retry.Do(ctx, "rebalance_order", func(ctx context.Context) error {
		var err error
		fill, err = j.broker.SubmitOrder(ctx, broker.OrderRequest{
			Symbol:      trade.Symbol,
			Side:        trade.Side,
			NotionalUSD: trade.NotionalUSD,
		})
		if err != nil {
			// A rejection will not succeed on retry.
			if errors.Is(err, broker.ErrOrderRejected) {
				return retry.Permanent(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	j.metrics.RecordTrade(string(trade.Side), "rebalance")
	if err := j.journal.RecordRebalanceTrade(ctx, runID, trade, fill.Price, fill.Quantity, time.Now().UTC()); err != nil {
		log.Error().Err(err).Str("symbol", trade.Symbol).Msg("journal write failed")
	}
	return nil
}
