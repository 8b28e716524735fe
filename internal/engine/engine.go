// Package engine runs the main decision loop. One goroutine owns the state
// snapshot; scheduled jobs that also touch the broker share the run lock so
// the single-writer discipline holds across the process.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/broker"
	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/domain"
	"github.com/sawpanic/equityrun/internal/journal"
	"github.com/sawpanic/equityrun/internal/metrics"
	"github.com/sawpanic/equityrun/internal/position"
	"github.com/sawpanic/equityrun/internal/risk"
	"github.com/sawpanic/equityrun/internal/signal"
	"github.com/sawpanic/equityrun/internal/state"
)

// Broker positions are reconciled against local state every Nth tick.
const reconcileEveryTicks = 20

// maxSeenInputIDs bounds the persisted dedupe set; oldest entries are
// dropped first.
const maxSeenInputIDs = 10000

// PriceSource provides last-trade prices, normally the websocket stream.
type PriceSource interface {
	Snapshot() map[string]float64
}

// Deps wires the engine's collaborators. Journal and Prices may be nil.
type Deps struct {
	Store   state.Store
	Broker  broker.Broker
	Source  feedSource
	Prices  PriceSource
	Journal *journal.Journal
	Metrics *metrics.Registry
	RunLock *sync.Mutex
}

type feedSource interface {
	Fetch(ctx context.Context) ([]domain.ScoredInput, error)
}

type Engine struct {
	cfg       config.Config
	store     state.Store
	broker    broker.Broker
	source    feedSource
	prices    PriceSource
	journal   *journal.Journal
	metrics   *metrics.Registry
	runLock   *sync.Mutex
	signals   *signal.Generator
	risk      *risk.Manager
	positions *position.Manager
	now       func() time.Time

	snap      *state.Snapshot
	tickCount int
}

func New(cfg config.Config, d Deps) *Engine {
	if d.Metrics == nil {
		d.Metrics = metrics.NewRegistry()
	}
	if d.RunLock == nil {
		d.RunLock = &sync.Mutex{}
	}
	return &Engine{
		cfg:       cfg,
		store:     d.Store,
		broker:    d.Broker,
		source:    d.Source,
		prices:    d.Prices,
		journal:   d.Journal,
		metrics:   d.Metrics,
		runLock:   d.RunLock,
		signals:   signal.NewGenerator(cfg.Strategy),
		risk:      risk.NewManager(cfg.Strategy, cfg.Risk),
		positions: position.NewManager(d.Store, cfg.Risk),
		now:       time.Now,
	}
}

// WithClock overrides the clock, for tests. Propagates to the signal,
// risk, and position components so the whole tick shares one notion of now.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.signals.WithClock(now)
	e.risk.WithClock(now)
	e.positions.WithClock(now)
	return e
}

// Metrics returns the engine's metrics registry.
func (e *Engine) Metrics() *metrics.Registry {
	return e.metrics
}

// Run restores state, reconciles against the broker, then ticks until the
// context is cancelled. Cancellation is honored only at tick boundaries so
// a tick's writes always complete.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.restore(ctx); err != nil {
		return err
	}

	if acct, err := e.broker.GetAccount(ctx); err != nil {
		log.Error().Err(err).Msg("account check failed")
	} else {
		log.Info().
			Float64("equity_usd", acct.EquityUSD).
			Float64("cash_usd", acct.CashUSD).
			Msg("broker account")
	}

	log.Info().
		Str("strategy", e.cfg.Strategy.Name).
		Float64("capital_usd", e.cfg.Strategy.CapitalUSD).
		Int("open_positions", len(e.snap.Positions)).
		Msg("engine started")

	for {
		e.Tick(ctx)

		select {
		case <-ctx.Done():
			log.Info().Int("ticks", e.tickCount).Msg("engine stopped")
			return nil
		case <-time.After(e.cfg.Feed.PollInterval):
		}
	}
}

func (e *Engine) restore(ctx context.Context) error {
	snap, err := e.store.Load(ctx)
	if err != nil {
		if errors.Is(err, state.ErrCorruptState) {
			log.Error().Err(err).Msg("state snapshot corrupt, refusing to start")
		}
		return err
	}
	e.snap = snap

	holdings, err := e.broker.OpenPositions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("broker unreachable at startup")
		return fmt.Errorf("startup reconciliation: %w", err)
	}
	return state.Reconcile(ctx, e.store, e.snap, holdings, state.ReconcileParams{
		StopLossPct:        e.cfg.Risk.StopLossPct,
		TakeProfitPct:      e.cfg.Risk.TakeProfitPct,
		MaxHoldTradingDays: e.cfg.Risk.MaxHoldTradingDays,
	})
}

// Tick runs one full iteration: fetch inputs, process exits, then entries,
// then persist. Exits always run, even when a loss-limit halt is active.
func (e *Engine) Tick(ctx context.Context) {
	e.runLock.Lock()
	defer e.runLock.Unlock()

	start := e.now()
	e.tickCount++

	inputs := e.fetchInputs(ctx)
	prices := e.collectPrices(ctx)

	e.risk.Refresh(e.snap, prices)
	e.publishRiskMetrics()

	// Bearish signals on held symbols feed the exit check; bullish inputs
	// wait until exits have freed capacity.
	sellSignals := make(map[string]bool)
	var entries []domain.ScoredInput
	for _, in := range inputs {
		if in.Direction == domain.DirectionBearish {
			if sig := e.signals.Decide(in, e.openSymbols(), len(e.snap.Positions)); sig != nil {
				sellSignals[sig.Symbol] = true
			}
			continue
		}
		entries = append(entries, in)
	}

	e.processExits(ctx, prices, sellSignals)

	// Exits may have realized enough loss to trip a halt.
	e.risk.Refresh(e.snap, prices)
	if e.snap.Risk.DailyHalted || e.snap.Risk.MonthlyHalted {
		log.Warn().
			Bool("daily", e.snap.Risk.DailyHalted).
			Bool("monthly", e.snap.Risk.MonthlyHalted).
			Msg("trading halted, entries skipped")
	} else {
		e.processEntries(ctx, entries, prices)
	}

	if e.tickCount%reconcileEveryTicks == 0 {
		e.reconcile(ctx)
	}

	if err := e.store.Save(ctx, e.snap); err != nil {
		log.Error().Err(err).Msg("state save failed")
	}

	e.metrics.OpenPositions.Set(float64(len(e.snap.Positions)))
	e.metrics.TickDuration.Observe(e.now().Sub(start).Seconds())
}

func (e *Engine) fetchInputs(ctx context.Context) []domain.ScoredInput {
	if e.source == nil {
		return nil
	}
	items, err := e.source.Fetch(ctx)
	if err != nil {
		log.Error().Err(err).Msg("input fetch failed")
		return nil
	}

	// Durable dedupe across restarts via the snapshot.
	seen := make(map[string]bool, len(e.snap.SeenInputIDs))
	for _, id := range e.snap.SeenInputIDs {
		seen[id] = true
	}
	fresh := items[:0]
	for _, in := range items {
		if seen[in.ID] {
			e.metrics.FeedItems.WithLabelValues("duplicate").Inc()
			continue
		}
		e.snap.SeenInputIDs = append(e.snap.SeenInputIDs, in.ID)
		e.metrics.FeedItems.WithLabelValues("fresh").Inc()
		fresh = append(fresh, in)
	}
	if n := len(e.snap.SeenInputIDs); n > maxSeenInputIDs {
		e.snap.SeenInputIDs = append([]string(nil), e.snap.SeenInputIDs[n-maxSeenInputIDs:]...)
	}
	if len(fresh) > 0 {
		log.Info().Int("count", len(fresh)).Msg("processing inputs")
	}
	return fresh
}

// collectPrices merges the stream cache with broker quotes for any open
// position the stream has not covered yet.
func (e *Engine) collectPrices(ctx context.Context) map[string]float64 {
	prices := make(map[string]float64)
	if e.prices != nil {
		prices = e.prices.Snapshot()
	}
	for symbol := range e.snap.Positions {
		if _, ok := prices[symbol]; ok {
			continue
		}
		p, err := e.broker.LatestPrice(ctx, symbol)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("no price this tick")
			continue
		}
		prices[symbol] = p
	}
	return prices
}

func (e *Engine) processExits(ctx context.Context, prices map[string]float64, sellSignals map[string]bool) {
	exits := e.positions.CheckExits(e.snap, prices, sellSignals)
	for _, exit := range exits {
		pos, ok := e.snap.Positions[exit.Symbol]
		if !ok {
			continue
		}
		fill, err := e.broker.SubmitOrder(ctx, broker.OrderRequest{
			Symbol:   exit.Symbol,
			Side:     domain.SideSell,
			Quantity: pos.Quantity,
		})
		if err != nil {
			log.Error().Err(err).Str("symbol", exit.Symbol).Msg("exit order failed, will retry next tick")
			continue
		}

		closed, err := e.positions.Close(ctx, e.snap, exit.Symbol, fill.Price, exit.Reason)
		if err != nil {
			log.Error().Err(err).Str("symbol", exit.Symbol).Msg("close failed")
			continue
		}
		e.metrics.RecordTrade(string(domain.SideSell), "exit")
		e.metrics.RecordExit(string(exit.Reason))
		if err := e.journal.RecordClose(ctx, closed); err != nil {
			log.Error().Err(err).Str("symbol", exit.Symbol).Msg("journal write failed")
		}
	}
}

func (e *Engine) processEntries(ctx context.Context, inputs []domain.ScoredInput, prices map[string]float64) {
	for _, in := range inputs {
		sig := e.signals.Decide(in, e.openSymbols(), len(e.snap.Positions))
		if sig == nil || sig.Action != domain.SideBuy {
			continue
		}

		decision := e.risk.Evaluate(e.snap, sig.NotionalUSD, sig.Action, prices)
		e.metrics.RecordDecision("risk", decision.Reason)
		if !decision.Allowed {
			log.Info().
				Str("symbol", sig.Symbol).
				Str("reason", decision.Reason).
				Msg("signal rejected")
			continue
		}

		fill, err := e.broker.SubmitOrder(ctx, broker.OrderRequest{
			Symbol:      sig.Symbol,
			Side:        domain.SideBuy,
			NotionalUSD: sig.NotionalUSD,
		})
		if err != nil {
			log.Error().Err(err).Str("symbol", sig.Symbol).Msg("entry order failed")
			continue
		}

		if _, err := e.positions.Open(ctx, e.snap, sig, fill.OrderID, fill.Price, fill.Quantity); err != nil {
			log.Error().Err(err).Str("symbol", sig.Symbol).Msg("open failed")
			continue
		}
		e.metrics.RecordTrade(string(domain.SideBuy), "signal")
	}
}

func (e *Engine) reconcile(ctx context.Context) {
	holdings, err := e.broker.OpenPositions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("reconciliation skipped, broker unavailable")
		return
	}
	err = state.Reconcile(ctx, e.store, e.snap, holdings, state.ReconcileParams{
		StopLossPct:        e.cfg.Risk.StopLossPct,
		TakeProfitPct:      e.cfg.Risk.TakeProfitPct,
		MaxHoldTradingDays: e.cfg.Risk.MaxHoldTradingDays,
	})
	if err != nil {
		log.Error().Err(err).Msg("reconciliation failed")
	}
}

func (e *Engine) openSymbols() map[string]bool {
	out := make(map[string]bool, len(e.snap.Positions))
	for symbol := range e.snap.Positions {
		out[symbol] = true
	}
	return out
}

func (e *Engine) publishRiskMetrics() {
	rs := e.snap.Risk
	e.metrics.SetHalt("daily", rs.DailyHalted)
	e.metrics.SetHalt("monthly", rs.MonthlyHalted)
	e.metrics.UnrealizedPnL.Set(rs.UnrealizedPnLUSD)
	e.metrics.RealizedPnL.Set(rs.RealizedDaily(e.now()))
}

// Snapshot exposes the current state for the monitor endpoints. Callers
// must not mutate it.
func (e *Engine) Snapshot() *state.Snapshot {
	e.runLock.Lock()
	defer e.runLock.Unlock()
	return e.snap
}
