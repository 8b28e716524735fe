package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the engine's Prometheus metrics on a private registry so
// multiple instances can coexist in tests.
type Registry struct {
	reg *prometheus.Registry

	Decisions     *prometheus.CounterVec
	Trades        *prometheus.CounterVec
	Exits         *prometheus.CounterVec
	TickDuration  prometheus.Histogram
	OpenPositions prometheus.Gauge
	RealizedPnL   prometheus.Gauge
	UnrealizedPnL prometheus.Gauge
	HaltActive    *prometheus.GaugeVec
	FeedItems     *prometheus.CounterVec
	RebalanceRuns *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "equityrun_decisions_total",
				Help: "Signal and risk decisions by outcome reason",
			},
			[]string{"stage", "reason"},
		),
		Trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "equityrun_trades_total",
				Help: "Executed orders by side and origin",
			},
			[]string{"side", "origin"},
		),
		Exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "equityrun_position_exits_total",
				Help: "Closed positions by close reason",
			},
			[]string{"reason"},
		),
		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "equityrun_tick_duration_seconds",
				Help:    "Duration of one engine tick",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		OpenPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "equityrun_open_positions",
				Help: "Number of currently open positions",
			},
		),
		RealizedPnL: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "equityrun_realized_pnl_usd",
				Help: "Realized P&L for the current UTC day",
			},
		),
		UnrealizedPnL: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "equityrun_unrealized_pnl_usd",
				Help: "Mark-to-market P&L across open positions",
			},
		),
		HaltActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "equityrun_risk_halt_active",
				Help: "1 when the loss-limit halt is active for the window",
			},
			[]string{"window"},
		),
		FeedItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "equityrun_feed_items_total",
				Help: "Scored inputs received by disposition",
			},
			[]string{"disposition"},
		),
		RebalanceRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "equityrun_rebalance_runs_total",
				Help: "Rebalance job runs by result",
			},
			[]string{"result"},
		),
	}

	r.reg.MustRegister(
		r.Decisions,
		r.Trades,
		r.Exits,
		r.TickDuration,
		r.OpenPositions,
		r.RealizedPnL,
		r.UnrealizedPnL,
		r.HaltActive,
		r.FeedItems,
		r.RebalanceRuns,
	)
	return r
}

// RecordDecision counts one signal or risk outcome.
func (r *Registry) RecordDecision(stage, reason string) {
	r.Decisions.WithLabelValues(stage, reason).Inc()
}

// RecordTrade counts one executed order.
func (r *Registry) RecordTrade(side, origin string) {
	r.Trades.WithLabelValues(side, origin).Inc()
}

// RecordExit counts one position close.
func (r *Registry) RecordExit(reason string) {
	r.Exits.WithLabelValues(reason).Inc()
}

// SetHalt flips the halt gauge for a window ("daily" or "monthly").
func (r *Registry) SetHalt(window string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	r.HaltActive.WithLabelValues(window).Set(v)
}

// Handler serves this registry at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gather exposes the underlying registry for tests and the monitor server.
func (r *Registry) Gather() prometheus.Gatherer {
	return r.reg
}
