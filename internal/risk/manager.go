// Package risk gates new exposure against daily and monthly loss limits.
// Limits throttle entries only; exits are never denied.
package risk

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/domain"
	"github.com/sawpanic/equityrun/internal/state"
)

// Deny reason codes. A denial is a normal decision outcome, not an error.
const (
	ReasonSellAlwaysApproved  = "sell_always_approved"
	ReasonApproved            = "approved"
	ReasonDailyLimitBreached  = "daily_loss_limit_breached"
	ReasonMonthlyLimitBreach  = "monthly_loss_limit_breached"
	ReasonInsufficientCapital = "insufficient_buying_power"
	ReasonSizeBelowMinimum    = "position_size_below_minimum"
	ReasonSizeAboveMaximum    = "position_size_above_maximum"
)

// Decision is the outcome of a risk evaluation.
type Decision struct {
	Allowed bool
	Reason  string
}

// Manager enforces the loss limits. It keeps no ledger of its own: realized
// P&L lives in the persisted RiskState and unrealized P&L is recomputed
// from the full position set on every evaluation.
type Manager struct {
	strategy config.StrategyConfig
	risk     config.RiskConfig
	now      func() time.Time
}

// NewManager creates a risk manager for the configured limits.
func NewManager(strategy config.StrategyConfig, risk config.RiskConfig) *Manager {
	return &Manager{strategy: strategy, risk: risk, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Evaluate approves or denies a proposed order. SELLs pass unconditionally:
// risk limits must never prevent loss-cutting.
func (m *Manager) Evaluate(snap *state.Snapshot, proposedNotional float64, side domain.Side, prices map[string]float64) Decision {
	if side == domain.SideSell {
		return Decision{Allowed: true, Reason: ReasonSellAlwaysApproved}
	}

	if proposedNotional < m.strategy.PositionSizeMinUSD {
		return m.deny(ReasonSizeBelowMinimum, proposedNotional)
	}
	if proposedNotional > m.strategy.PositionSizeMaxUSD {
		return m.deny(ReasonSizeAboveMaximum, proposedNotional)
	}
	if proposedNotional > snap.Risk.CapitalUSD*0.95 {
		return m.deny(ReasonInsufficientCapital, proposedNotional)
	}

	m.Refresh(snap, prices)
	if snap.Risk.MonthlyHalted {
		return m.deny(ReasonMonthlyLimitBreach, proposedNotional)
	}
	if snap.Risk.DailyHalted {
		return m.deny(ReasonDailyLimitBreached, proposedNotional)
	}
	return Decision{Allowed: true, Reason: ReasonApproved}
}

// Refresh recomputes unrealized P&L and the halted flags from the current
// position set. Called once per evaluation so the flags are never stale
// beyond one tick. The daily flag clears at the next UTC day rollover, the
// monthly flag at the next month rollover, because the ledgers are keyed by
// wall-clock day and month.
func (m *Manager) Refresh(snap *state.Snapshot, prices map[string]float64) {
	now := m.now().UTC()
	rs := snap.Risk

	unrealized := 0.0
	for _, pos := range snap.Positions {
		price, ok := prices[pos.Symbol]
		if !ok {
			continue
		}
		unrealized += pos.UnrealizedPnL(price)
	}
	rs.UnrealizedPnLUSD = unrealized

	dailyPnL := rs.RealizedDaily(now) + unrealized
	monthlyPnL := rs.RealizedMonthly(now) + unrealized
	dailyLimit := -rs.CapitalUSD * m.risk.DailyLossLimitPct
	monthlyLimit := -rs.CapitalUSD * m.risk.MonthlyLossLimitPct

	wasDaily, wasMonthly := rs.DailyHalted, rs.MonthlyHalted
	rs.DailyHalted = dailyPnL <= dailyLimit
	rs.MonthlyHalted = monthlyPnL <= monthlyLimit
	rs.DailyResetAt = now.Truncate(24 * time.Hour).AddDate(0, 0, 1)
	rs.MonthlyResetAt = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)

	if rs.DailyHalted && !wasDaily {
		log.Warn().
			Float64("daily_pnl_usd", dailyPnL).
			Float64("limit_usd", dailyLimit).
			Time("resets_at", rs.DailyResetAt).
			Msg("daily loss limit breached, new entries halted")
	}
	if rs.MonthlyHalted && !wasMonthly {
		log.Warn().
			Float64("monthly_pnl_usd", monthlyPnL).
			Float64("limit_usd", monthlyLimit).
			Time("resets_at", rs.MonthlyResetAt).
			Msg("monthly loss limit breached, new entries halted")
	}
}

func (m *Manager) deny(reason string, notional float64) Decision {
	log.Info().
		Str("reason", reason).
		Float64("proposed_notional_usd", notional).
		Msg("risk denial")
	return Decision{Allowed: false, Reason: reason}
}
