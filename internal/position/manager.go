// Package position owns the position lifecycle: creation on fill, per-tick
// exit evaluation, and closure. Every mutation funnels through the state
// Store in the same tick it occurs.
package position

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/domain"
	"github.com/sawpanic/equityrun/internal/state"
)

// Exit is one position selected for closure this tick.
type Exit struct {
	Symbol string
	Reason domain.CloseReason
	Price  float64
}

// Manager drives OPEN -> CLOSED transitions. CLOSED is terminal; a new BUY
// always creates a fresh record.
type Manager struct {
	store state.Store
	risk  config.RiskConfig
	now   func() time.Time
}

// NewManager creates a position manager persisting through store.
func NewManager(store state.Store, risk config.RiskConfig) *Manager {
	return &Manager{store: store, risk: risk, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Open records a position from a fill and persists the snapshot. Stop-loss
// and take-profit are derived from the actual fill price, not the requested
// notional, so partial fills are recorded at the filled amount.
func (m *Manager) Open(ctx context.Context, snap *state.Snapshot, sig *domain.TradeSignal, orderID string, fillPrice, fillQty float64) (domain.Position, error) {
	if _, exists := snap.Positions[sig.Symbol]; exists {
		return domain.Position{}, fmt.Errorf("open %s: position already open", sig.Symbol)
	}

	now := m.now().UTC()
	pos := domain.Position{
		Symbol:       sig.Symbol,
		OrderID:      orderID,
		Quantity:     fillQty,
		EntryPrice:   fillPrice,
		NotionalUSD:  fillPrice * fillQty,
		EntryTime:    now,
		StopLoss:     fillPrice * (1 - m.risk.StopLossPct),
		TakeProfit:   fillPrice * (1 + m.risk.TakeProfitPct),
		MaxHoldUntil: domain.AddTradingDays(now, m.risk.MaxHoldTradingDays),
		Status:       domain.StatusOpen,
	}
	if err := pos.Validate(); err != nil {
		return domain.Position{}, fmt.Errorf("open %s: %w", sig.Symbol, err)
	}

	snap.Positions[sig.Symbol] = pos
	if err := m.store.Save(ctx, snap); err != nil {
		// Roll back the in-memory mutation: no OPEN position may exist
		// without a persisted record.
		delete(snap.Positions, sig.Symbol)
		return domain.Position{}, fmt.Errorf("open %s: %w", sig.Symbol, err)
	}

	log.Info().
		Str("symbol", pos.Symbol).
		Str("order_id", orderID).
		Float64("entry_price", pos.EntryPrice).
		Float64("quantity", pos.Quantity).
		Float64("stop_loss", pos.StopLoss).
		Float64("take_profit", pos.TakeProfit).
		Time("max_hold_until", pos.MaxHoldUntil).
		Float64("conviction", sig.Conviction).
		Msg("position opened")
	return pos, nil
}

// CheckExits evaluates every OPEN position against the latest prices and
// any pending SELL signals. When several trigger conditions hold at once,
// exactly one reason is selected by fixed priority:
// stop_loss > take_profit > max_hold > signal_exit.
// Positions without a quoted price are left untouched this tick; positions
// that do not exit get their unrealized P&L refreshed.
func (m *Manager) CheckExits(snap *state.Snapshot, prices map[string]float64, sellSignals map[string]bool) []Exit {
	now := m.now().UTC()
	var exits []Exit

	for symbol, pos := range snap.Positions {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		if reason, hit := exitReason(pos, price, now, sellSignals[symbol]); hit {
			exits = append(exits, Exit{Symbol: symbol, Reason: reason, Price: price})
		}
	}
	return exits
}

func exitReason(pos domain.Position, price float64, now time.Time, sellSignal bool) (domain.CloseReason, bool) {
	switch {
	case price <= pos.StopLoss:
		return domain.CloseStopLoss, true
	case price >= pos.TakeProfit:
		return domain.CloseTakeProfit, true
	case !now.Before(pos.MaxHoldUntil):
		return domain.CloseMaxHold, true
	case sellSignal:
		return domain.CloseSignalExit, true
	}
	return "", false
}

// Close removes the position from the active set, records realized P&L into
// the risk ledgers, appends the record to history, and persists — all in
// one step, so a closure is never recorded without its P&L update.
func (m *Manager) Close(ctx context.Context, snap *state.Snapshot, symbol string, exitPrice float64, reason domain.CloseReason) (domain.Position, error) {
	pos, ok := snap.Positions[symbol]
	if !ok {
		return domain.Position{}, fmt.Errorf("close %s: no open position", symbol)
	}

	now := m.now().UTC()
	pos.Status = domain.StatusClosed
	pos.CloseReason = reason
	pos.ExitPrice = exitPrice
	pos.ExitTime = &now
	pos.PnLUSD = (exitPrice - pos.EntryPrice) * pos.Quantity
	if pos.EntryPrice > 0 {
		pos.PnLPct = (exitPrice - pos.EntryPrice) / pos.EntryPrice
	}

	delete(snap.Positions, symbol)
	snap.Closed = append(snap.Closed, pos)
	snap.Risk.Record(pos.PnLUSD, now)

	if err := m.store.Save(ctx, snap); err != nil {
		return domain.Position{}, fmt.Errorf("close %s: %w", symbol, err)
	}

	log.Info().
		Str("symbol", symbol).
		Str("reason", string(reason)).
		Float64("entry_price", pos.EntryPrice).
		Float64("exit_price", exitPrice).
		Float64("pnl_usd", pos.PnLUSD).
		Float64("pnl_pct", pos.PnLPct).
		Msg("position closed")
	return pos, nil
}
