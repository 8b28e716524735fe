package state

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/domain"
)

// ReconcileParams carries the exit-level offsets applied to synthetic
// entries adopted from the broker.
type ReconcileParams struct {
	StopLossPct        float64
	TakeProfitPct      float64
	MaxHoldTradingDays int
}

// Reconcile aligns the snapshot with the broker's authoritative holdings.
// Mismatches are never fatal:
//   - a symbol the broker holds but we do not track is adopted with a
//     synthetic entry at the broker's average cost, flagged Reconciled;
//   - a symbol we track but the broker no longer holds is force-closed with
//     reason external_closure.
//
// Every reconciliation ends with a save, changed or not, so the snapshot's
// LastSaved always reflects the latest broker sync.
func Reconcile(ctx context.Context, store Store, snap *Snapshot, brokerTruth []domain.Holding, params ReconcileParams) error {
	now := time.Now().UTC()
	changed := false

	bySymbol := make(map[string]domain.Holding, len(brokerTruth))
	for _, h := range brokerTruth {
		bySymbol[h.Symbol] = h
	}

	// Broker has it, we don't: adopt.
	for symbol, h := range bySymbol {
		if _, ok := snap.Positions[symbol]; ok {
			continue
		}
		pos := domain.Position{
			Symbol:       symbol,
			OrderID:      "reconciled",
			Quantity:     h.Quantity,
			EntryPrice:   h.AvgCost,
			NotionalUSD:  h.AvgCost * h.Quantity,
			EntryTime:    now,
			StopLoss:     h.AvgCost * (1 - params.StopLossPct),
			TakeProfit:   h.AvgCost * (1 + params.TakeProfitPct),
			MaxHoldUntil: domain.AddTradingDays(now, params.MaxHoldTradingDays),
			Status:       domain.StatusOpen,
			Reconciled:   true,
		}
		snap.Positions[symbol] = pos
		changed = true
		log.Warn().
			Str("symbol", symbol).
			Float64("quantity", h.Quantity).
			Float64("avg_cost", h.AvgCost).
			Msg("reconcile: adopted broker position not tracked locally")
	}

	// We have it, broker doesn't: force-close.
	for symbol, pos := range snap.Positions {
		if _, ok := bySymbol[symbol]; ok {
			continue
		}
		exit := now
		pos.Status = domain.StatusClosed
		pos.CloseReason = domain.CloseExternalClosure
		pos.ExitTime = &exit
		// Exit price unknown when the closure happened outside the engine;
		// carry the entry price and leave P&L at zero.
		pos.ExitPrice = pos.EntryPrice
		snap.Closed = append(snap.Closed, pos)
		delete(snap.Positions, symbol)
		changed = true
		log.Warn().
			Str("symbol", symbol).
			Float64("quantity", pos.Quantity).
			Float64("entry_price", pos.EntryPrice).
			Str("reason", string(domain.CloseExternalClosure)).
			Msg("reconcile: local position absent from broker, force-closed")
	}

	if !changed {
		log.Info().Int("open_positions", len(snap.Positions)).Msg("reconcile: state matches broker")
	}
	return store.Save(ctx, snap)
}
