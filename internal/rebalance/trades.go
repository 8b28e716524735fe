package rebalance

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/domain"
)

// GenerateTrades produces the trade list that moves the portfolio from its
// current weights to the targets. Trades below the relative-deviation
// threshold or the minimum notional are skipped — except a full divestiture
// (target zero, holding nonzero), which the relative guard never skips.
// Every SELL precedes every BUY so cash is freed before it is committed;
// within each side the order is deterministic by symbol.
func GenerateTrades(targets map[string]float64, holdingsValue map[string]float64, totalValue float64, threshold, minTradeUSD float64) []domain.Trade {
	if totalValue <= 0 {
		return nil
	}

	symbols := make(map[string]bool, len(targets)+len(holdingsValue))
	for s := range targets {
		symbols[s] = true
	}
	for s := range holdingsValue {
		symbols[s] = true
	}

	var sells, buys []domain.Trade
	skipped := 0

	for symbol := range symbols {
		target := targets[symbol]
		current := holdingsValue[symbol] / totalValue
		delta := target - current
		notional := math.Abs(delta) * totalValue

		// Relative-deviation guard. Exits are exempt: dropping out of the
		// target universe always trades, regardless of threshold.
		if target > 0 && math.Abs(delta) < threshold*target {
			skipped++
			log.Debug().
				Str("symbol", symbol).
				Str("reason", "below_threshold").
				Float64("target_weight", target).
				Float64("current_weight", current).
				Msg("rebalance trade skipped")
			continue
		}
		if notional < minTradeUSD {
			skipped++
			log.Debug().
				Str("symbol", symbol).
				Str("reason", "below_min_trade").
				Float64("notional_usd", notional).
				Msg("rebalance trade skipped")
			continue
		}

		trade := domain.Trade{
			Symbol:        symbol,
			NotionalUSD:   notional,
			CurrentWeight: current,
			TargetWeight:  target,
		}
		switch {
		case delta < 0:
			trade.Side = domain.SideSell
			if target == 0 {
				trade.Reason = "exit: dropped from target universe"
			} else {
				trade.Reason = fmt.Sprintf("decrease from %.1f%% to %.1f%%", current*100, target*100)
			}
			sells = append(sells, trade)
		case delta > 0:
			trade.Side = domain.SideBuy
			if current == 0 {
				trade.Reason = fmt.Sprintf("new position at %.1f%%", target*100)
			} else {
				trade.Reason = fmt.Sprintf("increase from %.1f%% to %.1f%%", current*100, target*100)
			}
			buys = append(buys, trade)
		default:
			skipped++
			continue
		}
	}

	sort.Slice(sells, func(i, j int) bool { return sells[i].Symbol < sells[j].Symbol })
	sort.Slice(buys, func(i, j int) bool { return buys[i].Symbol < buys[j].Symbol })

	turnover := 0.0
	trades := append(sells, buys...)
	for _, t := range trades {
		turnover += t.NotionalUSD
	}
	log.Info().
		Int("sells", len(sells)).
		Int("buys", len(buys)).
		Int("skipped", skipped).
		Float64("turnover_usd", turnover).
		Msg("rebalance trade list generated")
	return trades
}
