// Package signal converts scored inputs into entry and exit proposals.
// The system is long-only: the only path that creates exposure is a bullish
// entry; a bearish input can only close an existing position.
package signal

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/domain"
)

// Skip reason codes for the decision log.
const (
	skipLowConviction  = "low_conviction"
	skipNeutral        = "neutral_direction"
	skipAlreadyHeld    = "already_held"
	skipAtCapacity     = "max_positions_reached"
	skipBearishNotHeld = "bearish_not_held"
)

// Generator applies the entry/exit rules to one scored input at a time.
type Generator struct {
	strategy config.StrategyConfig
	now      func() time.Time
}

// NewGenerator creates a signal generator with the configured thresholds.
func NewGenerator(strategy config.StrategyConfig) *Generator {
	return &Generator{strategy: strategy, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Decide evaluates a scored input against the open positions and capacity.
// Rules in order: conviction gate, bullish entry (no existing position,
// capacity free), bearish full exit (position exists). Returns nil when no
// action is warranted; every skip is logged with its reason.
func (g *Generator) Decide(in domain.ScoredInput, openSymbols map[string]bool, capacityUsed int) *domain.TradeSignal {
	if in.Score < g.strategy.MinConviction {
		g.skip(in, skipLowConviction)
		return nil
	}

	switch in.Direction {
	case domain.DirectionBullish:
		if openSymbols[in.Symbol] {
			g.skip(in, skipAlreadyHeld)
			return nil
		}
		if capacityUsed >= g.strategy.MaxOpenPositions {
			g.skip(in, skipAtCapacity)
			return nil
		}
		sig := &domain.TradeSignal{
			SignalID:    uuid.NewString(),
			InputID:     in.ID,
			Symbol:      in.Symbol,
			Action:      domain.SideBuy,
			Conviction:  in.Score,
			NotionalUSD: g.positionSize(in.Score),
			GeneratedAt: g.now().UTC(),
		}
		log.Info().
			Str("symbol", sig.Symbol).
			Str("action", string(sig.Action)).
			Float64("conviction", sig.Conviction).
			Float64("notional_usd", sig.NotionalUSD).
			Msg("signal generated")
		return sig

	case domain.DirectionBearish:
		if !openSymbols[in.Symbol] {
			g.skip(in, skipBearishNotHeld)
			return nil
		}
		sig := &domain.TradeSignal{
			SignalID:    uuid.NewString(),
			InputID:     in.ID,
			Symbol:      in.Symbol,
			Action:      domain.SideSell,
			Conviction:  in.Score,
			NotionalUSD: 0, // full existing quantity
			GeneratedAt: g.now().UTC(),
		}
		log.Info().
			Str("symbol", sig.Symbol).
			Str("action", string(sig.Action)).
			Float64("conviction", sig.Conviction).
			Msg("signal generated")
		return sig

	default:
		g.skip(in, skipNeutral)
		return nil
	}
}

// positionSize interpolates between the configured min and max linearly in
// conviction, blended by the conviction_scaling knob: 0 pins every entry to
// the minimum size, 1 applies full interpolation.
func (g *Generator) positionSize(conviction float64) float64 {
	s := g.strategy
	span := 100 - s.MinConviction
	if span <= 0 {
		return s.PositionSizeMaxUSD
	}
	normalized := (conviction - s.MinConviction) / span
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}
	scaled := s.PositionSizeMinUSD + normalized*(s.PositionSizeMaxUSD-s.PositionSizeMinUSD)
	return s.PositionSizeMinUSD + s.ConvictionScaling*(scaled-s.PositionSizeMinUSD)
}

func (g *Generator) skip(in domain.ScoredInput, reason string) {
	log.Info().
		Str("symbol", in.Symbol).
		Str("reason", reason).
		Float64("score", in.Score).
		Str("direction", string(in.Direction)).
		Msg("signal skipped")
}
