package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/domain"
)

func testGenerator() *Generator {
	return NewGenerator(config.StrategyConfig{
		MinConviction:      70,
		MaxOpenPositions:   3,
		PositionSizeMinUSD: 1000,
		PositionSizeMaxUSD: 5000,
		ConvictionScaling:  1.0,
	}).WithClock(func() time.Time {
		return time.Date(2026, 4, 7, 15, 0, 0, 0, time.UTC)
	})
}

func input(symbol string, score float64, dir domain.Direction) domain.ScoredInput {
	return domain.ScoredInput{
		ID: "in-" + symbol, Symbol: symbol, Score: score, Direction: dir,
		Timestamp: time.Now(),
	}
}

func TestDecide_LowConvictionSkipped(t *testing.T) {
	g := testGenerator()
	assert.Nil(t, g.Decide(input("NVDA", 69.9, domain.DirectionBullish), nil, 0))
}

func TestDecide_NeutralSkipped(t *testing.T) {
	g := testGenerator()
	assert.Nil(t, g.Decide(input("NVDA", 95, domain.DirectionNeutral), nil, 0))
}

func TestDecide_BullishEntry(t *testing.T) {
	g := testGenerator()
	sig := g.Decide(input("NVDA", 85, domain.DirectionBullish), map[string]bool{}, 0)
	require.NotNil(t, sig)
	assert.Equal(t, domain.SideBuy, sig.Action)
	assert.Equal(t, "NVDA", sig.Symbol)
	assert.NotEmpty(t, sig.SignalID)
	// Conviction 85 of span [70,100] -> halfway: 1000 + 0.5*4000 = 3000.
	assert.InDelta(t, 3000, sig.NotionalUSD, 1e-9)
}

func TestDecide_NeverBuysHeldSymbol(t *testing.T) {
	g := testGenerator()
	held := map[string]bool{"NVDA": true}
	assert.Nil(t, g.Decide(input("NVDA", 90, domain.DirectionBullish), held, 1))
}

func TestDecide_CapacityBlocksEntry(t *testing.T) {
	g := testGenerator()
	assert.Nil(t, g.Decide(input("NVDA", 90, domain.DirectionBullish), map[string]bool{}, 3))
}

func TestDecide_BearishExitOnlyWhenHeld(t *testing.T) {
	g := testGenerator()

	// Not held: long-only, no short entry.
	assert.Nil(t, g.Decide(input("NVDA", 90, domain.DirectionBearish), map[string]bool{}, 0))

	// Held: full exit.
	sig := g.Decide(input("NVDA", 90, domain.DirectionBearish), map[string]bool{"NVDA": true}, 1)
	require.NotNil(t, sig)
	assert.Equal(t, domain.SideSell, sig.Action)
	assert.Zero(t, sig.NotionalUSD, "SELL closes the full existing quantity")
}

func TestPositionSize_Bounds(t *testing.T) {
	g := testGenerator()

	atThreshold := g.Decide(input("A", 70, domain.DirectionBullish), map[string]bool{}, 0)
	require.NotNil(t, atThreshold)
	assert.InDelta(t, 1000, atThreshold.NotionalUSD, 1e-9)

	maxed := g.Decide(input("B", 100, domain.DirectionBullish), map[string]bool{}, 0)
	require.NotNil(t, maxed)
	assert.InDelta(t, 5000, maxed.NotionalUSD, 1e-9)
}

func TestPositionSize_ScalingKnobFlattens(t *testing.T) {
	g := NewGenerator(config.StrategyConfig{
		MinConviction:      70,
		MaxOpenPositions:   3,
		PositionSizeMinUSD: 1000,
		PositionSizeMaxUSD: 5000,
		ConvictionScaling:  0, // conviction ignored, always minimum size
	})
	sig := g.Decide(input("NVDA", 100, domain.DirectionBullish), map[string]bool{}, 0)
	require.NotNil(t, sig)
	assert.InDelta(t, 1000, sig.NotionalUSD, 1e-9)
}
