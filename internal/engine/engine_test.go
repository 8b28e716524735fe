package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/equityrun/internal/broker"
	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/domain"
	"github.com/sawpanic/equityrun/internal/state"
)

type stubSource struct {
	batches [][]domain.ScoredInput
	calls   int
}

func (s *stubSource) Fetch(ctx context.Context) ([]domain.ScoredInput, error) {
	if s.calls >= len(s.batches) {
		return nil, nil
	}
	b := s.batches[s.calls]
	s.calls++
	return b, nil
}

func testConfig() config.Config {
	return config.Config{
		Strategy: config.StrategyConfig{
			Name:               "test",
			CapitalUSD:         10000,
			MinConviction:      70,
			MaxOpenPositions:   2,
			PositionSizeMinUSD: 1000,
			PositionSizeMaxUSD: 5000,
			ConvictionScaling:  1.0,
		},
		Risk: config.RiskConfig{
			StopLossPct:         0.025,
			TakeProfitPct:       0.06,
			MaxHoldTradingDays:  5,
			DailyLossLimitPct:   0.05,
			MonthlyLossLimitPct: 0.10,
		},
		Feed: config.FeedConfig{PollInterval: time.Second},
	}
}

func input(id, symbol string, score float64, dir domain.Direction) domain.ScoredInput {
	return domain.ScoredInput{
		ID: id, Symbol: symbol, Score: score, Direction: dir, Timestamp: time.Now().UTC(),
	}
}

func newTestEngine(t *testing.T, cfg config.Config, src *stubSource, paper *broker.Paper) (*Engine, state.Store) {
	t.Helper()
	store := state.NewFileStore(filepath.Join(t.TempDir(), "state.json"), cfg.Strategy.CapitalUSD)
	e := New(cfg, Deps{Store: store, Broker: paper, Source: src})
	require.NoError(t, e.restore(context.Background()))
	return e, store
}

func TestTickOpensPositionOnBullishInput(t *testing.T) {
	paper := broker.NewPaper(10000)
	paper.SetPrice("AAPL", 200)
	src := &stubSource{batches: [][]domain.ScoredInput{
		{input("i1", "AAPL", 85, domain.DirectionBullish)},
	}}

	e, store := newTestEngine(t, testConfig(), src, paper)
	e.Tick(context.Background())

	pos, ok := e.snap.Positions["AAPL"]
	require.True(t, ok)
	// Conviction 85 over [70,100] with sizes [1000,5000] scales to $3000.
	assert.InDelta(t, 3000.0, pos.NotionalUSD, 1e-9)
	assert.InDelta(t, 195.0, pos.StopLoss, 1e-9)
	assert.InDelta(t, 212.0, pos.TakeProfit, 1e-9)

	// Persisted within the tick.
	reloaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, reloaded.Positions, "AAPL")
	assert.Contains(t, reloaded.SeenInputIDs, "i1")
}

func TestSameTickExitFreesCapacityForEntry(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.MaxOpenPositions = 1

	paper := broker.NewPaper(20000)
	paper.SetPrice("MSFT", 400)
	paper.SetPrice("AAPL", 200)
	src := &stubSource{batches: [][]domain.ScoredInput{
		{input("i1", "MSFT", 80, domain.DirectionBullish)},
		{
			input("i2", "MSFT", 90, domain.DirectionBearish),
			input("i3", "AAPL", 85, domain.DirectionBullish),
		},
	}}

	e, _ := newTestEngine(t, cfg, src, paper)
	ctx := context.Background()

	e.Tick(ctx)
	require.Contains(t, e.snap.Positions, "MSFT")

	e.Tick(ctx)
	assert.NotContains(t, e.snap.Positions, "MSFT")
	assert.Contains(t, e.snap.Positions, "AAPL")

	require.Len(t, e.snap.Closed, 1)
	assert.Equal(t, domain.CloseSignalExit, e.snap.Closed[0].CloseReason)
}

func TestStopLossExitRecordsRealizedLoss(t *testing.T) {
	paper := broker.NewPaper(10000)
	paper.SetPrice("AAPL", 200)
	src := &stubSource{batches: [][]domain.ScoredInput{
		{input("i1", "AAPL", 85, domain.DirectionBullish)},
	}}

	e, _ := newTestEngine(t, testConfig(), src, paper)
	ctx := context.Background()
	e.Tick(ctx)
	require.Contains(t, e.snap.Positions, "AAPL")

	// Breach the 195 stop.
	paper.SetPrice("AAPL", 194)
	e.Tick(ctx)

	assert.NotContains(t, e.snap.Positions, "AAPL")
	require.Len(t, e.snap.Closed, 1)
	closed := e.snap.Closed[0]
	assert.Equal(t, domain.CloseStopLoss, closed.CloseReason)
	assert.Negative(t, closed.PnLUSD)
	assert.Negative(t, e.snap.Risk.RealizedDaily(time.Now()))
}

func TestHaltSkipsEntriesButStillExits(t *testing.T) {
	paper := broker.NewPaper(10000)
	paper.SetPrice("AAPL", 200)
	paper.SetPrice("NVDA", 100)
	src := &stubSource{batches: [][]domain.ScoredInput{
		{input("i1", "AAPL", 85, domain.DirectionBullish)},
		{input("i2", "NVDA", 95, domain.DirectionBullish)},
	}}

	e, _ := newTestEngine(t, testConfig(), src, paper)
	ctx := context.Background()
	e.Tick(ctx)
	require.Contains(t, e.snap.Positions, "AAPL")

	// Past the daily limit: 5% of 10k is 500.
	e.snap.Risk.Record(-600, time.Now())
	paper.SetPrice("AAPL", 194) // also breaches the stop

	e.Tick(ctx)

	// The exit went through, the new entry did not.
	assert.NotContains(t, e.snap.Positions, "AAPL")
	assert.NotContains(t, e.snap.Positions, "NVDA")
	assert.True(t, e.snap.Risk.DailyHalted)
}

func TestDuplicateInputNeverReplays(t *testing.T) {
	paper := broker.NewPaper(10000)
	paper.SetPrice("AAPL", 200)
	src := &stubSource{batches: [][]domain.ScoredInput{
		{input("i1", "AAPL", 85, domain.DirectionBullish)},
		{input("i2", "AAPL", 90, domain.DirectionBearish)},
		// Same input id resurfacing after the position is gone.
		{input("i1", "AAPL", 85, domain.DirectionBullish)},
	}}

	e, _ := newTestEngine(t, testConfig(), src, paper)
	ctx := context.Background()
	e.Tick(ctx)
	e.Tick(ctx)
	require.Empty(t, e.snap.Positions)

	e.Tick(ctx)
	assert.Empty(t, e.snap.Positions, "replayed input must not reopen the position")
}

// sellRejectingBroker fails SELL submissions to exercise exit retry.
type sellRejectingBroker struct {
	*broker.Paper
	failSells bool
}

func (b *sellRejectingBroker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.Fill, error) {
	if b.failSells && req.Side == domain.SideSell {
		return broker.Fill{}, errors.New("venue unavailable")
	}
	return b.Paper.SubmitOrder(ctx, req)
}

func TestExitOrderFailureKeepsPositionForRetry(t *testing.T) {
	paper := broker.NewPaper(10000)
	paper.SetPrice("AAPL", 200)
	flaky := &sellRejectingBroker{Paper: paper, failSells: true}

	cfg := testConfig()
	store := state.NewFileStore(filepath.Join(t.TempDir(), "state.json"), cfg.Strategy.CapitalUSD)
	src := &stubSource{batches: [][]domain.ScoredInput{
		{input("i1", "AAPL", 85, domain.DirectionBullish)},
	}}
	e := New(cfg, Deps{Store: store, Broker: flaky, Source: src})
	require.NoError(t, e.restore(context.Background()))

	ctx := context.Background()
	e.Tick(ctx)
	require.Contains(t, e.snap.Positions, "AAPL")

	paper.SetPrice("AAPL", 190)
	e.Tick(ctx)
	assert.Contains(t, e.snap.Positions, "AAPL", "failed exit order leaves position open")

	flaky.failSells = false
	e.Tick(ctx)
	assert.NotContains(t, e.snap.Positions, "AAPL")
	require.Len(t, e.snap.Closed, 1)
	assert.Equal(t, domain.CloseStopLoss, e.snap.Closed[0].CloseReason)
}

func TestSeenInputIDsTrimmedToCap(t *testing.T) {
	paper := broker.NewPaper(10000)
	paper.SetPrice("AAPL", 200)
	src := &stubSource{batches: [][]domain.ScoredInput{
		{input("fresh", "AAPL", 85, domain.DirectionBullish)},
	}}
	e, _ := newTestEngine(t, testConfig(), src, paper)

	for i := 0; i < maxSeenInputIDs; i++ {
		e.snap.SeenInputIDs = append(e.snap.SeenInputIDs, fmt.Sprintf("old-%d", i))
	}

	fresh := e.fetchInputs(context.Background())
	require.Len(t, fresh, 1)
	assert.Len(t, e.snap.SeenInputIDs, maxSeenInputIDs)
	assert.Equal(t, "fresh", e.snap.SeenInputIDs[maxSeenInputIDs-1])
	assert.NotContains(t, e.snap.SeenInputIDs, "old-0")
}

// downBroker fails position listing to simulate an unreachable venue.
type downBroker struct {
	*broker.Paper
}

func (b *downBroker) OpenPositions(ctx context.Context) ([]domain.Holding, error) {
	return nil, errors.New("connection refused")
}

func TestRestoreFailsWhenBrokerUnreachable(t *testing.T) {
	cfg := testConfig()
	store := state.NewFileStore(filepath.Join(t.TempDir(), "state.json"), cfg.Strategy.CapitalUSD)
	e := New(cfg, Deps{Store: store, Broker: &downBroker{Paper: broker.NewPaper(0)}, Source: &stubSource{}})

	err := e.restore(context.Background())
	require.Error(t, err)
}

func TestRestoreAdoptsBrokerPositions(t *testing.T) {
	paper := broker.NewPaper(0)
	paper.SetPrice("TSLA", 250)
	paper.Seed(domain.Holding{Symbol: "TSLA", Quantity: 4, AvgCost: 240})

	e, _ := newTestEngine(t, testConfig(), &stubSource{}, paper)

	pos, ok := e.snap.Positions["TSLA"]
	require.True(t, ok)
	assert.True(t, pos.Reconciled)
	assert.InDelta(t, 240.0, pos.EntryPrice, 1e-9)
}

func TestRunStopsAtTickBoundary(t *testing.T) {
	paper := broker.NewPaper(10000)
	cfg := testConfig()
	cfg.Feed.PollInterval = 10 * time.Millisecond

	store := state.NewFileStore(filepath.Join(t.TempDir(), "state.json"), cfg.Strategy.CapitalUSD)
	e := New(cfg, Deps{Store: store, Broker: paper, Source: &stubSource{}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
