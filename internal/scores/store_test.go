package scores

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Store tests need a live Redis; set REDIS_ADDR to run them.
func testStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ns := "equityrun_test:" + uuid.NewString()
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := rdb.Keys(ctx, ns+":*").Result()
		if len(keys) > 0 {
			rdb.Del(ctx, keys...)
		}
		rdb.Close()
	})
	return NewStore(rdb, ns)
}

func sampleBatch() []Company {
	mk := func(sym string, score float64) Company {
		return Company{
			Financials: Financials{Symbol: sym, PERatio: fp(20), ROE: fp(0.2)},
			Score:      FactorScores{Symbol: sym, Composite: score, Sufficient: true},
		}
	}
	return []Company{mk("AAPL", 88.5), mk("MSFT", 72.0), mk("INTC", 31.2)}
}

func TestStoreSaveBatchAndLeaderboard(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	n, err := s.SaveBatch(ctx, sampleBatch())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	top, err := s.TopScores(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, Ranked{Symbol: "AAPL", Score: 88.5}, top[0])
	assert.Equal(t, Ranked{Symbol: "MSFT", Score: 72.0}, top[1])

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	score, ok, err := s.Score(ctx, "INTC")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 31.2, score)

	_, ok, err = s.Score(ctx, "UNKNOWN")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, s.Fresh(ctx, "AAPL", time.Hour))
	assert.False(t, s.Fresh(ctx, "UNKNOWN", time.Hour))
}

func TestStoreScoresAbove(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.SaveBatch(ctx, sampleBatch())
	require.NoError(t, err)

	above, err := s.ScoresAbove(ctx, 70)
	require.NoError(t, err)
	require.Len(t, above, 2)
	assert.Equal(t, "MSFT", above[0].Symbol)
	assert.Equal(t, "AAPL", above[1].Symbol)
}

func TestStoreDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.SaveBatch(ctx, sampleBatch())
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "MSFT"))

	_, ok, err := s.Score(ctx, "MSFT")
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestStoreUniverseRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	entries := []Ranked{
		{Symbol: "AAPL", Score: 3_400_000},
		{Symbol: "MSFT", Score: 3_100_000},
	}
	require.NoError(t, s.SaveUniverse(ctx, entries))

	symbols, err := s.UniverseSymbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, symbols)
}

func TestStoreUniverseEmptyWhenUnset(t *testing.T) {
	s := testStore(t)
	symbols, err := s.UniverseSymbols(context.Background())
	require.NoError(t, err)
	assert.Empty(t, symbols)
}
