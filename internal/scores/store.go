package scores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	defaultNamespace = "fundamentals"

	// Scores are refreshed weekly; twice that before they expire.
	scoreTTL = 14 * 24 * time.Hour

	// Universe is refreshed monthly.
	universeTTL = 45 * 24 * time.Hour

	// DefaultFreshness is the max age before a cached score is recomputed.
	DefaultFreshness = 7 * 24 * time.Hour
)

// Ranked is one leaderboard entry.
type Ranked struct {
	Symbol string
	Score  float64
}

// Company pairs raw metrics with their computed scores for storage.
type Company struct {
	Financials Financials
	Score      FactorScores
}

// Store keeps per-symbol fundamentals hashes plus a sorted-set leaderboard
// in Redis. Keys:
//
//	<ns>:<symbol>           hash: symbol, raw_metrics, score, score_details, updated
//	<ns>:scores             zset: symbol -> composite score
//	<ns>:universe           hash: symbols, updated_at, count
//	<ns>:universe:marketcap zset: symbol -> market cap
type Store struct {
	rdb       redis.UniversalClient
	namespace string
}

func NewStore(rdb redis.UniversalClient, namespace string) *Store {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &Store{rdb: rdb, namespace: namespace}
}

func (s *Store) symbolKey(symbol string) string { return s.namespace + ":" + symbol }
func (s *Store) scoresKey() string              { return s.namespace + ":scores" }
func (s *Store) universeKey() string            { return s.namespace + ":universe" }
func (s *Store) marketCapKey() string           { return s.namespace + ":universe:marketcap" }

// SaveBatch writes all companies and their leaderboard entries in one
// pipeline. Returns the number of companies written.
func (s *Store) SaveBatch(ctx context.Context, items []Company) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	now := time.Now().UTC().Format(time.RFC3339)

	pipe := s.rdb.TxPipeline()
	for _, item := range items {
		raw, err := json.Marshal(item.Financials)
		if err != nil {
			return 0, fmt.Errorf("marshal financials for %s: %w", item.Financials.Symbol, err)
		}
		details, err := json.Marshal(item.Score)
		if err != nil {
			return 0, fmt.Errorf("marshal score for %s: %w", item.Financials.Symbol, err)
		}

		key := s.symbolKey(item.Financials.Symbol)
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, map[string]any{
			"symbol":        item.Financials.Symbol,
			"raw_metrics":   string(raw),
			"score":         strconv.FormatFloat(item.Score.Composite, 'f', -1, 64),
			"score_details": string(details),
			"updated":       now,
		})
		pipe.Expire(ctx, key, scoreTTL)
		pipe.ZAdd(ctx, s.scoresKey(), redis.Z{Score: item.Score.Composite, Member: item.Financials.Symbol})
	}
	pipe.Expire(ctx, s.scoresKey(), scoreTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("save score batch: %w", err)
	}

	log.Info().Int("count", len(items)).Str("namespace", s.namespace).Msg("score batch saved")
	return len(items), nil
}

// TopScores returns the best `limit` symbols by composite score, descending.
func (s *Store) TopScores(ctx context.Context, limit int) ([]Ranked, error) {
	zs, err := s.rdb.ZRevRangeWithScores(ctx, s.scoresKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("top scores: %w", err)
	}
	return toRanked(zs), nil
}

// ScoresAbove returns all symbols at or above the threshold, ascending.
func (s *Store) ScoresAbove(ctx context.Context, threshold float64) ([]Ranked, error) {
	zs, err := s.rdb.ZRangeByScoreWithScores(ctx, s.scoresKey(), &redis.ZRangeBy{
		Min: strconv.FormatFloat(threshold, 'f', -1, 64),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scores above %.2f: %w", threshold, err)
	}
	return toRanked(zs), nil
}

// Score returns the composite score for one symbol, and whether it exists.
func (s *Store) Score(ctx context.Context, symbol string) (float64, bool, error) {
	v, err := s.rdb.ZScore(ctx, s.scoresKey(), symbol).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("score %s: %w", symbol, err)
	}
	return v, true, nil
}

// Fresh reports whether the stored entry for symbol is younger than maxAge.
// Missing or unparsable timestamps count as stale.
func (s *Store) Fresh(ctx context.Context, symbol string, maxAge time.Duration) bool {
	updated, err := s.rdb.HGet(ctx, s.symbolKey(symbol), "updated").Result()
	if err != nil {
		return false
	}
	t, err := time.Parse(time.RFC3339, updated)
	if err != nil {
		return false
	}
	return time.Since(t) < maxAge
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	return s.rdb.ZCard(ctx, s.scoresKey()).Result()
}

// Delete removes one symbol's hash and leaderboard entry.
func (s *Store) Delete(ctx context.Context, symbol string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.symbolKey(symbol))
	pipe.ZRem(ctx, s.scoresKey(), symbol)
	_, err := pipe.Exec(ctx)
	return err
}

// SaveUniverse replaces the investable universe list and its market cap
// ranking. Entries must already be sorted by market cap descending.
func (s *Store) SaveUniverse(ctx context.Context, entries []Ranked) error {
	symbols := make([]string, len(entries))
	for i, e := range entries {
		symbols[i] = e.Symbol
	}
	raw, err := json.Marshal(symbols)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.universeKey())
	pipe.HSet(ctx, s.universeKey(), map[string]any{
		"symbols":    string(raw),
		"updated_at": now,
		"count":      strconv.Itoa(len(symbols)),
	})
	pipe.Expire(ctx, s.universeKey(), universeTTL)

	pipe.Del(ctx, s.marketCapKey())
	if len(entries) > 0 {
		zs := make([]redis.Z, len(entries))
		for i, e := range entries {
			zs[i] = redis.Z{Score: e.Score, Member: e.Symbol}
		}
		pipe.ZAdd(ctx, s.marketCapKey(), zs...)
		pipe.Expire(ctx, s.marketCapKey(), universeTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save universe: %w", err)
	}
	log.Info().Int("count", len(symbols)).Msg("universe saved")
	return nil
}

// UniverseSymbols returns the stored universe, or empty when unset.
func (s *Store) UniverseSymbols(ctx context.Context) ([]string, error) {
	raw, err := s.rdb.HGet(ctx, s.universeKey(), "symbols").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("universe symbols: %w", err)
	}
	var symbols []string
	if err := json.Unmarshal([]byte(raw), &symbols); err != nil {
		return nil, fmt.Errorf("universe symbols: %w", err)
	}
	return symbols, nil
}

// AllFinancials reads the cached raw metrics for every universe symbol.
// Symbols without a stored hash are skipped; a refresh can proceed on
// whatever coverage exists.
func (s *Store) AllFinancials(ctx context.Context) ([]Financials, error) {
	symbols, err := s.UniverseSymbols(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Financials, 0, len(symbols))
	for _, sym := range symbols {
		raw, err := s.rdb.HGet(ctx, s.symbolKey(sym), "raw_metrics").Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("financials %s: %w", sym, err)
		}
		var f Financials
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("skipping unreadable cached metrics")
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func toRanked(zs []redis.Z) []Ranked {
	out := make([]Ranked, 0, len(zs))
	for _, z := range zs {
		sym, ok := z.Member.(string)
		if !ok {
			continue
		}
		out = append(out, Ranked{Symbol: sym, Score: z.Score})
	}
	return out
}
