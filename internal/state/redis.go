package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// snapshotTTL bounds stale state accumulation when a profile is retired.
const snapshotTTL = 30 * 24 * time.Hour

// RedisStore persists the snapshot as a single JSON value under one key.
// SET is atomic on the Redis side, which gives the same
// replace-the-whole-document guarantee as the file backend.
type RedisStore struct {
	client     *redis.Client
	key        string
	capitalUSD float64
}

// NewRedisStore creates a Redis-backed store namespaced by profile.
func NewRedisStore(client *redis.Client, namespace string, capitalUSD float64) *RedisStore {
	return &RedisStore{
		client:     client,
		key:        fmt.Sprintf("%s:state", namespace),
		capitalUSD: capitalUSD,
	}
}

func (r *RedisStore) Load(ctx context.Context) (*Snapshot, error) {
	b, err := r.client.Get(ctx, r.key).Bytes()
	if err == redis.Nil {
		log.Info().Str("key", r.key).Msg("no persisted state in redis, starting empty")
		return NewSnapshot(r.capitalUSD), nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis load state: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("%w: key %s: %v", ErrCorruptState, r.key, err)
	}
	snap.normalize(r.capitalUSD)

	log.Info().
		Str("key", r.key).
		Int("open_positions", len(snap.Positions)).
		Time("last_saved", snap.LastSaved).
		Msg("state restored from redis")
	return &snap, nil
}

func (r *RedisStore) Save(ctx context.Context, snap *Snapshot) error {
	snap.Version = snapshotVersion
	snap.LastSaved = time.Now().UTC()

	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := r.client.Set(ctx, r.key, string(b), snapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis save state: %w", err)
	}
	return nil
}
