// Package tally keeps advisory per-day meal counters in Redis for the live
// dashboard. The database count stays authoritative.
package tally

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "mess:tally"
	ttl       = 48 * time.Hour
)

// Store reads and writes tallies.
type Store struct {
	client redis.Cmdable
}

// NewStore wraps a Redis client.
func NewStore(client redis.Cmdable) *Store {
	return &Store{client: client}
}

// Key is the hash holding one hostel's per-category counts for day
// (YYYY-MM-DD).
func Key(day string, hostelID int64) string {
	return fmt.Sprintf("%s:%s:%d", keyPrefix, day, hostelID)
}

// Increment bumps category for (day, hostel) and refreshes the expiry.
func (s *Store) Increment(ctx context.Context, day string, hostelID int64, category string) (int64, error) {
	key := Key(day, hostelID)
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.HIncrBy(ctx, key, category, 1)
		p.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("tally: increment %s %s: %w", key, category, err)
	}
	return incr.Val(), nil
}

// Snapshot returns the counts for (day, hostel); missing categories are
// absent from the map.
func (s *Store) Snapshot(ctx context.Context, day string, hostelID int64) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, Key(day, hostelID)).Result()
	if err != nil {
		return nil, fmt.Errorf("tally: snapshot: %w", err)
	}
	return parseCounts(raw)
}

func parseCounts(raw map[string]string) (map[string]int64, error) {
	out := make(map[string]int64, len(raw))
	for category, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("tally: field %s: %w", category, err)
		}
		out[category] = n
	}
	return out, nil
}
