package intervention

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentientiq/behavioral-platform/pkg/ttlcache"
)

// CooldownStore tracks the last firing time of each (session, rule) pair.
// Cooldowns are tracked per pair, so a cooldown on one rule never blocks
// another rule for the same session.
type CooldownStore interface {
	LastFired(ctx context.Context, sessionID, rule string) (time.Time, bool, error)
	MarkFired(ctx context.Context, sessionID, rule string, at time.Time) error
}

func cooldownKey(sessionID, rule string) string {
	return fmt.Sprintf("cooldown:%s:%s", sessionID, rule)
}

// MemoryCooldownStore is the default single-instance store, backed by an
// in-process TTL cache so entries for finished sessions age out on their own.
type MemoryCooldownStore struct {
	cache *ttlcache.Cache[string, time.Time]
	ttl   time.Duration
}

// NewMemoryCooldownStore creates a store whose entries live for ttl. The ttl
// bounds memory, not rule behavior, so it must exceed every rule cooldown.
func NewMemoryCooldownStore(ttl time.Duration) *MemoryCooldownStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryCooldownStore{
		cache: ttlcache.New[string, time.Time](),
		ttl:   ttl,
	}
}

func (s *MemoryCooldownStore) LastFired(_ context.Context, sessionID, rule string) (time.Time, bool, error) {
	at, ok := s.cache.Get(cooldownKey(sessionID, rule))
	return at, ok, nil
}

func (s *MemoryCooldownStore) MarkFired(_ context.Context, sessionID, rule string, at time.Time) error {
	s.cache.Set(cooldownKey(sessionID, rule), at, s.ttl)
	return nil
}

// StartJanitor launches background eviction of expired entries.
func (s *MemoryCooldownStore) StartJanitor(interval time.Duration) {
	s.cache.StartJanitor(interval)
}

// Stop terminates the janitor.
func (s *MemoryCooldownStore) Stop() {
	s.cache.Stop()
}

// RedisCooldownStore shares cooldown state across engine replicas. Values are
// the firing time in unix milliseconds; Redis handles expiry.
type RedisCooldownStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCooldownStore creates a Redis-backed store with the given entry TTL.
func NewRedisCooldownStore(client *redis.Client, ttl time.Duration) *RedisCooldownStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCooldownStore{client: client, ttl: ttl}
}

func (s *RedisCooldownStore) LastFired(ctx context.Context, sessionID, rule string) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, cooldownKey(sessionID, rule)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read cooldown: %w", err)
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt cooldown value %q: %w", val, err)
	}
	return time.UnixMilli(ms), true, nil
}

func (s *RedisCooldownStore) MarkFired(ctx context.Context, sessionID, rule string, at time.Time) error {
	key := cooldownKey(sessionID, rule)
	if err := s.client.Set(ctx, key, strconv.FormatInt(at.UnixMilli(), 10), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark cooldown: %w", err)
	}
	return nil
}
