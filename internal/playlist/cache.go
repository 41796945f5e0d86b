package playlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// CacheVersion is part of every cache key. Bump it whenever the shape of
// [Playlist] changes so old entries are never served.
const CacheVersion = 3

func CacheKey(playlistID string) string {
	return "playlist:v" + strconv.Itoa(CacheVersion) + ":" + playlistID
}

// Entry is one cached assembly.
type Entry struct {
	Key     string        `json:"key"`
	Payload Playlist      `json:"payload"`
	BuiltAt time.Time     `json:"builtAt"`
	TTL     time.Duration `json:"ttl"`
}

// Fresh reports whether the entry is still within its TTL at now.
func (e Entry) Fresh(now time.Time) bool {
	return now.Sub(e.BuiltAt) < e.TTL
}

// Cache stores assembled playlists. Implementations replace entries whole;
// a reader sees either the previous entry or the new one.
//
// Get keeps returning entries past their TTL for as long as the backend holds
// them, so a stale playlist can be served while it's rebuilt.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key string, payload Playlist, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)

// MemoryCache keeps entries in a bounded in-process LRU.
type MemoryCache struct {
	entries *lru.Cache[string, Entry]
	now     func() time.Time
}

func NewMemoryCache(size int) (*MemoryCache, error) {
	entries, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("error creating lru: %w", err)
	}

	return &MemoryCache{entries: entries, now: time.Now}, nil
}

func (c *MemoryCache) Get(_ context.Context, key string) (Entry, bool, error) {
	e, ok := c.entries.Get(key)
	return e, ok, nil
}

func (c *MemoryCache) Put(_ context.Context, key string, payload Playlist, ttl time.Duration) error {
	c.entries.Add(key, Entry{Key: key, Payload: payload, BuiltAt: c.now().UTC(), TTL: ttl})
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, key string) error {
	c.entries.Remove(key)
	return nil
}

// RedisCache shares entries between processes. Keys outlive their TTL by
// the stale grace so expired playlists can still be served during a rebuild.
type RedisCache struct {
	client redis.UniversalClient
	grace  time.Duration
	now    func() time.Time
}

func NewRedisCache(client redis.UniversalClient, grace time.Duration) *RedisCache {
	return &RedisCache{client: client, grace: grace, now: time.Now}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	byts, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("error reading cache entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(byts, &e); err != nil {
		// An unreadable entry is as good as none; the next build overwrites it.
		return Entry{}, false, nil
	}

	return e, true, nil
}

func (c *RedisCache) Put(ctx context.Context, key string, payload Playlist, ttl time.Duration) error {
	byts, err := json.Marshal(Entry{Key: key, Payload: payload, BuiltAt: c.now().UTC(), TTL: ttl})
	if err != nil {
		return fmt.Errorf("error encoding cache entry: %w", err)
	}

	if err := c.client.Set(ctx, key, byts, ttl+c.grace).Err(); err != nil {
		return fmt.Errorf("error writing cache entry: %w", err)
	}

	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("error deleting cache entry: %w", err)
	}

	return nil
}
