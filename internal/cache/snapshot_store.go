// Package cache keeps encoded board snapshots in Redis so board reads can
// skip the aggregate reload while the board version is unchanged.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is one cached snapshot.
type Entry struct {
	Version int64
	Payload []byte
}

// setIfNewer only replaces an entry whose version is older than ARGV[1], so
// a slow writer never overwrites a fresher snapshot.
var setIfNewer = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if current and tonumber(current) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'payload', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// SnapshotStore implements snapshot caching using Redis
type SnapshotStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewSnapshotStore connects to redisURL and verifies the connection.
func NewSnapshotStore(redisURL string, ttl time.Duration) (*SnapshotStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewSnapshotStoreWithClient(client, ttl), nil
}

// NewSnapshotStoreWithClient creates a store from an existing Redis client
func NewSnapshotStoreWithClient(client *redis.Client, ttl time.Duration) *SnapshotStore {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SnapshotStore{
		client: client,
		prefix: "board-snapshot:",
		ttl:    ttl,
	}
}

func (s *SnapshotStore) key(boardID string) string {
	return s.prefix + boardID
}

// Client exposes the underlying connection so the realtime relay can share it.
func (s *SnapshotStore) Client() *redis.Client {
	return s.client
}

// Get returns the cached entry for boardID; ok is false on a miss.
func (s *SnapshotStore) Get(ctx context.Context, boardID string) (entry Entry, ok bool, err error) {
	values, err := s.client.HMGet(ctx, s.key(boardID), "version", "payload").Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	if len(values) != 2 || values[0] == nil || values[1] == nil {
		return Entry{}, false, nil
	}
	rawVersion, _ := values[0].(string)
	payload, _ := values[1].(string)
	version, err := strconv.ParseInt(rawVersion, 10, 64)
	if err != nil {
		return Entry{}, false, fmt.Errorf("parse snapshot version: %w", err)
	}
	return Entry{Version: version, Payload: []byte(payload)}, true, nil
}

// Set stores entry unless a same or newer version is already cached. It
// reports whether the entry was written.
func (s *SnapshotStore) Set(ctx context.Context, boardID string, entry Entry) (bool, error) {
	written, err := setIfNewer.Run(ctx, s.client,
		[]string{s.key(boardID)},
		entry.Version, string(entry.Payload), s.ttl.Milliseconds(),
	).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("save snapshot: %w", err)
	}
	return written == 1, nil
}

// Invalidate drops the cached snapshot of boardID.
func (s *SnapshotStore) Invalidate(ctx context.Context, boardID string) error {
	if err := s.client.Del(ctx, s.key(boardID)).Err(); err != nil {
		return fmt.Errorf("invalidate snapshot: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *SnapshotStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
