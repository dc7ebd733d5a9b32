package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kudos-app/kudos/pkg/kudos/store"
)

// Blacklist records consumed one-time tokens until they would have
// expired anyway. Burn claims a token atomically and reports whether
// this call was the first use; two concurrent burns of the same id must
// never both return true. Implementations must be safe for concurrent
// use.
type Blacklist interface {
	Burn(ctx context.Context, tokenID string, ttl time.Duration) (bool, error)
}

// RedisBlacklist stores entries as TTL keys, sharing state across
// processes.
type RedisBlacklist struct {
	client *redis.Client
	prefix string
}

// NewRedisBlacklist builds a blacklist over an existing Redis client.
func NewRedisBlacklist(client *redis.Client) *RedisBlacklist {
	return &RedisBlacklist{client: client, prefix: "kudos:used_token:"}
}

func (b *RedisBlacklist) Burn(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	first, err := b.client.SetNX(ctx, b.prefix+tokenID, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("token: blacklist burn: %w", err)
	}
	return first, nil
}

// DBBlacklist persists entries in the used_one_time_tokens table. The
// scheduler's cleanup job removes expired rows.
type DBBlacklist struct {
	db store.Querier
}

// NewDBBlacklist builds a database-backed blacklist.
func NewDBBlacklist(db store.Querier) *DBBlacklist {
	return &DBBlacklist{db: db}
}

func (b *DBBlacklist) Burn(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := b.db.Exec(ctx, `
		INSERT INTO used_one_time_tokens (token_id, expires_at, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_id) DO NOTHING`,
		tokenID, now.Add(ttl), now)
	if err != nil {
		return false, fmt.Errorf("token: blacklist burn: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MemoryBlacklist is a process-local fallback for tests and single-node
// runs without Redis.
type MemoryBlacklist struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewMemoryBlacklist builds an empty in-memory blacklist.
func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{entries: make(map[string]time.Time)}
}

func (b *MemoryBlacklist) Burn(_ context.Context, tokenID string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if exp, ok := b.entries[tokenID]; ok && time.Now().Before(exp) {
		return false, nil
	}
	b.entries[tokenID] = time.Now().Add(ttl)
	return true, nil
}
