package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func lockKey(showingID, seat string) string {
	return "lock:" + showingID + ":" + seat
}

// SetSeatLock is the fast-path conflict check: SETNX keyed by seat with
// the lock TTL. The store remains the source of truth; a stale mirror
// self-heals when the key expires.
func (c *Cache) SetSeatLock(ctx context.Context, showingID, seat, holderID string, ttl time.Duration) (bool, error) {
	res := c.client.SetNX(ctx, lockKey(showingID, seat), holderID, ttl)
	return res.Val(), res.Err()
}

// ReleaseSeatLock deletes the mirror key only when the caller still owns
// it, so an unrelated holder's fast path is not cleared by a stale
// release.
func (c *Cache) ReleaseSeatLock(ctx context.Context, showingID, seat, holderID string) error {
	const script = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`
	return c.client.Eval(ctx, script, []string{lockKey(showingID, seat)}, holderID).Err()
}

func (c *Cache) DropSeatLock(ctx context.Context, showingID, seat string) error {
	return c.client.Del(ctx, lockKey(showingID, seat)).Err()
}
