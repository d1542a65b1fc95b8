package idempotency

import (
	"context"
	"time"

	redisadapter "github.com/cinetick/movie-bookings/internal/adapters/redis"
)

// Idempotency replays the stored response for a key the server has
// already answered, so a retried POST has at most one effect. Replies
// are scoped per user.
type Idempotency struct {
	redis *redisadapter.Idempotency
	ttl   time.Duration
}

func NewIdempotency(redis *redisadapter.Idempotency, ttl time.Duration) *Idempotency {
	return &Idempotency{redis: redis, ttl: ttl}
}

type Response struct {
	Status int
	Result []byte
}

func (i *Idempotency) Get(ctx context.Context, userID, key string) (*Response, error) {
	stored, err := i.redis.Get(ctx, userID, key)
	if err != nil || stored == nil {
		return nil, err
	}
	return &Response{Status: stored.Status, Result: stored.Body}, nil
}

func (i *Idempotency) Set(ctx context.Context, userID, key string, resp Response) error {
	return i.redis.Set(ctx, userID, key, redisadapter.BookingReply{Status: resp.Status, Body: resp.Result}, i.ttl)
}
