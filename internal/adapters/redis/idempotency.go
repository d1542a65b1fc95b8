package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Idempotency stores the first response produced for a booking commit
// key so a retried request replays it byte for byte. Keys are scoped to
// the caller: the same key presented by another user is a miss, never a
// leak of someone else's booking.
type Idempotency struct {
	client *redis.Client
}

func NewIdempotency(client *redis.Client) *Idempotency {
	return &Idempotency{client: client}
}

type BookingReply struct {
	Status   int       `json:"status"`
	Body     []byte    `json:"body"`
	StoredAt time.Time `json:"stored_at"`
}

func replyKey(userID, key string) string {
	return "idemp:" + userID + ":" + key
}

func (i *Idempotency) Get(ctx context.Context, userID, key string) (*BookingReply, error) {
	val, err := i.client.Get(ctx, replyKey(userID, key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var reply BookingReply
	err = json.Unmarshal(val, &reply)
	return &reply, err
}

func (i *Idempotency) Set(ctx context.Context, userID, key string, reply BookingReply, ttl time.Duration) error {
	reply.StoredAt = time.Now().UTC()
	data, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	return i.client.Set(ctx, replyKey(userID, key), data, ttl).Err()
}
