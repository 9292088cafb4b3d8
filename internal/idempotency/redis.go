package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// reservationTTL bounds how long an in-flight reservation blocks retries if
// the process dies before Complete or Abort runs.
const reservationTTL = 2 * time.Minute

type redisEntry struct {
	RequestHash string  `json:"request_hash"`
	Record      *Record `json:"record,omitempty"`
}

// Redis is the shared idempotency store for sandbox and production.
type Redis struct {
	client *redis.Client
}

var _ Store = (*Redis)(nil)

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func redisKey(tenantID, key string) string {
	return "idem:" + tenantID + ":" + key
}

// Begin reserves a key with SETNX or classifies the collision.
func (r *Redis) Begin(ctx context.Context, tenantID, key, requestHash string) (BeginResult, *Record, error) {
	k := redisKey(tenantID, key)
	raw, err := json.Marshal(redisEntry{RequestHash: requestHash})
	if err != nil {
		return Proceed, nil, err
	}

	ok, err := r.client.SetNX(ctx, k, raw, reservationTTL).Result()
	if err != nil {
		return Proceed, nil, err
	}
	if ok {
		return Proceed, nil, nil
	}

	existing, err := r.client.Get(ctx, k).Bytes()
	if err == redis.Nil {
		// Reservation expired between SetNX and Get; treat as fresh.
		return r.Begin(ctx, tenantID, key, requestHash)
	}
	if err != nil {
		return Proceed, nil, err
	}
	var e redisEntry
	if err := json.Unmarshal(existing, &e); err != nil {
		return Proceed, nil, err
	}
	if e.RequestHash != requestHash {
		return Mismatch, nil, nil
	}
	if e.Record == nil {
		return InFlight, nil, nil
	}
	return Replay, e.Record, nil
}

// Complete stores the final response and extends the key to the replay TTL.
func (r *Redis) Complete(ctx context.Context, tenantID, key string, rec Record) error {
	if rec.StoredAt.IsZero() {
		rec.StoredAt = time.Now()
	}
	raw, err := json.Marshal(redisEntry{RequestHash: rec.RequestHash, Record: &rec})
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisKey(tenantID, key), raw, TTL).Err()
}

// Abort drops a reservation so the caller can retry.
func (r *Redis) Abort(ctx context.Context, tenantID, key string) error {
	return r.client.Del(ctx, redisKey(tenantID, key)).Err()
}
