package multipay

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Store keeps wizard batches between requests.
type Store interface {
	Save(ctx context.Context, batch *Batch) error
	Load(ctx context.Context, id uuid.UUID) (*Batch, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// RedisStore keeps batches as JSON documents that expire after ttl.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Save stores the batch and refreshes its expiry.
func (s *RedisStore) Save(ctx context.Context, batch *Batch) error {
	if batch == nil || batch.ID == uuid.Nil {
		return errors.New("multipay: batch id required")
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(batch.ID), data, s.ttl).Err()
}

// Load returns the batch or ErrWizardNotFound once it expired.
func (s *RedisStore) Load(ctx context.Context, id uuid.UUID) (*Batch, error) {
	payload, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrWizardNotFound
		}
		return nil, err
	}
	var batch Batch
	if err := json.Unmarshal(payload, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

// Delete drops the batch. Deleting a missing batch is not an error.
func (s *RedisStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func (s *RedisStore) key(id uuid.UUID) string {
	return "multipay:wizard:" + id.String()
}
