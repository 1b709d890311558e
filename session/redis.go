package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "fund-agent:session:"

// RedisRecordStore keeps session records in Redis so they survive process
// restarts alongside the vector collections they describe.
type RedisRecordStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRecordStore(client *redis.Client, ttl time.Duration) *RedisRecordStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisRecordStore{client: client, ttl: ttl}
}

func (s *RedisRecordStore) Put(ctx context.Context, record Record) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	val, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}

	if err := s.client.Set(ctx, redisKeyPrefix+record.ID, val, s.ttl).Err(); err != nil {
		return fmt.Errorf("store session record: %w", err)
	}
	return nil
}

func (s *RedisRecordStore) Get(ctx context.Context, id string) (Record, error) {
	val, err := s.client.Get(ctx, redisKeyPrefix+id).Result()
	if err == redis.Nil {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load session record: %w", err)
	}

	var record Record
	if err := json.Unmarshal([]byte(val), &record); err != nil {
		return Record{}, fmt.Errorf("unmarshal session record: %w", err)
	}

	// Refresh TTL on read so active sessions do not expire mid-conversation.
	_ = s.client.Expire(ctx, redisKeyPrefix+id, s.ttl).Err()

	return record, nil
}

func (s *RedisRecordStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("delete session record: %w", err)
	}
	return nil
}

func (s *RedisRecordStore) Close() error {
	return s.client.Close()
}

var _ RecordStore = (*RedisRecordStore)(nil)
