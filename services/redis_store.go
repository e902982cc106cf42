package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "conecoach:tts:"

// RedisAudioStore shares rendered audio between instances
type RedisAudioStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisAudioStore(ctx context.Context, url string, ttl time.Duration) (*RedisAudioStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisAudioStore{client: client, ttl: ttl}, nil
}

func (s *RedisAudioStore) key(text, voiceID string) string {
	hash := sha256.Sum256([]byte(text))
	return redisKeyPrefix + voiceID + ":" + hex.EncodeToString(hash[:])
}

func (s *RedisAudioStore) Load(ctx context.Context, text, voiceID string) ([]byte, bool) {
	data, err := s.client.Get(ctx, s.key(text, voiceID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Error("Failed to read audio from redis", "error", err)
		}
		return nil, false
	}
	return data, true
}

func (s *RedisAudioStore) Save(ctx context.Context, text, voiceID string, data []byte) error {
	if err := s.client.Set(ctx, s.key(text, voiceID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write audio to redis: %w", err)
	}
	return nil
}

func (s *RedisAudioStore) Close() error {
	return s.client.Close()
}
