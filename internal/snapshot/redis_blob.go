package snapshot

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

type RedisBlob struct {
	client *redis.Client
	prefix string
}

func NewRedisBlob(client *redis.Client, prefix string) *RedisBlob {
	return &RedisBlob{client: client, prefix: prefix}
}

func (b *RedisBlob) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (b *RedisBlob) Put(ctx context.Context, key string, data []byte) error {
	return b.client.Set(ctx, b.prefix+key, data, 0).Err()
}

func (b *RedisBlob) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, b.prefix+key).Err()
}
