package protect

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const vaultKeyPrefix = "custodia:vault:"

// RedisVault persists the token mapping in Redis so tokenization survives
// process restarts. Keys carry no TTL: the retention scheduler, not Redis
// expiry, decides when a mapping is destroyed.
type RedisVault struct {
	client *redis.Client
}

func NewRedisVault(client *redis.Client) *RedisVault {
	return &RedisVault{client: client}
}

func (v *RedisVault) Put(ctx context.Context, token, value string) error {
	ok, err := v.client.SetNX(ctx, vaultKeyPrefix+token, value, 0).Result()
	if err != nil {
		return fmt.Errorf("vault put: %w", err)
	}
	if !ok {
		return fmt.Errorf("vault put: token already mapped")
	}
	return nil
}

func (v *RedisVault) Delete(ctx context.Context, token string) error {
	if err := v.client.Del(ctx, vaultKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("vault delete: %w", err)
	}
	return nil
}
