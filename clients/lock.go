package clients

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// LockClient releases on-demand transcode locks. The locks are taken by the
// ad-decision service before it enqueues an on-demand job; release here is
// best effort since every lock carries its own TTL.
type LockClient interface {
	Release(ctx context.Context, adID string, bitrates []int) error
}

type redisLockClient struct {
	rdb *redis.Client
}

func NewRedisLockClient(addr, password string) LockClient {
	return &redisLockClient{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

func (c *redisLockClient) Release(ctx context.Context, adID string, bitrates []int) error {
	if err := c.rdb.Del(ctx, lockKey(adID, bitrates)).Err(); err != nil {
		return fmt.Errorf("error releasing transcode lock for ad %q: %w", adID, err)
	}
	return nil
}

func lockKey(adID string, bitrates []int) string {
	parts := make([]string, len(bitrates))
	for i, b := range bitrates {
		parts[i] = strconv.Itoa(b)
	}
	return "lock:transcode:" + adID + ":" + strings.Join(parts, ",")
}
