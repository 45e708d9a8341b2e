package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	balanceField = "balance"
	versionField = "version"
)

// setIfNewer writes the balance only when the cached version is older, so a
// reader that loaded a stale row cannot overwrite a committed write.
var setIfNewer = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if current and tonumber(current) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'balance', ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// BalanceCache implements usecase.BalanceCache using Redis. Each entry is a
// hash of the balance, as a decimal string, and the congregation version it
// was read at.
type BalanceCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewBalanceCache creates a new BalanceCache. A zero ttl keeps entries
// until they are invalidated.
func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{
		client: client,
		prefix: "churchledger:balance:",
		ttl:    ttl,
	}
}

// Get returns the cached balance and whether it was present.
func (c *BalanceCache) Get(ctx context.Context, congregationID string) (decimal.Decimal, bool, error) {
	val, err := c.client.HGet(ctx, c.prefix+congregationID, balanceField).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}

	balance, err := decimal.NewFromString(val)
	if err != nil {
		// Drop the corrupt entry and fall through to the store.
		_ = c.Invalidate(ctx, congregationID)
		return decimal.Zero, false, nil
	}

	return balance, true, nil
}

// Set stores balance at version. Writes older than the cached version are
// ignored.
func (c *BalanceCache) Set(ctx context.Context, congregationID string, balance decimal.Decimal, version int64) error {
	return setIfNewer.Run(ctx, c.client,
		[]string{c.prefix + congregationID},
		strconv.FormatInt(version, 10),
		balance.String(),
		c.ttl.Milliseconds(),
	).Err()
}

// Invalidate removes the cached balance.
func (c *BalanceCache) Invalidate(ctx context.Context, congregationID string) error {
	return c.client.Del(ctx, c.prefix+congregationID).Err()
}
