package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps bindings in Redis so every API node routes to the same table.
//
//	<prefix>channel:<channelID>  string -> accountID, expires after TTL
//	<prefix>account:<accountID>  zset of channelIDs scored by expiry (unix ms)
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ Registry = (*Redis)(nil)

func NewRedis(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl, now: time.Now}
}

func (r *Redis) channelKey(id string) string { return r.prefix + "channel:" + id }
func (r *Redis) accountKey(id string) string { return r.prefix + "account:" + id }

// Bind moves channelID off any account it was previously bound to.
func (r *Redis) Bind(ctx context.Context, channelID, accountID string) error {
	previous, err := r.rdb.Get(ctx, r.channelKey(channelID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("bind channel %s: %w", channelID, err)
	}

	expiry := r.now().Add(r.ttl)
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != "" && previous != accountID {
			pipe.ZRem(ctx, r.accountKey(previous), channelID)
		}
		pipe.Set(ctx, r.channelKey(channelID), accountID, r.ttl)
		pipe.ZAdd(ctx, r.accountKey(accountID), redis.Z{Score: float64(expiry.UnixMilli()), Member: channelID})
		pipe.Expire(ctx, r.accountKey(accountID), r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("bind channel %s: %w", channelID, err)
	}
	return nil
}

func (r *Redis) Unbind(ctx context.Context, channelID string) error {
	accountID, err := r.rdb.Get(ctx, r.channelKey(channelID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("unbind channel %s: %w", channelID, err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.channelKey(channelID))
		pipe.ZRem(ctx, r.accountKey(accountID), channelID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("unbind channel %s: %w", channelID, err)
	}
	return nil
}

// ChannelsFor trims expired members before listing.
func (r *Redis) ChannelsFor(ctx context.Context, accountID string) ([]string, error) {
	key := r.accountKey(accountID)
	now := strconv.FormatInt(r.now().UnixMilli(), 10)

	var live *redis.StringSliceCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", now)
		live = pipe.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "(" + now, Max: "+inf"})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list channels for %s: %w", accountID, err)
	}
	return live.Val(), nil
}
