package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/fillscope/internal/domain"
)

// AccountCache implements domain.AccountCache with one JSON string per
// wallet under account:{lower(address)}.
type AccountCache struct {
	rdb *redis.Client
}

// NewAccountCache creates an AccountCache backed by c.
func NewAccountCache(c *Client) *AccountCache {
	return &AccountCache{rdb: c.rdb}
}

func accountKey(address string) string {
	return "account:" + strings.ToLower(strings.TrimSpace(address))
}

// Get returns domain.ErrNotFound when the entry is missing or expired.
func (ac *AccountCache) Get(ctx context.Context, address string) (domain.AccountInfo, error) {
	data, err := ac.rdb.Get(ctx, accountKey(address)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.AccountInfo{}, domain.ErrNotFound
		}
		return domain.AccountInfo{}, fmt.Errorf("redis: get account %s: %w", address, err)
	}
	var info domain.AccountInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return domain.AccountInfo{}, fmt.Errorf("redis: unmarshal account %s: %w", address, err)
	}
	return info, nil
}

// Set stores info for ttl.
func (ac *AccountCache) Set(ctx context.Context, info domain.AccountInfo, ttl time.Duration) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("redis: marshal account %s: %w", info.Address, err)
	}
	if err := ac.rdb.Set(ctx, accountKey(info.Address), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set account %s: %w", info.Address, err)
	}
	return nil
}

var _ domain.AccountCache = (*AccountCache)(nil)
