package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fillscope/internal/domain"
)

func TestAccountCacheExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 14, 12, 0, 0, 0, time.UTC)
	c := NewAccountCache()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, domain.AccountInfo{Address: "0xABC"}, time.Hour))

	got, err := c.Get(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "0xABC", got.Address)

	now = now.Add(time.Hour)
	_, err = c.Get(ctx, "0xABC")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAccountCacheCleanup(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 14, 12, 0, 0, 0, time.UTC)
	c := NewAccountCache()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, domain.AccountInfo{Address: "a"}, time.Minute))
	require.NoError(t, c.Set(ctx, domain.AccountInfo{Address: "b"}, time.Hour))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, c.Cleanup())
	_, err := c.Get(ctx, "b")
	assert.NoError(t, err)
}
