package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type agingStub struct {
	Total float64 `json:"total"`
}

func newTestCache(t *testing.T) *Versioned {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewVersioned(client, "ap:aging", time.Minute)
}

func TestFetchJSONCachesUntilBump(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return agingStub{Total: float64(calls) * 100}, nil
	}

	key, err := c.BuildKey(ctx, "2024-05-01")
	require.NoError(t, err)
	require.Equal(t, "ap:aging:2024-05-01:1", key)

	var got agingStub
	require.NoError(t, c.FetchJSON(ctx, key, &got, loader))
	require.Equal(t, 100.0, got.Total)
	require.NoError(t, c.FetchJSON(ctx, key, &got, loader))
	require.Equal(t, 1, calls)

	require.NoError(t, c.Bump(ctx))
	key, err = c.BuildKey(ctx, "2024-05-01")
	require.NoError(t, err)
	require.Equal(t, "ap:aging:2024-05-01:2", key)
	require.NoError(t, c.FetchJSON(ctx, key, &got, loader))
	require.Equal(t, 200.0, got.Total)
	require.Equal(t, 2, calls)
}

func TestFetchJSONWithoutClient(t *testing.T) {
	ctx := context.Background()
	c := NewVersioned(nil, "ap:aging", time.Minute)
	key, err := c.BuildKey(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, "ap:aging:x:0", key)
	var got agingStub
	require.NoError(t, c.FetchJSON(ctx, key, &got, func(context.Context) (any, error) {
		return agingStub{Total: 7}, nil
	}))
	require.Equal(t, 7.0, got.Total)
	require.NoError(t, c.Bump(ctx))
}
