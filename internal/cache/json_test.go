package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestJSONRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := New(client, time.Minute)
	ctx := context.Background()

	var out map[string]int
	ok, err := c.Get(ctx, "missing", &out)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, KeyQuote("u1", 3), map[string]int{"total": 14170}))
	ok, err = c.Get(ctx, "checkout:quote:u1:3", &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 14170, out["total"])
	require.Equal(t, time.Minute, mr.TTL("checkout:quote:u1:3"))

	require.NoError(t, c.Delete(ctx, KeyQuote("u1", 3)))
	require.False(t, mr.Exists("checkout:quote:u1:3"))
}

func TestNilClientAlwaysMisses(t *testing.T) {
	c := New(nil, time.Minute)
	var out any
	ok, err := c.Get(context.Background(), "k", &out)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, c.Set(context.Background(), "k", 1))
}
