package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestLoginThrottle_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	th := NewLoginThrottle(client, 1, time.Minute)
	allowed, err := th.Allow(context.Background(), "10.0.0.1")
	require.Error(t, err)
	require.True(t, allowed)
}

func TestLoginThrottle_EmptyOrigin(t *testing.T) {
	th := NewLoginThrottle(nil, 1, time.Minute)
	allowed, err := th.Allow(context.Background(), "")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestNewClient_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := NewClient(ctx, "127.0.0.1:1", "")
	require.Error(t, err)
}
