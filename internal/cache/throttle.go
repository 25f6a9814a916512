package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// atomic fixed-window counter
var throttleScript = redis.NewScript(`
	local current = redis.call('incr', KEYS[1])
	if current == 1 then
		redis.call('expire', KEYS[1], tonumber(ARGV[2]))
	end
	if current > tonumber(ARGV[1]) then
		return 0
	end
	return 1
`)

// LoginThrottle limits login attempts per client origin across all cards.
type LoginThrottle struct {
	client *redis.Client
	max    int
	window time.Duration
	prefix string
}

// NewLoginThrottle creates a throttle allowing max attempts per window.
func NewLoginThrottle(client *redis.Client, max int, window time.Duration) *LoginThrottle {
	return &LoginThrottle{client: client, max: max, window: window, prefix: "atm:login"}
}

// NewClient opens a Redis client and verifies connectivity.
func NewClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// Allow records one attempt for origin and reports whether it is within the limit.
// Errors are returned with allowed=true; callers decide whether to fail open.
func (t *LoginThrottle) Allow(ctx context.Context, origin string) (bool, error) {
	if origin == "" {
		return true, nil
	}
	seconds := int(t.window / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	key := fmt.Sprintf("%s:%s", t.prefix, origin)
	res, err := throttleScript.Run(ctx, t.client, []string{key}, t.max, seconds).Int()
	if err != nil {
		return true, fmt.Errorf("login throttle check: %w", err)
	}
	return res == 1, nil
}
