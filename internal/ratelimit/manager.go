package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Manager provides Redis-backed fixed-window rate limiting shared by all
// service instances. A nil *Manager allows everything.
type Manager struct {
	redis     *redis.Client
	perMinute int
	now       func() time.Time
}

// NewManager returns nil when client is nil so callers can skip limiting
// without branching.
func NewManager(client *redis.Client, perMinute int) *Manager {
	if client == nil {
		return nil
	}
	return &Manager{redis: client, perMinute: perMinute, now: time.Now}
}

// Allow counts one request by subject for action in the current minute. When
// the window is exhausted it returns allowed=false and the seconds until the
// window resets.
func (m *Manager) Allow(ctx context.Context, subject, action string) (allowed bool, resetSec int, err error) {
	if m == nil || m.perMinute <= 0 {
		return true, 0, nil
	}

	now := m.now().UTC()
	window := now.Unix() / 60
	key := fmt.Sprintf("rl:%s:%s:%d", action, subject, window)

	pipe := m.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", action, err)
	}

	if int(incr.Val()) > m.perMinute {
		return false, 60 - int(now.Unix()%60), nil
	}
	return true, 0, nil
}
