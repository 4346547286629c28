package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func newTestManager(t *testing.T, perMinute int) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewManager(client, perMinute), s
}

func TestManagerAllowPerMinute(t *testing.T) {
	m, s := newTestManager(t, 3)
	m.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 15, 0, time.UTC) }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _, err := m.Allow(ctx, "42", "checkout")
		if err != nil || !ok {
			t.Fatalf("request %d: allowed=%v err=%v", i, ok, err)
		}
	}

	ok, reset, err := m.Allow(ctx, "42", "checkout")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected fourth request in the window to be limited")
	}
	if reset != 45 {
		t.Errorf("expected reset in 45s, got %d", reset)
	}

	// Other subjects have their own window
	if ok, _, _ := m.Allow(ctx, "43", "checkout"); !ok {
		t.Error("different user should not be limited")
	}

	// Next minute starts a fresh window
	m.now = func() time.Time { return time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC) }
	s.FastForward(time.Minute)
	if ok, _, _ := m.Allow(ctx, "42", "checkout"); !ok {
		t.Error("expected fresh window to allow")
	}
}

func TestManagerNilAllows(t *testing.T) {
	var m *Manager
	if NewManager(nil, 5) != nil {
		t.Fatal("expected nil manager without client")
	}
	ok, _, err := m.Allow(context.Background(), "1", "checkout")
	if !ok || err != nil {
		t.Fatalf("nil manager should allow, got %v %v", ok, err)
	}
}

func TestManagerRedisDown(t *testing.T) {
	m, s := newTestManager(t, 3)
	s.Close()
	if _, _, err := m.Allow(context.Background(), "1", "checkout"); err == nil {
		t.Fatal("expected error when redis is unreachable")
	}
}
