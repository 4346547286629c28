package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/rajasatyajit/EstateHub/internal/logger"
)

func TestSweeper_SweepOnce(t *testing.T) {
	logger.Init("error", "text")

	l, clock := newTestLedger()
	ctx := context.Background()
	if _, err := l.TryClaim(ctx, "vnpay:old", "vnpay"); err != nil {
		t.Fatal(err)
	}
	clock.Advance(5 * time.Minute)
	if _, err := l.TryClaim(ctx, "vnpay:new", "vnpay"); err != nil {
		t.Fatal(err)
	}

	s := NewSweeper(l, 2*time.Minute, time.Hour)

	refs, err := s.SweepOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0] != "vnpay:old" {
		t.Fatalf("refs = %v", refs)
	}

	e, _ := l.Get(ctx, "vnpay:new")
	if e.Status != StatusPending {
		t.Errorf("fresh entry should stay pending, got %s", e.Status)
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	logger.Init("error", "text")

	l := NewMemoryLedger()
	if _, err := l.TryClaim(context.Background(), "momo:1", "momo"); err != nil {
		t.Fatal(err)
	}

	// Zero timeout: everything claimed before now is stale
	s := NewSweeper(l, 0, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		e, _ := l.Get(context.Background(), "momo:1")
		if e.Status == StatusRejected {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweeper never rejected the stale entry")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
