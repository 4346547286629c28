package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/rajasatyajit/EstateHub/internal/errors"
)

// MemoryLedger implements Ledger in process memory
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

func (l *MemoryLedger) TryClaim(ctx context.Context, orderRef, gateway string) (Claim, error) {
	if orderRef == "" {
		return Claim{}, apperrors.ValidationError{Field: "order_ref", Message: "required"}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, exists := l.entries[orderRef]
	switch {
	case !exists:
		e = &Entry{OrderRef: orderRef, Gateway: gateway, Status: StatusPending, Attempt: 1, ClaimedAt: now, UpdatedAt: now}
		l.entries[orderRef] = e
	case e.Status == StatusRejected && e.Retryable:
		e.Status = StatusPending
		e.Reason = ""
		e.Retryable = false
		e.Attempt++
		e.ClaimedAt = now
		e.UpdatedAt = now
	default:
		return Claim{Claimed: false, Attempt: e.Attempt, Status: e.Status}, nil
	}
	return Claim{Claimed: true, Attempt: e.Attempt, Status: StatusPending}, nil
}

func (l *MemoryLedger) Finalize(ctx context.Context, orderRef string, attempt int, out Outcome) error {
	if err := out.validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[orderRef]
	if !ok || e.Status != StatusPending || e.Attempt != attempt {
		return fmt.Errorf("finalize %s attempt %d: %w", orderRef, attempt, apperrors.ErrClaimLost)
	}

	now := l.now()
	e.Status = out.Status
	e.Reason = out.Reason
	e.Retryable = false
	e.UpdatedAt = now
	if out.Status == StatusApplied {
		e.AppliedAt = &now
	}
	return nil
}

func (l *MemoryLedger) SweepStale(ctx context.Context, timeout time.Duration) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var swept []string
	now := l.now()
	olderThan := now.Add(-timeout)
	for ref, e := range l.entries {
		if e.Status == StatusPending && e.ClaimedAt.Before(olderThan) {
			e.Status = StatusRejected
			e.Reason = ReasonStale
			e.Retryable = true
			e.UpdatedAt = now
			swept = append(swept, ref)
		}
	}
	sort.Strings(swept)
	return swept, nil
}

func (l *MemoryLedger) Get(ctx context.Context, orderRef string) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[orderRef]
	if !ok {
		return nil, fmt.Errorf("ledger entry %s: %w", orderRef, apperrors.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (l *MemoryLedger) List(ctx context.Context, f Filter) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		result = append(result, *e)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].OrderRef < result[j].OrderRef
		}
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})

	if n := f.limit(); len(result) > n {
		result = result[:n]
	}
	return result, nil
}
