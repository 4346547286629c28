package ledger

import (
	"context"
	"time"

	"github.com/rajasatyajit/EstateHub/internal/logger"
	"github.com/rajasatyajit/EstateHub/internal/metrics"
)

// Sweeper periodically rejects pending entries whose holder never finalized
// them, so a crash mid-processing cannot strand a payment.
type Sweeper struct {
	ledger   Ledger
	timeout  time.Duration
	interval time.Duration
}

// NewSweeper creates a sweeper; entries pending longer than timeout are
// swept every interval.
func NewSweeper(l Ledger, timeout, interval time.Duration) *Sweeper {
	return &Sweeper{ledger: l, timeout: timeout, interval: interval}
}

// Run sweeps until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) error {
	logger.Info("Starting ledger sweeper", "timeout", s.timeout, "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Ledger sweeper stopping")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				logger.Error("Ledger sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce runs a single sweep and returns the swept references
func (s *Sweeper) SweepOnce(ctx context.Context) ([]string, error) {
	refs, err := s.ledger.SweepStale(ctx, s.timeout)
	if err != nil {
		return nil, err
	}
	metrics.RecordLedgerSweep(len(refs))
	for _, ref := range refs {
		logger.Warn("Stale pending ledger entry rejected as retryable", "order_ref", ref)
	}
	return refs, nil
}
