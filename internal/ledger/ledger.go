// Package ledger records, per gateway order reference, whether a payment has
// been applied. A claim on an entry is the only synchronization point between
// concurrent deliveries of the same payment.
package ledger

import (
	"context"
	"fmt"
	"time"

	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/rajasatyajit/EstateHub/internal/errors"
)

// Status of a ledger entry
type Status string

const (
	StatusPending  Status = "pending"
	StatusApplied  Status = "applied"
	StatusRejected Status = "rejected"
)

// Rejection reasons
const (
	ReasonStale        = "stale"
	ReasonUserNotFound = "user_not_found"
	ReasonInternal     = "internal"
)

// Entry is one row of the ledger
type Entry struct {
	OrderRef  string     `json:"order_ref"`
	Gateway   string     `json:"gateway"`
	Status    Status     `json:"status"`
	Reason    string     `json:"reason,omitempty"`
	Retryable bool       `json:"retryable"`
	Attempt   int        `json:"attempt"`
	ClaimedAt time.Time  `json:"claimed_at"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Claim is the result of TryClaim. When Claimed is false, Status holds the
// state of the entry that blocked the claim.
type Claim struct {
	Claimed bool
	Attempt int
	Status  Status
}

// Outcome is the terminal state written by Finalize
type Outcome struct {
	Status Status
	Reason string
}

// Applied is the successful outcome
func Applied() Outcome { return Outcome{Status: StatusApplied} }

// Rejected is a permanent failure with a reason
func Rejected(reason string) Outcome { return Outcome{Status: StatusRejected, Reason: reason} }

func (o Outcome) validate() error {
	if o.Status != StatusApplied && o.Status != StatusRejected {
		return apperrors.ValidationError{Field: "status", Message: fmt.Sprintf("cannot finalize to %q", o.Status)}
	}
	return nil
}

// Filter narrows List
type Filter struct {
	Status Status
	Limit  int
}

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	default:
		return f.Limit
	}
}

// Ledger is the exactly-once claim record.
type Ledger interface {
	// TryClaim inserts a pending entry for orderRef unless one exists. A
	// rejected entry marked retryable is claimed again with a new attempt.
	TryClaim(ctx context.Context, orderRef, gateway string) (Claim, error)
	// Finalize moves the pending entry held by attempt to its outcome.
	// It returns ErrClaimLost when the entry is no longer held by attempt.
	Finalize(ctx context.Context, orderRef string, attempt int, out Outcome) error
	// SweepStale rejects pending entries claimed more than timeout ago as
	// retryable and returns their references. Age is measured on the
	// ledger's own clock, the same one that stamped the claim.
	SweepStale(ctx context.Context, timeout time.Duration) ([]string, error)
	Get(ctx context.Context, orderRef string) (*Entry, error)
	List(ctx context.Context, f Filter) ([]Entry, error)
}

// Database interface for dependency injection
type Database interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	IsConfigured() bool
}

// New creates a ledger backed by Postgres when db is configured
func New(db Database) Ledger {
	if db != nil && db.IsConfigured() {
		return NewPostgresLedger(db)
	}
	// Single-process fallback; claims are not shared across instances
	return NewMemoryLedger()
}
