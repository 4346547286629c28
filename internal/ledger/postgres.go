package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	pgx "github.com/jackc/pgx/v5"

	"github.com/rajasatyajit/EstateHub/internal/database"
	apperrors "github.com/rajasatyajit/EstateHub/internal/errors"
)

// PostgresLedger implements Ledger on the payment_ledger table. The primary
// key on order_ref makes claims atomic across process instances.
type PostgresLedger struct {
	db Database
}

// NewPostgresLedger creates a new PostgreSQL ledger
func NewPostgresLedger(db Database) *PostgresLedger {
	return &PostgresLedger{db: db}
}

const claimSQL = `
	INSERT INTO payment_ledger (order_ref, gateway, status, attempt, claimed_at, updated_at)
	VALUES ($1, $2, 'pending', 1, NOW(), NOW())
	ON CONFLICT (order_ref) DO UPDATE SET
		status = 'pending',
		reason = '',
		retryable = FALSE,
		attempt = payment_ledger.attempt + 1,
		claimed_at = NOW(),
		applied_at = NULL,
		updated_at = NOW()
	WHERE payment_ledger.status = 'rejected' AND payment_ledger.retryable
	RETURNING attempt
`

func (l *PostgresLedger) TryClaim(ctx context.Context, orderRef, gateway string) (Claim, error) {
	if orderRef == "" {
		return Claim{}, apperrors.ValidationError{Field: "order_ref", Message: "required"}
	}

	var attempt int
	err := l.db.QueryRow(ctx, claimSQL, orderRef, gateway).Scan(&attempt)
	if err == nil {
		return Claim{Claimed: true, Attempt: attempt, Status: StatusPending}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Claim{}, database.Classify("claim "+orderRef, err)
	}

	// Conflict without update: somebody else holds or resolved the entry
	var status Status
	err = l.db.QueryRow(ctx,
		`SELECT status, attempt FROM payment_ledger WHERE order_ref = $1`, orderRef,
	).Scan(&status, &attempt)
	if err != nil {
		return Claim{}, database.Classify("read claim "+orderRef, err)
	}
	return Claim{Claimed: false, Attempt: attempt, Status: status}, nil
}

func (l *PostgresLedger) Finalize(ctx context.Context, orderRef string, attempt int, out Outcome) error {
	if err := out.validate(); err != nil {
		return err
	}

	tag, err := l.db.Exec(ctx, `
		UPDATE payment_ledger SET
			status = $3::text,
			reason = $4,
			retryable = FALSE,
			applied_at = CASE WHEN $3::text = 'applied' THEN NOW() ELSE NULL END,
			updated_at = NOW()
		WHERE order_ref = $1 AND attempt = $2 AND status = 'pending'`,
		orderRef, attempt, string(out.Status), out.Reason,
	)
	if err != nil {
		return database.Classify("finalize "+orderRef, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finalize %s attempt %d: %w", orderRef, attempt, apperrors.ErrClaimLost)
	}
	return nil
}

func (l *PostgresLedger) SweepStale(ctx context.Context, timeout time.Duration) ([]string, error) {
	rows, err := l.db.Query(ctx, `
		UPDATE payment_ledger SET
			status = 'rejected',
			reason = $2,
			retryable = TRUE,
			updated_at = NOW()
		WHERE status = 'pending' AND claimed_at < NOW() - make_interval(secs => $1::float8)
		RETURNING order_ref`,
		timeout.Seconds(), ReasonStale,
	)
	if err != nil {
		return nil, database.Classify("sweep ledger", err)
	}

	refs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, database.Classify("sweep ledger", err)
	}
	return refs, nil
}

const entryColumns = `order_ref, gateway, status, reason, retryable, attempt, claimed_at, applied_at, updated_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.OrderRef, &e.Gateway, &e.Status, &e.Reason, &e.Retryable,
		&e.Attempt, &e.ClaimedAt, &e.AppliedAt, &e.UpdatedAt)
	return e, err
}

func (l *PostgresLedger) Get(ctx context.Context, orderRef string) (*Entry, error) {
	e, err := scanEntry(l.db.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM payment_ledger WHERE order_ref = $1`, orderRef))
	if err != nil {
		return nil, database.Classify("get ledger entry "+orderRef, err)
	}
	return &e, nil
}

func (l *PostgresLedger) List(ctx context.Context, f Filter) ([]Entry, error) {
	rows, err := l.db.Query(ctx, `
		SELECT `+entryColumns+` FROM payment_ledger
		WHERE ($1 = '' OR status = $1)
		ORDER BY updated_at DESC, order_ref
		LIMIT $2`,
		string(f.Status), f.limit(),
	)
	if err != nil {
		return nil, database.Classify("list ledger", err)
	}
	defer rows.Close()

	result := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, database.Classify("scan ledger entry", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Classify("list ledger", err)
	}
	return result, nil
}
