package store

import (
	"context"
	"errors"
	"fmt"

	pgx "github.com/jackc/pgx/v5"

	"github.com/rajasatyajit/EstateHub/internal/database"
	apperrors "github.com/rajasatyajit/EstateHub/internal/errors"
	"github.com/rajasatyajit/EstateHub/internal/order"
)

// PostgresUserStore implements UserStore on the users table
type PostgresUserStore struct {
	db Database
}

func NewPostgresUserStore(db Database) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

func (s *PostgresUserStore) Get(ctx context.Context, id int64) (*User, error) {
	var u User
	var tier string
	err := s.db.QueryRow(ctx, `SELECT id, email, tier FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &tier)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, apperrors.ErrUserNotFound)
	}
	if err != nil {
		return nil, database.Classify("get user", err)
	}
	u.Tier = order.Plan(tier)
	return &u, nil
}

// SetTier is a compare-and-set on tier_rank, so a late or duplicated
// notification for a lower plan never overwrites a higher tier.
func (s *PostgresUserStore) SetTier(ctx context.Context, id int64, tier order.Plan) (bool, error) {
	if !tier.Valid() {
		return false, apperrors.ValidationError{Field: "tier", Message: fmt.Sprintf("unknown tier %q", tier)}
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE users SET tier = $2, updated_at = NOW()
		WHERE id = $1 AND tier_rank(tier) < tier_rank($2)`,
		id, string(tier),
	)
	if err != nil {
		return false, database.Classify("set tier", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Nothing updated: either already at or above tier, or no such user
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// PostgresProfileStore implements ProfileStore on agent_profiles
type PostgresProfileStore struct {
	db Database
}

func NewPostgresProfileStore(db Database) *PostgresProfileStore {
	return &PostgresProfileStore{db: db}
}

func (s *PostgresProfileStore) ExistsForUser(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM agent_profiles WHERE user_id = $1)`, userID,
	).Scan(&exists)
	if err != nil {
		return false, database.Classify("profile exists", err)
	}
	return exists, nil
}

func (s *PostgresProfileStore) Create(ctx context.Context, p AgentProfile) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO agent_profiles (user_id, display_name, phone, agency)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING id`,
		p.UserID, p.DisplayName, p.Phone, p.Agency,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, database.Classify("create profile", err)
	}

	err = s.db.QueryRow(ctx, `SELECT id FROM agent_profiles WHERE user_id = $1`, p.UserID).Scan(&id)
	if err != nil {
		return 0, database.Classify("read profile", err)
	}
	return id, fmt.Errorf("agent profile for user %d: %w", p.UserID, apperrors.ErrConflict)
}
