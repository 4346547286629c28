package store

import (
	"context"
	"time"

	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	redis "github.com/redis/go-redis/v9"

	"github.com/rajasatyajit/EstateHub/internal/order"
)

// User is the part of a marketplace account the payment service reads and writes
type User struct {
	ID    int64      `json:"id"`
	Email string     `json:"email,omitempty"`
	Tier  order.Plan `json:"tier"`
}

// AgentProfile is a provisioned real-estate agent profile
type AgentProfile struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Phone       string    `json:"phone,omitempty"`
	Agency      string    `json:"agency,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProfileDraft holds agent profile details captured at checkout until the
// payment is confirmed.
type ProfileDraft struct {
	ID          string    `json:"id"`
	UserID      int64     `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Phone       string    `json:"phone,omitempty"`
	Agency      string    `json:"agency,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserStore reads users and raises their tier
type UserStore interface {
	// Get returns ErrUserNotFound when the user does not exist.
	Get(ctx context.Context, id int64) (*User, error)
	// SetTier raises the tier if tier ranks above the current one. A lower or
	// equal tier is a no-op; changed reports whether a write happened.
	SetTier(ctx context.Context, id int64, tier order.Plan) (changed bool, err error)
}

// ProfileStore provisions agent profiles, at most one per user
type ProfileStore interface {
	ExistsForUser(ctx context.Context, userID int64) (bool, error)
	// Create returns ErrConflict and the existing id when the user already has a profile.
	Create(ctx context.Context, p AgentProfile) (int64, error)
}

// DraftStore keeps profile drafts for a limited time
type DraftStore interface {
	Save(ctx context.Context, d ProfileDraft) (string, error)
	// Get returns ErrNotFound once the draft expired.
	Get(ctx context.Context, id string) (*ProfileDraft, error)
	Delete(ctx context.Context, id string) error
}

// Database interface for dependency injection
type Database interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	IsConfigured() bool
}

// Stores bundles the collaborators the payment core depends on
type Stores struct {
	Users    UserStore
	Profiles ProfileStore
	Drafts   DraftStore
}

// New picks Postgres for users and profiles when db is configured and Redis
// for drafts when rdb is non-nil, falling back to memory otherwise.
func New(db Database, rdb *redis.Client, draftTTL time.Duration) Stores {
	var s Stores
	if db != nil && db.IsConfigured() {
		s.Users = NewPostgresUserStore(db)
		s.Profiles = NewPostgresProfileStore(db)
	} else {
		s.Users = NewMemoryUserStore()
		s.Profiles = NewMemoryProfileStore()
	}
	if rdb != nil {
		s.Drafts = NewRedisDraftStore(rdb, draftTTL)
	} else {
		s.Drafts = NewMemoryDraftStore(draftTTL)
	}
	return s
}
