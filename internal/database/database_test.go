package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rajasatyajit/EstateHub/config"
	apperrors "github.com/rajasatyajit/EstateHub/internal/errors"
	"github.com/rajasatyajit/EstateHub/internal/logger"
)

func TestNew_NoDatabase(t *testing.T) {
	logger.Init("error", "text")

	cfg := config.DatabaseConfig{
		URL: "",
	}

	db, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Expected no error for empty database URL, got %v", err)
	}
	if db == nil {
		t.Fatal("Expected DB instance, got nil")
	}
	if db.Pool() != nil {
		t.Error("Expected pool to be nil when no database URL provided")
	}
	if db.IsConfigured() {
		t.Error("Expected IsConfigured to return false when no database")
	}
}

func TestNew_InvalidURL(t *testing.T) {
	cfg := config.DatabaseConfig{
		URL: "invalid-url",
	}

	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("Expected error for invalid database URL, got nil")
	}
}

func TestDB_Operations_NoPool(t *testing.T) {
	db := &DB{}
	ctx := context.Background()

	if _, err := db.Exec(ctx, "SELECT 1"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Exec: expected ErrNotConfigured, got %v", err)
	}

	if _, err := db.Query(ctx, "SELECT 1"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Query: expected ErrNotConfigured, got %v", err)
	}

	var n int
	if err := db.QueryRow(ctx, "SELECT 1").Scan(&n); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("QueryRow: expected ErrNotConfigured, got %v", err)
	}

	if err := db.Health(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Health: expected ErrNotConfigured, got %v", err)
	}

	if err := db.Migrate(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Migrate: expected ErrNotConfigured, got %v", err)
	}
}

func TestDB_Close(t *testing.T) {
	db := &DB{}
	// Should not panic when closing with no pool
	db.Close()
}

func TestDB_CollectMetrics_NoPool(t *testing.T) {
	db := &DB{}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// returns immediately when no pool
	db.collectMetrics(ctx)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantNil   bool
		notFound  bool
		retryable bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "no rows", err: pgx.ErrNoRows, notFound: true},
		{name: "wrapped no rows", err: fmt.Errorf("scan: %w", pgx.ErrNoRows), notFound: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505", Message: "duplicate key"}},
		{name: "connection refused", err: errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), retryable: true},
		{name: "deadline", err: context.DeadlineExceeded, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("op", tt.err)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
				return
			}
			if errors.Is(got, apperrors.ErrNotFound) != tt.notFound {
				t.Errorf("ErrNotFound match = %v, want %v (%v)", !tt.notFound, tt.notFound, got)
			}
			if apperrors.IsRetryable(got) != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v (%v)", !tt.retryable, tt.retryable, got)
			}
		})
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one embedded migration")
	}
}

func BenchmarkDB_Health(b *testing.B) {
	db := &DB{}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = db.Health(ctx)
	}
}

func TestOpenRedis(t *testing.T) {
	logger.Init("error", "text")
	ctx := context.Background()

	client, err := OpenRedis(ctx, config.RedisConfig{})
	if err != nil || client != nil {
		t.Fatalf("empty URL should yield no client, got %v, %v", client, err)
	}

	if _, err := OpenRedis(ctx, config.RedisConfig{URL: "://bad"}); err == nil {
		t.Error("expected parse error for bad URL")
	}

	s := miniredis.RunT(t)
	client, err = OpenRedis(ctx, config.RedisConfig{URL: "redis://" + s.Addr()})
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	defer client.Close()
	if err := client.Set(ctx, "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
}
