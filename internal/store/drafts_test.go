package store

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	apperrors "github.com/rajasatyajit/EstateHub/internal/errors"
	"github.com/rajasatyajit/EstateHub/internal/order"
)

func TestRedisDraftStore_RoundTripAndTTL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	s := NewRedisDraftStore(rdb, 30*time.Minute)
	ctx := context.Background()

	id, err := s.Save(ctx, ProfileDraft{UserID: 42, DisplayName: "Minh Tran", Phone: "0901234567"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !isHex32(id) {
		t.Fatalf("draft id %q is not 32 lowercase hex", id)
	}
	if ttl := mr.TTL(draftKeyPrefix + id); ttl != 30*time.Minute {
		t.Errorf("expected 30m TTL, got %v", ttl)
	}

	d, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d.UserID != 42 || d.DisplayName != "Minh Tran" || d.ID != id {
		t.Errorf("unexpected draft %+v", d)
	}

	mr.FastForward(31 * time.Minute)
	if _, err := s.Get(ctx, id); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestRedisDraftStore_Delete(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	s := NewRedisDraftStore(rdb, time.Hour)
	ctx := context.Background()

	id, _ := s.Save(ctx, ProfileDraft{UserID: 1})
	if err := s.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	if mr.Exists(draftKeyPrefix + id) {
		t.Error("draft key still present after delete")
	}
}

func TestRedisDraftStore_UnavailableIsRetryable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	s := NewRedisDraftStore(rdb, time.Hour)
	_, err := s.Get(context.Background(), "0123456789abcdef0123456789abcdef")
	if !apperrors.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestNewDraftIDIsAcceptedByOrderCodec(t *testing.T) {
	id := newDraftID()
	d := order.Descriptor{UserID: 1, Plan: order.PlanPro1, Kind: order.KindAgentProfile, DraftID: id}
	if err := d.Validate(); err != nil {
		t.Fatalf("draft id %q rejected: %v", id, err)
	}
}

func isHex32(s string) bool {
	if len(s) != 32 {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
