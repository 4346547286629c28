package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	apperrors "github.com/rajasatyajit/EstateHub/internal/errors"
)

const draftKeyPrefix = "estatehub:draft:"

// newDraftID returns 32 lowercase hex characters, the form order descriptors carry.
func newDraftID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// RedisDraftStore keeps drafts in Redis so every instance sees them; Redis
// expires them after ttl.
type RedisDraftStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisDraftStore(client *redis.Client, ttl time.Duration) *RedisDraftStore {
	return &RedisDraftStore{redis: client, ttl: ttl}
}

func (s *RedisDraftStore) Save(ctx context.Context, d ProfileDraft) (string, error) {
	d.ID = newDraftID()
	d.CreatedAt = time.Now().UTC()

	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode draft: %w", err)
	}
	if err := s.redis.Set(ctx, draftKeyPrefix+d.ID, b, s.ttl).Err(); err != nil {
		return "", apperrors.Unavailable("save draft", err)
	}
	return d.ID, nil
}

func (s *RedisDraftStore) Get(ctx context.Context, id string) (*ProfileDraft, error) {
	b, err := s.redis.Get(ctx, draftKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("draft %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, apperrors.Unavailable("get draft", err)
	}

	var d ProfileDraft
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("decode draft %s: %w", id, err)
	}
	return &d, nil
}

func (s *RedisDraftStore) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, draftKeyPrefix+id).Err(); err != nil {
		return apperrors.Unavailable("delete draft", err)
	}
	return nil
}
