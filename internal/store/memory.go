package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/rajasatyajit/EstateHub/internal/errors"
	"github.com/rajasatyajit/EstateHub/internal/order"
)

// MemoryUserStore implements UserStore in memory
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[int64]User
}

// NewMemoryUserStore creates a store seeded with users
func NewMemoryUserStore(users ...User) *MemoryUserStore {
	s := &MemoryUserStore{users: make(map[int64]User, len(users))}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

// Put inserts or replaces a user
func (s *MemoryUserStore) Put(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *MemoryUserStore) Get(ctx context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, apperrors.ErrUserNotFound)
	}
	return &u, nil
}

func (s *MemoryUserStore) SetTier(ctx context.Context, id int64, tier order.Plan) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return false, fmt.Errorf("user %d: %w", id, apperrors.ErrUserNotFound)
	}
	if tier.Rank() <= u.Tier.Rank() {
		return false, nil
	}
	u.Tier = tier
	s.users[id] = u
	return true, nil
}

// MemoryProfileStore implements ProfileStore in memory
type MemoryProfileStore struct {
	mu       sync.RWMutex
	nextID   int64
	profiles map[int64]AgentProfile // by user id
}

func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[int64]AgentProfile)}
}

func (s *MemoryProfileStore) ExistsForUser(ctx context.Context, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.profiles[userID]
	return ok, nil
}

func (s *MemoryProfileStore) Create(ctx context.Context, p AgentProfile) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.profiles[p.UserID]; ok {
		return existing.ID, fmt.Errorf("agent profile for user %d: %w", p.UserID, apperrors.ErrConflict)
	}
	s.nextID++
	p.ID = s.nextID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.profiles[p.UserID] = p
	return p.ID, nil
}

// Count returns the number of profiles; used by tests and diagnostics
func (s *MemoryProfileStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

// MemoryDraftStore implements DraftStore in memory. It is the single-process
// fallback when Redis is not configured; expired drafts are dropped on Get
// and pruned on every Save.
type MemoryDraftStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	drafts map[string]ProfileDraft
	now    func() time.Time
}

func NewMemoryDraftStore(ttl time.Duration) *MemoryDraftStore {
	return &MemoryDraftStore{ttl: ttl, drafts: make(map[string]ProfileDraft), now: time.Now}
}

func (s *MemoryDraftStore) Save(ctx context.Context, d ProfileDraft) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if s.ttl > 0 {
		for id, old := range s.drafts {
			if now.Sub(old.CreatedAt) > s.ttl {
				delete(s.drafts, id)
			}
		}
	}

	d.ID = newDraftID()
	d.CreatedAt = now
	s.drafts[d.ID] = d
	return d.ID, nil
}

func (s *MemoryDraftStore) Get(ctx context.Context, id string) (*ProfileDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drafts[id]
	if !ok {
		return nil, fmt.Errorf("draft %s: %w", id, apperrors.ErrNotFound)
	}
	if s.ttl > 0 && s.now().Sub(d.CreatedAt) > s.ttl {
		delete(s.drafts, id)
		return nil, fmt.Errorf("draft %s expired: %w", id, apperrors.ErrNotFound)
	}
	return &d, nil
}

func (s *MemoryDraftStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, id)
	return nil
}

// Len reports how many drafts are held, expired or not
func (s *MemoryDraftStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.drafts)
}
