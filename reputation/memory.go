package reputation

import (
	"context"
	"sync"

	"saferoute/models"
)

// MemoryStore keeps profiles in process memory. Updates to the same user are
// serialized by a per-user mutex; different users proceed in parallel.
// The lock map is never pruned and grows with every user seen, so the store
// is meant for tests and local development only.
type MemoryStore struct {
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	profiles map[string]*models.Profile
}

// NewMemoryStore creates an empty in-memory profile store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:    make(map[string]*sync.Mutex),
		profiles: make(map[string]*models.Profile),
	}
}

func (s *MemoryStore) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

func (s *MemoryStore) load(userID string) (*models.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

func (s *MemoryStore) save(p *models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p.Clone()
}

// CreateProfile stores p unless the user already has a profile
func (s *MemoryStore) CreateProfile(_ context.Context, p *models.Profile) error {
	l := s.userLock(p.UserID)
	l.Lock()
	defer l.Unlock()
	if _, ok := s.load(p.UserID); ok {
		return nil
	}
	s.save(p)
	return nil
}

// GetProfile returns a copy of the stored profile
func (s *MemoryStore) GetProfile(_ context.Context, userID string) (*models.Profile, error) {
	p, ok := s.load(userID)
	if !ok {
		return nil, ErrProfileNotFound
	}
	return p, nil
}

// UpdateProfile runs fn on the user's profile while holding the user's lock
func (s *MemoryStore) UpdateProfile(ctx context.Context, userID string, fn func(*models.Profile) error) (*models.Profile, error) {
	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := s.load(userID)
	if !ok {
		p = models.NewProfile(userID)
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	s.save(p)
	return p.Clone(), nil
}
