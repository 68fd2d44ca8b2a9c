package auth

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps actors and codes in process memory. It backs local
// development and tests; production deployments use the Postgres store.
type InMemoryStore struct {
	mu      sync.RWMutex
	actors  map[string]Actor     // by id
	byPhone map[string]string    // phone -> id
	codes   map[string][]OTPCode // by phone, oldest first
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		actors:  make(map[string]Actor),
		byPhone: make(map[string]string),
		codes:   make(map[string][]OTPCode),
	}
}

func (s *InMemoryStore) CreateActor(_ context.Context, a Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actors[a.ID]; ok {
		return ErrActorExists
	}
	if _, ok := s.byPhone[a.Phone]; ok {
		return ErrActorExists
	}
	s.actors[a.ID] = a
	s.byPhone[a.Phone] = a.ID
	return nil
}

func (s *InMemoryStore) GetActor(_ context.Context, id string) (Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actors[id]
	if !ok {
		return Actor{}, ErrNotFound
	}
	return a, nil
}

func (s *InMemoryStore) GetActorByPhone(_ context.Context, phone string) (Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPhone[phone]
	if !ok {
		return Actor{}, ErrNotFound
	}
	return s.actors[id], nil
}

func (s *InMemoryStore) UpdateActor(_ context.Context, a Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.actors[a.ID]
	if !ok {
		return ErrNotFound
	}
	if old.Phone != a.Phone {
		if _, taken := s.byPhone[a.Phone]; taken {
			return ErrActorExists
		}
		delete(s.byPhone, old.Phone)
		s.byPhone[a.Phone] = a.ID
	}
	s.actors[a.ID] = a
	return nil
}

func (s *InMemoryStore) ListActors(_ context.Context) ([]Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Actor, 0, len(s.actors))
	for _, a := range s.actors {
		out = append(out, a)
	}
	return out, nil
}

func (s *InMemoryStore) CreateCode(_ context.Context, c OTPCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[c.Phone] = append(s.codes[c.Phone], c)
	return nil
}

func (s *InMemoryStore) SupersedeActive(_ context.Context, phone string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	retired := 0
	log := s.codes[phone]
	for i := range log {
		if !log[i].Used && log[i].ExpiresAt.After(now) {
			log[i].Used = true
			log[i].UsedReason = CodeReasonSuperseded
			retired++
		}
	}
	return retired, nil
}

func (s *InMemoryStore) ConsumeCode(_ context.Context, phone, code string, now time.Time) (OTPCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.codes[phone]
	for i := range log {
		if log[i].Code != code || log[i].Used {
			continue
		}
		if !log[i].ExpiresAt.After(now) {
			continue
		}
		log[i].Used = true
		log[i].UsedReason = CodeReasonVerified
		return log[i], nil
	}
	return OTPCode{}, ErrInvalidCode
}

// CodesForPhone returns a copy of the code log. Exposed for tests.
func (s *InMemoryStore) CodesForPhone(phone string) []OTPCode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]OTPCode(nil), s.codes[phone]...)
}
