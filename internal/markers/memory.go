package markers

import (
	"context"
	"sort"
	"sync"
)

// InMemoryStore keeps markers and moderation entries in process memory.
// Transition holds the write lock across the status check, update and audit
// append, so the two commit together.
type InMemoryStore struct {
	mu      sync.RWMutex
	markers map[string]Marker
	history map[string][]ModerationEntry // by marker id, oldest first
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		markers: make(map[string]Marker),
		history: make(map[string][]ModerationEntry),
	}
}

func (s *InMemoryStore) CreateMarker(_ context.Context, m Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[m.ID] = m
	return nil
}

func (s *InMemoryStore) GetMarker(_ context.Context, id string) (Marker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markers[id]
	if !ok {
		return Marker{}, ErrNotFound
	}
	return m, nil
}

func (s *InMemoryStore) UpdateMarker(_ context.Context, m Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markers[m.ID]; !ok {
		return ErrNotFound
	}
	s.markers[m.ID] = m
	return nil
}

func (s *InMemoryStore) DeleteMarker(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markers[id]; !ok {
		return ErrNotFound
	}
	delete(s.markers, id)
	delete(s.history, id)
	return nil
}

func (s *InMemoryStore) ListMarkers(_ context.Context, f Filter) ([]Marker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Marker
	for _, m := range s.markers {
		if !matches(m, f) {
			continue
		}
		out = append(out, m)
	}

	sort.Slice(out, func(i, j int) bool {
		if f.Ascending {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *InMemoryStore) Transition(_ context.Context, markerID string, entry ModerationEntry) (Marker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markers[markerID]
	if !ok {
		return Marker{}, ErrNotFound
	}
	next, err := NextStatus(m.Status, entry.Action)
	if err != nil {
		return Marker{}, err
	}
	m.Status = next
	m.UpdatedAt = entry.CreatedAt
	s.markers[markerID] = m
	s.history[markerID] = append(s.history[markerID], entry)
	return m, nil
}

func (s *InMemoryStore) History(_ context.Context, markerID string) ([]ModerationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ModerationEntry(nil), s.history[markerID]...), nil
}

func (s *InMemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		ByStatus:   make(map[Status]int),
		ByCategory: make(map[Category]int),
	}
	for _, m := range s.markers {
		stats.Total++
		stats.ByStatus[m.Status]++
		stats.ByCategory[m.Category]++
	}
	return stats, nil
}

func (s *InMemoryStore) ModeratorStats(_ context.Context, actorID string) (ModeratorStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := ModeratorStats{ActorID: actorID, ByAction: make(map[Action]int)}
	for _, log := range s.history {
		for _, e := range log {
			if e.ActorID != actorID {
				continue
			}
			stats.ByAction[e.Action]++
			stats.Total++
		}
	}
	return stats, nil
}

func matches(m Marker, f Filter) bool {
	if f.Category != "" && m.Category != f.Category {
		return false
	}
	if f.Severity != "" && m.Severity != f.Severity {
		return false
	}
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.CreatedBy != "" && m.CreatedBy != f.CreatedBy {
		return false
	}
	if !f.CreatedAfter.IsZero() && m.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && m.CreatedAt.After(f.CreatedBefore) {
		return false
	}
	if f.Center != nil && f.RadiusKM > 0 {
		d := HaversineMeters(*f.Center, Point{Lat: m.Latitude, Lon: m.Longitude})
		if d > f.RadiusKM*1000 {
			return false
		}
	}
	return true
}
