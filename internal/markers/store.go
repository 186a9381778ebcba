// Package markers holds the ordered marker registry.
package markers

import (
	"sync"

	"github.com/OCAP2/mapmarkers/internal/geo"
	"github.com/OCAP2/mapmarkers/pkg/core"
)

// Store owns the ordered marker sequence for one session.
// Insertion order is preserved; removal never reorders survivors.
type Store struct {
	mu      sync.RWMutex
	markers []core.Marker
	index   map[core.MarkerID]int // id -> position in markers

	idCounter core.MarkerID
	version   uint64
}

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{
		markers: make([]core.Marker, 0),
		index:   make(map[core.MarkerID]int),
	}
}

// Add appends a marker at pos with empty text and score 0.
func (s *Store) Add(pos core.Position) (core.Marker, error) {
	return s.AddFeature(pos, "", "", int(core.MinScore))
}

// AddFeature appends a marker with explicit attributes. The score is clamped.
func (s *Store) AddFeature(pos core.Position, title, description string, score int) (core.Marker, error) {
	if err := geo.Validate(pos); err != nil {
		return core.Marker{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.idCounter++
	m := core.Marker{
		ID:          s.idCounter,
		Position:    pos,
		Title:       title,
		Description: description,
		Score:       core.ClampScore(score),
	}
	s.index[m.ID] = len(s.markers)
	s.markers = append(s.markers, m)
	s.version++
	return m, nil
}

// Remove deletes the marker with the given id. Unknown ids are a no-op.
func (s *Store) Remove(id core.MarkerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return false
	}

	s.markers = append(s.markers[:i], s.markers[i+1:]...)
	delete(s.index, id)
	for j := i; j < len(s.markers); j++ {
		s.index[s.markers[j].ID] = j
	}
	s.version++
	return true
}

// UpdatePosition moves a marker. An invalid position is rejected and leaves the
// store unchanged; an unknown id reports false with no error.
func (s *Store) UpdatePosition(id core.MarkerID, pos core.Position) (bool, error) {
	if err := geo.Validate(pos); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return false, nil
	}
	s.markers[i].Position = pos
	s.version++
	return true, nil
}

// UpdateScore sets the score of a marker, clamping value to [MinScore, MaxScore].
func (s *Store) UpdateScore(id core.MarkerID, value int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.markers[i].Score = core.ClampScore(value)
	s.version++
	return true
}

// UpdateText replaces title and description, as saved from the popup form.
func (s *Store) UpdateText(id core.MarkerID, title, description string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.markers[i].Title = title
	s.markers[i].Description = description
	s.version++
	return true
}

// Get returns a copy of the marker with the given id
func (s *Store) Get(id core.MarkerID) (core.Marker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return core.Marker{}, false
	}
	return s.markers[i], true
}

// Len returns the number of stored markers
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.markers)
}

// Snapshot returns an independent copy of the sequence in insertion order.
func (s *Store) Snapshot() core.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(core.Snapshot, len(s.markers))
	copy(snap, s.markers)
	return snap
}

// Version increases on every successful mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
