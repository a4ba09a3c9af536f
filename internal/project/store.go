package project

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownClip  = errors.New("unknown clip")
	ErrUnknownTrack = errors.New("unknown track")
)

// Store is read access to the timeline data.
type Store interface {
	Clip(id string) (*Clip, bool)
	Clips() []*Clip
	Track(id string) (Track, bool)
	Tracks() []Track
}

// MemStore is an in-memory Store. Clips handed out are copies.
type MemStore struct {
	mu     sync.RWMutex
	tracks map[string]Track
	clips  map[string]*Clip
}

func NewMemStore() *MemStore {
	return &MemStore{
		tracks: make(map[string]Track),
		clips:  make(map[string]*Clip),
	}
}

func (s *MemStore) PutTrack(t Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks[t.ID] = t
}

// PutClip stores a copy of c. Its track must exist.
func (s *MemStore) PutClip(c *Clip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tracks[c.TrackID]; !ok {
		return fmt.Errorf("put clip %s: %w: %s", c.ID, ErrUnknownTrack, c.TrackID)
	}
	s.clips[c.ID] = c.Clone()
	return nil
}

func (s *MemStore) DeleteClip(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clips[id]; !ok {
		return false
	}
	delete(s.clips, id)
	return true
}

// AddNote adds or replaces a note in a stored clip.
func (s *MemStore) AddNote(clipID string, n MidiNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clips[clipID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClip, clipID)
	}
	c.AddNote(n)
	return nil
}

func (s *MemStore) RemoveNote(clipID, noteID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clips[clipID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownClip, clipID)
	}
	return c.RemoveNote(noteID), nil
}

func (s *MemStore) Clip(id string) (*Clip, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clips[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// Clips returns copies of every clip ordered by id.
func (s *MemStore) Clips() []*Clip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Clip, 0, len(s.clips))
	for _, c := range s.clips {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemStore) Track(id string) (Track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tracks[id]
	return t, ok
}

func (s *MemStore) Tracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
