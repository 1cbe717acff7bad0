package engine

import "sync"

// speakerLocks serialises note processing per speaker. Locks are created on
// first use and kept for the lifetime of the service; the map is bounded by
// the active speaker population.
type speakerLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSpeakerLocks() *speakerLocks {
	return &speakerLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the speaker's mutex and returns the unlock function.
func (s *speakerLocks) acquire(speakerID string) func() {
	s.mu.Lock()
	l, ok := s.locks[speakerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[speakerID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}
