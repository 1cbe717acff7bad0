package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tan-res-space/rag-interface/internal/bucket"
	"github.com/tan-res-space/rag-interface/internal/quality"
)

// Memory is an in-memory [Repository]. It is intended for tests and for
// running the service without a database; all data is lost on restart.
// Safe for concurrent use.
type Memory struct {
	mu          sync.RWMutex
	profiles    map[string]quality.Profile
	transitions map[string][]bucket.TransitionRequest // by speaker, insertion order
}

// Compile-time interface check.
var _ Repository = (*Memory)(nil)

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		profiles:    make(map[string]quality.Profile),
		transitions: make(map[string][]bucket.TransitionRequest),
	}
}

// LoadProfile implements [Repository].
func (m *Memory) LoadProfile(_ context.Context, speakerID string) (*quality.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[speakerID]
	if !ok {
		return nil, nil
	}
	cp := p
	cp.RecentScores = append([]float64(nil), p.RecentScores...)
	return &cp, nil
}

// SaveProfile implements [Repository].
func (m *Memory) SaveProfile(_ context.Context, profile *quality.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.profiles[profile.SpeakerID]
	switch {
	case !exists && profile.Version != 0:
		return ErrVersionConflict
	case exists && stored.Version != profile.Version:
		return ErrVersionConflict
	}

	profile.Version++
	cp := *profile
	cp.RecentScores = append([]float64(nil), profile.RecentScores...)
	m.profiles[profile.SpeakerID] = cp
	return nil
}

// SaveTransition implements [Repository].
func (m *Memory) SaveTransition(_ context.Context, req *bucket.TransitionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.transitions[req.SpeakerID]
	for i := range list {
		if list[i].ID == req.ID {
			// Existing request: only the decision fields may change, and
			// only while the stored row is still pending.
			if list[i].Status != bucket.StatusPending {
				return fmt.Errorf("store: transition %q: %w", req.ID, bucket.ErrAlreadyDecided)
			}
			list[i].Status = req.Status
			list[i].DecidedAt = req.DecidedAt
			list[i].DecidedBy = req.DecidedBy
			list[i].DecisionNotes = req.DecisionNotes
			return nil
		}
	}
	m.transitions[req.SpeakerID] = append(list, *req)
	return nil
}

// GetTransition implements [Repository].
func (m *Memory) GetTransition(_ context.Context, requestID string) (*bucket.TransitionRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, list := range m.transitions {
		for i := range list {
			if list[i].ID == requestID {
				cp := list[i]
				return &cp, nil
			}
		}
	}
	return nil, nil
}

// FindPendingTransition implements [Repository].
func (m *Memory) FindPendingTransition(_ context.Context, speakerID string) (*bucket.TransitionRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, req := range m.transitions[speakerID] {
		if req.Status == bucket.StatusPending {
			cp := req
			return &cp, nil
		}
	}
	return nil, nil
}

// ListTransitions implements [Repository].
func (m *Memory) ListTransitions(_ context.Context, speakerID string) ([]bucket.TransitionRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.transitions[speakerID]
	out := make([]bucket.TransitionRequest, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out, nil
}
