package invoiceflow

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory StateStore for tests and single-run demos.
// It honors the atomicity contract (checkpoint and transition land under
// one lock) but does not survive process restarts.
type MemoryStore struct {
	mu          sync.RWMutex
	threads     map[string]*Thread
	transitions map[string][]*Transition
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads:     map[string]*Thread{},
		transitions: map[string][]*Transition{},
	}
}

func (s *MemoryStore) CreateThread(ctx context.Context, thread *Thread, transition *Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.threads[thread.ID]; exists {
		return NewConflictError(thread.ID, "thread already exists")
	}
	s.threads[thread.ID] = thread.Copy()
	s.appendTransition(thread.ID, transition)
	return nil
}

func (s *MemoryStore) SaveThread(ctx context.Context, thread *Thread, transition *Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.threads[thread.ID]; !exists {
		return NewNotFoundError(thread.ID)
	}
	s.threads[thread.ID] = thread.Copy()
	s.appendTransition(thread.ID, transition)
	return nil
}

func (s *MemoryStore) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	thread, ok := s.threads[threadID]
	if !ok {
		return nil, NewNotFoundError(threadID)
	}
	return thread.Copy(), nil
}

func (s *MemoryStore) ListThreads(ctx context.Context, status Status) ([]*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var threads []*Thread
	for _, thread := range s.threads {
		if status != "" && thread.Status != status {
			continue
		}
		threads = append(threads, thread.Copy())
	}
	sort.Slice(threads, func(i, j int) bool {
		if threads[i].CreatedAt.Equal(threads[j].CreatedAt) {
			return threads[i].ID < threads[j].ID
		}
		return threads[i].CreatedAt.Before(threads[j].CreatedAt)
	})
	return threads, nil
}

func (s *MemoryStore) Transitions(ctx context.Context, threadID string) ([]*Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.transitions[threadID]
	out := make([]*Transition, len(log))
	for i, tr := range log {
		cp := *tr
		out[i] = &cp
	}
	return out, nil
}

// appendTransition assigns the next sequence number. Caller holds the lock.
func (s *MemoryStore) appendTransition(threadID string, transition *Transition) {
	if transition == nil {
		return
	}
	cp := *transition
	cp.ThreadID = threadID
	cp.Seq = len(s.transitions[threadID]) + 1
	s.transitions[threadID] = append(s.transitions[threadID], &cp)
}
