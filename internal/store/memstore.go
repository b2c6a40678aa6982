package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/alnah/go-psd2img"
)

// MemStore is an in-memory Store. Records keep insertion order.
type MemStore struct {
	mu       sync.RWMutex
	projects map[string]*psd2img.Project
	records  map[string][]*psd2img.Record
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		projects: make(map[string]*psd2img.Project),
		records:  make(map[string][]*psd2img.Record),
	}
}

// SaveProject inserts or replaces a project.
func (s *MemStore) SaveProject(_ context.Context, p *psd2img.Project) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: missing id", psd2img.ErrInvalidProject)
	}
	cp := *p
	cp.Scales = slices.Clone(p.Scales)

	s.mu.Lock()
	s.projects[p.ID] = &cp
	s.mu.Unlock()
	return nil
}

// SaveRecord appends a record to its project.
func (s *MemStore) SaveRecord(_ context.Context, r *psd2img.Record) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("record is missing an id")
	}
	cp := *r

	s.mu.Lock()
	s.records[r.ProjectID] = append(s.records[r.ProjectID], &cp)
	s.mu.Unlock()
	return nil
}

// Project returns a copy of the project, or ErrNotFound.
func (s *MemStore) Project(_ context.Context, id string) (*psd2img.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// Records returns the records of a project in insertion order.
func (s *MemStore) Records(_ context.Context, projectID string) ([]*psd2img.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*psd2img.Record, 0, len(s.records[projectID]))
	for _, r := range s.records[projectID] {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

// DeleteProject removes a project and its records.
func (s *MemStore) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[id]; !ok {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	delete(s.projects, id)
	delete(s.records, id)
	return nil
}

// Close is a no-op.
func (s *MemStore) Close() error { return nil }
