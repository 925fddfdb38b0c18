// Package memstore keeps recordings in process memory.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"runthru/internal/domain"
	"runthru/internal/store"
)

type Store struct {
	mu   sync.RWMutex
	recs map[string]*domain.Recording
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{recs: make(map[string]*domain.Recording), now: time.Now}
}

func (s *Store) Create(ctx context.Context, rec *domain.Recording) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("recording id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.recs[rec.ID]; exists {
		return fmt.Errorf("%w: %s already exists", domain.ErrConflict, rec.ID)
	}
	cp := rec.Clone()
	if cp.Steps == nil {
		cp.Steps = []domain.Step{}
	}
	s.recs[rec.ID] = cp
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Recording, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return rec.Clone(), nil
}

func (s *Store) List(ctx context.Context, opts store.ListOptions) ([]*domain.Recording, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	all := make([]*domain.Recording, 0, len(s.recs))
	for _, rec := range s.recs {
		all = append(all, rec.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return store.Page(all, opts), nil
}

func (s *Store) Update(ctx context.Context, id string, p store.Patch) (*domain.Recording, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	next := rec.Clone()
	if err := store.Apply(next, p, s.now()); err != nil {
		return nil, err
	}
	s.recs[id] = next
	return next.Clone(), nil
}

func (s *Store) AppendStep(ctx context.Context, id string, step domain.Step) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err := store.CheckAppend(rec, step); err != nil {
		return err
	}
	rec.Steps = append(rec.Steps, step)
	rec.UpdatedAt = s.now()
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	delete(s.recs, id)
	return nil
}

func (s *Store) Close() error { return nil }
