package store

import (
	"context"
	"sort"
	"sync"

	"github.com/keithlinneman/sitedrop/internal/site"
)

var _ Store = (*Memory)(nil)

// Memory is an in-process Store for development and tests. Records are lost
// on restart.
type Memory struct {
	mu    sync.RWMutex
	sites map[string]site.Site
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{sites: make(map[string]site.Site)}
}

func (m *Memory) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sites[id]
	return ok, nil
}

func (m *Memory) Insert(ctx context.Context, s site.Site) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sites[s.ID]; ok {
		return ErrDuplicate
	}
	m.sites[s.ID] = s
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (site.Site, error) {
	if err := ctx.Err(); err != nil {
		return site.Site{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sites[id]
	if !ok {
		return site.Site{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) Delete(ctx context.Context, id, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sites[id]
	if !ok || s.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(m.sites, id)
	return nil
}

func (m *Memory) ListByOwner(ctx context.Context, ownerID string) ([]site.Site, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]site.Site, 0)
	for _, s := range m.sites {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].PublishedAt.After(out[j].PublishedAt)
	})
	return out, nil
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

// Len returns the number of records held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sites)
}
