package staff

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zhouzirui/supportdesk/backend/internal/apperr"
)

// Store persists staff members and their presence.
type Store interface {
	List(ctx context.Context) ([]Member, error)
	Get(ctx context.Context, id string) (Member, error)
	Put(ctx context.Context, member Member) (Member, error)
	SetStatus(ctx context.Context, id string, status Status, at time.Time) (Member, error)
	MarkAssigned(ctx context.Context, id string, at time.Time) error
}

// MemoryStore implements Store with an in-memory map.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Member
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied members.
func NewMemoryStore(items []Member) *MemoryStore {
	s := &MemoryStore{items: make(map[string]Member, len(items))}
	for _, item := range items {
		if item.Status == "" {
			item.Status = StatusOffline
		}
		s.items[item.ID] = item
	}
	return s
}

// List returns every member ordered by id.
func (s *MemoryStore) List(_ context.Context) ([]Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Member, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get looks up a member by identifier.
func (s *MemoryStore) Get(_ context.Context, id string) (Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return Member{}, apperr.NotFound("staff member", id)
	}
	return item, nil
}

// Put creates a member or replaces its identity fields. Presence is kept for
// existing members.
func (s *MemoryStore) Put(_ context.Context, member Member) (Member, error) {
	if err := member.Validate(); err != nil {
		return Member{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.items[member.ID]; ok {
		member.Status = existing.Status
		member.StatusChangedAt = existing.StatusChangedAt
		member.LastAssignedAt = existing.LastAssignedAt
	} else if member.Status == "" {
		member.Status = StatusOffline
	}
	s.items[member.ID] = member
	return member, nil
}

// SetStatus records a presence change.
func (s *MemoryStore) SetStatus(_ context.Context, id string, status Status, at time.Time) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return Member{}, apperr.NotFound("staff member", id)
	}
	if item.Status != status {
		item.Status = status
		item.StatusChangedAt = &at
	}
	s.items[id] = item
	return item, nil
}

// MarkAssigned stamps the time the member last received a chat.
func (s *MemoryStore) MarkAssigned(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return apperr.NotFound("staff member", id)
	}
	item.LastAssignedAt = &at
	s.items[id] = item
	return nil
}
