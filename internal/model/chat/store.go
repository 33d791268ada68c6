package chat

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhouzirui/supportdesk/backend/internal/apperr"
)

// Store is the durable ground truth for sessions and the QC ledger.
//
// Update is the only way to mutate a session: implementations serialize all
// updates of one session and apply mutate to a private copy, persisting it only
// when mutate returns nil. Reads return snapshots and never wait for writers.
type Store interface {
	Create(ctx context.Context, session Session) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	FindActiveByPhone(ctx context.Context, phone string) (Session, bool, error)
	List(ctx context.Context, filter Filter) ([]Session, error)
	Update(ctx context.Context, id string, mutate func(*Session) error) (Session, error)

	PutQCReport(ctx context.Context, report QCReport) error
	ListQCReports(ctx context.Context, filter QCFilter) ([]QCReport, error)
}

// Filter narrows session listings. Results are ordered oldest first.
type Filter struct {
	Statuses   []Status
	OperatorID string
	Phone      string
	Limit      int
}

// Matches reports whether s satisfies the filter, ignoring Limit.
func (f Filter) Matches(s Session) bool {
	if f.OperatorID != "" && s.AssignedOperatorID != f.OperatorID {
		return false
	}
	if f.Phone != "" && s.ClientPhone != f.Phone {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, status := range f.Statuses {
		if s.Status == status {
			return true
		}
	}
	return false
}

// AppendMessage stores msg at the end of the session transcript.
func AppendMessage(ctx context.Context, store Store, sessionID string, msg Message, now time.Time) (Message, error) {
	var stored Message
	_, err := store.Update(ctx, sessionID, func(s *Session) error {
		var err error
		stored, err = s.Append(msg, now)
		return err
	})
	return stored, err
}

// Transition moves a stored session along one state machine edge.
func Transition(ctx context.Context, store Store, sessionID string, to Status, now time.Time) (Session, error) {
	return store.Update(ctx, sessionID, func(s *Session) error {
		return s.Transition(to, now)
	})
}

type entry struct {
	mu   sync.Mutex
	snap atomic.Pointer[Session]
}

type qcKey struct {
	sessionID string
	raterID   string
}

// MemoryStore keeps sessions in process memory. Each session has its own
// writer lock and an atomically swapped immutable snapshot for readers.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	qcMu sync.RWMutex
	qc   map[qcKey]QCReport
	qcs  []qcKey
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		qc:      make(map[qcKey]QCReport),
	}
}

// Create stores a new session.
func (m *MemoryStore) Create(_ context.Context, session Session) (Session, error) {
	if session.ID == "" {
		return Session{}, apperr.InvalidInput("session id is required")
	}
	if session.Messages == nil {
		session.Messages = make([]Message, 0, 16)
	}
	snap := session.Clone()

	e := &entry{}
	e.snap.Store(&snap)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[session.ID]; exists {
		return Session{}, apperr.Conflict("session %s already exists", session.ID)
	}
	m.entries[session.ID] = e
	m.order = append(m.order, session.ID)
	return snap.Clone(), nil
}

func (m *MemoryStore) lookup(id string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	return e, ok
}

// Get returns a snapshot of one session.
func (m *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	e, ok := m.lookup(id)
	if !ok {
		return Session{}, apperr.NotFound("session", id)
	}
	return e.snap.Load().Clone(), nil
}

func (m *MemoryStore) snapshots() []*Session {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.order))
	for _, id := range m.order {
		entries = append(entries, m.entries[id])
	}
	m.mu.RUnlock()

	out := make([]*Session, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snap.Load())
	}
	return out
}

// FindActiveByPhone returns the most recently created non-closed session for phone.
func (m *MemoryStore) FindActiveByPhone(_ context.Context, phone string) (Session, bool, error) {
	var found *Session
	for _, s := range m.snapshots() {
		if s.ClientPhone != phone || s.Status.Terminal() {
			continue
		}
		if found == nil || !s.CreatedAt.Before(found.CreatedAt) {
			found = s
		}
	}
	if found == nil {
		return Session{}, false, nil
	}
	return found.Clone(), true, nil
}

// List returns snapshots matching filter, oldest first.
func (m *MemoryStore) List(_ context.Context, filter Filter) ([]Session, error) {
	out := make([]Session, 0)
	for _, s := range m.snapshots() {
		if filter.Matches(*s) {
			out = append(out, s.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Update applies mutate under the session's writer lock.
func (m *MemoryStore) Update(ctx context.Context, id string, mutate func(*Session) error) (Session, error) {
	e, ok := m.lookup(id)
	if !ok {
		return Session{}, apperr.NotFound("session", id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	next := e.snap.Load().Clone()
	if err := mutate(&next); err != nil {
		return Session{}, err
	}
	next.Version++
	e.snap.Store(&next)
	return next.Clone(), nil
}

// PutQCReport records a report; a second report by the same rater fails.
func (m *MemoryStore) PutQCReport(_ context.Context, report QCReport) error {
	key := qcKey{sessionID: report.SessionID, raterID: report.RaterID}

	m.qcMu.Lock()
	defer m.qcMu.Unlock()
	if _, exists := m.qc[key]; exists {
		return apperr.InvalidState("rater %s already reported on session %s", report.RaterID, report.SessionID)
	}
	m.qc[key] = report
	m.qcs = append(m.qcs, key)
	return nil
}

// ListQCReports returns reports matching filter in submission order.
func (m *MemoryStore) ListQCReports(_ context.Context, filter QCFilter) ([]QCReport, error) {
	m.qcMu.RLock()
	defer m.qcMu.RUnlock()

	out := make([]QCReport, 0)
	for _, key := range m.qcs {
		if r := m.qc[key]; filter.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}
