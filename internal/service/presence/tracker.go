// Package presence tracks staff availability and decides who may receive a
// new chat.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zhouzirui/supportdesk/backend/internal/apperr"
	"github.com/zhouzirui/supportdesk/backend/internal/metrics"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/model/staff"
	"github.com/zhouzirui/supportdesk/backend/internal/service/events"
)

// ErrUnavailable is returned by Reserve when the staff member stopped being
// eligible after the candidate list was computed. It is a Conflict kind.
var ErrUnavailable = fmt.Errorf("%w: staff member is no longer available", apperr.ErrConflict)

var errUnchanged = errors.New("unchanged")

// Candidate is an online operator with its current number of active chats.
type Candidate struct {
	Member staff.Member `json:"member"`
	Load   int          `json:"load"`
}

// Tracker owns staff presence. Presence changes and assignment reservations
// of one staff member are serialized so an operator cannot receive a chat
// after going offline.
type Tracker struct {
	staff     staff.Store
	sessions  chat.Store
	publisher events.Publisher
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTracker wires a tracker over the staff and session stores.
func NewTracker(staffStore staff.Store, sessions chat.Store, publisher events.Publisher) *Tracker {
	return &Tracker{
		staff:     staffStore,
		sessions:  sessions,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		locks:     make(map[string]*sync.Mutex),
	}
}

func (t *Tracker) lock(staffID string) func() {
	t.mu.Lock()
	l, ok := t.locks[staffID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[staffID] = l
	}
	t.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Member returns one staff member.
func (t *Tracker) Member(ctx context.Context, staffID string) (staff.Member, error) {
	return t.staff.Get(ctx, staffID)
}

// Members returns the whole team.
func (t *Tracker) Members(ctx context.Context) ([]staff.Member, error) {
	return t.staff.List(ctx)
}

// SetStatus records a presence change made from the staff member's own
// dashboard. Going offline returns every active chat of that member to the
// queue; the ids of those sessions are returned.
func (t *Tracker) SetStatus(ctx context.Context, staffID string, status staff.Status) (staff.Member, []string, error) {
	if _, err := staff.ParseStatus(string(status)); err != nil {
		return staff.Member{}, nil, err
	}

	unlock := t.lock(staffID)
	defer unlock()

	before, err := t.staff.Get(ctx, staffID)
	if err != nil {
		return staff.Member{}, nil, err
	}
	member, err := t.staff.SetStatus(ctx, staffID, status, t.now())
	if err != nil {
		return staff.Member{}, nil, err
	}

	if before.Status != status {
		log.WithFields(log.Fields{"staff": staffID, "from": before.Status, "to": status}).Info("staff status changed")
		events.Emit(ctx, t.publisher, events.Event{Type: events.StaffStatusChanged, StaffID: staffID, Status: string(status)})
		t.refreshGauge(ctx)
	}

	if status != staff.StatusOffline {
		return member, nil, nil
	}

	requeued, err := t.requeue(ctx, staffID)
	return member, requeued, err
}

func (t *Tracker) requeue(ctx context.Context, staffID string) ([]string, error) {
	held, err := t.sessions.List(ctx, chat.Filter{Statuses: []chat.Status{chat.StatusActive}, OperatorID: staffID})
	if err != nil {
		return nil, err
	}

	requeued := make([]string, 0, len(held))
	for _, s := range held {
		_, err := t.sessions.Update(ctx, s.ID, func(cur *chat.Session) error {
			if cur.Status != chat.StatusActive || cur.AssignedOperatorID != staffID {
				return errUnchanged
			}
			return cur.Transition(chat.StatusUnassigned, t.now())
		})
		if errors.Is(err, errUnchanged) {
			continue
		}
		if err != nil {
			return requeued, err
		}

		requeued = append(requeued, s.ID)
		metrics.SessionsRequeued.Inc()
		events.Emit(ctx, t.publisher, events.Event{Type: events.SessionRequeued, SessionID: s.ID, StaffID: staffID})
		log.WithFields(log.Fields{"session": s.ID, "staff": staffID}).Info("session returned to queue")
	}
	return requeued, nil
}

// Candidates returns online operators ordered by assignment preference:
// lowest active load first, then the one who waited longest since the last
// assignment, then id.
func (t *Tracker) Candidates(ctx context.Context) ([]Candidate, error) {
	members, err := t.staff.List(ctx)
	if err != nil {
		return nil, err
	}
	active, err := t.sessions.List(ctx, chat.Filter{Statuses: []chat.Status{chat.StatusActive}})
	if err != nil {
		return nil, err
	}

	load := make(map[string]int)
	for _, s := range active {
		load[s.AssignedOperatorID]++
	}

	out := make([]Candidate, 0, len(members))
	for _, m := range members {
		if m.Status != staff.StatusOnline || !m.Role.HandlesChats() {
			continue
		}
		out = append(out, Candidate{Member: m, Load: load[m.ID]})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Load != b.Load {
			return a.Load < b.Load
		}
		if !sameTime(a.Member.LastAssignedAt, b.Member.LastAssignedAt) {
			return earlier(a.Member.LastAssignedAt, b.Member.LastAssignedAt)
		}
		return a.Member.ID < b.Member.ID
	})
	return out, nil
}

// EligibleForAssignment returns the ids of Candidates in preference order.
func (t *Tracker) EligibleForAssignment(ctx context.Context) ([]string, error) {
	candidates, err := t.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.Member.ID)
	}
	return ids, nil
}

// Reserve runs assign while holding the staff member's presence lock, after
// confirming the member is still online. On success the member's
// lastAssignedAt is stamped; a failed stamp is logged and does not fail the
// reservation.
func (t *Tracker) Reserve(ctx context.Context, staffID string, assign func() error) error {
	unlock := t.lock(staffID)
	defer unlock()

	member, err := t.staff.Get(ctx, staffID)
	if err != nil {
		return err
	}
	if member.Status != staff.StatusOnline || !member.Role.HandlesChats() {
		return fmt.Errorf("%w: %s is %s", ErrUnavailable, staffID, member.Status)
	}
	if err := assign(); err != nil {
		return err
	}
	if err := t.staff.MarkAssigned(ctx, staffID, t.now()); err != nil {
		log.WithError(err).WithField("staff", staffID).Warn("failed to stamp last assignment")
	}
	return nil
}

// AddMember creates or updates a team member. A member whose new role no
// longer takes chats has their active chats returned to the queue; the ids
// of those sessions are returned.
func (t *Tracker) AddMember(ctx context.Context, member staff.Member) (staff.Member, []string, error) {
	unlock := t.lock(member.ID)
	defer unlock()

	saved, err := t.staff.Put(ctx, member)
	if err != nil {
		return staff.Member{}, nil, err
	}
	t.refreshGauge(ctx)

	if saved.Role.HandlesChats() {
		return saved, nil, nil
	}
	requeued, err := t.requeue(ctx, saved.ID)
	return saved, requeued, err
}

func (t *Tracker) refreshGauge(ctx context.Context) {
	members, err := t.staff.List(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to refresh staff gauge")
		return
	}
	counts := map[staff.Status]float64{
		staff.StatusOnline: 0, staff.StatusJira: 0, staff.StatusRest: 0, staff.StatusOffline: 0,
	}
	for _, m := range members {
		counts[m.Status]++
	}
	for status, n := range counts {
		metrics.StaffByStatus.WithLabelValues(string(status)).Set(n)
	}
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// earlier orders never-assigned members first.
func earlier(a, b *time.Time) bool {
	if a == nil {
		return true
	}
	if b == nil {
		return false
	}
	return a.Before(*b)
}
