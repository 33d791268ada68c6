// Package poller keeps a client view of one session in sync by re-reading it
// on an interval and reporting what changed since the previous read.
package poller

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zhouzirui/supportdesk/backend/internal/apperr"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
)

// DefaultInterval is the re-read period when none is configured.
const DefaultInterval = 2 * time.Second

// EventType names one kind of observed change.
type EventType string

const (
	EventMessages        EventType = "messages"
	EventStatus          EventType = "status"
	EventOperator        EventType = "operator"
	EventRatingRequested EventType = "rating_requested"
)

// Event is one change between two reads of a session.
type Event struct {
	Type       EventType      `json:"type"`
	SessionID  string         `json:"sessionId"`
	Messages   []chat.Message `json:"messages,omitempty"`
	From       chat.Status    `json:"from,omitempty"`
	To         chat.Status    `json:"to,omitempty"`
	OperatorID string         `json:"operatorId,omitempty"`
}

// Diff lists the changes from prev to next. A nil prev describes the initial
// read: every message and the current status are reported. The rating prompt
// is raised when next is awaiting a rating and prev was not.
func Diff(prev *chat.Session, next chat.Session) []Event {
	out := make([]Event, 0, 3)

	var lastID int64
	var prevStatus chat.Status
	var prevOperator string
	if prev != nil {
		lastID = prev.LastMessageID()
		prevStatus = prev.Status
		prevOperator = prev.AssignedOperatorID
	}

	if msgs := next.MessagesAfter(lastID); len(msgs) > 0 {
		out = append(out, Event{Type: EventMessages, SessionID: next.ID, Messages: msgs})
	}
	if next.Status != prevStatus {
		out = append(out, Event{Type: EventStatus, SessionID: next.ID, From: prevStatus, To: next.Status})
	}
	if next.AssignedOperatorID != prevOperator {
		out = append(out, Event{Type: EventOperator, SessionID: next.ID, OperatorID: next.AssignedOperatorID})
	}
	if next.Status == chat.StatusAwaitingRating && prevStatus != chat.StatusAwaitingRating {
		out = append(out, Event{Type: EventRatingRequested, SessionID: next.ID})
	}
	return out
}

// Cursor is what a stateless client remembers from its last read.
type Cursor struct {
	AfterMessage int64
	// Status is empty before the first read.
	Status chat.Status
	// Operator is nil when the client does not track the assignee.
	Operator *string
}

// Since is the stateless form of Diff. Messages are always reported after
// cur.AfterMessage; an empty cur.Status reports the status, operator and
// rating prompt as on an initial read.
func Since(session chat.Session, cur Cursor) []Event {
	after := cur.AfterMessage
	if after < 0 {
		after = 0
	}
	if last := session.LastMessageID(); after > last {
		after = last
	}

	prev := chat.Session{
		ID:                 session.ID,
		Status:             cur.Status,
		AssignedOperatorID: session.AssignedOperatorID,
		Messages:           session.Messages[:after],
	}
	switch {
	case cur.Operator != nil:
		prev.AssignedOperatorID = *cur.Operator
	case cur.Status == "":
		prev.AssignedOperatorID = ""
	}
	return Diff(&prev, session)
}

// Fetcher reads the current state of the watched session.
type Fetcher func(ctx context.Context) (chat.Session, error)

// Poller diffs successive reads of one session. It is not safe for
// concurrent use; run one per subscriber.
type Poller struct {
	fetch    Fetcher
	interval time.Duration

	last     *chat.Session
	prompted bool
}

// New creates a Poller. A non-positive interval uses DefaultInterval.
func New(fetch Fetcher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{fetch: fetch, interval: interval}
}

// Interval returns the configured re-read period.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Last returns the most recent successful read.
func (p *Poller) Last() (chat.Session, bool) {
	if p.last == nil {
		return chat.Session{}, false
	}
	return p.last.Clone(), true
}

// Poll reads the session once and returns what changed. The rating prompt
// is reported at most once per Poller, even if a read is lost.
func (p *Poller) Poll(ctx context.Context) ([]Event, error) {
	next, err := p.fetch(ctx)
	if err != nil {
		return nil, err
	}

	diff := Diff(p.last, next)
	out := diff[:0]
	for _, ev := range diff {
		if ev.Type != EventRatingRequested {
			out = append(out, ev)
		}
	}
	if next.Status == chat.StatusAwaitingRating && !p.prompted {
		out = append(out, Event{Type: EventRatingRequested, SessionID: next.ID})
		p.prompted = true
	}

	snapshot := next.Clone()
	p.last = &snapshot
	return out, nil
}

// Run polls immediately and then on every tick, handing non-empty change sets
// to handle. It returns nil when ctx is done or the session reaches a
// terminal status, and the error of handle or of a read that cannot succeed
// on retry. Other read failures are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context, handle func([]Event) error) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		events, err := p.Poll(ctx)
		switch {
		case err == nil:
			if len(events) > 0 {
				if err := handle(events); err != nil {
					return err
				}
			}
			if p.last.Status.Terminal() {
				return nil
			}
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrForbidden):
			return err
		default:
			log.WithError(err).Warn("session poll failed, retrying")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
