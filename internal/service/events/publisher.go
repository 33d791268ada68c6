// Package events publishes session lifecycle changes for downstream
// reporting. Publishing is best effort: failures are logged and never undo
// the state change that produced the event.
package events

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Type names a lifecycle change.
type Type string

const (
	SessionCreated       Type = "session.created"
	SessionAssigned      Type = "session.assigned"
	SessionRequeued      Type = "session.requeued"
	SessionClosed        Type = "session.closed"
	SessionRated         Type = "session.rated"
	SessionRatingSkipped Type = "session.rating_skipped"
	MessageSent          Type = "message.sent"
	StaffStatusChanged   Type = "staff.status"
	QCReported           Type = "qc.reported"
)

// Event is one published lifecycle change.
type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	StaffID   string    `json:"staffId,omitempty"`
	Status    string    `json:"status,omitempty"`
	Value     *int      `json:"value,omitempty"`
	At        time.Time `json:"at"`
}

// Key is the partitioning key; events of one session stay ordered.
func (e Event) Key() string {
	if e.SessionID != "" {
		return e.SessionID
	}
	return e.StaffID
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Emit publishes event and logs a failure instead of returning it.
func Emit(ctx context.Context, p Publisher, event Event) {
	if p == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	if err := p.Publish(ctx, event); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"event":   event.Type,
			"session": event.SessionID,
			"staff":   event.StaffID,
		}).Warn("failed to publish lifecycle event")
	}
}

// LogPublisher writes events to the debug log. It is the default sink when
// no broker is configured.
type LogPublisher struct{}

// Publish implements Publisher.
func (LogPublisher) Publish(_ context.Context, event Event) error {
	log.WithFields(log.Fields{
		"event":   event.Type,
		"session": event.SessionID,
		"staff":   event.StaffID,
		"status":  event.Status,
	}).Debug("lifecycle event")
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []Type {
	events := r.Events()
	out := make([]Type, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}
