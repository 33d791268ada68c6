// Package assignment binds queued chats to available operators.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zhouzirui/supportdesk/backend/internal/apperr"
	"github.com/zhouzirui/supportdesk/backend/internal/metrics"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/events"
	"github.com/zhouzirui/supportdesk/backend/internal/service/presence"
)

// Engine matches unassigned sessions with eligible staff.
type Engine struct {
	sessions  chat.Store
	presence  *presence.Tracker
	publisher events.Publisher
	now       func() time.Time
}

// NewEngine creates an assignment engine.
func NewEngine(sessions chat.Store, tracker *presence.Tracker, publisher events.Publisher) *Engine {
	return &Engine{
		sessions:  sessions,
		presence:  tracker,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Assign binds the session to the head of the eligible list. It fails with
// NoEligibleStaff when nobody is online, leaving the session queued; retrying
// is safe. The status check and the binding happen in one atomic update, so
// of two concurrent attempts exactly one wins and the other gets Conflict.
func (e *Engine) Assign(ctx context.Context, sessionID string) (string, error) {
	session, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if session.Status != chat.StatusUnassigned {
		metrics.AssignmentAttempts.WithLabelValues("invalid_state").Inc()
		return "", apperr.InvalidState("session %s is %s", sessionID, session.Status)
	}

	candidates, err := e.presence.EligibleForAssignment(ctx)
	if err != nil {
		return "", err
	}

	for _, staffID := range candidates {
		err := e.presence.Reserve(ctx, staffID, func() error {
			_, err := e.sessions.Update(ctx, sessionID, func(s *chat.Session) error {
				if s.Status != chat.StatusUnassigned {
					return apperr.Conflict("session %s was taken concurrently (now %s)", s.ID, s.Status)
				}
				return s.AssignTo(staffID, e.now())
			})
			return err
		})
		if errors.Is(err, presence.ErrUnavailable) {
			continue
		}
		if err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				metrics.AssignmentAttempts.WithLabelValues("conflict").Inc()
			}
			return "", err
		}

		metrics.AssignmentAttempts.WithLabelValues("assigned").Inc()
		events.Emit(ctx, e.publisher, events.Event{Type: events.SessionAssigned, SessionID: sessionID, StaffID: staffID})
		log.WithFields(log.Fields{"session": sessionID, "staff": staffID}).Info("session assigned")
		return staffID, nil
	}

	metrics.AssignmentAttempts.WithLabelValues("no_eligible_staff").Inc()
	return "", fmt.Errorf("%w: session %s stays queued", apperr.ErrNoEligibleStaff, sessionID)
}

// SweepResult summarizes one pass over the queue.
type SweepResult struct {
	Assigned map[string]string `json:"assigned"`
	Queued   int               `json:"queued"`
}

// Sweep tries to assign every queued session, oldest first. It stops early
// once nobody is eligible; sessions that changed concurrently are skipped.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	queue, err := e.sessions.List(ctx, chat.Filter{Statuses: []chat.Status{chat.StatusUnassigned}})
	if err != nil {
		return SweepResult{}, err
	}

	result := SweepResult{Assigned: make(map[string]string)}
	for i, s := range queue {
		staffID, err := e.Assign(ctx, s.ID)
		switch {
		case err == nil:
			result.Assigned[s.ID] = staffID
		case errors.Is(err, apperr.ErrNoEligibleStaff):
			result.Queued = len(queue) - i
			return result, nil
		case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrInvalidState):
			log.WithError(err).WithField("session", s.ID).Debug("skipping session during sweep")
		default:
			return result, err
		}
	}
	return result, nil
}
