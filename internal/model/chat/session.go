package chat

import (
	"strings"
	"time"

	"github.com/zhouzirui/supportdesk/backend/internal/apperr"
)

// Session captures one client conversation from creation to its rating outcome.
type Session struct {
	ID                 string     `json:"id"`
	ClientID           string     `json:"clientId"`
	ClientName         string     `json:"clientName"`
	ClientPhone        string     `json:"clientPhone"`
	Status             Status     `json:"status"`
	AssignedOperatorID string     `json:"assignedOperatorId,omitempty"`
	Messages           []Message  `json:"messages"`
	Rating             *int       `json:"rating,omitempty"`
	Topic              string     `json:"topic,omitempty"`
	Version            int64      `json:"version"`
	CreatedAt          time.Time  `json:"createdAt"`
	AssignedAt         *time.Time `json:"assignedAt,omitempty"`
	ClosedAt           *time.Time `json:"closedAt,omitempty"`
	RatedAt            *time.Time `json:"ratedAt,omitempty"`
}

// Clone returns a deep copy that shares no memory with s.
func (s Session) Clone() Session {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	if s.Rating != nil {
		v := *s.Rating
		out.Rating = &v
	}
	out.AssignedAt = cloneTime(s.AssignedAt)
	out.ClosedAt = cloneTime(s.ClosedAt)
	out.RatedAt = cloneTime(s.RatedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// LastMessageID returns the id of the newest message, or 0.
func (s Session) LastMessageID() int64 {
	if len(s.Messages) == 0 {
		return 0
	}
	return s.Messages[len(s.Messages)-1].ID
}

// MessagesAfter returns the messages with an id greater than id.
func (s Session) MessagesAfter(id int64) []Message {
	if id < 0 {
		id = 0
	}
	if id >= int64(len(s.Messages)) {
		return nil
	}
	return append([]Message(nil), s.Messages[id:]...)
}

// Transition moves the session along one state machine edge.
func (s *Session) Transition(to Status, now time.Time) error {
	if err := checkTransition(s.Status, to); err != nil {
		return err
	}
	switch to {
	case StatusUnassigned:
		s.AssignedOperatorID = ""
		s.AssignedAt = nil
	case StatusAwaitingRating:
		if s.ClosedAt == nil {
			s.ClosedAt = &now
		}
	}
	s.Status = to
	return nil
}

// AssignTo binds an unassigned session to an operator and activates it.
func (s *Session) AssignTo(operatorID string, now time.Time) error {
	if operatorID == "" {
		return apperr.InvalidInput("operator id is required")
	}
	if s.Status != StatusUnassigned {
		return apperr.InvalidState("session %s is %s, not %s", s.ID, s.Status, StatusUnassigned)
	}
	if err := s.Transition(StatusActive, now); err != nil {
		return err
	}
	s.AssignedOperatorID = operatorID
	s.AssignedAt = &now
	return nil
}

// Append adds a message at the end of the transcript and returns it with its
// id and timestamp filled in. SentAt never goes backwards.
func (s *Session) Append(msg Message, now time.Time) (Message, error) {
	if s.Status.Terminal() {
		return Message{}, apperr.InvalidState("session %s is %s", s.ID, s.Status)
	}
	if strings.TrimSpace(msg.Text) == "" {
		return Message{}, apperr.InvalidInput("message text is required")
	}
	msg.ID = s.LastMessageID() + 1
	msg.SentAt = now
	if n := len(s.Messages); n > 0 && msg.SentAt.Before(s.Messages[n-1].SentAt) {
		msg.SentAt = s.Messages[n-1].SentAt
	}
	s.Messages = append(s.Messages, msg)
	return msg, nil
}

// Rate records the client satisfaction rating and closes the session.
func (s *Session) Rate(value int, now time.Time) error {
	if s.Status != StatusAwaitingRating {
		return apperr.InvalidState("session %s is %s, rating not expected", s.ID, s.Status)
	}
	if err := s.Transition(StatusClosed, now); err != nil {
		return err
	}
	s.Rating = &value
	s.RatedAt = &now
	return nil
}

// SkipRating records that the client declined to rate.
func (s *Session) SkipRating(now time.Time) error {
	if s.Status != StatusAwaitingRating {
		return apperr.InvalidState("session %s is %s, rating not expected", s.ID, s.Status)
	}
	return s.Transition(StatusSkippedRating, now)
}
