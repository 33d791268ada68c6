package chat

import "github.com/zhouzirui/supportdesk/backend/internal/apperr"

// Status is the lifecycle position of a chat session.
type Status string

const (
	StatusUnassigned     Status = "unassigned"
	StatusActive         Status = "active"
	StatusAwaitingRating Status = "awaiting_rating"
	StatusClosed         Status = "closed"
	StatusSkippedRating  Status = "skipped_rating"
)

// transitions lists every legal edge of the session state machine.
var transitions = map[Status][]Status{
	StatusUnassigned:     {StatusActive},
	StatusActive:         {StatusAwaitingRating, StatusUnassigned},
	StatusAwaitingRating: {StatusClosed, StatusSkippedRating},
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusUnassigned, StatusActive, StatusAwaitingRating, StatusClosed, StatusSkippedRating:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusSkippedRating
}

// Ended reports whether the live part of the conversation is over.
func (s Status) Ended() bool {
	return s == StatusAwaitingRating || s.Terminal()
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &apperr.TransitionError{From: string(from), To: string(to)}
	}
	return nil
}

// ParseStatus validates a status received from the outside.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", apperr.InvalidInput("unknown session status %q", raw)
	}
	return s, nil
}
