package chat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/zhouzirui/supportdesk/backend/internal/access"
	"github.com/zhouzirui/supportdesk/backend/internal/analysis/mood"
	"github.com/zhouzirui/supportdesk/backend/internal/apperr"
	"github.com/zhouzirui/supportdesk/backend/internal/metrics"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/events"
)

// TopicSuggester proposes a topic for a finished conversation.
type TopicSuggester interface {
	SuggestTopic(ctx context.Context, messages []chat.Message) (string, error)
}

// Service opens sessions and routes messages between their participants.
type Service struct {
	store     chat.Store
	publisher events.Publisher
	topics    TopicSuggester
	now       func() time.Time
}

// NewService wires the chat service over a session store.
func NewService(store chat.Store, publisher events.Publisher) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithTopicSuggester enables topic suggestions for chats closed without one.
func (s *Service) WithTopicSuggester(topics TopicSuggester) *Service {
	s.topics = topics
	return s
}

// Store exposes the underlying session store.
func (s *Service) Store() chat.Store {
	return s.store
}

// CreateSession opens a new unassigned session for a client.
func (s *Service) CreateSession(ctx context.Context, clientName, clientPhone string) (chat.Session, error) {
	clientName = strings.TrimSpace(clientName)
	clientPhone = strings.TrimSpace(clientPhone)
	if clientName == "" {
		return chat.Session{}, apperr.InvalidInput("client name is required")
	}
	if clientPhone == "" {
		return chat.Session{}, apperr.InvalidInput("client phone is required")
	}

	session, err := s.store.Create(ctx, chat.Session{
		ID:          uuid.NewString(),
		ClientID:    uuid.NewString(),
		ClientName:  clientName,
		ClientPhone: clientPhone,
		Status:      chat.StatusUnassigned,
		Messages:    make([]chat.Message, 0, 16),
		CreatedAt:   s.now(),
	})
	if err != nil {
		return chat.Session{}, err
	}

	metrics.SessionsCreated.Inc()
	events.Emit(ctx, s.publisher, events.Event{Type: events.SessionCreated, SessionID: session.ID, Status: string(session.Status)})
	log.WithField("session", session.ID).Info("session created")
	return session, nil
}

// OpenSession resumes the client's live session for phone, or creates one.
// The second result reports whether an existing session was resumed.
func (s *Service) OpenSession(ctx context.Context, clientName, clientPhone string) (chat.Session, bool, error) {
	if phone := strings.TrimSpace(clientPhone); phone != "" {
		existing, ok, err := s.store.FindActiveByPhone(ctx, phone)
		if err != nil {
			return chat.Session{}, false, err
		}
		if ok {
			return existing, true, nil
		}
	}
	session, err := s.CreateSession(ctx, clientName, clientPhone)
	return session, false, err
}

// GetSession retrieves a session by identifier without visibility checks.
func (s *Service) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	return s.store.Get(ctx, sessionID)
}

// FindActiveByPhone returns the client's most recent session that is not closed.
func (s *Service) FindActiveByPhone(ctx context.Context, phone string) (chat.Session, bool, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return chat.Session{}, false, apperr.InvalidInput("phone is required")
	}
	return s.store.FindActiveByPhone(ctx, phone)
}

// AppendMessage stores a message as given; callers are trusted.
func (s *Service) AppendMessage(ctx context.Context, sessionID string, msg chat.Message) (chat.Message, error) {
	return chat.AppendMessage(ctx, s.store, sessionID, msg, s.now())
}

// Transition moves a session along one state machine edge.
func (s *Service) Transition(ctx context.Context, sessionID string, to chat.Status) (chat.Session, error) {
	return chat.Transition(ctx, s.store, sessionID, to, s.now())
}

// View returns the session if the actor may read it.
func (s *Service) View(ctx context.Context, actor access.Actor, sessionID string) (chat.Session, error) {
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	if err := access.Check(actor, access.CapRead, session); err != nil {
		return chat.Session{}, err
	}
	return session, nil
}

// ListSessions returns the sessions visible to a staff actor. Operators only
// ever see their own chats; supervisors see everything.
func (s *Service) ListSessions(ctx context.Context, actor access.Actor, filter chat.Filter) ([]chat.Session, error) {
	switch {
	case actor.Supervisor():
	case actor.Role == access.RoleOperator:
		filter.OperatorID = actor.ID
	default:
		return nil, apperr.Forbidden("%s may not list sessions", actor.Role)
	}
	return s.store.List(ctx, filter)
}

// Send appends a message written by actor. The permission check runs inside
// the session update so it sees the same assignment the message is stored
// under.
func (s *Service) Send(ctx context.Context, actor access.Actor, sessionID, text string) (chat.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return chat.Message{}, apperr.InvalidInput("message text is required")
	}
	senderType, ok := actor.SenderType()
	if !ok {
		return chat.Message{}, apperr.Forbidden("%s may not send messages", actor.Role)
	}

	msg := chat.Message{SenderType: senderType, SenderID: actor.ID, Text: text}
	if senderType == chat.SenderClient {
		msg.Mood = string(mood.Analyze(text).Mood)
	}

	var stored chat.Message
	_, err := s.store.Update(ctx, sessionID, func(cur *chat.Session) error {
		if err := access.Check(actor, access.CapSend, *cur); err != nil {
			return err
		}
		var err error
		stored, err = cur.Append(msg, s.now())
		return err
	})
	if err != nil {
		return chat.Message{}, err
	}

	metrics.MessagesSent.WithLabelValues(string(senderType)).Inc()
	events.Emit(ctx, s.publisher, events.Event{Type: events.MessageSent, SessionID: sessionID, StaffID: operatorOf(actor)})
	return stored, nil
}

// Close ends a live chat on behalf of its client or its operator and moves it
// to awaiting_rating. When topic is empty a suggestion is requested.
func (s *Service) Close(ctx context.Context, actor access.Actor, sessionID, topic string) (chat.Session, error) {
	current, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	if err := access.Check(actor, access.CapClose, current); err != nil {
		return chat.Session{}, err
	}

	topic = strings.TrimSpace(topic)
	if topic == "" && s.topics != nil && current.Status == chat.StatusActive {
		suggested, err := s.topics.SuggestTopic(ctx, current.Messages)
		if err != nil {
			log.WithError(err).WithField("session", sessionID).Warn("topic suggestion failed")
		} else {
			topic = suggested
		}
	}

	closed, err := s.store.Update(ctx, sessionID, func(cur *chat.Session) error {
		if err := access.Check(actor, access.CapClose, *cur); err != nil {
			return err
		}
		if err := cur.Transition(chat.StatusAwaitingRating, s.now()); err != nil {
			return err
		}
		if topic != "" {
			cur.Topic = topic
		}
		return nil
	})
	if err != nil {
		return chat.Session{}, err
	}

	events.Emit(ctx, s.publisher, events.Event{Type: events.SessionClosed, SessionID: sessionID, StaffID: closed.AssignedOperatorID, Status: string(closed.Status)})
	log.WithFields(log.Fields{"session": sessionID, "by": actor.Role}).Info("session closed, awaiting rating")
	return closed, nil
}

func operatorOf(actor access.Actor) string {
	if actor.Role == access.RoleOperator {
		return actor.ID
	}
	return ""
}
