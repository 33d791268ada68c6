package chat_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/supportdesk/backend/internal/access"
	"github.com/zhouzirui/supportdesk/backend/internal/apperr"
	model "github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/model/staff"
	"github.com/zhouzirui/supportdesk/backend/internal/service/assignment"
	chat "github.com/zhouzirui/supportdesk/backend/internal/service/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/events"
	"github.com/zhouzirui/supportdesk/backend/internal/service/presence"
)

type stubTopics struct {
	topic string
	err   error
	calls int
}

func (s *stubTopics) SuggestTopic(context.Context, []model.Message) (string, error) {
	s.calls++
	return s.topic, s.err
}

type desk struct {
	svc     *chat.Service
	tracker *presence.Tracker
	engine  *assignment.Engine
	events  *events.Recorder
}

func newDesk(t *testing.T) desk {
	t.Helper()
	store := model.NewMemoryStore()
	rec := &events.Recorder{}
	tracker := presence.NewTracker(staff.NewMemoryStore([]staff.Member{
		{ID: "op-1", DisplayName: "One", Role: staff.RoleOperator},
		{ID: "op-2", DisplayName: "Two", Role: staff.RoleOperator},
		{ID: "qc-1", DisplayName: "Quality", Role: staff.RoleQC},
	}), store, rec)
	return desk{
		svc:     chat.NewService(store, rec),
		tracker: tracker,
		engine:  assignment.NewEngine(store, tracker, rec),
		events:  rec,
	}
}

func (d desk) online(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, _, err := d.tracker.SetStatus(context.Background(), id, staff.StatusOnline)
		require.NoError(t, err)
	}
}

func operator(id string) access.Actor {
	return access.Actor{ID: id, Role: access.RoleOperator}
}

func TestCreateSessionValidatesInput(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()

	_, err := d.svc.CreateSession(ctx, "  ", "+70001234567")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = d.svc.CreateSession(ctx, "Ivan", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	session, err := d.svc.CreateSession(ctx, " Ivan ", " +70001234567 ")
	require.NoError(t, err)
	assert.Equal(t, "Ivan", session.ClientName)
	assert.Equal(t, "+70001234567", session.ClientPhone)
	assert.Equal(t, model.StatusUnassigned, session.Status)
	assert.Empty(t, session.AssignedOperatorID)
	assert.NotEmpty(t, session.ID)
	assert.NotEmpty(t, session.ClientID)
	assert.Empty(t, session.Messages)
	assert.Contains(t, d.events.Types(), events.SessionCreated)
}

func TestGetSessionNotFound(t *testing.T) {
	d := newDesk(t)
	_, err := d.svc.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestOpenSessionResumesLiveSession(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()

	first, resumed, err := d.svc.OpenSession(ctx, "Ivan", "+70001234567")
	require.NoError(t, err)
	assert.False(t, resumed)

	again, resumed, err := d.svc.OpenSession(ctx, "Ivan", "+70001234567")
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, first.ID, again.ID)
}

func TestFindActiveByPhoneRequiresPhone(t *testing.T) {
	d := newDesk(t)
	_, _, err := d.svc.FindActiveByPhone(context.Background(), " ")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestSendRejectsEmptyText(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	session, err := d.svc.CreateSession(ctx, "Ivan", "+70001234567")
	require.NoError(t, err)

	_, err = d.svc.Send(ctx, access.Client(session.ClientID), session.ID, "   ")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestSendChecksParticipants(t *testing.T) {
	d := newDesk(t)
	d.online(t, "op-1")
	ctx := context.Background()
	session, err := d.svc.CreateSession(ctx, "Ivan", "+70001234567")
	require.NoError(t, err)
	_, err = d.engine.Assign(ctx, session.ID)
	require.NoError(t, err)

	_, err = d.svc.Send(ctx, access.Client("someone-else"), session.ID, "hi")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = d.svc.Send(ctx, operator("op-2"), session.ID, "hi")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = d.svc.Send(ctx, access.Actor{ID: "qc-1", Role: access.RoleQC}, session.ID, "hi")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	msg, err := d.svc.Send(ctx, operator("op-1"), session.ID, "Здравствуйте!")
	require.NoError(t, err)
	assert.Equal(t, model.SenderOperator, msg.SenderType)
	assert.Empty(t, msg.Mood)
}

func TestClientMessagesCarryMood(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	session, err := d.svc.CreateSession(ctx, "Ivan", "+70001234567")
	require.NoError(t, err)

	msg, err := d.svc.Send(ctx, access.Client(session.ClientID), session.ID, "This is TERRIBLE, nothing works!!!")
	require.NoError(t, err)
	assert.Equal(t, model.SenderClient, msg.SenderType)
	assert.NotEmpty(t, msg.Mood)
	assert.NotEqual(t, "neutral", msg.Mood)
}

func TestCloseRequiresActiveSession(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	session, err := d.svc.CreateSession(ctx, "Ivan", "+70001234567")
	require.NoError(t, err)

	_, err = d.svc.Close(ctx, access.Client(session.ClientID), session.ID, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestCloseUsesSuggestedTopic(t *testing.T) {
	d := newDesk(t)
	topics := &stubTopics{topic: "Доставка"}
	d.svc.WithTopicSuggester(topics)
	d.online(t, "op-1")
	ctx := context.Background()

	session, err := d.svc.CreateSession(ctx, "Ivan", "+70001234567")
	require.NoError(t, err)
	_, err = d.engine.Assign(ctx, session.ID)
	require.NoError(t, err)

	closed, err := d.svc.Close(ctx, operator("op-1"), session.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingRating, closed.Status)
	assert.Equal(t, "Доставка", closed.Topic)
	assert.Equal(t, 1, topics.calls)
	assert.NotNil(t, closed.ClosedAt)
}

func TestCloseKeepsExplicitTopicAndSurvivesSuggesterFailure(t *testing.T) {
	d := newDesk(t)
	d.svc.WithTopicSuggester(&stubTopics{err: errors.New("model unavailable")})
	d.online(t, "op-1")
	ctx := context.Background()

	s1, err := d.svc.CreateSession(ctx, "Ivan", "+70001234567")
	require.NoError(t, err)
	_, err = d.engine.Assign(ctx, s1.ID)
	require.NoError(t, err)
	closed, err := d.svc.Close(ctx, access.Client(s1.ClientID), s1.ID, "")
	require.NoError(t, err)
	assert.Empty(t, closed.Topic)

	s2, err := d.svc.CreateSession(ctx, "Petr", "+70007654321")
	require.NoError(t, err)
	_, err = d.engine.Assign(ctx, s2.ID)
	require.NoError(t, err)
	closed, err = d.svc.Close(ctx, operator("op-1"), s2.ID, "Billing")
	require.NoError(t, err)
	assert.Equal(t, "Billing", closed.Topic)
}

func TestListSessionsScopesOperators(t *testing.T) {
	d := newDesk(t)
	d.online(t, "op-1", "op-2")
	ctx := context.Background()

	for _, phone := range []string{"+70000000001", "+70000000002"} {
		s, err := d.svc.CreateSession(ctx, "Client", phone)
		require.NoError(t, err)
		_, err = d.engine.Assign(ctx, s.ID)
		require.NoError(t, err)
	}

	mine, err := d.svc.ListSessions(ctx, operator("op-1"), model.Filter{OperatorID: "op-2"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "op-1", mine[0].AssignedOperatorID)

	all, err := d.svc.ListSessions(ctx, access.Actor{ID: "qc-1", Role: access.RoleQC}, model.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = d.svc.ListSessions(ctx, access.Client("c"), model.Filter{})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

// A full conversation: the client opens a chat, an operator picks it up,
// they talk, the operator closes it and the client finds the same session
// again by phone while the rating is pending.
func TestConversationLifecycle(t *testing.T) {
	d := newDesk(t)
	d.online(t, "op-1")
	ctx := context.Background()
	const phone = "+70001234567"

	session, err := d.svc.CreateSession(ctx, "Ivan", phone)
	require.NoError(t, err)

	found, ok, err := d.svc.FindActiveByPhone(ctx, phone)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.ID, found.ID)

	client := access.Client(session.ClientID)
	_, err = d.svc.Send(ctx, client, session.ID, "Hello, my order is late")
	require.NoError(t, err)

	staffID, err := d.engine.Assign(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "op-1", staffID)

	_, err = d.svc.Send(ctx, operator("op-1"), session.ID, "Let me check")
	require.NoError(t, err)
	_, err = d.svc.Send(ctx, client, session.ID, "Thanks")
	require.NoError(t, err)

	closed, err := d.svc.Close(ctx, operator("op-1"), session.ID, "Delivery")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingRating, closed.Status)

	view, err := d.svc.View(ctx, client, session.ID)
	require.NoError(t, err)
	require.Len(t, view.Messages, 3)
	for i, msg := range view.Messages {
		assert.Equal(t, int64(i+1), msg.ID)
		if i > 0 {
			assert.False(t, msg.SentAt.Before(view.Messages[i-1].SentAt))
		}
	}

	pending, ok, err := d.svc.FindActiveByPhone(ctx, phone)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.ID, pending.ID)

	_, err = d.svc.Transition(ctx, session.ID, model.StatusClosed)
	require.NoError(t, err)

	_, ok, err = d.svc.FindActiveByPhone(ctx, phone)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = d.svc.Send(ctx, client, session.ID, "one more thing")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestViewHidesForeignSessions(t *testing.T) {
	d := newDesk(t)
	ctx := context.Background()
	session, err := d.svc.CreateSession(ctx, "Ivan", "+70001234567")
	require.NoError(t, err)

	_, err = d.svc.View(ctx, access.Client("stranger"), session.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = d.svc.View(ctx, operator("op-1"), session.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = d.svc.View(ctx, access.Actor{ID: "qc-1", Role: access.RoleQC}, session.ID)
	assert.NoError(t, err)
}
