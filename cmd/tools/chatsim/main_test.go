package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/supportdesk/backend/internal/access"
	"github.com/zhouzirui/supportdesk/backend/internal/apperr"
	"github.com/zhouzirui/supportdesk/backend/internal/handler"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/model/staff"
	"github.com/zhouzirui/supportdesk/backend/internal/service/assignment"
	chatservice "github.com/zhouzirui/supportdesk/backend/internal/service/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/events"
	"github.com/zhouzirui/supportdesk/backend/internal/service/presence"
	"github.com/zhouzirui/supportdesk/backend/internal/service/rating"
	reportservice "github.com/zhouzirui/supportdesk/backend/internal/service/report"
)

var operator = staff.Member{ID: "op-1", DisplayName: "Anna", Role: staff.RoleOperator}

type desk struct {
	server *httptest.Server
	store  *chat.MemoryStore
	chat   *chatservice.Service
}

func newDesk(t *testing.T) *desk {
	t.Helper()
	store := chat.NewMemoryStore()
	pub := events.LogPublisher{}
	tracker := presence.NewTracker(staff.NewMemoryStore([]staff.Member{operator}), store, pub)
	_, _, err := tracker.SetStatus(context.Background(), operator.ID, staff.StatusOnline)
	require.NoError(t, err)

	chatSvc := chatservice.NewService(store, pub)
	server := httptest.NewServer(handler.NewRouter(handler.Services{
		Chat:    chatSvc,
		Tracker: tracker,
		Engine:  assignment.NewEngine(store, tracker, pub),
		Ratings: rating.NewWorkflow(store, pub, rating.DefaultConfig()),
		Reports: reportservice.NewService(store, tracker),
	}))
	t.Cleanup(server.Close)
	return &desk{server: server, store: store, chat: chatSvc}
}

// answerAndClose plays the operator: once the client has written want
// messages it replies and ends the chat.
func (d *desk) answerAndClose(ctx context.Context, want int) error {
	actor := access.Staff(operator)
	for {
		sessions, err := d.chat.ListSessions(ctx, actor, chat.Filter{OperatorID: operator.ID})
		if err != nil {
			return err
		}
		if len(sessions) == 1 && len(sessions[0].Messages) >= want {
			id := sessions[0].ID
			if _, err := d.chat.Send(ctx, actor, id, "Your order is on its way"); err != nil {
				return err
			}
			_, err := d.chat.Close(ctx, actor, id, "delivery")
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSimulateRatesClosedChat(t *testing.T) {
	d := newDesk(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.answerAndClose(ctx, 2) }()

	var out bytes.Buffer
	err := simulate(ctx, newAPIClient(d.server.URL, time.Second), options{
		name:     "Ivan",
		phone:    "+70001234567",
		messages: []string{"Hello", " ", "Where is my order?"},
		rating:   4,
		interval: 20 * time.Millisecond,
	}, &out)
	require.NoError(t, err)
	require.NoError(t, <-done)

	sessions, err := d.store.List(ctx, chat.Filter{Phone: "+70001234567"})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, chat.StatusClosed, sessions[0].Status)
	require.NotNil(t, sessions[0].Rating)
	assert.Equal(t, 4, *sessions[0].Rating)

	assert.Contains(t, out.String(), "session "+sessions[0].ID+" active")
	assert.Contains(t, out.String(), "-> #2 Where is my order?")
	assert.Contains(t, out.String(), "<- #3 Your order is on its way")
	assert.Contains(t, out.String(), "rated 4")
}

func TestSimulateSkipsRating(t *testing.T) {
	d := newDesk(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.answerAndClose(ctx, 1) }()

	var out bytes.Buffer
	err := simulate(ctx, newAPIClient(d.server.URL, time.Second), options{
		name:     "Ivan",
		phone:    "+70001234568",
		messages: []string{"Hi"},
		skip:     true,
		interval: 20 * time.Millisecond,
	}, &out)
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Contains(t, out.String(), "rating skipped")
	assert.Contains(t, out.String(), "status skipped_rating")
}

func TestRemoteErrorRestoresKind(t *testing.T) {
	d := newDesk(t)
	c := newAPIClient(d.server.URL, time.Second)

	_, err := c.get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = c.open(context.Background(), "", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}
