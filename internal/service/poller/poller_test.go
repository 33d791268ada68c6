package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/supportdesk/backend/internal/apperr"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
)

func session(status chat.Status, operator string, texts ...string) chat.Session {
	s := chat.Session{ID: "s1", Status: status, AssignedOperatorID: operator}
	for i, text := range texts {
		s.Messages = append(s.Messages, chat.Message{ID: int64(i + 1), SenderType: chat.SenderClient, Text: text})
	}
	return s
}

func types(events []Event) []EventType {
	out := make([]EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func TestDiffInitialRead(t *testing.T) {
	events := Diff(nil, session(chat.StatusActive, "op-1", "hi", "hello"))
	assert.Equal(t, []EventType{EventMessages, EventStatus, EventOperator}, types(events))
	assert.Len(t, events[0].Messages, 2)
	assert.Equal(t, chat.StatusActive, events[1].To)
}

func TestDiffReportsOnlyNewMessages(t *testing.T) {
	prev := session(chat.StatusActive, "op-1", "a")
	next := session(chat.StatusActive, "op-1", "a", "b", "c")

	events := Diff(&prev, next)
	require.Len(t, events, 1)
	assert.Equal(t, EventMessages, events[0].Type)
	assert.Equal(t, []int64{2, 3}, []int64{events[0].Messages[0].ID, events[0].Messages[1].ID})

	assert.Empty(t, Diff(&next, next))
}

func TestDiffRequeueAndRatingPrompt(t *testing.T) {
	prev := session(chat.StatusActive, "op-1")
	requeued := session(chat.StatusUnassigned, "")

	events := Diff(&prev, requeued)
	assert.Equal(t, []EventType{EventStatus, EventOperator}, types(events))
	assert.Empty(t, events[1].OperatorID)

	awaiting := session(chat.StatusAwaitingRating, "op-1")
	events = Diff(&prev, awaiting)
	assert.Equal(t, []EventType{EventStatus, EventRatingRequested}, types(events))
}

func TestSince(t *testing.T) {
	s := session(chat.StatusAwaitingRating, "op-1", "a", "b", "c")

	events := Since(s, Cursor{AfterMessage: 2, Status: chat.StatusActive})
	assert.Equal(t, []EventType{EventMessages, EventStatus, EventRatingRequested}, types(events))
	require.Len(t, events[0].Messages, 1)
	assert.Equal(t, int64(3), events[0].Messages[0].ID)

	assert.Empty(t, Since(s, Cursor{AfterMessage: 3, Status: chat.StatusAwaitingRating}))
	assert.Empty(t, Since(s, Cursor{AfterMessage: 99, Status: chat.StatusAwaitingRating}))

	initial := Since(s, Cursor{})
	assert.Equal(t, []EventType{EventMessages, EventStatus, EventOperator, EventRatingRequested}, types(initial))
	assert.Len(t, initial[0].Messages, 3)
}

func TestSinceWithoutStatusKeepsMessageCursor(t *testing.T) {
	s := session(chat.StatusActive, "op-1", "a", "b", "c")

	events := Since(s, Cursor{AfterMessage: 2})
	require.Equal(t, []EventType{EventMessages, EventStatus, EventOperator}, types(events))
	require.Len(t, events[0].Messages, 1)
	assert.Equal(t, int64(3), events[0].Messages[0].ID)

	events = Since(s, Cursor{AfterMessage: 3})
	assert.Equal(t, []EventType{EventStatus, EventOperator}, types(events))
}

func TestSinceReportsOperatorSwap(t *testing.T) {
	s := session(chat.StatusActive, "op-2", "a")

	previous := "op-1"
	events := Since(s, Cursor{AfterMessage: 1, Status: chat.StatusActive, Operator: &previous})
	require.Equal(t, []EventType{EventOperator}, types(events))
	assert.Equal(t, "op-2", events[0].OperatorID)

	same := "op-2"
	assert.Empty(t, Since(s, Cursor{AfterMessage: 1, Status: chat.StatusActive, Operator: &same}))
	assert.Empty(t, Since(s, Cursor{AfterMessage: 1, Status: chat.StatusActive}))
}

type script struct {
	mu    sync.Mutex
	reads []chat.Session
	errs  []error
	n     int
}

func (s *script) fetch(context.Context) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.n
	if i >= len(s.reads) {
		i = len(s.reads) - 1
	}
	s.n++
	if i < len(s.errs) && s.errs[i] != nil {
		return chat.Session{}, s.errs[i]
	}
	return s.reads[i], nil
}

func TestPollPromptsRatingOnce(t *testing.T) {
	sc := &script{reads: []chat.Session{
		session(chat.StatusActive, "op-1", "a"),
		session(chat.StatusAwaitingRating, "op-1", "a"),
		session(chat.StatusAwaitingRating, "op-1", "a"),
	}}
	p := New(sc.fetch, time.Millisecond)
	ctx := context.Background()

	prompts := 0
	for i := 0; i < 3; i++ {
		events, err := p.Poll(ctx)
		require.NoError(t, err)
		for _, ev := range events {
			if ev.Type == EventRatingRequested {
				prompts++
			}
		}
	}
	assert.Equal(t, 1, prompts)

	last, ok := p.Last()
	require.True(t, ok)
	assert.Equal(t, chat.StatusAwaitingRating, last.Status)
}

func TestPollPromptsAfterMissedRead(t *testing.T) {
	sc := &script{reads: []chat.Session{
		session(chat.StatusActive, "op-1"),
		session(chat.StatusAwaitingRating, "op-1"),
		session(chat.StatusAwaitingRating, "op-1"),
	}, errs: []error{nil, errors.New("timeout"), nil}}
	p := New(sc.fetch, time.Millisecond)
	ctx := context.Background()

	_, err := p.Poll(ctx)
	require.NoError(t, err)
	_, err = p.Poll(ctx)
	require.Error(t, err)
	events, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Contains(t, types(events), EventRatingRequested)
}

func TestRunStopsAtTerminalStatus(t *testing.T) {
	sc := &script{reads: []chat.Session{
		session(chat.StatusActive, "op-1"),
		session(chat.StatusActive, "op-1", "a"),
		session(chat.StatusClosed, "op-1", "a"),
	}, errs: []error{nil, errors.New("transient"), nil}}
	p := New(sc.fetch, time.Millisecond)

	var seen []EventType
	err := p.Run(context.Background(), func(events []Event) error {
		seen = append(seen, types(events)...)
		return nil
	})
	require.NoError(t, err)
	assert.Contains(t, seen, EventMessages)
	assert.Equal(t, EventStatus, seen[len(seen)-1])
	assert.NotContains(t, seen, EventRatingRequested)
}

func TestRunReturnsPermanentErrors(t *testing.T) {
	sc := &script{reads: []chat.Session{{}}, errs: []error{apperr.NotFound("session", "s1")}}
	p := New(sc.fetch, time.Millisecond)

	err := p.Run(context.Background(), func([]Event) error { return nil })
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRunStopsOnCancel(t *testing.T) {
	sc := &script{reads: []chat.Session{session(chat.StatusActive, "op-1")}}
	p := New(sc.fetch, time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.NoError(t, p.Run(ctx, func([]Event) error { return nil }))
}

func TestNewDefaultsInterval(t *testing.T) {
	assert.Equal(t, DefaultInterval, New(nil, 0).Interval())
}
