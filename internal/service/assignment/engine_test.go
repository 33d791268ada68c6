package assignment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/supportdesk/backend/internal/apperr"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/model/staff"
	"github.com/zhouzirui/supportdesk/backend/internal/service/events"
	"github.com/zhouzirui/supportdesk/backend/internal/service/presence"
)

type fixture struct {
	sessions *chat.MemoryStore
	tracker  *presence.Tracker
	engine   *Engine
	events   *events.Recorder
}

func newFixture(t *testing.T, online ...string) fixture {
	t.Helper()
	sessions := chat.NewMemoryStore()
	rec := &events.Recorder{}
	tracker := presence.NewTracker(staff.NewMemoryStore([]staff.Member{
		{ID: "op-1", DisplayName: "One", Role: staff.RoleOperator},
		{ID: "op-2", DisplayName: "Two", Role: staff.RoleOperator},
		{ID: "qc", DisplayName: "QC", Role: staff.RoleQC},
	}), sessions, rec)
	for _, id := range online {
		_, _, err := tracker.SetStatus(context.Background(), id, staff.StatusOnline)
		require.NoError(t, err)
	}
	return fixture{sessions: sessions, tracker: tracker, engine: NewEngine(sessions, tracker, rec), events: rec}
}

func (f fixture) queue(t *testing.T, id string) {
	t.Helper()
	_, err := f.sessions.Create(context.Background(), chat.Session{
		ID: id, ClientID: "c-" + id, ClientName: "Client", ClientPhone: "+70001234567",
		Status: chat.StatusUnassigned, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestAssignBindsHeadOfEligibleList(t *testing.T) {
	f := newFixture(t, "op-1")
	ctx := context.Background()
	f.queue(t, "s1")

	staffID, err := f.engine.Assign(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "op-1", staffID)

	s, err := f.sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, chat.StatusActive, s.Status)
	assert.Equal(t, "op-1", s.AssignedOperatorID)
	assert.NotNil(t, s.AssignedAt)

	member, err := f.tracker.Member(ctx, "op-1")
	require.NoError(t, err)
	assert.NotNil(t, member.LastAssignedAt)
	assert.Contains(t, f.events.Types(), events.SessionAssigned)
}

func TestAssignWithoutEligibleStaffLeavesSessionQueued(t *testing.T) {
	f := newFixture(t, "qc")
	ctx := context.Background()
	f.queue(t, "s1")

	for i := 0; i < 2; i++ {
		_, err := f.engine.Assign(ctx, "s1")
		require.ErrorIs(t, err, apperr.ErrNoEligibleStaff)
	}

	s, err := f.sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, chat.StatusUnassigned, s.Status)
	assert.Equal(t, int64(0), s.Version)
}

func TestAssignAlreadyActive(t *testing.T) {
	f := newFixture(t, "op-1")
	ctx := context.Background()
	f.queue(t, "s1")

	_, err := f.engine.Assign(ctx, "s1")
	require.NoError(t, err)
	_, err = f.engine.Assign(ctx, "s1")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = f.engine.Assign(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestConcurrentAssignHasOneWinner(t *testing.T) {
	f := newFixture(t, "op-1", "op-2")
	ctx := context.Background()
	f.queue(t, "s1")

	const attempts = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		losers  []error
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			staffID, err := f.engine.Assign(ctx, "s1")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				losers = append(losers, err)
				return
			}
			winners = append(winners, staffID)
		}()
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	for _, err := range losers {
		assert.True(t, errors.Is(err, apperr.ErrConflict) || errors.Is(err, apperr.ErrInvalidState), "unexpected error %v", err)
	}

	s, err := f.sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, winners[0], s.AssignedOperatorID)
}

func TestAssignSpreadsLoad(t *testing.T) {
	f := newFixture(t, "op-1", "op-2")
	ctx := context.Background()

	got := make(map[string]int)
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("s%d", i)
		f.queue(t, id)
		staffID, err := f.engine.Assign(ctx, id)
		require.NoError(t, err)
		got[staffID]++
	}
	assert.Equal(t, map[string]int{"op-1": 2, "op-2": 2}, got)
}

func TestOfflineOperatorSessionsMoveToAnotherOperator(t *testing.T) {
	f := newFixture(t, "op-1")
	ctx := context.Background()
	f.queue(t, "s1")
	f.queue(t, "s2")

	for _, id := range []string{"s1", "s2"} {
		staffID, err := f.engine.Assign(ctx, id)
		require.NoError(t, err)
		require.Equal(t, "op-1", staffID)
	}

	_, _, err := f.tracker.SetStatus(ctx, "op-2", staff.StatusOnline)
	require.NoError(t, err)
	_, requeued, err := f.tracker.SetStatus(ctx, "op-1", staff.StatusOffline)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"s1", "s2"}, requeued)

	for _, id := range requeued {
		s, err := f.sessions.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, chat.StatusUnassigned, s.Status)

		staffID, err := f.engine.Assign(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "op-2", staffID)
	}
}

func TestOfflineWithNobodyElseOnline(t *testing.T) {
	f := newFixture(t, "op-1")
	ctx := context.Background()
	f.queue(t, "s1")
	f.queue(t, "s2")
	_, err := f.engine.Sweep(ctx)
	require.NoError(t, err)

	_, requeued, err := f.tracker.SetStatus(ctx, "op-1", staff.StatusOffline)
	require.NoError(t, err)
	require.Len(t, requeued, 2)

	for _, id := range requeued {
		_, err := f.engine.Assign(ctx, id)
		assert.ErrorIs(t, err, apperr.ErrNoEligibleStaff)
	}
}

func TestSweepAssignsOldestFirstAndReportsQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.queue(t, fmt.Sprintf("s%d", i))
	}

	result, err := f.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Assigned)
	assert.Equal(t, 3, result.Queued)

	_, _, err = f.tracker.SetStatus(ctx, "op-1", staff.StatusOnline)
	require.NoError(t, err)
	result, err = f.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Len(t, result.Assigned, 3)
	assert.Zero(t, result.Queued)
}
