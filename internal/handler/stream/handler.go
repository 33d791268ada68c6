package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/zhouzirui/supportdesk/backend/internal/access"
	"github.com/zhouzirui/supportdesk/backend/internal/middleware"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	chatService "github.com/zhouzirui/supportdesk/backend/internal/service/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/poller"
	"github.com/zhouzirui/supportdesk/backend/internal/service/presence"
	"github.com/zhouzirui/supportdesk/backend/pkg/utils"
)

const heartbeatInterval = 15 * time.Second

// Handler pushes queue snapshots to staff dashboards via Server-Sent Events.
type Handler struct {
	chatSvc  *chatService.Service
	tracker  *presence.Tracker
	interval time.Duration
}

// New creates a queue stream handler. A non-positive interval uses the
// poller default.
func New(chatSvc *chatService.Service, tracker *presence.Tracker, interval time.Duration) *Handler {
	if interval <= 0 {
		interval = poller.DefaultInterval
	}
	return &Handler{
		chatSvc:  chatSvc,
		tracker:  tracker,
		interval: interval,
	}
}

// RegisterRoutes mounts the queue stream.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(middleware.RequireStaff).Get("/stream/queue", h.handleQueueStream)
}

// SessionBrief is the dashboard line of one chat.
type SessionBrief struct {
	ID                 string      `json:"id"`
	ClientName         string      `json:"clientName"`
	Status             chat.Status `json:"status"`
	AssignedOperatorID string      `json:"assignedOperatorId,omitempty"`
	LastMessageID      int64       `json:"lastMessageId"`
	CreatedAt          time.Time   `json:"createdAt"`
}

// QueueSnapshot is what a staff member sees of the desk: the waiting queue
// and the live chats visible to them.
type QueueSnapshot struct {
	Queued   int            `json:"queued"`
	Eligible int            `json:"eligible"`
	Sessions []SessionBrief `json:"sessions"`
}

// Snapshot builds the queue view for actor.
func (h *Handler) Snapshot(ctx context.Context, actor access.Actor) (QueueSnapshot, error) {
	queue, err := h.chatSvc.Store().List(ctx, chat.Filter{Statuses: []chat.Status{chat.StatusUnassigned}})
	if err != nil {
		return QueueSnapshot{}, err
	}
	live, err := h.chatSvc.ListSessions(ctx, actor, chat.Filter{Statuses: []chat.Status{chat.StatusActive, chat.StatusAwaitingRating}})
	if err != nil {
		return QueueSnapshot{}, err
	}
	eligible, err := h.tracker.EligibleForAssignment(ctx)
	if err != nil {
		return QueueSnapshot{}, err
	}

	snap := QueueSnapshot{
		Queued:   len(queue),
		Eligible: len(eligible),
		Sessions: make([]SessionBrief, 0, len(live)),
	}
	for _, s := range live {
		snap.Sessions = append(snap.Sessions, SessionBrief{
			ID:                 s.ID,
			ClientName:         s.ClientName,
			Status:             s.Status,
			AssignedOperatorID: s.AssignedOperatorID,
			LastMessageID:      s.LastMessageID(),
			CreatedAt:          s.CreatedAt,
		})
	}
	return snap, nil
}

// handleQueueStream sends a "queue" event whenever the snapshot changes and
// a heartbeat while it does not.
func (h *Handler) handleQueueStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	actor, _ := middleware.PrincipalFrom(r.Context()).StaffActor()

	ctx := r.Context()
	utils.SetupSSEHeaders(w)
	log.WithField("staff", actor.ID).Debug("opening queue stream")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	var last []byte
	push := func() {
		snap, err := h.Snapshot(ctx, actor)
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).WithField("staff", actor.ID).Warn("queue snapshot failed")
			}
			return
		}
		data, err := json.Marshal(snap)
		if err != nil || string(data) == string(last) {
			return
		}
		last = data
		utils.SendSSEEvent(w, flusher, "queue", snap)
	}

	push()
	for {
		select {
		case <-ctx.Done():
			log.WithField("staff", actor.ID).Debug("closing queue stream")
			return
		case <-ticker.C:
			push()
		case t := <-heartbeat.C:
			utils.SendSSEEvent(w, flusher, "heartbeat", map[string]string{"time": t.UTC().Format(time.RFC3339)})
		}
	}
}
