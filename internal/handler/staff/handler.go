package staff

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/zhouzirui/supportdesk/backend/internal/access"
	"github.com/zhouzirui/supportdesk/backend/internal/apperr"
	"github.com/zhouzirui/supportdesk/backend/internal/middleware"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/model/staff"
	"github.com/zhouzirui/supportdesk/backend/internal/service/assignment"
	chatService "github.com/zhouzirui/supportdesk/backend/internal/service/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/presence"
	"github.com/zhouzirui/supportdesk/backend/internal/service/rating"
	"github.com/zhouzirui/supportdesk/backend/pkg/utils"
)

// Handler serves the staff dashboard and team management endpoints.
type Handler struct {
	tracker *presence.Tracker
	engine  *assignment.Engine
	chatSvc *chatService.Service
	ratings *rating.Workflow
}

// New creates the staff handler.
func New(tracker *presence.Tracker, engine *assignment.Engine, chatSvc *chatService.Service, ratings *rating.Workflow) *Handler {
	return &Handler{
		tracker: tracker,
		engine:  engine,
		chatSvc: chatSvc,
		ratings: ratings,
	}
}

// RegisterRoutes mounts the staff routes. Every route needs a staff caller.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/staff", func(r chi.Router) {
		r.Use(middleware.RequireStaff)

		r.Get("/", h.handleListStaff)
		r.Post("/", h.handlePutStaff)
		r.Get("/eligible", h.handleEligible)
		r.Get("/me", h.handleMe)
		r.Put("/me/status", h.handleSetStatus)
		r.Get("/me/sessions", h.handleMySessions)
		r.Get("/me/qc", h.handleMyQCReports)
	})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	actor := staffActor(r)
	member, err := h.tracker.Member(r.Context(), actor.ID)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, member)
}

type statusResponse struct {
	Member   staff.Member            `json:"member"`
	Requeued []string                `json:"requeued,omitempty"`
	Sweep    *assignment.SweepResult `json:"sweep,omitempty"`
}

// handleSetStatus records a presence change. Requeued chats and, when the
// caller came online, the waiting queue are offered to operators again.
func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	actor := staffActor(r)
	var payload struct {
		Status string `json:"status"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondAppError(w, err)
		return
	}
	status, err := staff.ParseStatus(strings.TrimSpace(payload.Status))
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	member, requeued, err := h.tracker.SetStatus(r.Context(), actor.ID, status)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	resp := statusResponse{Member: member, Requeued: requeued}
	if status == staff.StatusOnline || len(requeued) > 0 {
		resp.Sweep = h.sweep(r.Context())
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) sweep(ctx context.Context) *assignment.SweepResult {
	result, err := h.engine.Sweep(ctx)
	if err != nil {
		log.WithError(err).Warn("queue sweep failed")
		return nil
	}
	return &result
}

func (h *Handler) handleEligible(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.tracker.Candidates(r.Context())
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, candidates)
}

// handleMySessions lists the caller's chats, optionally narrowed by status.
func (h *Handler) handleMySessions(w http.ResponseWriter, r *http.Request) {
	actor := staffActor(r)

	var filter chat.Filter
	for _, raw := range strings.Split(r.URL.Query().Get("status"), ",") {
		if raw = strings.TrimSpace(raw); raw == "" {
			continue
		}
		st, err := chat.ParseStatus(raw)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	filter.OperatorID = actor.ID

	sessions, err := h.chatSvc.ListSessions(r.Context(), actor, filter)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleMyQCReports(w http.ResponseWriter, r *http.Request) {
	actor := staffActor(r)
	reports, err := h.ratings.ReportsForOperator(r.Context(), actor, actor.ID)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, reports)
}

func (h *Handler) handleListStaff(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		utils.RespondAppError(w, err)
		return
	}
	members, err := h.tracker.Members(r.Context())
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, members)
}

// handlePutStaff adds a team member or updates its name and role.
func (h *Handler) handlePutStaff(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		utils.RespondAppError(w, err)
		return
	}

	var payload struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
		Role        string `json:"role"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondAppError(w, err)
		return
	}

	member, requeued, err := h.tracker.AddMember(r.Context(), staff.Member{
		ID:          strings.TrimSpace(payload.ID),
		DisplayName: strings.TrimSpace(payload.DisplayName),
		Role:        staff.Role(strings.TrimSpace(payload.Role)),
	})
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	log.WithFields(log.Fields{"staff": member.ID, "role": member.Role, "requeued": len(requeued)}).Info("staff member saved")
	if len(requeued) > 0 {
		h.sweep(r.Context())
	}
	utils.RespondJSON(w, http.StatusCreated, member)
}

func staffActor(r *http.Request) access.Actor {
	actor, _ := middleware.PrincipalFrom(r.Context()).StaffActor()
	return actor
}

func requireAdmin(r *http.Request) error {
	if actor := staffActor(r); actor.Role != access.RoleSuperAdmin {
		return apperr.Forbidden("%s %q may not manage staff", actor.Role, actor.ID)
	}
	return nil
}
