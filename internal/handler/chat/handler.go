package chat

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/zhouzirui/supportdesk/backend/internal/access"
	"github.com/zhouzirui/supportdesk/backend/internal/apperr"
	"github.com/zhouzirui/supportdesk/backend/internal/middleware"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/assignment"
	chatService "github.com/zhouzirui/supportdesk/backend/internal/service/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/poller"
	"github.com/zhouzirui/supportdesk/backend/internal/service/rating"
	"github.com/zhouzirui/supportdesk/backend/pkg/utils"
)

// Handler serves the session endpoints used by clients and staff.
type Handler struct {
	chatSvc *chatService.Service
	engine  *assignment.Engine
	ratings *rating.Workflow
}

// New creates the session handler.
func New(chatSvc *chatService.Service, engine *assignment.Engine, ratings *rating.Workflow) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		engine:  engine,
		ratings: ratings,
	}
}

// RegisterRoutes mounts the session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.handleOpenSession)
		r.With(middleware.RequireStaff).Get("/", h.handleListSessions)
		r.Get("/lookup", h.handleLookup)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGetSession)
			r.Get("/events", h.handleEvents)
			r.Post("/messages", h.handleSendMessage)
			r.Post("/close", h.handleClose)
			r.With(middleware.RequireStaff).Post("/assign", h.handleAssign)
			r.Post("/rating", h.handleRate)
			r.Post("/rating/skip", h.handleSkipRating)
			r.With(middleware.RequireStaff).Post("/qc", h.handleSubmitQC)
			r.With(middleware.RequireStaff).Get("/qc", h.handleListQC)
		})
	})
}

type openSessionResponse struct {
	chat.Session
	Resumed bool   `json:"resumed"`
	Hint    string `json:"hint,omitempty"`
}

// handleOpenSession resumes the caller's live chat or opens a new one and
// tries to hand it to an operator right away.
func (h *Handler) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ClientName  string `json:"clientName"`
		ClientPhone string `json:"clientPhone"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondAppError(w, err)
		return
	}

	session, resumed, err := h.chatSvc.OpenSession(r.Context(), payload.ClientName, payload.ClientPhone)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	resp := openSessionResponse{Session: session, Resumed: resumed}
	if session.Status == chat.StatusUnassigned {
		resp.Session, resp.Hint = h.tryAssign(r.Context(), session)
	}

	status := http.StatusCreated
	if resumed {
		status = http.StatusOK
	}
	utils.RespondJSON(w, status, resp)
}

// tryAssign attempts an assignment and returns the fresh session. A queued
// session carries the hint to wait.
func (h *Handler) tryAssign(ctx context.Context, session chat.Session) (chat.Session, string) {
	_, err := h.engine.Assign(ctx, session.ID)
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrNoEligibleStaff):
		_, _, hint := utils.Classify(err)
		return session, hint
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrInvalidState):
	default:
		log.WithError(err).WithField("session", session.ID).Warn("assignment attempt failed")
		return session, ""
	}

	fresh, err := h.chatSvc.GetSession(ctx, session.ID)
	if err != nil {
		return session, ""
	}
	return fresh, ""
}

// handleListSessions lists the chats visible to a staff member.
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.PrincipalFrom(r.Context()).StaffActor()

	filter, err := parseFilter(r)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	sessions, err := h.chatSvc.ListSessions(r.Context(), actor, filter)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("phone")
	session, ok, err := h.chatSvc.FindActiveByPhone(r.Context(), phone)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	if !ok {
		utils.RespondAppError(w, apperr.NotFound("session for phone", strings.TrimSpace(phone)))
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	actor, err := h.actor(r, sessionID)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	session, err := h.chatSvc.View(r.Context(), actor, sessionID)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

type eventsResponse struct {
	Events      []poller.Event `json:"events"`
	Status      chat.Status    `json:"status"`
	Operator    string         `json:"operator"`
	LastMessage int64          `json:"lastMessage"`
}

// handleEvents answers a stateless poll: the caller passes the last message
// id, status and operator it has seen and receives what changed since.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	query := r.URL.Query()

	var cursor poller.Cursor
	if raw := query.Get("afterMessage"); raw != "" {
		val, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || val < 0 {
			utils.RespondAppError(w, apperr.InvalidInput("invalid afterMessage %q", raw))
			return
		}
		cursor.AfterMessage = val
	}
	if raw := query.Get("status"); raw != "" {
		st, err := chat.ParseStatus(raw)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		cursor.Status = st
	}
	// An empty operator means the client last saw the chat unassigned.
	if query.Has("operator") {
		operator := query.Get("operator")
		cursor.Operator = &operator
	}

	actor, err := h.actor(r, sessionID)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	session, err := h.chatSvc.View(r.Context(), actor, sessionID)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, eventsResponse{
		Events:      poller.Since(session, cursor),
		Status:      session.Status,
		Operator:    session.AssignedOperatorID,
		LastMessage: session.LastMessageID(),
	})
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondAppError(w, err)
		return
	}

	actor, err := h.actor(r, sessionID)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	msg, err := h.chatSvc.Send(r.Context(), actor, sessionID, payload.Text)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, msg)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var payload struct {
		Topic string `json:"topic"`
	}
	if err := utils.DecodeOptionalJSON(r, &payload); err != nil {
		utils.RespondAppError(w, err)
		return
	}

	actor, err := h.actor(r, sessionID)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	session, err := h.chatSvc.Close(r.Context(), actor, sessionID, payload.Topic)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// handleAssign retries the assignment of a queued session.
func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	actor, _ := middleware.PrincipalFrom(r.Context()).StaffActor()

	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	if err := access.Check(actor, access.CapAssign, session); err != nil {
		utils.RespondAppError(w, err)
		return
	}

	operatorID, err := h.engine.Assign(r.Context(), sessionID)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"sessionId": sessionID, "operatorId": operatorID})
}

func (h *Handler) handleRate(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var payload struct {
		Value *int `json:"value"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondAppError(w, err)
		return
	}
	if payload.Value == nil {
		utils.RespondAppError(w, apperr.InvalidInput("value is required"))
		return
	}

	actor, err := h.actor(r, sessionID)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	session, err := h.ratings.SubmitRating(r.Context(), actor, sessionID, *payload.Value)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleSkipRating(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	actor, err := h.actor(r, sessionID)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	session, err := h.ratings.SkipRating(r.Context(), actor, sessionID)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleSubmitQC(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	actor, _ := middleware.PrincipalFrom(r.Context()).StaffActor()

	var payload struct {
		Score    *int   `json:"score"`
		Feedback string `json:"feedback"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondAppError(w, err)
		return
	}
	if payload.Score == nil {
		utils.RespondAppError(w, apperr.InvalidInput("score is required"))
		return
	}

	report, err := h.ratings.SubmitQCReport(r.Context(), actor, sessionID, *payload.Score, payload.Feedback)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, report)
}

func (h *Handler) handleListQC(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.PrincipalFrom(r.Context()).StaffActor()

	reports, err := h.ratings.QCReports(r.Context(), actor, chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, reports)
}

// actor resolves the caller for one session. Clients known only by phone
// need the session to be matched against.
func (h *Handler) actor(r *http.Request, sessionID string) (access.Actor, error) {
	p := middleware.PrincipalFrom(r.Context())
	if actor, ok := p.StaffActor(); ok {
		return actor, nil
	}
	if p.ClientID != "" {
		return access.Client(p.ClientID), nil
	}
	if p.ClientPhone == "" {
		return access.Actor{}, apperr.Forbidden("caller identity is required")
	}

	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		return access.Actor{}, err
	}
	return p.ActorFor(session), nil
}

// parseFilter reads the status and operator query parameters.
func parseFilter(r *http.Request) (chat.Filter, error) {
	query := r.URL.Query()
	filter := chat.Filter{OperatorID: strings.TrimSpace(query.Get("operator"))}

	for _, raw := range strings.Split(query.Get("status"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		st, err := chat.ParseStatus(raw)
		if err != nil {
			return chat.Filter{}, err
		}
		filter.Statuses = append(filter.Statuses, st)
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return chat.Filter{}, apperr.InvalidInput("invalid limit %q", raw)
		}
		filter.Limit = limit
	}
	return filter, nil
}
