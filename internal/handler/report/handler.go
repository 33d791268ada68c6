package report

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/supportdesk/backend/internal/middleware"
	reportService "github.com/zhouzirui/supportdesk/backend/internal/service/report"
	"github.com/zhouzirui/supportdesk/backend/pkg/utils"
)

// Handler serves the supervisor dashboards.
type Handler struct {
	reports *reportService.Service
}

// New creates the report handler.
func New(reports *reportService.Service) *Handler {
	return &Handler{reports: reports}
}

// RegisterRoutes mounts the report routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.Use(middleware.RequireStaff)

		r.Get("/operators", h.handleOperators)
		r.Get("/operators/{operatorID}", h.handleOperator)
		r.Get("/monitoring", h.handleMonitoring)
	})
}

func (h *Handler) handleOperators(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.PrincipalFrom(r.Context()).StaffActor()
	summaries, err := h.reports.Operators(r.Context(), actor)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, summaries)
}

func (h *Handler) handleOperator(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.PrincipalFrom(r.Context()).StaffActor()
	summary, err := h.reports.Operator(r.Context(), actor, chi.URLParam(r, "operatorID"))
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleMonitoring(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.PrincipalFrom(r.Context()).StaffActor()
	view, err := h.reports.Monitoring(r.Context(), actor)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, view)
}
