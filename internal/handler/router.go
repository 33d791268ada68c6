package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpmetrics "github.com/slok/go-http-metrics/metrics/prometheus"
	httpmiddleware "github.com/slok/go-http-metrics/middleware"
	"github.com/slok/go-http-metrics/middleware/std"

	"github.com/zhouzirui/supportdesk/backend/internal/handler/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/handler/report"
	"github.com/zhouzirui/supportdesk/backend/internal/handler/staff"
	"github.com/zhouzirui/supportdesk/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/supportdesk/backend/internal/middleware"
	"github.com/zhouzirui/supportdesk/backend/internal/service/assignment"
	chatService "github.com/zhouzirui/supportdesk/backend/internal/service/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/presence"
	"github.com/zhouzirui/supportdesk/backend/internal/service/rating"
	reportService "github.com/zhouzirui/supportdesk/backend/internal/service/report"
	"github.com/zhouzirui/supportdesk/backend/pkg/utils"
)

// Services bundles what the HTTP layer needs.
type Services struct {
	Chat         *chatService.Service
	Tracker      *presence.Tracker
	Engine       *assignment.Engine
	Ratings      *rating.Workflow
	Reports      *reportService.Service
	PollInterval time.Duration
}

var (
	metricsOnce sync.Once
	metricsMdlw httpmiddleware.Middleware
)

// httpMetrics registers the request collectors once per process.
func httpMetrics() httpmiddleware.Middleware {
	metricsOnce.Do(func() {
		metricsMdlw = httpmiddleware.New(httpmiddleware.Config{
			Recorder: httpmetrics.NewRecorder(httpmetrics.Config{}),
		})
	})
	return metricsMdlw
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svc Services) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	mdlw := httpMetrics()
	measured := func(handlerID string) func(http.Handler) http.Handler {
		return std.HandlerProvider(handlerID, mdlw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	sessionHandler := chat.New(svc.Chat, svc.Engine, svc.Ratings)
	staffHandler := staff.New(svc.Tracker, svc.Engine, svc.Chat, svc.Ratings)
	reportHandler := report.New(svc.Reports)
	queueHandler := stream.New(svc.Chat, svc.Tracker, svc.PollInterval)
	feedHandler := stream.NewWebSocketHandler(svc.Chat, svc.PollInterval)

	r.Route("/api", func(api chi.Router) {
		api.Use(middlewarePkg.Identity(svc.Tracker))

		api.Group(func(g chi.Router) {
			g.Use(measured("sessions"))
			sessionHandler.RegisterRoutes(g)
		})
		api.Group(func(g chi.Router) {
			g.Use(measured("staff"))
			staffHandler.RegisterRoutes(g)
		})
		api.Group(func(g chi.Router) {
			g.Use(measured("reports"))
			reportHandler.RegisterRoutes(g)
		})

		// Long-lived connections stay out of the latency histograms.
		queueHandler.RegisterRoutes(api)
		feedHandler.RegisterRoutes(api)
	})

	return r
}
