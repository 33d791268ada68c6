// Package metrics declares the Prometheus collectors of the support desk.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportdesk_sessions_created_total",
		Help: "Chat sessions opened by clients.",
	})

	AssignmentAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportdesk_assignment_attempts_total",
		Help: "Assignment attempts by result (assigned, no_eligible_staff, conflict, invalid_state).",
	}, []string{"result"})

	SessionsRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportdesk_sessions_requeued_total",
		Help: "Active sessions returned to the queue because their operator went offline.",
	})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportdesk_messages_sent_total",
		Help: "Messages appended to sessions by sender type.",
	}, []string{"sender"})

	RatingOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportdesk_rating_outcomes_total",
		Help: "Rating decisions by outcome (rated, skipped).",
	}, []string{"outcome"})

	RatingValues = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "supportdesk_rating_value",
		Help:    "Client satisfaction ratings.",
		Buckets: []float64{1, 2, 3, 4, 5},
	})

	QCReports = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportdesk_qc_reports_total",
		Help: "Quality-control reports submitted.",
	})

	StaffByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "supportdesk_staff",
		Help: "Staff members by presence status.",
	}, []string{"status"})
)
