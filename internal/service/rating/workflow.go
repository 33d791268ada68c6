// Package rating runs the post-chat client rating prompt and the internal
// quality-control scoring of finished conversations.
package rating

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zhouzirui/supportdesk/backend/internal/access"
	"github.com/zhouzirui/supportdesk/backend/internal/apperr"
	"github.com/zhouzirui/supportdesk/backend/internal/metrics"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/events"
)

// Bounds is an inclusive integer range.
type Bounds struct {
	Min int
	Max int
}

// Contains reports whether v lies within the bounds.
func (b Bounds) Contains(v int) bool {
	return v >= b.Min && v <= b.Max
}

// Config holds the accepted score ranges.
type Config struct {
	Client Bounds
	QC     Bounds
}

// DefaultConfig is a 1..5 client rating and a 0..130 QC score.
func DefaultConfig() Config {
	return Config{
		Client: Bounds{Min: 1, Max: 5},
		QC:     Bounds{Min: 0, Max: 130},
	}
}

// Workflow records client ratings and QC reports.
type Workflow struct {
	store     chat.Store
	publisher events.Publisher
	cfg       Config
	now       func() time.Time
}

// NewWorkflow builds a Workflow. Zero bounds fall back to DefaultConfig.
func NewWorkflow(store chat.Store, publisher events.Publisher, cfg Config) *Workflow {
	def := DefaultConfig()
	if cfg.Client.Max <= cfg.Client.Min {
		cfg.Client = def.Client
	}
	if cfg.QC.Max <= cfg.QC.Min {
		cfg.QC = def.QC
	}
	return &Workflow{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Config returns the effective score ranges.
func (w *Workflow) Config() Config {
	return w.cfg
}

// SubmitRating stores the client's rating and closes the session. Exactly one
// of SubmitRating and SkipRating can succeed for a session.
func (w *Workflow) SubmitRating(ctx context.Context, actor access.Actor, sessionID string, value int) (chat.Session, error) {
	if !w.cfg.Client.Contains(value) {
		return chat.Session{}, apperr.InvalidInput("rating %d outside [%d, %d]", value, w.cfg.Client.Min, w.cfg.Client.Max)
	}

	session, err := w.store.Update(ctx, sessionID, func(cur *chat.Session) error {
		if err := access.Check(actor, access.CapRate, *cur); err != nil {
			return err
		}
		return cur.Rate(value, w.now())
	})
	if err != nil {
		return chat.Session{}, err
	}

	metrics.RatingOutcomes.WithLabelValues("rated").Inc()
	metrics.RatingValues.Observe(float64(value))
	events.Emit(ctx, w.publisher, events.Event{
		Type: events.SessionRated, SessionID: sessionID, StaffID: session.AssignedOperatorID,
		Status: string(session.Status), Value: &value,
	})
	log.WithFields(log.Fields{"session": sessionID, "rating": value}).Info("session rated")
	return session, nil
}

// SkipRating records that the client declined to rate.
func (w *Workflow) SkipRating(ctx context.Context, actor access.Actor, sessionID string) (chat.Session, error) {
	session, err := w.store.Update(ctx, sessionID, func(cur *chat.Session) error {
		if err := access.Check(actor, access.CapRate, *cur); err != nil {
			return err
		}
		return cur.SkipRating(w.now())
	})
	if err != nil {
		return chat.Session{}, err
	}

	metrics.RatingOutcomes.WithLabelValues("skipped").Inc()
	events.Emit(ctx, w.publisher, events.Event{
		Type: events.SessionRatingSkipped, SessionID: sessionID, StaffID: session.AssignedOperatorID,
		Status: string(session.Status),
	})
	log.WithField("session", sessionID).Info("session rating skipped")
	return session, nil
}

// SubmitQCReport scores an ended session on behalf of a QC controller or
// admin. Each rater reports on a session at most once.
func (w *Workflow) SubmitQCReport(ctx context.Context, actor access.Actor, sessionID string, score int, feedback string) (chat.QCReport, error) {
	if !w.cfg.QC.Contains(score) {
		return chat.QCReport{}, apperr.InvalidInput("qc score %d outside [%d, %d]", score, w.cfg.QC.Min, w.cfg.QC.Max)
	}

	session, err := w.store.Get(ctx, sessionID)
	if err != nil {
		return chat.QCReport{}, err
	}
	if err := access.Check(actor, access.CapQC, session); err != nil {
		return chat.QCReport{}, err
	}
	if !session.Status.Ended() {
		return chat.QCReport{}, apperr.InvalidState("session %s is %s, qc needs an ended chat", sessionID, session.Status)
	}

	report := chat.QCReport{
		SessionID:  sessionID,
		RaterID:    actor.ID,
		OperatorID: session.AssignedOperatorID,
		Score:      score,
		Feedback:   strings.TrimSpace(feedback),
		RatedAt:    w.now(),
	}
	if err := w.store.PutQCReport(ctx, report); err != nil {
		return chat.QCReport{}, err
	}

	metrics.QCReports.Inc()
	events.Emit(ctx, w.publisher, events.Event{
		Type: events.QCReported, SessionID: sessionID, StaffID: report.OperatorID, Value: &score,
	})
	log.WithFields(log.Fields{"session": sessionID, "rater": actor.ID, "score": score}).Info("qc report stored")
	return report, nil
}

// QCReports lists the reports of one session. Supervisors see every session;
// an operator only the ones assigned to them.
func (w *Workflow) QCReports(ctx context.Context, actor access.Actor, sessionID string) ([]chat.QCReport, error) {
	session, err := w.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !actor.Supervisor() && !(actor.Role == access.RoleOperator && access.Allowed(actor, access.CapRead, session)) {
		return nil, apperr.Forbidden("%s %q may not read qc reports of session %s", actor.Role, actor.ID, sessionID)
	}
	return w.store.ListQCReports(ctx, chat.QCFilter{SessionID: sessionID})
}

// ReportsForOperator lists QC reports about one operator's chats.
func (w *Workflow) ReportsForOperator(ctx context.Context, actor access.Actor, operatorID string) ([]chat.QCReport, error) {
	if operatorID == "" {
		return nil, apperr.InvalidInput("operator id is required")
	}
	if !actor.Supervisor() && actor.ID != operatorID {
		return nil, apperr.Forbidden("%s %q may not read qc reports of %s", actor.Role, actor.ID, operatorID)
	}
	return w.store.ListQCReports(ctx, chat.QCFilter{OperatorID: operatorID})
}
