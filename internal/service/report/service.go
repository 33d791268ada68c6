// Package report aggregates sessions, ratings and QC scores into the
// supervisor dashboards.
package report

import (
	"context"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/zhouzirui/supportdesk/backend/internal/access"
	"github.com/zhouzirui/supportdesk/backend/internal/analysis/mood"
	"github.com/zhouzirui/supportdesk/backend/internal/apperr"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/model/staff"
)

// Team lists the staff members.
type Team interface {
	Members(ctx context.Context) ([]staff.Member, error)
}

// OperatorSummary is the performance of one operator over every stored session.
type OperatorSummary struct {
	OperatorID   string       `json:"operatorId"`
	DisplayName  string       `json:"displayName"`
	Status       staff.Status `json:"status"`
	Active       int          `json:"active"`
	Handled      int          `json:"handled"`
	Rated        int          `json:"rated"`
	Skipped      int          `json:"skipped"`
	MeanRating   float64      `json:"meanRating"`
	MedianRating float64      `json:"medianRating"`
	QCReports    int          `json:"qcReports"`
	MeanQCScore  float64      `json:"meanQcScore"`
}

// StaffLoad is a staff member with the number of chats they hold.
type StaffLoad struct {
	Member staff.Member `json:"member"`
	Active int          `json:"active"`
}

// Attention is a live chat whose latest client message reads as unhappy.
type Attention struct {
	SessionID  string      `json:"sessionId"`
	ClientName string      `json:"clientName"`
	OperatorID string      `json:"operatorId,omitempty"`
	Status     chat.Status `json:"status"`
	Mood       mood.Label  `json:"mood"`
	Text       string      `json:"text"`
	SentAt     time.Time   `json:"sentAt"`
}

// Monitoring is a point-in-time view of the desk.
type Monitoring struct {
	Staff             []StaffLoad `json:"staff"`
	Queued            int         `json:"queued"`
	Active            int         `json:"active"`
	AwaitingRating    int         `json:"awaitingRating"`
	OldestQueuedAt    *time.Time  `json:"oldestQueuedAt,omitempty"`
	MedianWaitSeconds float64     `json:"medianWaitSeconds"`
	Attention         []Attention `json:"attention"`
	GeneratedAt       time.Time   `json:"generatedAt"`
}

// Service builds reports from the stores.
type Service struct {
	sessions chat.Store
	team     Team
	now      func() time.Time
}

// NewService wires the report service.
func NewService(sessions chat.Store, team Team) *Service {
	return &Service{
		sessions: sessions,
		team:     team,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Operators summarizes every operator. Supervisors only.
func (s *Service) Operators(ctx context.Context, actor access.Actor) ([]OperatorSummary, error) {
	if !actor.Supervisor() {
		return nil, apperr.Forbidden("%s may not read operator reports", actor.Role)
	}
	members, err := s.team.Members(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]OperatorSummary, 0, len(members))
	for _, m := range members {
		if !m.Role.HandlesChats() {
			continue
		}
		summary, err := s.summarize(ctx, m)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OperatorID < out[j].OperatorID })
	return out, nil
}

// Operator summarizes one operator. Operators may read their own summary.
func (s *Service) Operator(ctx context.Context, actor access.Actor, operatorID string) (OperatorSummary, error) {
	if !actor.Supervisor() && actor.ID != operatorID {
		return OperatorSummary{}, apperr.Forbidden("%s %q may not read the report of %s", actor.Role, actor.ID, operatorID)
	}
	members, err := s.team.Members(ctx)
	if err != nil {
		return OperatorSummary{}, err
	}
	for _, m := range members {
		if m.ID == operatorID {
			return s.summarize(ctx, m)
		}
	}
	return OperatorSummary{}, apperr.NotFound("staff", operatorID)
}

func (s *Service) summarize(ctx context.Context, m staff.Member) (OperatorSummary, error) {
	sessions, err := s.sessions.List(ctx, chat.Filter{OperatorID: m.ID})
	if err != nil {
		return OperatorSummary{}, err
	}
	reports, err := s.sessions.ListQCReports(ctx, chat.QCFilter{OperatorID: m.ID})
	if err != nil {
		return OperatorSummary{}, err
	}

	summary := OperatorSummary{OperatorID: m.ID, DisplayName: m.DisplayName, Status: m.Status, QCReports: len(reports)}
	ratings := make([]float64, 0, len(sessions))
	for _, session := range sessions {
		switch session.Status {
		case chat.StatusActive:
			summary.Active++
		case chat.StatusSkippedRating:
			summary.Skipped++
		}
		if session.Status.Ended() {
			summary.Handled++
		}
		if session.Rating != nil {
			summary.Rated++
			ratings = append(ratings, float64(*session.Rating))
		}
	}

	if len(ratings) > 0 {
		data := stats.LoadRawData(ratings)
		summary.MeanRating, _ = stats.Mean(data)
		summary.MedianRating, _ = stats.Median(data)
	}
	if len(reports) > 0 {
		scores := make([]float64, 0, len(reports))
		for _, r := range reports {
			scores = append(scores, float64(r.Score))
		}
		summary.MeanQCScore, _ = stats.Mean(stats.LoadRawData(scores))
	}
	return summary, nil
}

// Monitoring returns staff load, the queue and chats that need a supervisor.
func (s *Service) Monitoring(ctx context.Context, actor access.Actor) (Monitoring, error) {
	if !actor.Supervisor() {
		return Monitoring{}, apperr.Forbidden("%s may not monitor the desk", actor.Role)
	}
	members, err := s.team.Members(ctx)
	if err != nil {
		return Monitoring{}, err
	}
	live, err := s.sessions.List(ctx, chat.Filter{Statuses: []chat.Status{
		chat.StatusUnassigned, chat.StatusActive, chat.StatusAwaitingRating,
	}})
	if err != nil {
		return Monitoring{}, err
	}

	now := s.now()
	view := Monitoring{Attention: make([]Attention, 0), GeneratedAt: now}
	load := make(map[string]int)
	waits := make([]float64, 0)
	for _, session := range live {
		switch session.Status {
		case chat.StatusUnassigned:
			view.Queued++
			waits = append(waits, now.Sub(session.CreatedAt).Seconds())
			if view.OldestQueuedAt == nil || session.CreatedAt.Before(*view.OldestQueuedAt) {
				created := session.CreatedAt
				view.OldestQueuedAt = &created
			}
		case chat.StatusActive:
			view.Active++
			load[session.AssignedOperatorID]++
		case chat.StatusAwaitingRating:
			view.AwaitingRating++
		}
		if session.Status.Ended() {
			continue
		}
		if item, ok := attentionFor(session); ok {
			view.Attention = append(view.Attention, item)
		}
	}
	if len(waits) > 0 {
		view.MedianWaitSeconds, _ = stats.Median(stats.LoadRawData(waits))
	}

	view.Staff = make([]StaffLoad, 0, len(members))
	for _, m := range members {
		view.Staff = append(view.Staff, StaffLoad{Member: m, Active: load[m.ID]})
	}
	return view, nil
}

// attentionFor inspects the latest client message of a live session.
func attentionFor(session chat.Session) (Attention, bool) {
	for i := len(session.Messages) - 1; i >= 0; i-- {
		msg := session.Messages[i]
		if msg.SenderType != chat.SenderClient {
			continue
		}
		label := mood.Label(msg.Mood)
		if label == "" {
			label = mood.Analyze(msg.Text).Mood
		}
		if !label.NeedsAttention() {
			return Attention{}, false
		}
		return Attention{
			SessionID:  session.ID,
			ClientName: session.ClientName,
			OperatorID: session.AssignedOperatorID,
			Status:     session.Status,
			Mood:       label,
			Text:       msg.Text,
			SentAt:     msg.SentAt,
		}, true
	}
	return Attention{}, false
}
