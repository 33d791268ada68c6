package db

import (
	"time"

	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
)

// SessionRow is one chat session. Messages live in chat_messages.
type SessionRow struct {
	ID                 string `gorm:"primaryKey;type:varchar(64)"`
	ClientID           string `gorm:"not null;index"`
	ClientName         string `gorm:"not null"`
	ClientPhone        string `gorm:"not null;index:idx_chat_sessions_phone_created,priority:1"`
	Status             string `gorm:"not null;index"`
	AssignedOperatorID string `gorm:"index"`
	Rating             *int
	Topic              string
	Version            int64     `gorm:"not null;default:0"`
	CreatedAt          time.Time `gorm:"not null;index:idx_chat_sessions_phone_created,priority:2"`
	AssignedAt         *time.Time
	ClosedAt           *time.Time
	RatedAt            *time.Time
}

func (SessionRow) TableName() string { return "chat_sessions" }

// MessageRow is one transcript entry, keyed by session and per-session id.
type MessageRow struct {
	SessionID  string `gorm:"primaryKey;type:varchar(64)"`
	ID         int64  `gorm:"primaryKey;autoIncrement:false"`
	SenderType string `gorm:"not null"`
	SenderID   string `gorm:"not null"`
	Text       string `gorm:"type:text;not null"`
	Mood       string
	SentAt     time.Time `gorm:"not null"`
}

func (MessageRow) TableName() string { return "chat_messages" }

// QCReportRow is one QC score; the primary key allows one report per rater.
type QCReportRow struct {
	SessionID  string `gorm:"primaryKey;type:varchar(64)"`
	RaterID    string `gorm:"primaryKey;type:varchar(64)"`
	OperatorID string `gorm:"index"`
	Score      int    `gorm:"not null"`
	Feedback   string `gorm:"type:text"`
	RatedAt    time.Time
}

func (QCReportRow) TableName() string { return "qc_reports" }

func sessionRow(s chat.Session) SessionRow {
	return SessionRow{
		ID:                 s.ID,
		ClientID:           s.ClientID,
		ClientName:         s.ClientName,
		ClientPhone:        s.ClientPhone,
		Status:             string(s.Status),
		AssignedOperatorID: s.AssignedOperatorID,
		Rating:             s.Rating,
		Topic:              s.Topic,
		Version:            s.Version,
		CreatedAt:          s.CreatedAt,
		AssignedAt:         s.AssignedAt,
		ClosedAt:           s.ClosedAt,
		RatedAt:            s.RatedAt,
	}
}

func (r SessionRow) toSession(messages []MessageRow) chat.Session {
	s := chat.Session{
		ID:                 r.ID,
		ClientID:           r.ClientID,
		ClientName:         r.ClientName,
		ClientPhone:        r.ClientPhone,
		Status:             chat.Status(r.Status),
		AssignedOperatorID: r.AssignedOperatorID,
		Rating:             r.Rating,
		Topic:              r.Topic,
		Version:            r.Version,
		CreatedAt:          r.CreatedAt.UTC(),
		AssignedAt:         r.AssignedAt,
		ClosedAt:           r.ClosedAt,
		RatedAt:            r.RatedAt,
		Messages:           make([]chat.Message, 0, len(messages)),
	}
	for _, m := range messages {
		s.Messages = append(s.Messages, m.toMessage())
	}
	return s
}

func messageRow(sessionID string, m chat.Message) MessageRow {
	return MessageRow{
		SessionID:  sessionID,
		ID:         m.ID,
		SenderType: string(m.SenderType),
		SenderID:   m.SenderID,
		Text:       m.Text,
		Mood:       m.Mood,
		SentAt:     m.SentAt,
	}
}

func (m MessageRow) toMessage() chat.Message {
	return chat.Message{
		ID:         m.ID,
		SenderType: chat.SenderType(m.SenderType),
		SenderID:   m.SenderID,
		Text:       m.Text,
		Mood:       m.Mood,
		SentAt:     m.SentAt.UTC(),
	}
}

func qcReportRow(r chat.QCReport) QCReportRow {
	return QCReportRow{
		SessionID:  r.SessionID,
		RaterID:    r.RaterID,
		OperatorID: r.OperatorID,
		Score:      r.Score,
		Feedback:   r.Feedback,
		RatedAt:    r.RatedAt,
	}
}

func (r QCReportRow) toReport() chat.QCReport {
	return chat.QCReport{
		SessionID:  r.SessionID,
		RaterID:    r.RaterID,
		OperatorID: r.OperatorID,
		Score:      r.Score,
		Feedback:   r.Feedback,
		RatedAt:    r.RatedAt.UTC(),
	}
}
