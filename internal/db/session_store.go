package db

import (
	"context"
	stderrors "errors"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zhouzirui/supportdesk/backend/internal/apperr"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
)

// SessionStore implements chat.Store on Postgres. Updates lock the session
// row and compare its version before writing.
type SessionStore struct {
	db *gorm.DB
}

var _ chat.Store = (*SessionStore)(nil)

// NewSessionStore returns a store over an open connection.
func NewSessionStore(d *DB) *SessionStore {
	return &SessionStore{db: d.DB}
}

// Create inserts a new session and its initial messages.
func (s *SessionStore) Create(ctx context.Context, session chat.Session) (chat.Session, error) {
	if session.ID == "" {
		return chat.Session{}, apperr.InvalidInput("session id is required")
	}
	row := sessionRow(session)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return errors.Wrap(res.Error, "insert session")
		}
		if res.RowsAffected == 0 {
			return apperr.Conflict("session %s already exists", session.ID)
		}
		return insertMessages(tx, session.ID, session.Messages)
	})
	if err != nil {
		return chat.Session{}, err
	}
	return s.Get(ctx, session.ID)
}

// Get loads one session with its transcript.
func (s *SessionStore) Get(ctx context.Context, id string) (chat.Session, error) {
	return load(s.db.WithContext(ctx), id, false)
}

// FindActiveByPhone returns the newest session for phone that is not closed
// or skipped.
func (s *SessionStore) FindActiveByPhone(ctx context.Context, phone string) (chat.Session, bool, error) {
	var row SessionRow
	err := s.db.WithContext(ctx).
		Where("client_phone = ? AND status NOT IN ?", phone, []string{string(chat.StatusClosed), string(chat.StatusSkippedRating)}).
		Order("created_at DESC").
		Take(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return chat.Session{}, false, nil
	}
	if err != nil {
		return chat.Session{}, false, errors.Wrap(err, "find session by phone")
	}

	messages, err := loadMessages(s.db.WithContext(ctx), []string{row.ID})
	if err != nil {
		return chat.Session{}, false, err
	}
	return row.toSession(messages[row.ID]), true, nil
}

// List returns the sessions matching filter, oldest first.
func (s *SessionStore) List(ctx context.Context, filter chat.Filter) ([]chat.Session, error) {
	q := s.db.WithContext(ctx).Model(&SessionRow{})
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		q = q.Where("status IN ?", statuses)
	}
	if filter.OperatorID != "" {
		q = q.Where("assigned_operator_id = ?", filter.OperatorID)
	}
	if filter.Phone != "" {
		q = q.Where("client_phone = ?", filter.Phone)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []SessionRow
	if err := q.Order("created_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	messages, err := loadMessages(s.db.WithContext(ctx), ids)
	if err != nil {
		return nil, err
	}

	out := make([]chat.Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toSession(messages[r.ID]))
	}
	return out, nil
}

// Update applies mutate inside a transaction holding the session row lock.
// Only messages appended by mutate are inserted.
func (s *SessionStore) Update(ctx context.Context, id string, mutate func(*chat.Session) error) (chat.Session, error) {
	var updated chat.Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := load(tx, id, true)
		if err != nil {
			return err
		}

		next := current.Clone()
		if err := mutate(&next); err != nil {
			return err
		}
		next.Version = current.Version + 1

		row := sessionRow(next)
		res := tx.Model(&SessionRow{}).
			Where("id = ? AND version = ?", id, current.Version).
			Updates(map[string]any{
				"status":               row.Status,
				"assigned_operator_id": row.AssignedOperatorID,
				"rating":               row.Rating,
				"topic":                row.Topic,
				"version":              row.Version,
				"assigned_at":          row.AssignedAt,
				"closed_at":            row.ClosedAt,
				"rated_at":             row.RatedAt,
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "update session")
		}
		if res.RowsAffected == 0 {
			return apperr.Conflict("session %s changed concurrently", id)
		}

		if err := insertMessages(tx, id, next.MessagesAfter(current.LastMessageID())); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return chat.Session{}, err
	}
	return updated, nil
}

// PutQCReport stores a report; a second report by the same rater fails.
func (s *SessionStore) PutQCReport(ctx context.Context, report chat.QCReport) error {
	row := qcReportRow(report)
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return errors.Wrap(res.Error, "insert qc report")
	}
	if res.RowsAffected == 0 {
		return apperr.InvalidState("rater %s already reported on session %s", report.RaterID, report.SessionID)
	}
	return nil
}

// ListQCReports returns reports matching filter in submission order.
func (s *SessionStore) ListQCReports(ctx context.Context, filter chat.QCFilter) ([]chat.QCReport, error) {
	q := s.db.WithContext(ctx).Model(&QCReportRow{})
	if filter.SessionID != "" {
		q = q.Where("session_id = ?", filter.SessionID)
	}
	if filter.RaterID != "" {
		q = q.Where("rater_id = ?", filter.RaterID)
	}
	if filter.OperatorID != "" {
		q = q.Where("operator_id = ?", filter.OperatorID)
	}

	var rows []QCReportRow
	if err := q.Order("rated_at ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list qc reports")
	}
	out := make([]chat.QCReport, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toReport())
	}
	return out, nil
}

func load(tx *gorm.DB, id string, forUpdate bool) (chat.Session, error) {
	q := tx
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var row SessionRow
	err := q.Where("id = ?", id).Take(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return chat.Session{}, apperr.NotFound("session", id)
	}
	if err != nil {
		return chat.Session{}, errors.Wrapf(err, "load session %s", id)
	}

	messages, err := loadMessages(tx, []string{id})
	if err != nil {
		return chat.Session{}, err
	}
	return row.toSession(messages[id]), nil
}

func loadMessages(tx *gorm.DB, sessionIDs []string) (map[string][]MessageRow, error) {
	out := make(map[string][]MessageRow, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return out, nil
	}

	var rows []MessageRow
	if err := tx.Where("session_id IN ?", sessionIDs).Order("session_id, id").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "load messages")
	}
	for _, r := range rows {
		out[r.SessionID] = append(out[r.SessionID], r)
	}
	return out, nil
}

func insertMessages(tx *gorm.DB, sessionID string, messages []chat.Message) error {
	if len(messages) == 0 {
		return nil
	}
	rows := make([]MessageRow, 0, len(messages))
	for _, m := range messages {
		rows = append(rows, messageRow(sessionID, m))
	}
	if err := tx.Create(&rows).Error; err != nil {
		return errors.Wrap(err, "insert messages")
	}
	return nil
}
