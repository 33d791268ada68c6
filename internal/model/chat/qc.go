package chat

import "time"

// QCReport is a quality-control score of an ended session by one rater.
// A session may carry many reports, one per rater.
type QCReport struct {
	SessionID  string    `json:"sessionId"`
	RaterID    string    `json:"raterId"`
	OperatorID string    `json:"operatorId,omitempty"`
	Score      int       `json:"score"`
	Feedback   string    `json:"feedback,omitempty"`
	RatedAt    time.Time `json:"ratedAt"`
}

// QCFilter narrows QC report listings. Empty fields match everything.
type QCFilter struct {
	SessionID  string
	RaterID    string
	OperatorID string
}

// Matches reports whether r satisfies the filter.
func (f QCFilter) Matches(r QCReport) bool {
	if f.SessionID != "" && r.SessionID != f.SessionID {
		return false
	}
	if f.RaterID != "" && r.RaterID != f.RaterID {
		return false
	}
	if f.OperatorID != "" && r.OperatorID != f.OperatorID {
		return false
	}
	return true
}
