package chat

import "time"

// SenderType identifies which side of the conversation wrote a message.
type SenderType string

const (
	SenderClient   SenderType = "client"
	SenderOperator SenderType = "operator"
)

// Message is one turn of a session. IDs start at 1 and increase by one.
type Message struct {
	ID         int64      `json:"id"`
	SenderType SenderType `json:"senderType"`
	SenderID   string     `json:"senderId"`
	Text       string     `json:"text"`
	Mood       string     `json:"mood,omitempty"`
	SentAt     time.Time  `json:"sentAt"`
}
