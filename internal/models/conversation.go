package models

import "time"

// Conversation groups participants exchanging messages.
type Conversation struct {
	ID           int64     `db:"id" json:"id"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	Participants []int64   `db:"-" json:"participant_ids"`
}

// Participant models membership of one user in one conversation.
type Participant struct {
	ConversationID int64 `db:"conversation_id" json:"conversation_id"`
	UserID         int64 `db:"user_id" json:"user_id"`
}
