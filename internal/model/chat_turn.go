package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is one message in a session's history. Seq orders turns within a session.
type ChatTurn struct {
	Seq       int64     `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
