package core

import "time"

// Message is the domain model for a chat message.
type Message struct {
	ID        int64
	RoomID    int64
	UserID    int64
	Username  string
	Text      string
	CreatedAt time.Time
}
