package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventSystem carries a human-readable notice (join/leave confirmations).
	EventSystem EventKind = iota
	// EventChat carries a chat message broadcast to a room.
	EventChat
	// EventHistory delivers message history to a client upon joining a room.
	EventHistory
	// EventUsers delivers a presence snapshot for the client's room.
	EventUsers
	// EventTyping reports a change in a user's typing state.
	EventTyping
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind     EventKind
	Text     string
	Username string
	IsTyping bool
	Users    []string
	Messages []Message // For EventHistory
}
