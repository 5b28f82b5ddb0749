package proto

// Frame type discriminators. The same names are used in both directions:
// clients send chat and typing, the server sends all five.
const (
	TypeSystem  = "system"
	TypeChat    = "chat"
	TypeTyping  = "typing"
	TypeHistory = "history"
	TypeUsers   = "users"
)

// Inbound is a frame coming from the client, one JSON object per frame.
// Unknown types and unparseable frames are dropped silently.
type Inbound struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	IsTyping bool   `json:"isTyping,omitempty"`
}

// SystemFrame is a human-readable notice.
type SystemFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ChatFrame is a chat message; also the element type of history batches.
type ChatFrame struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Text     string `json:"text"`
}

// HistoryFrame delivers recent room messages, oldest first. Sent at most
// once per connection and only when non-empty.
type HistoryFrame struct {
	Type     string      `json:"type"`
	Messages []ChatFrame `json:"messages"`
}

// UsersFrame is a presence snapshot for the client's room.
type UsersFrame struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

// TypingFrame reports one user's typing state change.
type TypingFrame struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}
