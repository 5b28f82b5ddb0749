package core

// Client is one live authenticated, room-bound connection as seen by the hub.
// The transport bridges it to a websocket: it drains Events in order and
// closes the connection when Evicted is signalled.
type Client struct {
	ID       string
	UserID   int64
	Username string
	RoomID   int64
	Events   chan *Event
	// Evicted is closed by the hub when another session for the same user
	// supersedes this one. The transport must close the connection with the
	// superseded code and must not deliver further events.
	Evicted chan struct{}
}

// NewClient constructs a client with initialized channels.
func NewClient(id string, userID int64, username string, roomID int64) *Client {
	return &Client{
		ID:       id,
		UserID:   userID,
		Username: username,
		RoomID:   roomID,
		Events:   make(chan *Event, 64),
		Evicted:  make(chan struct{}),
	}
}
