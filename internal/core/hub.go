package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/chatrelay/chatrelay-server/internal/store"
)

const (
	// GeneralRoomID is the always-present room every user may join.
	GeneralRoomID int64 = 1

	// MaxMessageRunes caps chat message length after trimming.
	MaxMessageRunes = 500

	// DefaultHistoryLimit is the history replay size when none is configured.
	DefaultHistoryLimit = 100

	historyTimeout = 5 * time.Second
	persistTimeout = 5 * time.Second
)

// Hub is the single source of truth for who is connected, as whom, in which
// room. All session mutations (admission, removal, eviction) and room fanout
// are serialized under one mutex, so "evict stale session, then admit new
// one" is atomic with respect to any other admit/remove/broadcast.
type Hub struct {
	mu     sync.Mutex
	byConn map[string]*Client
	byUser map[int64]*Client
	rooms  map[int64][]*Client // admission order, drives presence ordering
	typing map[int64]map[string]bool

	messages     store.MessageStore
	historyLimit int
	log          *zerolog.Logger
}

// NewHub creates a hub backed by the given message store.
func NewHub(messages store.MessageStore, historyLimit int, logger *zerolog.Logger) *Hub {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Hub{
		byConn:       make(map[string]*Client),
		byUser:       make(map[int64]*Client),
		rooms:        make(map[int64][]*Client),
		typing:       make(map[int64]map[string]bool),
		messages:     messages,
		historyLimit: historyLimit,
		log:          logger,
	}
}

// Admit registers a new session. Any existing session for the same user is
// evicted first, within the same critical section, so no observer ever sees
// two sessions for one user. The new client then receives, in order: the
// history batch (only if non-empty), its personal join confirmation, and the
// room presence snapshot; peers receive a join notice and the same snapshot.
//
// The history read happens inside the critical section: any chat fanout
// either completes before it (and is eligible for the read) or starts after
// the session is registered (and is delivered live, persisted after the
// read). A message can therefore never arrive both ways or out of order.
func (h *Hub) Admit(ctx context.Context, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.byUser[c.UserID]; ok {
		wasTyping := h.dropLocked(prev)
		close(prev.Evicted)
		h.log.Info().
			Str("client_id", prev.ID).
			Int64("user_id", prev.UserID).
			Msg("session superseded")
		if wasTyping {
			h.broadcastLocked(prev.RoomID, &Event{Kind: EventTyping, Username: prev.Username}, nil)
		}
		if prev.RoomID != c.RoomID {
			h.broadcastLocked(prev.RoomID, &Event{Kind: EventSystem, Text: prev.Username + " left the chat"}, nil)
			h.broadcastLocked(prev.RoomID, &Event{Kind: EventUsers, Users: h.presenceLocked(prev.RoomID)}, nil)
		}
	}

	h.byConn[c.ID] = c
	h.byUser[c.UserID] = c
	h.rooms[c.RoomID] = append(h.rooms[c.RoomID], c)

	if history := h.recentHistory(ctx, c.RoomID); len(history) > 0 {
		h.deliver(c, &Event{Kind: EventHistory, Messages: history})
	}
	h.deliver(c, &Event{Kind: EventSystem, Text: fmt.Sprintf("You joined as %s", c.Username)})
	h.broadcastLocked(c.RoomID, &Event{Kind: EventSystem, Text: c.Username + " joined the chat"}, c)
	h.broadcastLocked(c.RoomID, &Event{Kind: EventUsers, Users: h.presenceLocked(c.RoomID)}, nil)

	h.log.Info().
		Str("client_id", c.ID).
		Int64("user_id", c.UserID).
		Str("username", c.Username).
		Int64("room_id", c.RoomID).
		Msg("session admitted")
}

// Remove deletes the session if it is still registered and notifies the room.
// It is idempotent: a session already gone (closed and evicted racing each
// other) is a no-op.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.byConn[c.ID]; !ok || cur != c {
		return
	}

	wasTyping := h.dropLocked(c)

	h.broadcastLocked(c.RoomID, &Event{Kind: EventSystem, Text: c.Username + " left the chat"}, nil)
	h.broadcastLocked(c.RoomID, &Event{Kind: EventUsers, Users: h.presenceLocked(c.RoomID)}, nil)
	if wasTyping {
		h.broadcastLocked(c.RoomID, &Event{Kind: EventTyping, Username: c.Username}, nil)
	}

	h.log.Info().
		Str("client_id", c.ID).
		Str("username", c.Username).
		Int64("room_id", c.RoomID).
		Msg("session removed")
}

// HandleChat validates, broadcasts, and persists a chat message from c.
// Delivery is the primary guarantee: fanout happens first, persistence is
// best-effort afterwards and a failure is only logged.
func (h *Hub) HandleChat(ctx context.Context, c *Client, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if runes := []rune(text); len(runes) > MaxMessageRunes {
		text = string(runes[:MaxMessageRunes])
	}

	h.mu.Lock()
	if cur, ok := h.byConn[c.ID]; !ok || cur != c {
		h.mu.Unlock()
		return
	}
	h.broadcastLocked(c.RoomID, &Event{Kind: EventChat, Username: c.Username, Text: text}, nil)
	h.mu.Unlock()

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	err := h.messages.SaveMessage(persistCtx, &store.Message{
		RoomID:    c.RoomID,
		UserID:    c.UserID,
		Username:  c.Username,
		Text:      text,
		CreatedAt: time.Now(),
	})
	if err != nil {
		h.log.Warn().Err(err).
			Int64("room_id", c.RoomID).
			Str("username", c.Username).
			Msg("message append failed, dropped from history")
	}
}

// HandleTyping updates c's typing flag and forwards it to room peers.
func (h *Hub) HandleTyping(c *Client, isTyping bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.byConn[c.ID]; !ok || cur != c {
		return
	}

	set := h.typing[c.RoomID]
	if isTyping {
		if set == nil {
			set = make(map[string]bool)
			h.typing[c.RoomID] = set
		}
		set[c.Username] = true
	} else {
		delete(set, c.Username)
	}

	h.broadcastLocked(c.RoomID, &Event{Kind: EventTyping, Username: c.Username, IsTyping: isTyping}, c)
}

// Presence returns the deduplicated username list for a room, ordered by
// first appearance among current sessions.
func (h *Hub) Presence(roomID int64) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.presenceLocked(roomID)
}

// TypingUsers returns the usernames currently flagged as typing in a room.
func (h *Hub) TypingUsers(roomID int64) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	names := make([]string, 0, len(h.typing[roomID]))
	for name := range h.typing[roomID] {
		names = append(names, name)
	}
	return names
}

// dropLocked removes every trace of c from the registry and reports whether
// its typing flag was set.
func (h *Hub) dropLocked(c *Client) bool {
	delete(h.byConn, c.ID)
	if cur, ok := h.byUser[c.UserID]; ok && cur == c {
		delete(h.byUser, c.UserID)
	}

	peers := h.rooms[c.RoomID]
	for i, peer := range peers {
		if peer == c {
			h.rooms[c.RoomID] = append(peers[:i], peers[i+1:]...)
			break
		}
	}
	if len(h.rooms[c.RoomID]) == 0 {
		delete(h.rooms, c.RoomID)
	}

	wasTyping := h.typing[c.RoomID][c.Username]
	delete(h.typing[c.RoomID], c.Username)
	return wasTyping
}

func (h *Hub) presenceLocked(roomID int64) []string {
	names := make([]string, 0, len(h.rooms[roomID]))
	for _, c := range h.rooms[roomID] {
		names = append(names, c.Username)
	}
	// The registry guarantees one session per user; dedupe anyway.
	return lo.Uniq(names)
}

// broadcastLocked fans an event out to every session in the room, except
// exclude if given. Slow consumers are skipped rather than blocking the hub.
func (h *Hub) broadcastLocked(roomID int64, ev *Event, exclude *Client) {
	for _, c := range h.rooms[roomID] {
		if c == exclude {
			continue
		}
		h.deliver(c, ev)
	}
}

func (h *Hub) deliver(c *Client, ev *Event) {
	select {
	case c.Events <- ev:
	default:
		h.log.Debug().
			Str("client_id", c.ID).
			Str("username", c.Username).
			Msg("event dropped, slow consumer")
	}
}

// recentHistory reads the most recent persisted messages for a room and
// returns them oldest-first. A failed or slow read degrades to no history.
func (h *Hub) recentHistory(ctx context.Context, roomID int64) []Message {
	readCtx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()

	rows, err := h.messages.RecentMessages(readCtx, roomID, h.historyLimit)
	if err != nil {
		h.log.Warn().Err(err).Int64("room_id", roomID).Msg("history read failed")
		return nil
	}

	history := make([]Message, 0, len(rows))
	for _, m := range rows {
		history = append(history, Message{
			ID:        m.ID,
			RoomID:    m.RoomID,
			UserID:    m.UserID,
			Username:  m.Username,
			Text:      m.Text,
			CreatedAt: m.CreatedAt,
		})
	}
	// Store returns newest-first; replay is oldest-first.
	return lo.Reverse(history)
}
