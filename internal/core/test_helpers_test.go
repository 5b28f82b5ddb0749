package core

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/chatrelay/chatrelay-server/internal/log"
	"github.com/chatrelay/chatrelay-server/internal/store"
)

// memStore is an in-memory store.MessageStore for hub tests.
type memStore struct {
	mu       sync.Mutex
	byRoom   map[int64][]*store.Message
	nextID   int64
	failSave bool
	failRead bool
}

func newMemStore() *memStore {
	return &memStore{byRoom: make(map[int64][]*store.Message)}
}

func (m *memStore) SaveMessage(_ context.Context, msg *store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return fmt.Errorf("save failed")
	}
	m.nextID++
	saved := *msg
	saved.ID = m.nextID
	m.byRoom[msg.RoomID] = append(m.byRoom[msg.RoomID], &saved)
	return nil
}

func (m *memStore) RecentMessages(_ context.Context, roomID int64, limit int) ([]*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRead {
		return nil, fmt.Errorf("read failed")
	}
	all := m.byRoom[roomID]
	// Newest first, capped at limit, mirroring the SQL contract.
	out := make([]*store.Message, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *memStore) saved(roomID int64) []*store.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*store.Message(nil), m.byRoom[roomID]...)
}

func newTestHub(messages store.MessageStore) *Hub {
	return NewHub(messages, 0, log.Nop())
}

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

func mustNoEvent(t *testing.T, ch <-chan *Event) {
	t.Helper()

	select {
	case ev := <-ch:
		t.Fatalf("expected no event, got %+v", ev)
	default:
	}
}

func drain(ch <-chan *Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func seedMessage(roomID, userID int64, username, text string) *store.Message {
	return &store.Message{
		RoomID:    roomID,
		UserID:    userID,
		Username:  username,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

func itoa(i int) string {
	return strconv.Itoa(i)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
