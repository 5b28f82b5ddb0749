package http

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/chatrelay/chatrelay-server/internal/core"
	"github.com/chatrelay/chatrelay-server/internal/proto"
	"github.com/chatrelay/chatrelay-server/internal/store"
)

// frame is a catch-all decode target for outbound frames.
type frame struct {
	Type     string   `json:"type"`
	Text     string   `json:"text"`
	Username string   `json:"username"`
	IsTyping bool     `json:"isTyping"`
	Users    []string `json:"users"`
	Messages []struct {
		Username string `json:"username"`
		Text     string `json:"text"`
	} `json:"messages"`
}

func dialWS(ctx context.Context, t *testing.T, ts *httptest.Server, token, room string) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws?token=" + url.QueryEscape(token)
	if room != "" {
		wsURL += "&room=" + url.QueryEscape(room)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func readFrame(ctx context.Context, t *testing.T, conn *websocket.Conn) frame {
	t.Helper()

	var f frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func expectClose(ctx context.Context, t *testing.T, conn *websocket.Conn, want websocket.StatusCode) {
	t.Helper()

	for {
		var f frame
		err := wsjson.Read(ctx, conn, &f)
		if err == nil {
			continue // drain frames delivered before the close
		}
		if got := websocket.CloseStatus(err); got != want {
			t.Fatalf("expected close status %d, got %d (err: %v)", want, got, err)
		}
		return
	}
}

func TestWSRejectsInvalidCredential(t *testing.T) {
	ts, _, _ := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(ctx, t, ts, "not-a-token", "")
	expectClose(ctx, t, conn, StatusUnauthenticated)
}

func TestWSForbiddenRoom(t *testing.T) {
	ts, st, authService := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	carolToken, err := authService.Register(ctx, "carol", "password123")
	if err != nil {
		t.Fatalf("register carol: %v", err)
	}
	if _, err := authService.Register(ctx, "dave", "password123"); err != nil {
		t.Fatalf("register dave: %v", err)
	}
	dave, err := st.GetUserByUsername(ctx, "dave")
	if err != nil {
		t.Fatalf("get dave: %v", err)
	}
	room, err := st.CreateRoom(ctx, "daves-room", dave.ID)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	// Not a member of an existing room.
	conn := dialWS(ctx, t, ts, carolToken, strconv.FormatInt(room.ID, 10))
	expectClose(ctx, t, conn, StatusForbidden)

	// A vanished room is also forbidden.
	conn = dialWS(ctx, t, ts, carolToken, "999")
	expectClose(ctx, t, conn, StatusForbidden)
}

func TestWSJoinChatAndPresence(t *testing.T) {
	ts, st, authService := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	aliceToken, err := authService.Register(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("register alice: %v", err)
	}
	bobToken, err := authService.Register(ctx, "bob", "password123")
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}

	connA := dialWS(ctx, t, ts, aliceToken, "")

	// Empty room: no history frame, personal confirmation first.
	f := readFrame(ctx, t, connA)
	if f.Type != proto.TypeSystem || f.Text != "You joined as alice" {
		t.Fatalf("unexpected first frame: %+v", f)
	}
	f = readFrame(ctx, t, connA)
	if f.Type != proto.TypeUsers || len(f.Users) != 1 || f.Users[0] != "alice" {
		t.Fatalf("unexpected users frame: %+v", f)
	}

	connB := dialWS(ctx, t, ts, bobToken, "")

	f = readFrame(ctx, t, connA)
	if f.Type != proto.TypeSystem || f.Text != "bob joined the chat" {
		t.Fatalf("unexpected join notice: %+v", f)
	}
	f = readFrame(ctx, t, connA)
	if f.Type != proto.TypeUsers || len(f.Users) != 2 || f.Users[0] != "alice" || f.Users[1] != "bob" {
		t.Fatalf("unexpected presence after bob joined: %+v", f)
	}

	f = readFrame(ctx, t, connB)
	if f.Type != proto.TypeSystem || f.Text != "You joined as bob" {
		t.Fatalf("unexpected confirmation for bob: %+v", f)
	}
	f = readFrame(ctx, t, connB)
	if f.Type != proto.TypeUsers || len(f.Users) != 2 {
		t.Fatalf("unexpected users frame for bob: %+v", f)
	}

	// Chat is delivered to the whole room, sender included.
	if err := wsjson.Write(ctx, connA, proto.Inbound{Type: proto.TypeChat, Text: "hi"}); err != nil {
		t.Fatalf("send chat: %v", err)
	}
	for name, conn := range map[string]*websocket.Conn{"alice": connA, "bob": connB} {
		f = readFrame(ctx, t, conn)
		if f.Type != proto.TypeChat || f.Username != "alice" || f.Text != "hi" {
			t.Fatalf("unexpected chat frame for %s: %+v", name, f)
		}
	}

	// The message lands in the persisted log.
	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs, err := st.RecentMessages(ctx, core.GeneralRoomID, 10)
		if err != nil {
			t.Fatalf("recent messages: %v", err)
		}
		if len(msgs) == 1 && msgs[0].Text == "hi" && msgs[0].Username == "alice" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("message not persisted, got %d rows", len(msgs))
		}
		time.Sleep(20 * time.Millisecond)
	}

	// Typing is forwarded to peers only.
	if err := wsjson.Write(ctx, connB, proto.Inbound{Type: proto.TypeTyping, IsTyping: true}); err != nil {
		t.Fatalf("send typing: %v", err)
	}
	f = readFrame(ctx, t, connA)
	if f.Type != proto.TypeTyping || f.Username != "bob" || !f.IsTyping {
		t.Fatalf("unexpected typing frame: %+v", f)
	}
}

func TestWSHistoryReplayBeforeLiveTraffic(t *testing.T) {
	ts, st, authService := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := authService.Register(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	for _, text := range []string{"first", "second"} {
		err := st.SaveMessage(ctx, &store.Message{
			RoomID:    core.GeneralRoomID,
			UserID:    1,
			Username:  "olduser",
			Text:      text,
			CreatedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	conn := dialWS(ctx, t, ts, token, "1")

	f := readFrame(ctx, t, conn)
	if f.Type != proto.TypeHistory {
		t.Fatalf("history must arrive before anything else, got %+v", f)
	}
	if len(f.Messages) != 2 || f.Messages[0].Text != "first" || f.Messages[1].Text != "second" {
		t.Fatalf("unexpected history batch: %+v", f.Messages)
	}

	f = readFrame(ctx, t, conn)
	if f.Type != proto.TypeSystem {
		t.Fatalf("expected join confirmation after history, got %+v", f)
	}
}

func TestWSSecondSessionEvictsFirst(t *testing.T) {
	ts, _, authService := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := authService.Register(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	first := dialWS(ctx, t, ts, token, "")
	readFrame(ctx, t, first) // confirmation
	readFrame(ctx, t, first) // presence

	second := dialWS(ctx, t, ts, token, "")

	expectClose(ctx, t, first, StatusSuperseded)

	f := readFrame(ctx, t, second)
	if f.Type != proto.TypeSystem || f.Text != "You joined as alice" {
		t.Fatalf("unexpected confirmation on takeover: %+v", f)
	}
	f = readFrame(ctx, t, second)
	if f.Type != proto.TypeUsers || len(f.Users) != 1 || f.Users[0] != "alice" {
		t.Fatalf("presence must show alice exactly once: %+v", f)
	}
}

func TestWSInvalidRoomParamDefaultsToGeneral(t *testing.T) {
	ts, _, authService := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := authService.Register(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	conn := dialWS(ctx, t, ts, token, "not-a-number")

	f := readFrame(ctx, t, conn)
	if f.Type != proto.TypeSystem || f.Text != "You joined as alice" {
		t.Fatalf("expected admission into General, got %+v", f)
	}
}

func TestWSMalformedFrameDroppedSilently(t *testing.T) {
	ts, _, authService := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := authService.Register(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	conn := dialWS(ctx, t, ts, token, "")
	readFrame(ctx, t, conn) // confirmation
	readFrame(ctx, t, conn) // presence

	if err := conn.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := wsjson.Write(ctx, conn, map[string]string{"type": "mystery"}); err != nil {
		t.Fatalf("write unknown type: %v", err)
	}

	// Connection survives and keeps working.
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.TypeChat, Text: "still alive"}); err != nil {
		t.Fatalf("send chat: %v", err)
	}
	f := readFrame(ctx, t, conn)
	if f.Type != proto.TypeChat || f.Text != "still alive" {
		t.Fatalf("unexpected frame after garbage: %+v", f)
	}
}
