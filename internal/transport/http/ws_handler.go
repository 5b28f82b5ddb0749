package http

import (
	"context"
	"encoding/json"
	"errors"
	stdhttp "net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chatrelay/chatrelay-server/internal/auth"
	"github.com/chatrelay/chatrelay-server/internal/core"
	"github.com/chatrelay/chatrelay-server/internal/proto"
	"github.com/chatrelay/chatrelay-server/internal/store"
)

// Application close codes. 4001 and 4003 are terminal admission refusals,
// 4000 tells a superseded session not to reconnect; unexpected faults use
// 1011 so the client may retry.
const (
	StatusSuperseded      websocket.StatusCode = 4000
	StatusUnauthenticated websocket.StatusCode = 4001
	StatusForbidden       websocket.StatusCode = 4003
)

// errSuperseded marks a write loop that ended because the hub evicted the session.
var errSuperseded = errors.New("session superseded")

// WSHandler upgrades HTTP connections, runs admission, and bridges the
// websocket to a core.Client.
type WSHandler struct {
	hub   *core.Hub
	auth  *auth.Service
	rooms store.RoomStore
	log   *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, authService *auth.Service, rooms store.RoomStore, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{hub: hub, auth: authService, rooms: rooms, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	// The handshake has no custom-header support, so the credential and the
	// requested room ride on the query string.
	claims, err := h.auth.VerifyCredential(r.URL.Query().Get("token"))
	if err != nil {
		h.log.Debug().Err(err).Msg("ws credential rejected")
		conn.Close(StatusUnauthenticated, "invalid credentials")
		return
	}

	roomID := parseRoomID(r.URL.Query().Get("room"))
	if err := h.authorizeRoom(ctx, claims.UserID, roomID); err != nil {
		if errors.Is(err, errRoomDenied) {
			h.log.Debug().
				Int64("user_id", claims.UserID).
				Int64("room_id", roomID).
				Msg("ws room access denied")
			conn.Close(StatusForbidden, "room access denied")
		} else {
			h.log.Error().Err(err).Int64("room_id", roomID).Msg("ws admission fault")
			conn.Close(websocket.StatusInternalError, "internal error")
		}
		return
	}

	client := core.NewClient(uuid.NewString(), claims.UserID, claims.Username, roomID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.hub.Admit(ctx, client)
	defer h.hub.Remove(client)

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	first := <-errCh
	cancel() // stop the other goroutine
	second := <-errCh

	if errors.Is(first, errSuperseded) || errors.Is(second, errSuperseded) {
		conn.Close(StatusSuperseded, "another session opened elsewhere")
		return
	}

	status := websocket.StatusNormalClosure
	reason := "closing"
	err = first
	if err != nil && !errors.Is(err, context.Canceled) {
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
			h.log.Debug().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

var errRoomDenied = errors.New("room access denied")

// authorizeRoom grants the General room to any verified user; any other room
// requires an existing membership row. A vanished room is denied.
func (h *WSHandler) authorizeRoom(ctx context.Context, userID, roomID int64) error {
	if roomID == core.GeneralRoomID {
		return nil
	}

	if _, err := h.rooms.GetRoomByID(ctx, roomID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errRoomDenied
		}
		return err
	}

	member, err := h.rooms.IsMember(ctx, userID, roomID)
	if err != nil {
		return err
	}
	if !member {
		return errRoomDenied
	}
	return nil
}

// parseRoomID defaults to the General room when the parameter is absent or
// not a positive integer.
func parseRoomID(raw string) int64 {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return core.GeneralRoomID
	}
	return id
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var inbound proto.Inbound
		if err := json.Unmarshal(data, &inbound); err != nil {
			h.log.Debug().Err(err).Str("client_id", client.ID).Msg("malformed frame dropped")
			continue
		}

		switch inbound.Type {
		case proto.TypeChat:
			h.hub.HandleChat(ctx, client, inbound.Text)
		case proto.TypeTyping:
			h.hub.HandleTyping(client, inbound.IsTyping)
		default:
			h.log.Debug().Str("client_id", client.ID).Str("type", inbound.Type).Msg("unknown frame dropped")
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case <-client.Evicted:
			return errSuperseded
		case event := <-client.Events:
			if err := wsjson.Write(ctx, conn, frameFromEvent(event)); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
