// Command ws_chat is a manual smoke client for the relay protocol.
// Obtain a token via POST /api/register or /api/guest first.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/chatrelay/chatrelay-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", "", "bearer credential")
	room := flag.String("room", "1", "room id to join")
	flag.Parse()

	if *token == "" {
		return errors.New("-token is required")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	target := *addr + "?token=" + url.QueryEscape(*token) + "&room=" + url.QueryEscape(*room)
	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Connected to %s, room %s\n", *addr, *room)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.TypeChat, Text: text}); err != nil {
			cancel()
			break
		}
	}

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var frame map[string]any
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read: %v (close status %d)", err, websocket.CloseStatus(err))
			return
		}

		switch frame["type"] {
		case proto.TypeChat:
			fmt.Printf("[%v] %v\n", frame["username"], frame["text"])
		case proto.TypeSystem:
			fmt.Printf("* %v\n", frame["text"])
		case proto.TypeUsers:
			fmt.Printf("online: %v\n", frame["users"])
		case proto.TypeTyping:
			fmt.Printf("~ %v typing=%v\n", frame["username"], frame["isTyping"])
		case proto.TypeHistory:
			fmt.Printf("history: %v\n", frame["messages"])
		}
	}
}
