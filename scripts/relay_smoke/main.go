package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/wirerelay-server/internal/frame"
	"github.com/vovakirdan/wirerelay-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("relay_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "localhost:50000", "TCP relay address")
	wsAddr := flag.String("ws", "", "WebSocket address (e.g. ws://localhost:8080/ws); overrides -addr")
	user := flag.String("user", "tester", "handle to register")
	text := flag.String("text", "hello from smoke test", "chat line to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := dial(ctx, *addr, *wsAddr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ch := frame.NewChannel(conn, 0)
	defer ch.Close()

	handle, err := register(ctx, ch, *user)
	if err != nil {
		return err
	}
	log.Printf("registered as %q", handle)

	if err := ch.SendText([]byte(*text)); err != nil {
		return fmt.Errorf("send chat: %w", err)
	}
	want := proto.ChatLine(handle, *text)
	for {
		msg, err := ch.ReceiveText(ctx)
		if err != nil {
			return fmt.Errorf("wait for echo: %w", err)
		}
		log.Printf("recv: %s", msg)
		if string(msg) == want {
			break
		}
	}

	if err := ch.SendText([]byte(proto.Quit)); err != nil {
		return fmt.Errorf("send quit: %w", err)
	}
	log.Printf("smoke test ok")
	return nil
}

func dial(ctx context.Context, addr, wsAddr string) (net.Conn, error) {
	if wsAddr == "" {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
	c, _, err := websocket.Dial(ctx, wsAddr, nil)
	if err != nil {
		return nil, err
	}
	return websocket.NetConn(context.Background(), c, websocket.MessageBinary), nil
}

// register tries user, then user-2, user-3, ... until a handle is free.
func register(ctx context.Context, ch *frame.Channel, user string) (string, error) {
	for i := 1; ; i++ {
		handle := user
		if i > 1 {
			handle = user + "-" + strconv.Itoa(i)
		}
		if err := ch.SendText([]byte(handle)); err != nil {
			return "", fmt.Errorf("send handle: %w", err)
		}
		reply, err := ch.ReceiveText(ctx)
		if err != nil {
			return "", fmt.Errorf("registration reply: %w", err)
		}
		switch string(reply) {
		case proto.UsernameAvailable:
			return handle, nil
		case proto.UsernameUnavailable:
			log.Printf("handle %q taken", handle)
		default:
			return "", fmt.Errorf("unexpected registration reply %q", reply)
		}
	}
}
