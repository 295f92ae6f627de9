package core

import (
	"context"
	"sync"

	"github.com/vovakirdan/wirerelay-server/internal/frame"
)

// Conn is the framed transport a session runs over. *frame.Channel
// implements it.
type Conn interface {
	SendText(payload []byte) error
	SendBulk(payload []byte) error
	ReceiveText(ctx context.Context) ([]byte, error)
	ReceiveBulk(ctx context.Context) (frame.Bulk, error)
	Close() error
}

// Session is a registered client as seen by the core layer. The worker that
// owns the connection creates it; the registry holds a shared reference so
// other workers can deliver messages to it.
type Session struct {
	ID     string
	Handle string

	mu   sync.Mutex // orders outbound messages
	conn Conn
}

// NewSession constructs a session for a connection.
func NewSession(id, handle string, conn Conn) *Session {
	return &Session{ID: id, Handle: handle, conn: conn}
}

// SendText delivers a text message to the client.
func (s *Session) SendText(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.SendText([]byte(msg))
}

// SendBulk delivers a video frame to the client.
func (s *Session) SendBulk(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.SendBulk(payload)
}

var _ Conn = (*frame.Channel)(nil)
