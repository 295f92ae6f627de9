package frame

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
)

// inboundDepth is how many decoded frames may wait for the owning worker.
const inboundDepth = 64

// Channel is a framed, bidirectional connection. A background goroutine decodes
// inbound frames; receives block the calling worker until a frame arrives, the
// channel closes, or the context ends. Sends are safe for concurrent use since
// other workers relay into this channel.
type Channel struct {
	conn  io.ReadWriteCloser
	limit int

	wmu sync.Mutex
	w   *bufio.Writer

	in   chan Frame
	done chan struct{}
	once sync.Once
	err  error // terminal error, valid after done is closed
}

// NewChannel starts decoding frames from conn. Payloads above limit bytes end
// the channel with ErrTooLarge.
func NewChannel(conn io.ReadWriteCloser, limit int) *Channel {
	c := &Channel{
		conn:  conn,
		limit: limit,
		w:     bufio.NewWriter(conn),
		in:    make(chan Frame, inboundDepth),
		done:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Channel) readLoop() {
	r := bufio.NewReader(c.conn)
	for {
		f, err := Read(r, c.limit)
		if err != nil {
			c.fail(classify(err))
			return
		}
		select {
		case c.in <- f:
		case <-c.done:
			return
		}
	}
}

// fail records the first terminal error and tears down the connection.
func (c *Channel) fail(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
		_ = c.conn.Close()
	})
}

// Recv returns the next inbound frame of any kind.
func (c *Channel) Recv(ctx context.Context) (Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	default:
	}
	select {
	case f := <-c.in:
		return f, nil
	case <-c.done:
		// Frames decoded before the stream ended are still delivered.
		select {
		case f := <-c.in:
			return f, nil
		default:
		}
		return Frame{}, c.err
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// ReceiveText returns the payload of the next text frame. Bulk and control
// frames that arrive while the receiver is in text mode are stale leftovers of
// a finished call and are discarded.
func (c *Channel) ReceiveText(ctx context.Context) ([]byte, error) {
	for {
		f, err := c.Recv(ctx)
		if err != nil {
			return nil, err
		}
		if f.Kind == KindText {
			return f.Payload, nil
		}
	}
}

// ReceiveBulk returns the next bulk-mode result. A text frame in bulk mode is a
// protocol violation and reported as ErrUnexpectedFrame.
func (c *Channel) ReceiveBulk(ctx context.Context) (Bulk, error) {
	f, err := c.Recv(ctx)
	if err != nil {
		return Bulk{}, err
	}
	switch f.Kind {
	case KindBulk:
		return Bulk{Kind: BulkFrame, Payload: f.Payload}, nil
	case KindEndCall:
		return Bulk{Kind: BulkEndCall}, nil
	case KindModeExit:
		return Bulk{Kind: BulkModeExit}, nil
	default:
		return Bulk{}, ErrUnexpectedFrame
	}
}

// SendText writes a text frame.
func (c *Channel) SendText(payload []byte) error {
	return c.Send(Frame{Kind: KindText, Payload: payload})
}

// SendBulk writes a bulk frame.
func (c *Channel) SendBulk(payload []byte) error {
	return c.Send(Frame{Kind: KindBulk, Payload: payload})
}

// Send writes f and flushes it. A write failure closes the channel.
func (c *Channel) Send(f Frame) error {
	select {
	case <-c.done:
		return c.err
	default:
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := f.WriteTo(c.w); err != nil {
		err = classify(err)
		c.fail(err)
		return err
	}
	if err := c.w.Flush(); err != nil {
		err = classify(err)
		c.fail(err)
		return err
	}
	return nil
}

// Close shuts the channel down. Pending and future receives report ErrClosed.
func (c *Channel) Close() error {
	c.fail(ErrClosed)
	return nil
}

// Done is closed once the channel has terminated.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Err reports the terminal error, or nil while the channel is open.
func (c *Channel) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// classify folds the ways a peer can disappear into ErrClosed. Protocol
// errors and anything unrecognised are returned unchanged.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrClosed), errors.Is(err, ErrProtocol):
		return err
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	default:
		return err
	}
}
