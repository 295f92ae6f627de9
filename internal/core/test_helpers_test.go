package core

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/vovakirdan/wirerelay-server/internal/frame"
	"github.com/vovakirdan/wirerelay-server/internal/proto"
)

const waitTimeout = 2 * time.Second

// testClient drives one relay connection from the client side.
type testClient struct {
	t    *testing.T
	name string
	ch   *frame.Channel
	done chan error // result of Relay.Serve
}

func newTestRelay(opts Options) *Relay {
	return NewRelay(NewRegistry(), nil, nil, opts, nil)
}

// connect opens an unregistered connection to r.
func connect(t *testing.T, r *Relay, name string) *testClient {
	t.Helper()

	clientSide, serverSide := net.Pipe()
	c := &testClient{
		t:    t,
		name: name,
		ch:   frame.NewChannel(clientSide, 0),
		done: make(chan error, 1),
	}
	server := frame.NewChannel(serverSide, 0)
	go func() { c.done <- r.Serve(t.Context(), "conn-"+name, server) }()
	t.Cleanup(func() { c.ch.Close() })
	return c
}

// join connects and registers handle, failing the test if it is taken.
func join(t *testing.T, r *Relay, handle string) *testClient {
	t.Helper()
	c := connect(t, r, handle)
	c.send(handle)
	c.expectText(proto.UsernameAvailable)
	return c
}

func (c *testClient) send(msg string) {
	c.t.Helper()
	if err := c.ch.SendText([]byte(msg)); err != nil {
		c.t.Fatalf("%s: send %q: %v", c.name, msg, err)
	}
}

func (c *testClient) sendBulk(payload []byte) {
	c.t.Helper()
	if err := c.ch.SendBulk(payload); err != nil {
		c.t.Fatalf("%s: send bulk: %v", c.name, err)
	}
}

func (c *testClient) sendControl(kind frame.Kind) {
	c.t.Helper()
	if err := c.ch.Send(frame.Frame{Kind: kind}); err != nil {
		c.t.Fatalf("%s: send %v: %v", c.name, kind, err)
	}
}

// next returns the next frame of any kind.
func (c *testClient) next() frame.Frame {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	f, err := c.ch.Recv(ctx)
	if err != nil {
		c.t.Fatalf("%s: receive: %v", c.name, err)
	}
	return f
}

func (c *testClient) expectText(want string) {
	c.t.Helper()
	f := c.next()
	if f.Kind != frame.KindText || string(f.Payload) != want {
		c.t.Fatalf("%s: got %v frame %q, want text %q", c.name, f.Kind, f.Payload, want)
	}
}

func (c *testClient) expectBulk(want []byte) {
	c.t.Helper()
	f := c.next()
	if f.Kind != frame.KindBulk || string(f.Payload) != string(want) {
		c.t.Fatalf("%s: got %v frame %q, want bulk %q", c.name, f.Kind, f.Payload, want)
	}
}

// quit sends QUIT and waits for the server side to finish.
func (c *testClient) quit() {
	c.t.Helper()
	c.send(proto.Quit)
	if err := c.wait(); err != nil {
		c.t.Fatalf("%s: serve returned %v after quit", c.name, err)
	}
}

func (c *testClient) wait() error {
	c.t.Helper()
	select {
	case err := <-c.done:
		return err
	case <-time.After(waitTimeout):
		c.t.Fatalf("%s: session did not end", c.name)
		return nil
	}
}

// establishCall runs a full negotiation where initiator calls target and the
// target accepts. available is the list the initiator is expected to see.
// On return both parties are busy, the target is in bulk mode, and the
// initiator has announced READY_FOR_VIDEO_CALL.
func establishCall(t *testing.T, initiator, target *testClient, available string) {
	t.Helper()

	initiator.send(proto.VideoCallStart)
	initiator.expectText(available)
	initiator.send(target.name)
	target.expectText(proto.CallRequest(initiator.name))

	target.send(proto.VideoCallAccept)
	target.send(initiator.name)
	target.expectText(proto.ReadyForVideoCall)
	initiator.expectText(proto.VideoCallAccept)

	// The initiator's client loops the acceptance back to its own worker.
	initiator.send(proto.VideoCallAccept)
	initiator.expectText(proto.VideoCallStart)
	initiator.send(proto.ReadyForVideoCall)
}
