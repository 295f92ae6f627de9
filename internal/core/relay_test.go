package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"

	"github.com/vovakirdan/wirerelay-server/internal/frame"
	"github.com/vovakirdan/wirerelay-server/internal/proto"
)

func TestRegistrationRetriesUntilUnique(t *testing.T) {
	r := newTestRelay(Options{})
	_ = join(t, r, "A")

	c := connect(t, r, "other")
	c.send("A")
	c.expectText(proto.UsernameUnavailable)
	c.send("")
	c.expectText(proto.UsernameUnavailable)
	c.send("B")
	c.expectText(proto.UsernameAvailable)

	if diff := cmp.Diff([]string{"A", "B"}, r.Registry().ListAvailable("")); diff != "" {
		t.Fatalf("registered handles (-want +got):\n%s", diff)
	}
}

func TestConcurrentRegistrationSameHandle(t *testing.T) {
	r := newTestRelay(Options{})
	c1 := connect(t, r, "one")
	c2 := connect(t, r, "two")

	var mu sync.Mutex
	replies := map[string]*testClient{}
	g := taskgroup.New(nil)
	for _, c := range []*testClient{c1, c2} {
		g.Go(func() error {
			if err := c.ch.SendText([]byte("dup")); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
			defer cancel()
			reply, err := c.ch.ReceiveText(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			replies[string(reply)] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("registration: %v", err)
	}

	if len(replies) != 2 || replies[proto.UsernameAvailable] == nil || replies[proto.UsernameUnavailable] == nil {
		t.Fatalf("want one available and one unavailable reply, got %v", replies)
	}
	loser := replies[proto.UsernameUnavailable]
	loser.send("dup2")
	loser.expectText(proto.UsernameAvailable)
}

func TestChatBroadcastIncludesSender(t *testing.T) {
	r := newTestRelay(Options{})
	a := join(t, r, "A")
	b := join(t, r, "B")
	c := join(t, r, "C")

	a.send("hello")
	for _, cl := range []*testClient{a, b, c} {
		cl.expectText("A: hello")
	}
}

func TestCallInitiateIsEchoed(t *testing.T) {
	r := newTestRelay(Options{})
	a := join(t, r, "A")
	a.send(proto.VideoCallInitiate)
	a.expectText(proto.VideoCallInitiate)
}

func TestAcceptedCallMarksBothBusy(t *testing.T) {
	r := newTestRelay(Options{})
	a := join(t, r, "A")
	b := join(t, r, "B")
	c := join(t, r, "C")

	establishCall(t, a, b, "B$C$")

	reg := r.Registry()
	if !reg.IsBusy("A") || !reg.IsBusy("B") {
		t.Fatalf("busy: A=%v B=%v, want both", reg.IsBusy("A"), reg.IsBusy("B"))
	}

	// C sees nobody available and backs out.
	c.send(proto.VideoCallStart)
	c.expectText("")
	c.send(proto.VideoCallAbort)
	c.send("still here")
	c.expectText("C: still here")
}

func TestBulkFrameRelayedVerbatim(t *testing.T) {
	r := newTestRelay(Options{})
	a := join(t, r, "A")
	b := join(t, r, "B")
	establishCall(t, a, b, "B$")

	payload := []byte{0x00, 0xff, 0x10, '$', '-', '2', 0x00}
	a.sendBulk(payload)
	b.expectBulk(payload)

	// And the other direction.
	b.sendBulk([]byte("jpeg"))
	a.expectBulk([]byte("jpeg"))
}

func TestEndCallHangsUpPeer(t *testing.T) {
	r := newTestRelay(Options{})
	a := join(t, r, "A")
	b := join(t, r, "B")
	c := join(t, r, "C")
	establishCall(t, a, b, "B$C$")

	a.sendControl(frame.KindEndCall)
	b.expectText(proto.Hangup)

	reg := r.Registry()
	if reg.IsBusy("A") || reg.IsBusy("B") {
		t.Fatal("call parties still busy after END_CALL")
	}

	// B's client leaves bulk mode on the hangup signal.
	b.sendControl(frame.KindModeExit)
	b.send("bye")
	for _, cl := range []*testClient{a, b, c} {
		cl.expectText("B: bye")
	}

	c.send(proto.VideoCallStart)
	c.expectText("A$B$")
	c.send(proto.VideoCallAbort)
}

func TestModeExitKeepsCall(t *testing.T) {
	r := newTestRelay(Options{})
	a := join(t, r, "A")
	b := join(t, r, "B")
	establishCall(t, a, b, "B$")

	a.sendControl(frame.KindModeExit)
	a.send("pause")
	a.expectText("A: pause")
	b.expectText("A: pause")

	if !r.Registry().IsBusy("A") || !r.Registry().IsBusy("B") {
		t.Fatal("mode exit must not end the call")
	}

	a.send(proto.ReadyForVideoCall)
	a.sendBulk([]byte("resumed"))
	b.expectBulk([]byte("resumed"))
}

func TestRejectedCallIsAborted(t *testing.T) {
	r := newTestRelay(Options{})
	c := join(t, r, "C")
	d := join(t, r, "D")

	c.send(proto.VideoCallStart)
	c.expectText("D$")
	c.send("D")
	d.expectText(proto.CallRequest("C"))

	d.send(proto.VideoCallRejected)
	d.send("C")
	c.expectText(proto.VideoCallRejected)

	// The initiator's client cancels the pending confirmation.
	c.send(proto.VideoCallAbort)
	c.send("after")
	c.expectText("C: after") // no VIDEO_CALL_START in between
	d.expectText("C: after")

	if r.Registry().IsBusy("C") || r.Registry().IsBusy("D") {
		t.Fatal("busy set changed by an aborted call")
	}
}

func TestAbortBeforeTargetSelection(t *testing.T) {
	r := newTestRelay(Options{})
	a := join(t, r, "A")
	_ = join(t, r, "B")

	a.send(proto.VideoCallStart)
	a.expectText("B$")
	a.send(proto.VideoCallAbort)
	a.send("ok")
	a.expectText("A: ok")
}

func TestUnreachableTargetIsRejected(t *testing.T) {
	r := newTestRelay(Options{})
	a := join(t, r, "A")

	for _, target := range []string{"ghost", "A"} {
		a.send(proto.VideoCallStart)
		a.expectText("")
		a.send(target)
		a.expectText(proto.VideoCallRejected)
	}
}

func TestConfirmationTimeout(t *testing.T) {
	r := newTestRelay(Options{ConfirmTimeout: 50 * time.Millisecond})
	a := join(t, r, "A")
	b := join(t, r, "B")

	a.send(proto.VideoCallStart)
	a.expectText("B$")
	a.send("B")
	b.expectText(proto.CallRequest("A"))

	// B never answers.
	a.expectText(proto.VideoCallRejected)
	b.expectText(proto.VideoCallAbort)
	if r.Registry().IsBusy("A") || r.Registry().IsBusy("B") {
		t.Fatal("timed out negotiation changed the busy set")
	}

	// A late acceptance is refused and never reaches A.
	b.send(proto.VideoCallAccept)
	b.send("A")
	b.expectText(proto.VideoCallAbort)
	b.send("still idle")
	b.expectText("B: still idle")
	a.expectText("B: still idle")
}

func TestAbortCancelsInvitation(t *testing.T) {
	r := newTestRelay(Options{})
	a := join(t, r, "A")
	b := join(t, r, "B")

	a.send(proto.VideoCallStart)
	a.expectText("B$")
	a.send("B")
	b.expectText(proto.CallRequest("A"))

	a.send(proto.VideoCallAbort)
	b.expectText(proto.VideoCallAbort)

	b.send(proto.VideoCallAccept)
	b.send("A")
	b.expectText(proto.VideoCallAbort)
	b.send("ok")
	a.expectText("B: ok")
}

func TestEndCallBeforePairingWithdrawsAcceptance(t *testing.T) {
	r := newTestRelay(Options{})
	a := join(t, r, "A")
	b := join(t, r, "B")

	a.send(proto.VideoCallStart)
	a.expectText("B$")
	a.send("B")
	b.expectText(proto.CallRequest("A"))
	b.send(proto.VideoCallAccept)
	b.send("A")
	b.expectText(proto.ReadyForVideoCall)
	a.expectText(proto.VideoCallAccept)

	// B hangs up before A's client loops the acceptance back.
	b.sendControl(frame.KindEndCall)
	b.send("gone")
	b.expectText("B: gone")
	a.expectText("B: gone")

	a.send(proto.VideoCallAccept)
	a.expectText(proto.VideoCallRejected)
	if r.Registry().IsBusy("A") || r.Registry().IsBusy("B") {
		t.Fatal("withdrawn acceptance still paired the call")
	}

	// Nothing, in particular no hangup, reached B in between.
	a.send("after")
	b.expectText("A: after")
}

func TestHangupFromFormerPeerIgnored(t *testing.T) {
	r := newTestRelay(Options{})
	a := join(t, r, "A")
	b := join(t, r, "B")
	c := join(t, r, "C")
	establishCall(t, a, b, "B$C$")

	a.sendControl(frame.KindEndCall)
	b.expectText(proto.Hangup)

	// B's client has not left bulk mode yet when A starts a new call.
	establishCall(t, a, c, "B$C$")

	b.sendControl(frame.KindEndCall)
	b.send("late")
	b.expectText("B: late")
	a.expectText("B: late") // no hangup ahead of it
	c.expectText("B: late")

	if peer, _ := r.Registry().PeerOf("A"); peer != "C" {
		t.Fatalf("A paired with %q, want C", peer)
	}
	a.sendBulk([]byte("frame"))
	c.expectBulk([]byte("frame"))
}

func TestSurvivorForgetsDepartedPeer(t *testing.T) {
	r := newTestRelay(Options{})
	a := join(t, r, "A")
	b := join(t, r, "B")
	establishCall(t, a, b, "B$")

	a.sendControl(frame.KindModeExit)
	a.quit()
	b.expectText(proto.Hangup)
	b.expectText(proto.Departure("A"))

	// Still in bulk mode: the frame has nowhere to go.
	b.sendBulk([]byte("orphan"))
	b.sendControl(frame.KindModeExit)

	// Without a peer, READY_FOR_VIDEO_CALL keeps B in text mode.
	b.send(proto.ReadyForVideoCall)
	b.send("alone")
	b.expectText("B: alone")
}

func TestQuitBroadcastsDepartureAndFreesHandle(t *testing.T) {
	defer leaktest.Check(t)()

	r := newTestRelay(Options{})
	a := join(t, r, "A")
	b := join(t, r, "B")
	c := join(t, r, "C")

	a.quit()
	b.expectText(proto.Departure("A"))
	c.expectText(proto.Departure("A"))
	if _, err := r.Registry().Lookup("A"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup(A) after quit = %v, want %v", err, ErrNotFound)
	}

	again := join(t, r, "A")
	again.quit()
	b.expectText(proto.Departure("A"))
	c.expectText(proto.Departure("A"))

	b.quit()
	c.expectText(proto.Departure("B"))
	c.quit()
}

func TestDisconnectMidCallHangsUpPeer(t *testing.T) {
	r := newTestRelay(Options{})
	a := join(t, r, "A")
	b := join(t, r, "B")
	establishCall(t, a, b, "B$")

	a.ch.Close()
	if err := a.wait(); err != nil {
		t.Fatalf("Serve after disconnect = %v, want nil", err)
	}

	b.expectText(proto.Hangup)
	b.expectText(proto.Departure("A"))
	if r.Registry().IsBusy("B") {
		t.Fatal("peer still busy after partner disconnected")
	}
}

func TestTextInBulkModeDropsConnection(t *testing.T) {
	r := newTestRelay(Options{})
	a := join(t, r, "A")
	b := join(t, r, "B")
	establishCall(t, a, b, "B$")

	// A's worker is in bulk mode; a text frame is a protocol violation.
	a.send("not a frame")
	if err := a.wait(); !errors.Is(err, frame.ErrProtocol) {
		t.Fatalf("Serve = %v, want protocol violation", err)
	}
	b.expectText(proto.Hangup)
	b.expectText(proto.Departure("A"))
}

func TestChatRateLimit(t *testing.T) {
	r := newTestRelay(Options{ChatRateLimit: 2})
	a := join(t, r, "A")
	b := join(t, r, "B")

	for _, m := range []string{"one", "two", "three"} {
		a.send(m)
	}
	a.quit()

	var got []string
	for range 3 {
		f := b.next()
		got = append(got, string(f.Payload))
	}
	want := []string{"A: one", "A: two", proto.Departure("A")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("messages at B (-want +got):\n%s", diff)
	}
}

// panicConn registers a handle and then panics on the next receive.
type panicConn struct {
	mu     sync.Mutex
	reads  int
	closed bool
}

func (p *panicConn) SendText([]byte) error { return nil }
func (p *panicConn) SendBulk([]byte) error { return nil }

func (p *panicConn) ReceiveText(context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++
	if p.reads > 1 {
		panic("corrupt connection state")
	}
	return []byte("P"), nil
}

func (p *panicConn) ReceiveBulk(context.Context) (frame.Bulk, error) {
	panic("unexpected bulk receive")
}

func (p *panicConn) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestServeRecoversPanic(t *testing.T) {
	r := newTestRelay(Options{})
	watcher := join(t, r, "W")

	conn := new(panicConn)
	err := r.Serve(t.Context(), "conn-P", conn)
	if !errors.Is(err, ErrSessionPanic) {
		t.Fatalf("Serve = %v, want %v", err, ErrSessionPanic)
	}
	if !strings.Contains(err.Error(), "corrupt connection state") {
		t.Fatalf("panic value lost: %v", err)
	}
	if _, err := r.Registry().Lookup("P"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup(P) after panic = %v, want %v", err, ErrNotFound)
	}
	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Fatal("connection not closed after panic")
	}
	watcher.expectText(proto.Departure("P"))
}

type recordedCall struct {
	event, callID, a, b, detail string
}

type fakeCalls struct {
	mu     sync.Mutex
	events []recordedCall
}

func (f *fakeCalls) CallStarted(_ context.Context, callID, initiator, target string) error {
	f.add(recordedCall{"started", callID, initiator, target, ""})
	return nil
}

func (f *fakeCalls) CallDeclined(_ context.Context, initiator, target string, outcome Outcome) error {
	f.add(recordedCall{"declined", "", initiator, target, string(outcome)})
	return nil
}

func (f *fakeCalls) CallEnded(_ context.Context, callID, by, reason string) error {
	f.add(recordedCall{"ended", callID, by, "", reason})
	return nil
}

func (f *fakeCalls) add(rc recordedCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, rc)
}

func (f *fakeCalls) snapshot() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.events...)
}

func TestCallServiceJournal(t *testing.T) {
	calls := new(fakeCalls)
	r := NewRelay(NewRegistry(), calls, nil, Options{}, nil)
	a := join(t, r, "A")
	b := join(t, r, "B")

	a.send(proto.VideoCallStart)
	a.expectText("B$")
	a.send("ghost")
	a.expectText(proto.VideoCallRejected)

	establishCall(t, a, b, "B$")
	b.sendControl(frame.KindEndCall)
	a.expectText(proto.Hangup)

	// B's worker handles frames in order, so its chat line arrives after the
	// hangup has been journaled.
	b.sendControl(frame.KindModeExit)
	b.send("done")
	b.expectText("B: done")

	events := calls.snapshot()
	if len(events) != 3 {
		t.Fatalf("journal events = %+v, want 3", events)
	}
	if events[0].event != "declined" || events[0].detail != string(OutcomeUnreachable) {
		t.Fatalf("first event = %+v", events[0])
	}
	started, ended := events[1], events[2]
	if started.event != "started" || started.a != "A" || started.b != "B" || started.callID == "" {
		t.Fatalf("start event = %+v", started)
	}
	if ended.event != "ended" || ended.callID != started.callID || ended.a != "B" || ended.detail != EndReasonHangup {
		t.Fatalf("end event = %+v", ended)
	}
	if !strings.Contains(started.callID, "-") {
		t.Fatalf("call id %q is not a UUID", started.callID)
	}
}
