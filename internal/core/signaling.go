package core

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay-server/internal/frame"
	"github.com/vovakirdan/wirerelay-server/internal/metrics"
	"github.com/vovakirdan/wirerelay-server/internal/proto"
)

// worker is the per-connection state machine:
//
//	Registering -> Idle -> {Chatting, Negotiating, InCall} -> Idle ... -> Closed
//
// Busy state lives in the registry so that both parties of a call change
// together; the worker only remembers which peer its bulk frames go to.
type worker struct {
	relay   *Relay
	id      string
	conn    Conn
	sess    *Session // nil until registered
	log     zerolog.Logger
	limiter *rateLimiter

	peer string // negotiated call peer
	bulk bool   // relaying video frames instead of reading commands
}

func newWorker(r *Relay, id string, conn Conn) *worker {
	return &worker{
		relay:   r,
		id:      id,
		conn:    conn,
		log:     r.log.With().Str("conn_id", id).Logger(),
		limiter: newRateLimiter(r.opts.ChatRateLimit),
	}
}

func (w *worker) handle() string { return w.sess.Handle }

// register reads candidate handles until one is free. There is no retry limit.
func (w *worker) register(ctx context.Context) error {
	for {
		payload, err := w.conn.ReceiveText(ctx)
		if err != nil {
			return err
		}

		sess := NewSession(w.id, string(payload), w.conn)
		// Hold the session's send lock so nothing relayed by other workers can
		// reach the client ahead of the registration reply.
		sess.mu.Lock()
		err = w.relay.registry.Register(sess.Handle, sess)
		if err != nil {
			sess.mu.Unlock()
			if !errors.Is(err, ErrHandleTaken) && !errors.Is(err, ErrInvalidHandle) {
				return err
			}
			w.relay.metrics.HandleTaken()
			w.log.Debug().Str("handle", sess.Handle).Msg("handle unavailable")
			if err := w.conn.SendText([]byte(proto.UsernameUnavailable)); err != nil {
				return err
			}
			continue
		}

		w.sess = sess
		w.log = w.log.With().Str("handle", sess.Handle).Logger()
		w.relay.metrics.ClientJoined()
		err = w.conn.SendText([]byte(proto.UsernameAvailable))
		sess.mu.Unlock()
		if err != nil {
			return err
		}
		w.log.Info().Msg("client registered")
		return nil
	}
}

func (w *worker) loop(ctx context.Context) error {
	for {
		if w.bulk {
			if err := w.relayBulk(ctx); err != nil {
				return err
			}
			continue
		}

		payload, err := w.conn.ReceiveText(ctx)
		if err != nil {
			return err
		}
		quit, err := w.dispatch(ctx, ParseCommand(payload))
		if err != nil || quit {
			return err
		}
	}
}

func (w *worker) dispatch(ctx context.Context, cmd Command) (quit bool, err error) {
	w.log.Debug().Stringer("command", cmd.Kind).Msg("command received")

	switch cmd.Kind {
	case CommandQuit:
		w.log.Info().Msg("client quit")
		return true, nil

	case CommandReadyForVideo:
		if w.peerGone() {
			w.log.Warn().Msg("ready for video without a negotiated peer")
			return false, nil
		}
		w.bulk = true
		return false, nil

	case CommandCallInitiate:
		return false, w.sess.SendText(proto.VideoCallInitiate)

	case CommandCallStart:
		return false, w.startCall(ctx)

	case CommandCallAccept, CommandCallReject:
		return false, w.answerCall(ctx, cmd)

	case CommandCallAbort:
		w.log.Debug().Msg("abort outside negotiation ignored")
		return false, nil

	case CommandChat:
		w.chat(cmd.Text)
		return false, nil
	}
	return false, nil
}

func (w *worker) chat(text string) {
	if !w.limiter.allow() {
		w.relay.metrics.Dropped(metrics.DropRateLimited)
		w.log.Debug().Msg("chat rate limit exceeded")
		return
	}
	w.relay.metrics.ChatBroadcast()
	w.relay.Broadcast(proto.ChatLine(w.handle(), text))
}

// startCall runs the initiator side of a negotiation.
func (w *worker) startCall(ctx context.Context) error {
	available := w.relay.registry.ListAvailable(w.handle())
	if err := w.sess.SendText(proto.HandleList(available)); err != nil {
		return err
	}

	payload, err := w.conn.ReceiveText(ctx)
	if err != nil {
		return err
	}
	target := string(payload)
	if target == proto.VideoCallAbort {
		w.log.Debug().Msg("call aborted before target selection")
		return nil
	}
	w.log.Info().Str("target", target).Msg("video call requested")

	outcome, err := w.requestConfirmation(ctx, target)
	if err != nil {
		return err
	}
	switch outcome {
	case OutcomeAccepted:
		return w.sess.SendText(proto.VideoCallStart)
	case OutcomeTimedOut, OutcomeUnreachable:
		return w.sess.SendText(proto.VideoCallRejected)
	case OutcomeAborted:
	}
	return nil
}

// requestConfirmation invites target and waits on the initiator's own
// connection for the answer: the target's acceptance is relayed to the
// initiator's client, which echoes it back here.
func (w *worker) requestConfirmation(ctx context.Context, target string) (Outcome, error) {
	outcome, err := w.confirm(ctx, target)
	if err != nil {
		return outcome, err
	}
	if outcome != OutcomeAccepted {
		w.log.Info().Str("target", target).Str("outcome", string(outcome)).Msg("video call not established")
		w.relay.callDeclined(ctx, w.handle(), target, outcome)
	}
	return outcome, nil
}

func (w *worker) confirm(ctx context.Context, target string) (Outcome, error) {
	reg := w.relay.registry
	if target == w.handle() || reg.IsBusy(target) {
		return OutcomeUnreachable, nil
	}
	if err := reg.Invite(w.handle(), target); err != nil {
		return OutcomeUnreachable, nil
	}
	if err := w.relay.SendText(target, proto.CallRequest(w.handle())); err != nil {
		reg.Withdraw(w.handle())
		w.log.Debug().Err(err).Str("target", target).Msg("call request not delivered")
		return OutcomeUnreachable, nil
	}

	outcome, err := w.awaitAnswer(ctx)
	if err != nil || outcome != OutcomeAccepted {
		w.cancelInvite(reg.Withdraw(w.handle()))
		return outcome, err
	}

	callID := uuid.NewString()
	if invitee, err := reg.Pair(w.handle(), callID); err != nil {
		w.cancelInvite(invitee, !errors.Is(err, ErrNotInCall))
		w.log.Debug().Err(err).Str("target", target).Msg("cannot pair call parties")
		return OutcomeUnreachable, nil
	}
	w.peer = target
	w.log.Info().Str("target", target).Str("call_id", callID).Msg("video call established")
	w.relay.callStarted(ctx, callID, w.handle(), target)
	return OutcomeAccepted, nil
}

// awaitAnswer reads the initiator client's echo of the target's answer.
func (w *worker) awaitAnswer(ctx context.Context) (Outcome, error) {
	waitCtx := ctx
	if d := w.relay.opts.ConfirmTimeout; d > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	reply, err := w.conn.ReceiveText(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return OutcomeTimedOut, nil
		}
		return "", err
	}
	if string(reply) != proto.VideoCallAccept {
		return OutcomeAborted, nil
	}
	return OutcomeAccepted, nil
}

// cancelInvite tells the target of an abandoned invitation that it is void.
// A target that already accepted sits in bulk mode and gets the hangup signal.
func (w *worker) cancelInvite(target string, accepted bool) {
	if target == "" {
		return
	}
	msg := proto.VideoCallAbort
	if accepted {
		msg = proto.Hangup
	}
	if err := w.relay.SendText(target, msg); err != nil {
		w.log.Debug().Err(err).Str("target", target).Msg("invitation cancel not delivered")
	}
}

// answerCall relays the target side's answer to the initiator named in the
// next text message. Answers to invitations that are no longer pending are
// not relayed; an acceptance is then answered with VIDEO_CALL_ABORT.
func (w *worker) answerCall(ctx context.Context, cmd Command) error {
	payload, err := w.conn.ReceiveText(ctx)
	if err != nil {
		return err
	}
	initiator := string(payload)
	reg := w.relay.registry

	if cmd.Kind != CommandCallAccept {
		if !reg.DropInvite(initiator, w.handle()) {
			w.log.Debug().Str("initiator", initiator).Msg("rejection without pending invitation")
			return nil
		}
		if err := w.relay.SendText(initiator, cmd.Text); err != nil {
			w.log.Warn().Err(err).Str("initiator", initiator).Stringer("answer", cmd.Kind).Msg("call answer not delivered")
		}
		return nil
	}

	if !reg.AcceptInvite(initiator, w.handle()) {
		w.log.Info().Str("initiator", initiator).Msg("acceptance without pending invitation")
		return w.sess.SendText(proto.VideoCallAbort)
	}
	if err := w.relay.SendText(initiator, cmd.Text); err != nil {
		reg.DropInvite(initiator, w.handle())
		w.log.Warn().Err(err).Str("initiator", initiator).Stringer("answer", cmd.Kind).Msg("call answer not delivered")
		return w.sess.SendText(proto.VideoCallAbort)
	}
	w.peer = initiator
	w.bulk = true
	return w.sess.SendText(proto.ReadyForVideoCall)
}

// peerGone reports whether the remembered peer no longer belongs to this
// worker: the call was released by the other side, or the pending acceptance
// was withdrawn. The stale peer is forgotten.
func (w *worker) peerGone() bool {
	if w.peer == "" {
		return true
	}
	reg := w.relay.registry
	if peer, ok := reg.PeerOf(w.handle()); ok && peer == w.peer {
		return false
	}
	if reg.Pending(w.peer, w.handle()) {
		return false
	}
	w.log.Debug().Str("peer", w.peer).Msg("call released by peer")
	w.peer = ""
	return true
}

// relayBulk handles one bulk-mode receive.
func (w *worker) relayBulk(ctx context.Context) error {
	b, err := w.conn.ReceiveBulk(ctx)
	if err != nil {
		return err
	}

	switch b.Kind {
	case frame.BulkFrame:
		if peer, ok := w.relay.registry.PeerOf(w.handle()); !ok || peer != w.peer {
			w.peerGone()
			w.relay.metrics.Dropped(metrics.DropNoPeer)
			return nil
		}
		if err := w.relay.SendBulk(w.peer, b.Payload); err != nil {
			w.relay.metrics.Dropped(metrics.DropSendFailed)
			w.log.Debug().Err(err).Msg("frame not delivered")
			return nil
		}
		w.relay.metrics.FrameRelayed(len(b.Payload))

	case frame.BulkEndCall:
		w.bulk = false
		w.hangUp(ctx)

	case frame.BulkModeExit:
		w.bulk = false
	}
	return nil
}

// hangUp ends the current call from this side: the peer gets the hangup signal
// and both parties leave the busy set. Before pairing completes only the
// acceptance is withdrawn; the initiator's confirmation then fails.
func (w *worker) hangUp(ctx context.Context) {
	remembered := w.peer
	w.peer = ""
	peer, callID, err := w.relay.registry.Release(w.handle())
	if err != nil {
		if remembered != "" && w.relay.registry.DropInvite(remembered, w.handle()) {
			w.log.Info().Str("initiator", remembered).Msg("acceptance withdrawn")
		}
		return
	}
	if err := w.relay.SendText(peer, proto.Hangup); err != nil {
		w.log.Debug().Err(err).Str("peer", peer).Msg("hangup not delivered")
	}
	if callID != "" {
		w.log.Info().Str("peer", peer).Str("call_id", callID).Msg("video call ended")
		w.relay.callEnded(ctx, callID, w.handle(), EndReasonHangup)
	}
}

// leave removes the client on quit, I/O failure or shutdown. A call in
// progress is torn down and the peer receives the hangup signal.
func (w *worker) leave(ctx context.Context) {
	if w.sess == nil {
		_ = w.conn.Close()
		return
	}
	handle := w.handle()
	peer, callID := w.relay.registry.Unregister(handle)
	_ = w.conn.Close()
	w.relay.metrics.ClientLeft()

	if peer != "" {
		if err := w.relay.SendText(peer, proto.Hangup); err != nil {
			w.log.Debug().Err(err).Str("peer", peer).Msg("hangup not delivered")
		}
		w.relay.callEnded(ctx, callID, handle, EndReasonDisconnect)
	}
	w.relay.Broadcast(proto.Departure(handle))
	w.log.Info().Msg("client left")
}
