package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay-server/internal/frame"
	"github.com/vovakirdan/wirerelay-server/internal/metrics"
)

// Options tunes the relay.
type Options struct {
	// ConfirmTimeout bounds how long an initiator waits for a call answer.
	// Zero waits indefinitely.
	ConfirmTimeout time.Duration
	// ChatRateLimit caps chat lines per minute per connection. Zero disables it.
	ChatRateLimit int
}

// Relay coordinates all connected clients: it owns the registry, forwards
// messages and frames between sessions, and runs the per-connection signaling
// state machine through Serve.
type Relay struct {
	registry *Registry
	calls    CallService
	metrics  *metrics.Metrics
	opts     Options
	log      *zerolog.Logger
}

// NewRelay creates a relay. calls and m may be nil.
func NewRelay(registry *Registry, calls CallService, m *metrics.Metrics, opts Options, logger *zerolog.Logger) *Relay {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Relay{
		registry: registry,
		calls:    calls,
		metrics:  m,
		opts:     opts,
		log:      logger,
	}
}

// Registry returns the client registry shared by all workers.
func (r *Relay) Registry() *Registry { return r.registry }

// SendText delivers msg to the text channel of target.
func (r *Relay) SendText(target, msg string) error {
	sess, err := r.registry.Lookup(target)
	if err != nil {
		return fmt.Errorf("send to %q: %w", target, err)
	}
	return sess.SendText(msg)
}

// SendBulk delivers a video frame to target.
func (r *Relay) SendBulk(target string, payload []byte) error {
	sess, err := r.registry.Lookup(target)
	if err != nil {
		return fmt.Errorf("relay frame to %q: %w", target, err)
	}
	return sess.SendBulk(payload)
}

// Broadcast delivers msg to every registered client. Delivery failures only
// affect the failing client, whose own worker notices the broken connection.
func (r *Relay) Broadcast(msg string) {
	for _, sess := range r.registry.Sessions() {
		if err := sess.SendText(msg); err != nil {
			r.log.Debug().Err(err).Str("handle", sess.Handle).Msg("broadcast delivery failed")
		}
	}
}

// Serve runs the signaling state machine for one connection until the client
// quits, the connection fails, or ctx ends. It always closes conn and removes
// the client from the registry before returning. A clean quit or disconnect
// returns nil.
func (r *Relay) Serve(ctx context.Context, id string, conn Conn) (err error) {
	w := newWorker(r, id, conn)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrSessionPanic, p)
		}
		w.leave(ctx)
		if err != nil {
			r.metrics.SessionError()
			w.log.Warn().Err(err).Msg("session ended with error")
		}
	}()

	if err := w.register(ctx); err != nil {
		return sessionErr(err)
	}
	return sessionErr(w.loop(ctx))
}

// sessionErr drops the errors that represent an ordinary end of a session.
func sessionErr(err error) error {
	if err == nil || errors.Is(err, frame.ErrClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Relay) callStarted(ctx context.Context, callID, initiator, target string) {
	r.metrics.CallNegotiated(string(OutcomeAccepted))
	if r.calls == nil {
		return
	}
	if err := r.calls.CallStarted(ctx, callID, initiator, target); err != nil {
		r.log.Warn().Err(err).Str("call_id", callID).Msg("failed to journal call start")
	}
}

func (r *Relay) callDeclined(ctx context.Context, initiator, target string, outcome Outcome) {
	r.metrics.CallNegotiated(string(outcome))
	if r.calls == nil {
		return
	}
	if err := r.calls.CallDeclined(ctx, initiator, target, outcome); err != nil {
		r.log.Warn().Err(err).Str("initiator", initiator).Str("target", target).Msg("failed to journal declined call")
	}
}

func (r *Relay) callEnded(ctx context.Context, callID, by, reason string) {
	r.metrics.CallEnded(reason)
	if r.calls == nil || callID == "" {
		return
	}
	// The worker context may already be cancelled when a call ends on shutdown.
	if err := r.calls.CallEnded(context.WithoutCancel(ctx), callID, by, reason); err != nil {
		r.log.Warn().Err(err).Str("call_id", callID).Msg("failed to journal call end")
	}
}
