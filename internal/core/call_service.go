package core

import "context"

// Outcome is how a call negotiation finished.
type Outcome string

const (
	// OutcomeAccepted means the target accepted and both parties are busy.
	OutcomeAccepted Outcome = "accepted"
	// OutcomeAborted means the initiator answered anything but an acceptance.
	OutcomeAborted Outcome = "aborted"
	// OutcomeTimedOut means no answer arrived within the confirmation timeout.
	OutcomeTimedOut Outcome = "timed_out"
	// OutcomeUnreachable means the target was unknown, busy, or the caller itself.
	OutcomeUnreachable Outcome = "unreachable"
)

// Reasons a call ends.
const (
	EndReasonHangup     = "hangup"
	EndReasonDisconnect = "disconnect"
)

// CallService records call activity for the relay. This interface allows the
// relay to journal calls without depending on the storage layer; a nil
// CallService disables journaling.
type CallService interface {
	// CallStarted records an accepted call between initiator and target.
	CallStarted(ctx context.Context, callID, initiator, target string) error

	// CallDeclined records a negotiation that did not produce a call.
	CallDeclined(ctx context.Context, initiator, target string, outcome Outcome) error

	// CallEnded records the end of an accepted call.
	CallEnded(ctx context.Context, callID, by, reason string) error
}
