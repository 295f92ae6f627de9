package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/wirerelay-server/internal/core"
	"github.com/vovakirdan/wirerelay-server/internal/store"
)

// Common errors for call operations.
var (
	ErrCallNotFound = errors.New("call not found")
	ErrCallEnded    = errors.New("call has ended")
)

// DefaultListLimit is used when a caller asks for a non-positive limit.
const DefaultListLimit = 50

// MaxListLimit caps how many journal entries one request may read.
const MaxListLimit = 500

// Service journals relay calls into a store.CallStore.
type Service struct {
	store store.CallStore
	now   func() time.Time
}

var _ core.CallService = (*Service)(nil)

// New creates a new call journal service.
func New(st store.CallStore) *Service {
	return &Service{store: st, now: time.Now}
}

// CallStarted records an accepted call.
func (s *Service) CallStarted(ctx context.Context, callID, initiator, target string) error {
	if callID == "" {
		callID = uuid.NewString()
	}
	now := s.now().UTC()
	call := &store.Call{
		ID:        callID,
		Initiator: initiator,
		Target:    target,
		Status:    store.CallStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateCall(ctx, call); err != nil {
		return fmt.Errorf("save call: %w", err)
	}
	return nil
}

// CallDeclined records a negotiation that ended without a call. It gets its
// own ID since the relay only assigns one on acceptance.
func (s *Service) CallDeclined(ctx context.Context, initiator, target string, outcome core.Outcome) error {
	now := s.now().UTC()
	call := &store.Call{
		ID:        uuid.NewString(),
		Initiator: initiator,
		Target:    target,
		Status:    statusFor(outcome),
		CreatedAt: now,
		UpdatedAt: now,
		EndedAt:   &now,
	}
	if err := s.store.CreateCall(ctx, call); err != nil {
		return fmt.Errorf("save declined call: %w", err)
	}
	return nil
}

// CallEnded marks an active call as ended by the given handle.
func (s *Service) CallEnded(ctx context.Context, callID, by, reason string) error {
	call, err := s.GetCall(ctx, callID)
	if err != nil {
		return err
	}
	if call.Status.Final() {
		return ErrCallEnded
	}

	now := s.now().UTC()
	call.Status = store.CallStatusEnded
	call.EndedBy = by
	call.EndReason = reason
	call.EndedAt = &now
	if err := s.store.UpdateCall(ctx, call); err != nil {
		return fmt.Errorf("end call: %w", err)
	}
	return nil
}

// GetCall retrieves a call by ID.
func (s *Service) GetCall(ctx context.Context, callID string) (*store.Call, error) {
	call, err := s.store.GetCall(ctx, callID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCallNotFound
		}
		return nil, err
	}
	return call, nil
}

// ListCalls returns recent journal entries, newest first.
func (s *Service) ListCalls(ctx context.Context, limit int) ([]*store.Call, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	return s.store.ListCalls(ctx, limit)
}

func statusFor(outcome core.Outcome) store.CallStatus {
	switch outcome {
	case core.OutcomeAccepted:
		return store.CallStatusActive
	case core.OutcomeTimedOut:
		return store.CallStatusTimedOut
	case core.OutcomeUnreachable:
		return store.CallStatusUnreachable
	default:
		return store.CallStatusAborted
	}
}
