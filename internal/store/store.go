package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// CallStatus defines call status.
type CallStatus string

const (
	CallStatusActive      CallStatus = "active"
	CallStatusEnded       CallStatus = "ended"
	CallStatusAborted     CallStatus = "aborted"
	CallStatusTimedOut    CallStatus = "timed_out"
	CallStatusUnreachable CallStatus = "unreachable"
)

// Final reports whether no further updates are expected for the call.
func (s CallStatus) Final() bool {
	return s != CallStatusActive
}

// Call is one journal entry: an established call, or a negotiation that
// never became one.
type Call struct {
	ID        string // UUID
	Initiator string
	Target    string
	Status    CallStatus
	EndedBy   string // handle that hung up or disconnected
	EndReason string
	CreatedAt time.Time
	UpdatedAt time.Time
	EndedAt   *time.Time
}

// CallStore handles call persistence.
type CallStore interface {
	// CreateCall inserts a new call.
	CreateCall(ctx context.Context, call *Call) error

	// UpdateCall updates status and end fields of an existing call.
	UpdateCall(ctx context.Context, call *Call) error

	// GetCall retrieves a call by ID.
	GetCall(ctx context.Context, id string) (*Call, error)

	// ListCalls returns the most recent calls, newest first.
	ListCalls(ctx context.Context, limit int) ([]*Call, error)

	// Close releases the underlying resources.
	Close() error
}
