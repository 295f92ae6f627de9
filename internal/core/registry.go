package core

import (
	"slices"
	"sync"
)

// Registry maps handles to live sessions and tracks which handles are busy in
// a call. All operations are serialized by a single mutex, which is never held
// across network I/O.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string // registration order
}

type entry struct {
	sess   *Session
	peer   string // non-empty while in a call
	callID string

	invitee  string // target of the pending invitation sent by this handle
	accepted bool   // invitee has answered with an acceptance
}

// ClientInfo is a point-in-time view of one registered client.
type ClientInfo struct {
	Handle string
	Busy   bool
	Peer   string
	CallID string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register inserts sess under handle unless the handle is empty or taken.
func (r *Registry) Register(handle string, sess *Session) error {
	if handle == "" {
		return ErrInvalidHandle
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.entries[handle]; taken {
		return ErrHandleTaken
	}
	r.entries[handle] = &entry{sess: sess}
	r.order = append(r.order, handle)
	return nil
}

// Unregister removes handle. If the handle was in a call, its peer is released
// from the busy set as well and the former peer and call ID are returned.
// Unregistering an absent handle is a no-op.
func (r *Registry) Unregister(handle string) (peer, callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[handle]
	if !ok {
		return "", ""
	}
	peer, callID = e.peer, e.callID
	if pe, ok := r.entries[peer]; ok && pe.peer == handle {
		pe.peer, pe.callID = "", ""
	}
	delete(r.entries, handle)
	if i := slices.Index(r.order, handle); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	return peer, callID
}

// Lookup returns the session registered under handle.
func (r *Registry) Lookup(handle string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[handle]
	if !ok {
		return nil, ErrNotFound
	}
	return e.sess, nil
}

// ListAvailable returns, in registration order, every handle except excluding
// and the handles that are busy in a call.
func (r *Registry) ListAvailable(excluding string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.order))
	for _, h := range r.order {
		if h == excluding || r.entries[h].peer != "" {
			continue
		}
		out = append(out, h)
	}
	return out
}

// Sessions returns a snapshot of all registered sessions in registration order.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.order))
	for _, h := range r.order {
		out = append(out, r.entries[h].sess)
	}
	return out
}

// Clients returns a snapshot of all registered clients in registration order.
func (r *Registry) Clients() []ClientInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ClientInfo, 0, len(r.order))
	for _, h := range r.order {
		e := r.entries[h]
		out = append(out, ClientInfo{Handle: h, Busy: e.peer != "", Peer: e.peer, CallID: e.callID})
	}
	return out
}

// Len reports the number of registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// MarkBusy puts a and b into a call with each other. Both must be registered,
// distinct and currently idle.
func (r *Registry) MarkBusy(a, b, callID string) error {
	if a == b {
		return ErrSelfCall
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.markBusyLocked(a, b, callID)
}

func (r *Registry) markBusyLocked(a, b, callID string) error {
	if a == b {
		return ErrSelfCall
	}
	ea, ok := r.entries[a]
	if !ok {
		return ErrNotFound
	}
	eb, ok := r.entries[b]
	if !ok {
		return ErrNotFound
	}
	if ea.peer != "" || eb.peer != "" {
		return ErrBusy
	}
	ea.peer, ea.callID = b, callID
	eb.peer, eb.callID = a, callID
	return nil
}

// Invite records that initiator waits for target's answer, replacing any
// earlier invitation from initiator.
func (r *Registry) Invite(initiator, target string) error {
	if initiator == target {
		return ErrSelfCall
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[initiator]
	if !ok {
		return ErrNotFound
	}
	if _, ok := r.entries[target]; !ok {
		return ErrNotFound
	}
	e.invitee, e.accepted = target, false
	return nil
}

// AcceptInvite marks the invitation from initiator to target as accepted. It
// reports false if no such unanswered invitation is pending.
func (r *Registry) AcceptInvite(initiator, target string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[initiator]
	if !ok || e.invitee != target || e.accepted {
		return false
	}
	e.accepted = true
	return true
}

// DropInvite discards the invitation from initiator to target, answered or
// not, and reports whether there was one.
func (r *Registry) DropInvite(initiator, target string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[initiator]
	if !ok || e.invitee != target {
		return false
	}
	e.invitee, e.accepted = "", false
	return true
}

// Withdraw discards the pending invitation of initiator and returns its
// target, if any, and whether the target had accepted it.
func (r *Registry) Withdraw(initiator string) (target string, accepted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[initiator]
	if !ok {
		return "", false
	}
	target, accepted = e.invitee, e.accepted
	e.invitee, e.accepted = "", false
	return target, accepted
}

// Pair turns the accepted invitation of initiator into a call. The invitation
// is consumed whether or not pairing succeeds; its target is returned either
// way. ErrNotInCall means there was no accepted invitation.
func (r *Registry) Pair(initiator, callID string) (target string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[initiator]
	if !ok {
		return "", ErrNotFound
	}
	target, accepted := e.invitee, e.accepted
	e.invitee, e.accepted = "", false
	if target == "" || !accepted {
		return target, ErrNotInCall
	}
	return target, r.markBusyLocked(initiator, target, callID)
}

// Pending reports whether target has accepted an invitation from initiator
// that is not yet paired.
func (r *Registry) Pending(initiator, target string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[initiator]
	return ok && e.invitee == target && e.accepted
}

// Release takes handle and its peer out of the busy set.
func (r *Registry) Release(handle string) (peer, callID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[handle]
	if !ok {
		return "", "", ErrNotFound
	}
	if e.peer == "" {
		return "", "", ErrNotInCall
	}
	peer, callID = e.peer, e.callID
	if pe, ok := r.entries[peer]; ok && pe.peer == handle {
		pe.peer, pe.callID = "", ""
	}
	e.peer, e.callID = "", ""
	return peer, callID, nil
}

// PeerOf reports the call peer of handle, if it is busy.
func (r *Registry) PeerOf(handle string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[handle]
	if !ok || e.peer == "" {
		return "", false
	}
	return e.peer, true
}

// IsBusy reports whether handle is in a call.
func (r *Registry) IsBusy(handle string) bool {
	_, busy := r.PeerOf(handle)
	return busy
}
