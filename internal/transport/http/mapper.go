package http

import (
	"time"

	"github.com/vovakirdan/wirerelay-server/internal/core"
	"github.com/vovakirdan/wirerelay-server/internal/store"
)

// ClientResponse describes one registered client.
type ClientResponse struct {
	Handle string `json:"handle"`
	Busy   bool   `json:"busy"`
	Peer   string `json:"peer,omitempty"`
	CallID string `json:"call_id,omitempty"`
}

// ClientsResponse is the body of GET /api/clients.
type ClientsResponse struct {
	Clients []ClientResponse `json:"clients"`
}

// CallResponse describes one journal entry.
type CallResponse struct {
	ID        string     `json:"id"`
	Initiator string     `json:"initiator"`
	Target    string     `json:"target"`
	Status    string     `json:"status"`
	EndedBy   string     `json:"ended_by,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// CallsResponse is the body of GET /api/calls.
type CallsResponse struct {
	Calls []CallResponse `json:"calls"`
}

func clientsToResponse(infos []core.ClientInfo) []ClientResponse {
	out := make([]ClientResponse, 0, len(infos))
	for _, ci := range infos {
		out = append(out, ClientResponse{
			Handle: ci.Handle,
			Busy:   ci.Busy,
			Peer:   ci.Peer,
			CallID: ci.CallID,
		})
	}
	return out
}

func callsToResponse(calls []*store.Call) []CallResponse {
	out := make([]CallResponse, 0, len(calls))
	for _, c := range calls {
		out = append(out, CallResponse{
			ID:        c.ID,
			Initiator: c.Initiator,
			Target:    c.Target,
			Status:    string(c.Status),
			EndedBy:   c.EndedBy,
			EndReason: c.EndReason,
			CreatedAt: c.CreatedAt,
			EndedAt:   c.EndedAt,
		})
	}
	return out
}
