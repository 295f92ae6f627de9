package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay-server/internal/core"
)

// APIHandlers serves the read-only admin endpoints.
type APIHandlers struct {
	relay *core.Relay
	calls CallLister
	log   *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance. calls may be nil.
func NewAPIHandlers(relay *core.Relay, calls CallLister, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{relay: relay, calls: calls, log: logger}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

// Health reports liveness and the number of registered clients.
// GET /health
func (h *APIHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Clients: h.relay.Registry().Len()})
}

// ListClients returns registered clients in registration order.
// GET /api/clients
func (h *APIHandlers) ListClients(c *gin.Context) {
	c.JSON(http.StatusOK, ClientsResponse{Clients: clientsToResponse(h.relay.Registry().Clients())})
}

// ListCalls returns recent call journal entries.
// GET /api/calls?limit=N
func (h *APIHandlers) ListCalls(c *gin.Context) {
	if h.calls == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "call journal is disabled"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	calls, err := h.calls.ListCalls(c.Request.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list calls")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, CallsResponse{Calls: callsToResponse(calls)})
}
