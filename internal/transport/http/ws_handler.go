package http

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay-server/internal/core"
	"github.com/vovakirdan/wirerelay-server/internal/frame"
	"github.com/vovakirdan/wirerelay-server/internal/utils"
)

// WSHandler upgrades HTTP connections and serves the relay protocol over
// them. Binary messages carry the same byte stream as a TCP connection;
// message boundaries have no meaning.
type WSHandler struct {
	relay    *core.Relay
	maxFrame int
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(relay *core.Relay, maxFrame int, logger *zerolog.Logger) *WSHandler {
	if maxFrame <= 0 {
		maxFrame = frame.DefaultMaxPayload
	}
	return &WSHandler{relay: relay, maxFrame: maxFrame, log: logger}
}

// ServeHTTP implements http.Handler.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	// A single message may hold a whole video frame.
	conn.SetReadLimit(int64(h.maxFrame + frame.HeaderSize))

	ctx := r.Context()
	id := utils.NewConnID("ws")
	h.log.Debug().Str("conn_id", id).Str("remote", r.RemoteAddr).Msg("ws connection accepted")

	nc := websocket.NetConn(ctx, conn, websocket.MessageBinary)
	ch := frame.NewChannel(nc, h.maxFrame)
	if err := h.relay.Serve(ctx, id, ch); err != nil {
		conn.Close(websocket.StatusPolicyViolation, "protocol error")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}
