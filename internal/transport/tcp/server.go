// Package tcp serves the relay protocol over plain TCP connections.
package tcp

import (
	"context"
	"errors"
	"net"

	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay-server/internal/core"
	"github.com/vovakirdan/wirerelay-server/internal/frame"
	"github.com/vovakirdan/wirerelay-server/internal/utils"
)

// Server accepts TCP clients and runs one relay worker per connection.
type Server struct {
	relay    *core.Relay
	maxFrame int
	log      *zerolog.Logger
}

// New creates a TCP server for relay. maxFrame bounds inbound payloads; zero
// means frame.DefaultMaxPayload.
func New(relay *core.Relay, maxFrame int, logger *zerolog.Logger) *Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Server{relay: relay, maxFrame: maxFrame, log: logger}
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lst, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lst)
}

// Serve accepts connections from lst until ctx ends or lst is closed, then
// waits for every running worker to finish. It closes lst on return.
// Shutdown through ctx or a closed listener returns nil.
func (s *Server) Serve(ctx context.Context, lst net.Listener) error {
	// A net.Listener does not obey a context, so close it when ctx ends.
	stop := make(chan struct{})
	defer close(stop)
	taskgroup.Go(func() error {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		lst.Close()
		return nil
	})

	s.log.Info().Str("addr", lst.Addr().String()).Msg("tcp relay listening")

	g := taskgroup.New(nil)
	for {
		conn, err := lst.Accept()
		if err != nil {
			g.Wait()
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				s.log.Info().Msg("tcp relay stopped")
				return nil
			}
			return err
		}

		id := utils.NewConnID("tcp")
		s.log.Debug().Str("conn_id", id).Str("remote", conn.RemoteAddr().String()).Msg("connection accepted")

		ch := frame.NewChannel(conn, s.maxFrame)
		g.Go(func() error {
			// Session errors are logged by the relay; one bad client must not
			// stop the listener.
			_ = s.relay.Serve(ctx, id, ch)
			return nil
		})
	}
}
