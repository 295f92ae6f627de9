package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay-server/internal/config"
	"github.com/vovakirdan/wirerelay-server/internal/core"
	"github.com/vovakirdan/wirerelay-server/internal/store"
)

// CallLister reads the call journal.
type CallLister interface {
	ListCalls(ctx context.Context, limit int) ([]*store.Call, error)
}

// Deps are the components served over HTTP. Calls and Gatherer may be nil:
// the journal endpoint then answers 503 and /metrics is not mounted.
type Deps struct {
	Relay    *core.Relay
	Calls    CallLister
	Gatherer prometheus.Gatherer
}

// NewServer builds the admin HTTP server: health, metrics, the client and
// call listings, and the WebSocket entry point to the relay.
func NewServer(deps Deps, cfg config.Config, logger *zerolog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewHandler(deps, cfg.MaxFrameBytes, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewHandler mounts the WebSocket endpoint next to the admin router. /ws is
// served outside gin because the upgrade hijacks the raw ResponseWriter.
func NewHandler(deps Deps, maxFrame int, logger *zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", NewWSHandler(deps.Relay, maxFrame, logger))
	mux.Handle("/", NewRouter(deps, logger))
	return mux
}

// NewRouter registers the admin routes on a fresh gin engine.
func NewRouter(deps Deps, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), LoggerMiddleware(logger))

	api := NewAPIHandlers(deps.Relay, deps.Calls, logger)
	r.GET("/health", api.Health)
	r.GET("/api/clients", api.ListClients)
	r.GET("/api/calls", api.ListCalls)

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
	return r
}
