// Package api provides the HTTP surface for the tunnel control plane,
// layered under /api/v1 (§6).
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tunnelnet/controlplane/internal/admission"
	"github.com/tunnelnet/controlplane/internal/auth"
	"github.com/tunnelnet/controlplane/internal/domain"
	"github.com/tunnelnet/controlplane/internal/eventbus"
	"github.com/tunnelnet/controlplane/internal/fsm"
	"github.com/tunnelnet/controlplane/internal/heartbeat"
	"github.com/tunnelnet/controlplane/internal/relay"
	"github.com/tunnelnet/controlplane/internal/tokenbroker"
)

// Server is the control plane's HTTP API server.
type Server struct {
	store      domain.Store
	fsm        *fsm.FSM
	heartbeats *heartbeat.Engine
	tokens     *tokenbroker.Broker
	relays     *relay.Registry
	admission  *admission.Gate
	bus        *eventbus.Bus
	auth       *auth.Service

	internalAPIKey string
	metricsEnabled bool
}

// Deps bundles every component the API layer dispatches to.
type Deps struct {
	Store          domain.Store
	FSM            *fsm.FSM
	Heartbeats     *heartbeat.Engine
	Tokens         *tokenbroker.Broker
	Relays         *relay.Registry
	Admission      *admission.Gate
	Bus            *eventbus.Bus
	Auth           *auth.Service
	InternalAPIKey string
}

// NewServer constructs a Server from its dependencies.
func NewServer(d Deps) *Server {
	return &Server{
		store: d.Store, fsm: d.FSM, heartbeats: d.Heartbeats, tokens: d.Tokens,
		relays: d.Relays, admission: d.Admission, bus: d.Bus, auth: d.Auth,
		internalAPIKey: d.InternalAPIKey,
	}
}

// EnableMetrics turns on the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", s.handleSignup)
			r.Post("/login", s.handleLogin)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/logout", s.handleLogout)
			r.Group(func(r chi.Router) {
				r.Use(s.requireUser)
				r.Post("/logout-all", s.handleLogoutAll)
				r.Get("/me", s.handleMe)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.Get("/instances", s.handleListInstances)
			r.Post("/instances", s.handleCreateInstance)
			r.Route("/instances/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetInstance)
				r.Patch("/", s.handleRenameInstance)
				r.Delete("/", s.handleDeleteInstance)
				r.Post("/heartbeat", s.handleHeartbeat)
				r.Post("/connect", s.handleConnect)
				r.Post("/disconnect", s.handleDisconnect)
				r.Get("/status-history", s.handleStatusHistory)
				r.Get("/health", s.handleInstanceHealth)
			})

			r.Get("/events", s.handleEvents)
		})

		r.Route("/internal", func(r chi.Router) {
			r.Use(s.requireInternalKey)
			r.Post("/validate-key", s.handleValidateKey)
			r.Post("/instances/{id}/tunnel-connected", s.handleTunnelConnected)
			r.Post("/instances/{id}/tunnel-disconnected", s.handleTunnelDisconnected)
			r.Get("/relays", s.handleListRelays)
			r.Post("/relays", s.handleRegisterRelay)
			r.Post("/relays/{id}/load", s.handleReportRelayLoad)
			r.Get("/fleet-stats", s.handleFleetStats)
		})
	})

	return r
}

func nowUnix() int64 { return time.Now().Unix() }
