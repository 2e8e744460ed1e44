package daemon

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tunnelnet/controlplane/internal/admission"
	"github.com/tunnelnet/controlplane/internal/api"
	"github.com/tunnelnet/controlplane/internal/auth"
	"github.com/tunnelnet/controlplane/internal/domain"
	"github.com/tunnelnet/controlplane/internal/eventbus"
	"github.com/tunnelnet/controlplane/internal/fsm"
	"github.com/tunnelnet/controlplane/internal/heartbeat"
	_ "github.com/tunnelnet/controlplane/internal/infra/metrics" // register Prometheus metrics
	"github.com/tunnelnet/controlplane/internal/livenesscache"
	"github.com/tunnelnet/controlplane/internal/relay"
	"github.com/tunnelnet/controlplane/internal/store"
	"github.com/tunnelnet/controlplane/internal/sweeper"
	"github.com/tunnelnet/controlplane/internal/tokenbroker"
)

// Daemon is the control plane runtime. It wires together the store,
// cache, relay registry, token broker, instance FSM, heartbeat engine,
// admission gate, event bus, background sweeper, auth service, and the
// HTTP API server.
type Daemon struct {
	Config Config

	DB        *store.DB
	Cache     *livenesscache.Cache
	Relays    *relay.Registry
	Tokens    *tokenbroker.Broker
	FSM       *fsm.FSM
	Heartbeat *heartbeat.Engine
	Admission *admission.Gate
	Bus       *eventbus.Bus
	Sweeper   *sweeper.Sweeper
	Auth      *auth.Service
	Server    *api.Server

	cancel context.CancelFunc
}

// New creates and initializes a Daemon from the on-disk config.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	db, err := store.Open(cfg.Database.Dir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	cache, err := livenesscache.New(0)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	relays := relay.New(db)
	if err := relays.Load(context.Background()); err != nil {
		return nil, fmt.Errorf("load relay fleet: %w", err)
	}

	tokenTTL := time.Duration(cfg.Tokens.TTLSeconds) * time.Second
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	broker := tokenbroker.New(db, tokenTTL)

	heartbeatTimeout := time.Duration(cfg.Heartbeat.TimeoutSeconds) * time.Second
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 30 * time.Second
	}

	bus := eventbus.New()

	instanceFSM := fsm.New(db, relays, broker, cache, bus, heartbeatTimeout)

	domain.PlanLimits[domain.PlanTrial] = orDefault(cfg.Plans.TrialMaxConcurrent, domain.PlanLimits[domain.PlanTrial])
	domain.PlanLimits[domain.PlanPro] = orDefault(cfg.Plans.ProMaxConcurrent, domain.PlanLimits[domain.PlanPro])
	domain.PlanLimits[domain.PlanEnterprise] = orDefault(cfg.Plans.EnterpriseMaxConcurrent, domain.PlanLimits[domain.PlanEnterprise])

	idleTimeout := time.Duration(cfg.Heartbeat.IdleTimeoutSeconds) * time.Second
	if idleTimeout <= 0 {
		idleTimeout = 15 * time.Minute
	}
	heartbeatEngine := heartbeat.New(db, cache, instanceFSM, heartbeat.Params{
		HeartbeatTimeout: heartbeatTimeout,
		IdleTimeout:      idleTimeout,
	})

	admissionGate := admission.New(db, relays, cfg.Capacity.ReservedPct)

	sweeperCfg := sweeper.DefaultConfig()
	sweeperCfg.HeartbeatTimeout = heartbeatTimeout
	if n := cfg.Heartbeat.CheckIntervalSeconds; n > 0 {
		sweeperCfg.HeartbeatCheckInterval = time.Duration(n) * time.Second
	}
	sw := sweeper.New(db, instanceFSM, relays, bus, sweeperCfg, dialProbe)

	jwtSecret := []byte(cfg.Auth.JWTSecret)
	if len(jwtSecret) == 0 {
		log.Printf("[daemon] WARNING: auth.jwt_secret is unset, generating an ephemeral secret (sessions will not survive a restart)")
		jwtSecret = []byte(randomSecret())
	}
	authCfg := auth.DefaultConfig()
	authCfg.JWTSecret = jwtSecret
	authService := auth.New(db, authCfg)

	srv := api.NewServer(api.Deps{
		Store:          db,
		FSM:            instanceFSM,
		Heartbeats:     heartbeatEngine,
		Tokens:         broker,
		Relays:         relays,
		Admission:      admissionGate,
		Bus:            bus,
		Auth:           authService,
		InternalAPIKey: cfg.Auth.InternalAPIKey,
	})
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	return &Daemon{
		Config:    cfg,
		DB:        db,
		Cache:     cache,
		Relays:    relays,
		Tokens:    broker,
		FSM:       instanceFSM,
		Heartbeat: heartbeatEngine,
		Admission: admissionGate,
		Bus:       bus,
		Sweeper:   sw,
		Auth:      authService,
		Server:    srv,
	}, nil
}

// Serve starts the HTTP server and background sweeper, and blocks until
// shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Bus.Run()
	d.Sweeper.Start()

	addr := fmt.Sprintf("%s:%d", d.Config.Server.Host, d.Config.Server.Port)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // long for SSE streaming
		IdleTimeout:  2 * time.Minute,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		d.Sweeper.Stop(10 * time.Second)
		d.Bus.Stop()
		_ = httpServer.Shutdown(shutdownCtx)
		_ = d.DB.Close()
	}()

	fmt.Printf("tunneld serving on http://%s\n", addr)
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  Metrics: http://%s/metrics\n", addr)
	}

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all daemon resources without waiting on a signal.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Sweeper != nil {
		d.Sweeper.Stop(5 * time.Second)
	}
	if d.Bus != nil {
		d.Bus.Stop()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}

// dialProbe is the default relay health probe (§4.9): a bounded TCP
// dial against the relay's control port.
func dialProbe(ctx context.Context, r domain.Relay) error {
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", r.Host, r.Port))
	if err != nil {
		return err
	}
	return conn.Close()
}

func orDefault(n, fallback int) int {
	if n <= 0 {
		return fallback
	}
	return n
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "insecure-fallback-secret-change-me"
	}
	return fmt.Sprintf("%x", b)
}
