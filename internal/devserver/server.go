// Package devserver is a local stand-in for the admin backend: cookie login, ws
// tokens, the polling endpoints and a STOMP broker over SockJS, fed by a
// publisher and an optional event simulator
package devserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/igm/sockjs-go/v3/sockjs"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lirancohen/adminpulse/internal/auth"
	"github.com/lirancohen/adminpulse/internal/broker"
	"github.com/lirancohen/adminpulse/internal/config"
	"github.com/lirancohen/adminpulse/internal/events"
	"github.com/lirancohen/adminpulse/internal/store"
)

const (
	sweepInterval   = time.Minute
	shutdownTimeout = 10 * time.Second
)

// Server is the dev backend
type Server struct {
	echo     *echo.Echo
	db       *store.DB
	hub      *broker.Hub
	sessions *auth.SessionManager
	tokens   *auth.TokenConfig
	pub      *Publisher
	sim      *Simulator
	addr     string
	log      zerolog.Logger
}

// New wires the dev backend from its configuration. The database must already
// be migrated.
func New(cfg *config.Server, database *store.DB, log zerolog.Logger) (*Server, error) {
	keys, err := auth.KeyPairFromSeed(cfg.Auth.SigningKey)
	if err != nil {
		return nil, err
	}
	tokens := keys.TokenConfig(cfg.Auth.Issuer)
	tokens.TTL = cfg.Auth.TokenTTL.Std()

	log = log.With().Str("component", "devserver").Logger()
	hub := broker.NewHub(log, cfg.Broker.SendBuffer)
	pub := NewPublisher(database, hub, log)

	s := &Server{
		echo: echo.New(),
		db:   database,
		hub:  hub,
		sessions: auth.NewSessionManager(auth.SessionManagerConfig{
			Store:      database.Sessions(),
			CookieName: cfg.Auth.CookieName,
			MaxAge:     cfg.Auth.SessionTTL.Std(),
		}),
		tokens: tokens,
		pub:    pub,
		addr:   cfg.Listen,
		log:    log,
	}
	if cfg.Simulator.Enabled {
		s.sim = NewSimulator(pub, cfg.Simulator.Interval.Std(), cfg.Simulator.User, log)
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(echomw.Recover())
	s.echo.Use(echomw.RequestID())
	s.echo.Use(requestLogger(log))

	opts := sockjs.DefaultOptions
	opts.HeartbeatDelay = cfg.Broker.Heartbeat.Std()
	s.registerRoutes(opts)
	return s, nil
}

func (s *Server) registerRoutes(opts sockjs.Options) {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"status": "ok", "clients": s.hub.Clients()})
	})

	// Dev only: log in without credentials, publish arbitrary events
	s.echo.POST("/dev/login", s.handleLogin)
	s.echo.POST("/dev/publish/:kind", s.handlePublish)

	ws := s.hub.NewHandler("/ws", opts, func(r *http.Request) string {
		if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
			return claims.Email
		}
		return ""
	})
	s.echo.Any("/ws", echo.WrapHandler(ws), tokenAuth(s.tokens))
	s.echo.Any("/ws/*", echo.WrapHandler(ws), tokenAuth(s.tokens))

	requireSession := echo.WrapMiddleware(s.sessions.Middleware)
	s.echo.POST("/dev/logout", s.handleLogout, requireSession)
	s.echo.POST("/api/v1/internal/auth/ws-token", s.handleWSToken, requireSession)

	admin := s.echo.Group("/admin", requireSession)
	admin.GET("/activity", s.handleActivity)
	admin.GET("/pricing/events", s.handlePricingEvents)
	admin.GET("/security/events", s.handleSecurityEvents)
	admin.GET("/security/sessions/active", s.handleActiveSessions)
	admin.GET("/workflows/executions/active", s.handleActiveExecutions)
	admin.GET("/workflows/executions/recent", s.handleRecentExecutions)
}

// Handler returns the HTTP handler, for serving without Run
func (s *Server) Handler() http.Handler { return s.echo }

// Publisher returns the publisher feeding the broker
func (s *Server) Publisher() *Publisher { return s.pub }

// Hub returns the broker hub
func (s *Server) Hub() *broker.Hub { return s.hub }

// Sessions returns the admin session manager
func (s *Server) Sessions() *auth.SessionManager { return s.sessions }

// RunWorkers runs the broker loop, the session sweeper and, when enabled, the
// simulator until ctx is cancelled
func (s *Server) RunWorkers(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		s.sweep(ctx)
		return nil
	})
	if s.sim != nil {
		g.Go(func() error { return s.sim.Run(ctx) })
	}
	return g.Wait()
}

// Run serves HTTP on the configured address alongside the workers and shuts
// down gracefully when ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.RunWorkers(ctx) })
	g.Go(func() error {
		s.log.Info().Str("addr", s.addr).Msg("starting HTTP server")
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// sweep expires sessions and announces each one
func (s *Server) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepSessions()
		}
	}
}

// SweepSessions deletes expired sessions and publishes SESSION_EXPIRED for each
func (s *Server) SweepSessions() {
	expired, err := s.sessions.Sweep()
	if err != nil {
		s.log.Warn().Err(err).Msg("session sweep failed")
	}
	for _, sess := range expired {
		s.publishSession(events.SessionExpired, sess)
	}
}

func (s *Server) publishSession(typ string, sess *auth.Session) {
	_, err := s.pub.Session(events.SessionEvent{
		Type:      typ,
		SessionID: sess.ID,
		UserEmail: sess.Email,
		IPAddress: sess.IPAddress,
		UserAgent: sess.UserAgent,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("type", typ).Msg("session event not published")
	}
}
