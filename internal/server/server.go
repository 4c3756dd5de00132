/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the ad engine together and runs its HTTP surfaces.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_ads/internal/adstore"
	"github.com/friendsincode/grimnir_ads/internal/api"
	"github.com/friendsincode/grimnir_ads/internal/audit"
	"github.com/friendsincode/grimnir_ads/internal/cache"
	"github.com/friendsincode/grimnir_ads/internal/config"
	"github.com/friendsincode/grimnir_ads/internal/creative"
	"github.com/friendsincode/grimnir_ads/internal/db"
	"github.com/friendsincode/grimnir_ads/internal/eventbus"
	"github.com/friendsincode/grimnir_ads/internal/events"
	"github.com/friendsincode/grimnir_ads/internal/leadership"
	"github.com/friendsincode/grimnir_ads/internal/logbuffer"
	"github.com/friendsincode/grimnir_ads/internal/placement"
	"github.com/friendsincode/grimnir_ads/internal/premium"
	"github.com/friendsincode/grimnir_ads/internal/resolver"
	"github.com/friendsincode/grimnir_ads/internal/sequencer"
	"github.com/friendsincode/grimnir_ads/internal/session"
	"github.com/friendsincode/grimnir_ads/internal/telemetry"
	"github.com/friendsincode/grimnir_ads/internal/tracking"
)

// Server bundles the HTTP API, the metrics listener, and background workers.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db        *gorm.DB
	cache     *cache.Cache
	store     *adstore.Store
	bus       *events.Bus
	natsBus   *eventbus.NATSBus
	sessions  *session.Tracker
	creatives *creative.Service
	audits    *audit.Service
	logBuf    *logbuffer.Buffer
	election  *leadership.Election
	api       *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies. logBuf may be nil when
// the caller does not capture logs for the admin tail.
func New(cfg *config.Config, logger zerolog.Logger, logBuf *logbuffer.Buffer) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.MetricsMiddleware)
	// Skip the request timeout for the websocket event stream.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(30 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		logBuf: logBuf,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", telemetry.Handler())
	srv.metricsServer = &http.Server{
		Addr:              cfg.MetricsBind,
		Handler:           metricsMux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	policies, err := placement.Load(s.cfg.PlacementPolicyFile)
	if err != nil {
		return err
	}
	if s.cfg.PlacementPolicyFile != "" {
		s.logger.Info().Str("path", s.cfg.PlacementPolicyFile).Msg("placement policy overrides loaded")
	}

	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = s.cfg.RedisAddr
	cacheCfg.RedisPassword = s.cfg.RedisPassword
	cacheCfg.RedisDB = s.cfg.RedisDB
	entityCache, err := cache.New(cacheCfg, s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
	} else {
		s.cache = entityCache
		s.DeferClose(func() error { return s.cache.Close() })
	}

	s.sessions = session.New(session.Config{
		RedisAddr:     s.cfg.RedisAddr,
		RedisPassword: s.cfg.RedisPassword,
		RedisDB:       s.cfg.RedisDB,
		TTL:           s.cfg.SessionTTL,
	}, policies, s.logger)

	var publisher api.Publisher = s.bus
	if s.cfg.NATSEnabled {
		s.natsBus = eventbus.NewNATSBus(s.cfg.NATSUrl, s.bus, s.logger)
		s.DeferClose(func() error { s.natsBus.Close(); return nil })
		publisher = s.natsBus
	}

	if s.cfg.CreativeBackend == config.CreativeBackendFS {
		if err := os.MkdirAll(s.cfg.CreativeRoot, 0755); err != nil {
			return fmt.Errorf("create creative directory %s: %w", s.cfg.CreativeRoot, err)
		}
	}
	creatives, err := creative.NewService(s.cfg, s.logger)
	if err != nil {
		return err
	}
	s.creatives = creatives
	if err := creatives.CheckStorageAccess(); err != nil {
		s.logger.Warn().Err(err).Msg("creative storage access check failed")
	}

	s.store = adstore.New(database, s.cache, s.logger)
	s.audits = audit.NewService(database, s.bus, s.logger)
	premiumProvider := premium.FromConfig(s.cfg, s.logger)
	res := resolver.New(s.store, s.sessions, premiumProvider, policies, publisher, s.logger)
	seq := sequencer.NewManager(res, policies, publisher, s.logger)
	tracker := tracking.NewService(database, publisher, policies, s.logger)

	if s.cfg.LeaderElectionEnabled {
		election, err := leadership.NewElection(leadership.Config{
			RedisAddr:     s.cfg.RedisAddr,
			RedisPassword: s.cfg.RedisPassword,
			RedisDB:       s.cfg.RedisDB,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("leader election: %w", err)
		}
		s.election = election
		s.DeferClose(election.Stop)
	}

	s.api = api.New(database, s.store, res, seq, tracker, s.sessions, creatives, s.audits, s.logBuf, s.bus, publisher, s.cfg.AdminEnabled, s.logger)
	return nil
}

func (s *Server) configureRoutes() {
	// Serve filesystem creatives directly; S3 creatives are served by the
	// bucket or its CDN.
	if s.cfg.CreativeBackend == config.CreativeBackendFS {
		fileServer := http.StripPrefix("/creatives/", http.FileServer(http.Dir(s.cfg.CreativeRoot)))
		s.router.Get("/creatives/*", func(w http.ResponseWriter, r *http.Request) {
			fileServer.ServeHTTP(w, r)
		})
	}

	s.api.Routes(s.router)
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer exposes the Prometheus listener.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.election != nil {
		s.election.Start(ctx)
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.audits.Start(ctx)
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runBudgetSweeper(ctx)
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()
}

// runBudgetSweeper periodically retires campaigns whose impression budget is
// spent or whose flight has ended.
func (s *Server) runBudgetSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.cfg.SweepInterval).Msg("budget sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("budget sweeper stopped")
			return
		case <-ticker.C:
			// With replicas, only the elected leader sweeps.
			if s.election != nil && !s.election.IsLeader() {
				continue
			}
			sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			changed, err := s.store.SweepBudgets(sweepCtx, time.Now())
			cancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("budget sweep failed")
				continue
			}
			if changed > 0 {
				s.logger.Info().Int("campaigns", changed).Msg("campaigns retired by budget sweep")
			}
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}
