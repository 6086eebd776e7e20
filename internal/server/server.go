package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dukerupert/registry/internal/auth"
	"github.com/dukerupert/registry/internal/backup"
	"github.com/dukerupert/registry/internal/config"
	"github.com/dukerupert/registry/internal/handler"
	"github.com/dukerupert/registry/internal/indicator"
	"github.com/dukerupert/registry/internal/jobs"
	"github.com/dukerupert/registry/internal/membership"
	"github.com/dukerupert/registry/internal/metrics"
	"github.com/dukerupert/registry/internal/middleware"
	"github.com/dukerupert/registry/internal/recompute"
	"github.com/dukerupert/registry/internal/scheduler"
	ws "github.com/dukerupert/registry/internal/websocket"
)

const limiterSweepInterval = 5 * time.Minute

type Server struct {
	cfg     *config.Config
	db      *sql.DB
	metrics *metrics.Metrics
	hub     *ws.Hub

	queue     *jobs.Queue
	engine    *indicator.Engine
	trigger   *recompute.Trigger
	backups   *backup.Manager
	scheduler *scheduler.Scheduler

	registrantH *handler.RegistrantHandler
	memberH     *handler.MemberHandler
	kindH       *handler.KindHandler
	indicatorH  *handler.IndicatorHandler
	backupH     *handler.BackupHandler

	rateLimiter *middleware.RateLimiter
	verifier    *auth.Verifier
	logger      *slog.Logger

	cancel context.CancelFunc
}

func New(cfg *config.Config, db *sql.DB, logger *slog.Logger) *Server {
	m := metrics.New()
	hub := ws.NewHub(logger.With("component", "websocket"))

	queue := jobs.New(jobs.Config{
		Channels: []jobs.ChannelConfig{
			{Name: recompute.ChannelInteractive, Workers: cfg.Recompute.InteractiveWorkers},
			{Name: recompute.ChannelBatch, Workers: cfg.Recompute.BatchWorkers},
		},
		MaxAttempts: cfg.Recompute.MaxAttempts,
	}, logger, m)

	registry := indicator.DefaultRegistry()
	engine := indicator.NewEngine(db, registry, m, logger.With("component", "indicator"))
	engine.OnUpdate(func(groupIDs []int64, fields []string) {
		hub.Broadcast(ws.IndicatorsUpdated(groupIDs, fields, time.Now()))
	})
	recompute.RegisterHandlers(queue, db, engine)

	trigger := recompute.NewTrigger(db, queue, registry, recompute.Options{
		BatchSize:     cfg.Recompute.BatchSize,
		Debounce:      cfg.Recompute.Debounce,
		DirtyCapacity: cfg.Recompute.DirtyCapacity,
	}, logger, m)

	svc := membership.NewService(db, trigger, logger.With("component", "membership"), m)
	kinds := membership.NewKindRegistry(db, trigger, logger.With("component", "membership_kind"))
	backups := backup.NewManager(cfg.Backup, db, logger)

	return &Server{
		cfg:         cfg,
		db:          db,
		metrics:     m,
		hub:         hub,
		queue:       queue,
		engine:      engine,
		trigger:     trigger,
		backups:     backups,
		scheduler:   scheduler.New(logger),
		registrantH: handler.NewRegistrantHandler(svc, logger.With("component", "registrant")),
		memberH:     handler.NewMemberHandler(svc, kinds, logger.With("component", "member")),
		kindH:       handler.NewKindHandler(kinds, logger.With("component", "membership_kind")),
		indicatorH:  handler.NewIndicatorHandler(svc, trigger, registry.Names(), logger.With("component", "indicator")),
		backupH:     handler.NewBackupHandler(backups, logger.With("component", "backup")),
		rateLimiter: middleware.NewRateLimiter(),
		verifier:    auth.NewVerifier(cfg.AdminTokenHash),
		logger:      logger,
	}
}

// Trigger returns the recompute trigger.
func (s *Server) Trigger() *recompute.Trigger {
	return s.trigger
}

// Queue returns the task queue.
func (s *Server) Queue() *jobs.Queue {
	return s.queue
}

// BackupManager returns the backup manager.
func (s *Server) BackupManager() *backup.Manager {
	return s.backups
}

// Start launches the queue workers and the scheduled jobs, and re-queues
// groups left dirty by a previous run.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if err := s.scheduler.Add("recompute_all", s.cfg.Recompute.Schedule, func(ctx context.Context) error {
		_, err := s.trigger.RecomputeAll(ctx, nil)
		return err
	}); err != nil {
		return err
	}
	if s.backups.Enabled() {
		if err := s.scheduler.Add("backup", s.cfg.Backup.Schedule, s.backups.Scheduled); err != nil {
			return err
		}
	}

	s.queue.Start(ctx)
	s.scheduler.Start()
	go s.rateLimiter.Sweep(ctx, limiterSweepInterval)

	if s.cfg.Recompute.ResumeOnStart {
		n, err := s.trigger.ResumeDirty(ctx)
		if err != nil {
			return fmt.Errorf("resume dirty groups: %w", err)
		}
		if n > 0 {
			s.logger.Info("resumed dirty groups", "count", n)
		}
	}
	return nil
}

// Stop flushes pending dirty groups and stops the background workers.
// Tasks still queued are dropped; their groups keep a fresh canary and are
// picked up again by the next Start.
func (s *Server) Stop() {
	s.scheduler.Stop()
	s.trigger.Dirty().Stop()
	s.queue.Stop()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(s.logger.With("component", "http")))

	r.Get("/health", s.healthHandler)
	r.Handle("/metrics", s.metrics.Handler())
	r.Get("/ws", ws.HandleWebSocket(s.hub, nil))

	r.Route("/api", func(r chi.Router) {
		r.Get("/individuals", s.registrantH.ListIndividuals)
		r.Get("/individuals/{id}", s.registrantH.GetIndividual)
		r.Get("/individuals/{id}/memberships", s.registrantH.IndividualMemberships)
		r.Get("/groups", s.registrantH.ListGroups)
		r.Get("/groups/{id}", s.registrantH.GetGroup)
		r.Get("/groups/{id}/members", s.memberH.List)
		r.Get("/membership-kinds", s.kindH.List)
		r.Get("/indicators", s.indicatorH.Names)

		// Writes and backups need the admin token.
		r.Group(func(r chi.Router) {
			r.Use(middleware.ByIP(s.rateLimiter, s.cfg.RateLimit, s.cfg.RateLimitWindow))
			r.Use(middleware.RequireToken(s.verifier, s.logger.With("component", "auth")))

			r.Post("/individuals", s.registrantH.CreateIndividual)
			r.Patch("/individuals/{id}", s.registrantH.UpdateIndividual)
			r.Delete("/individuals/{id}", s.registrantH.DeleteIndividual)

			r.Post("/groups", s.registrantH.CreateGroup)
			r.Patch("/groups/{id}", s.registrantH.UpdateGroup)
			r.Delete("/groups/{id}", s.registrantH.DeleteGroup)
			r.Post("/groups/{id}/members", s.memberH.Create)
			r.Patch("/groups/{id}/members", s.memberH.Edit)
			r.Post("/groups/{id}/indicators/recompute", s.indicatorH.RecomputeGroup)

			r.Patch("/memberships/{id}", s.memberH.Update)
			r.Delete("/memberships/{id}", s.memberH.Delete)

			r.Post("/membership-kinds", s.kindH.Create)
			r.Patch("/membership-kinds/{id}", s.kindH.Update)
			r.Delete("/membership-kinds/{id}", s.kindH.Delete)

			r.Post("/indicators/recompute", s.indicatorH.RecomputeAll)

			r.Get("/backups", s.backupH.List)
			r.Post("/backups", s.backupH.Run)
			r.Get("/backups/{id}/download", s.backupH.Download)
		})
	})
	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check: database unreachable", "error", err)
		status, code = "degraded", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":       status,
		"queued_tasks": s.queue.Len(),
		"dirty_groups": s.trigger.Dirty().Len(),
		"ws_clients":   s.hub.ClientCount(),
	})
}
