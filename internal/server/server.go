package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"clockd/internal/scheduler"
	"clockd/internal/storage"
	logx "clockd/pkg/logx"
)

// Config tunes the admin HTTP surface.
type Config struct {
	Addr       string
	RatePerSec int
	Burst      int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	Auth AuthConfig
}

// Deps are the collaborators the handlers talk to.
type Deps struct {
	Scheduler *scheduler.Service
	Store     storage.Store
	Log       logx.Logger
}

// Server is the admin API: auth, scheduler control, schedule/movement/user
// CRUD and device probes.
type Server struct {
	cfg   Config
	auth  AuthConfig
	sched *scheduler.Service
	store storage.Store
	log   logx.Logger

	httpSrv *http.Server
}

func New(cfg Config, deps Deps) *Server {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:   cfg,
		auth:  cfg.Auth,
		sched: deps.Scheduler,
		store: deps.Store,
		log:   log.With(logx.String("component", "server")),
	}
	s.httpSrv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  orDur(cfg.ReadTimeout, 10*time.Second),
		WriteTimeout: orDur(cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:  orDur(cfg.IdleTimeout, 2*time.Minute),
	}
	return s
}

func orDur(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// Handler builds the router. Exposed separately so tests can drive the API
// without binding a port.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogMiddleware(s.log))
	r.Use(rateLimitMiddleware(s.cfg.RatePerSec, s.cfg.Burst))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeData(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Route("/scheduler", func(r chi.Router) {
				r.Get("/status", s.handleSchedulerStatus)
				r.Post("/start", s.handleSchedulerStart)
				r.Post("/stop", s.handleSchedulerStop)
				r.Post("/reload", s.handleSchedulerReload)
				r.Post("/toggle", s.handleSchedulerToggle)
				r.Post("/execute/{scheduleID}", s.handleExecuteNow)
				r.Get("/logs", s.handleExecutionLogs)
				r.Post("/device/configure", s.handleConfigureDevice)
				r.Get("/device/ping", s.handleDevicePing)
				r.Get("/device/info", s.handleDeviceInfo)
			})

			r.Route("/schedules", func(r chi.Router) {
				r.Get("/", s.handleListSchedules)
				r.Post("/", s.handleCreateSchedule)
				r.Get("/{id}", s.handleGetSchedule)
				r.Put("/{id}", s.handleUpdateSchedule)
				r.Delete("/{id}", s.handleDeleteSchedule)
			})

			r.Route("/movements", func(r chi.Router) {
				r.Get("/", s.handleListMovements)
				r.Post("/", s.handleCreateMovement)
				r.Get("/{id}", s.handleGetMovement)
				r.Put("/{id}", s.handleUpdateMovement)
				r.Delete("/{id}", s.handleDeleteMovement)
				r.Post("/{id}/execute", s.handleExecuteMovement)
			})

			r.Route("/current-movement", func(r chi.Router) {
				r.Get("/", s.handleGetCurrentMovement)
				r.Patch("/speed", s.handleCurrentMovementSpeed)
				r.Post("/{name}", s.handleSetCurrentMovement)
			})

			r.Route("/users", func(r chi.Router) {
				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)
				r.Delete("/{id}", s.handleDeleteUser)
			})
		})
	})

	return r
}

// Start begins serving and blocks until the listener fails or closes.
func (s *Server) Start() error {
	s.log.Info("admin api listening", logx.String("addr", s.httpSrv.Addr))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
