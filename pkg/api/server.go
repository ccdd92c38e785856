package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/challengectl/challengectl/pkg/auth"
	"github.com/challengectl/challengectl/pkg/blob"
	"github.com/challengectl/challengectl/pkg/config"
	"github.com/challengectl/challengectl/pkg/dispatch"
	"github.com/challengectl/challengectl/pkg/events"
	"github.com/challengectl/challengectl/pkg/log"
	"github.com/challengectl/challengectl/pkg/metrics"
	"github.com/challengectl/challengectl/pkg/storage"
)

// Options carries the dependencies the API server exposes over HTTP.
type Options struct {
	Store      *storage.Store
	Blobs      *blob.Store
	Dispatcher *dispatch.Dispatcher
	Resolver   *auth.Resolver
	Broker     *events.Broker
	Tunables   config.Tunables
	Version    string
}

// Server is the control plane HTTP API. It owns no domain state of its own;
// every handler delegates to the dispatcher, resolver, or store and only
// translates between HTTP and domain errors.
type Server struct {
	store      *storage.Store
	blobs      *blob.Store
	dispatcher *dispatch.Dispatcher
	resolver   *auth.Resolver
	broker     *events.Broker
	tunables   config.Tunables
	version    string
	logger     zerolog.Logger
	router     chi.Router

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
}

// NewServer builds the API server and its route table.
func NewServer(opts Options) *Server {
	s := &Server{
		store:      opts.Store,
		blobs:      opts.Blobs,
		dispatcher: opts.Dispatcher,
		resolver:   opts.Resolver,
		broker:     opts.Broker,
		tunables:   opts.Tunables,
		version:    opts.Version,
		logger:     log.WithComponent("api"),
	}
	if s.version == "" {
		s.version = "dev"
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	// Probes stay outside the authenticated tree so orchestrators and
	// scrapers need no credentials.
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/enrollment", func(r chi.Router) {
			r.With(s.requireEnrollment).Post("/enroll", s.handleEnroll)
			// Provisioning keys may mint tokens so factory hosts can
			// pre-stage enrollments without an admin session.
			r.With(s.requireTokenMinter).Post("/tokens", s.handleMintEnrollmentToken)
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Get("/tokens", s.handleListEnrollmentTokens)
				r.Delete("/tokens/{token}", s.handleRevokeEnrollmentToken)
			})
		})

		r.Route("/agents", func(r chi.Router) {
			r.Use(s.requireRunner)
			r.Post("/register", s.handleRegister)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(s.pinRunner)
				r.Post("/heartbeat", s.handleHeartbeat)
				r.Get("/task", s.handleTask)
				r.Post("/complete", s.handleComplete)
				r.Post("/signout", s.handleSignout)
			})
		})

		r.Route("/files", func(r chi.Router) {
			r.With(s.requireRunnerOrAdmin).Get("/{digest}", s.handleFileDownload)
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Get("/", s.handleListFiles)
				r.Post("/", s.handleUploadFile)
			})
		})

		r.Route("/challenges", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/", s.handleListChallenges)
			r.Post("/reload", s.handleReload)
			r.Get("/{id}", s.handleGetChallenge)
			r.Delete("/{id}", s.handleDeleteChallenge)
			r.Post("/{id}/trigger", s.handleTriggerChallenge)
			r.Post("/{id}/enable", s.handleEnableChallenge)
			r.Post("/{id}/disable", s.handleDisableChallenge)
		})

		r.Route("/runners", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/", s.handleListRunners)
			r.Delete("/{id}", s.handleDeleteRunner)
			r.Post("/{id}/enable", s.handleEnableRunner)
			r.Post("/{id}/disable", s.handleDisableRunner)
		})

		r.With(s.requireAdmin).Get("/transmissions", s.handleListTransmissions)

		// The dashboard itself decides how much the caller may see.
		r.Get("/dashboard", s.handleDashboard)

		r.Route("/system", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/pause", s.handlePause)
			r.Post("/resume", s.handleResume)
		})

		r.With(s.requireAdmin).Get("/events/ws", s.handleEventsWS)
	})

	return r
}

// Handler exposes the route table for tests and for embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API on addr, blocking until the listener fails or
// Shutdown is called. Body read and write timeouts are left unset because
// file payloads and the event stream are long-lived; the header timeout
// still bounds slowloris-style clients.
func (s *Server) Start(addr string, tls config.TLSConfig) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve(tls)
}

// Listen binds the listener without serving, so callers learn the bound
// address (and surface port conflicts) before spawning Serve.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound listener address. Empty before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve runs the HTTP server on the bound listener until Shutdown.
func (s *Server) Serve(tls config.TLSConfig) error {
	s.mu.Lock()
	ln := s.listener
	if ln == nil {
		s.mu.Unlock()
		return fmt.Errorf("serve called before listen")
	}
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Bool("tls", tls.Enabled).Msg("API server listening")
	if tls.Enabled {
		return srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
	}
	return srv.Serve(ln)
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	ln := s.listener
	s.mu.Unlock()

	if srv == nil {
		// Listen may have run without Serve; release the port.
		if ln != nil {
			return ln.Close()
		}
		return nil
	}
	return srv.Shutdown(ctx)
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

type readyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// handleHealth is a liveness check. It answers 200 whenever the process is
// up, regardless of store health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   s.version,
	})
}

// handleReady reports whether the controller can serve traffic. The store
// check performs a real read so a wedged database flips readiness off.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true
	var message string

	if _, err := s.store.GetStats(); err != nil {
		checks["storage"] = fmt.Sprintf("error: %v", err)
		ready = false
		message = "store not accessible"
	} else {
		checks["storage"] = "ok"
	}

	if s.blobs != nil {
		checks["blobs"] = "ok"
	} else {
		checks["blobs"] = "not configured"
		ready = false
		if message == "" {
			message = "blob store not configured"
		}
	}

	if s.broker != nil {
		checks["events"] = fmt.Sprintf("%d subscribers", s.broker.SubscriberCount())
	} else {
		checks["events"] = "disabled"
	}

	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not ready"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, readyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}
