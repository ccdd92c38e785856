package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/challengectl/challengectl/pkg/auth"
	"github.com/challengectl/challengectl/pkg/metrics"
	"github.com/challengectl/challengectl/pkg/types"
)

const (
	headerRunnerMAC  = "X-Runner-MAC"
	headerRunnerMID  = "X-Runner-Machine-ID"
	headerCSRF       = "X-CSRF-Token"
	sessionCookie    = "challengectl_session"
	maxUploadBytes   = 256 << 20 // 256 MiB per file upload
	maxJSONBodyBytes = 1 << 20   // 1 MiB for JSON request bodies
)

// credentialsFrom collects every credential a request may carry. Which of
// them actually authenticates the caller is the resolver's decision.
func credentialsFrom(r *http.Request) auth.Credentials {
	creds := auth.Credentials{
		MAC:       r.Header.Get(headerRunnerMAC),
		MachineID: r.Header.Get(headerRunnerMID),
	}
	if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
		creds.BearerToken = h[7:]
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		creds.SessionCookie = c.Value
	}
	return creds
}

// authenticate resolves request credentials into a principal and stores it
// in the request context. Bearer tokens that match nothing are rejected
// outright; a missing bearer degrades to session or anonymous resolution.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.resolver.Resolve(credentialsFrom(r))
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// requestLogger emits one structured line per request and feeds the API
// metrics. Health and metrics probes are logged at trace to keep the
// steady-state log readable.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(elapsed.Seconds())

		evt := s.logger.Info()
		switch r.URL.Path {
		case "/health", "/ready", "/metrics":
			evt = s.logger.Trace()
		}
		evt.Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", elapsed).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// requireAdmin gates a route on an authenticated admin session. Mutating
// methods additionally require the CSRF token minted with the session.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := auth.PrincipalFrom(r.Context())
		switch p.Kind {
		case auth.KindAdmin:
		case auth.KindAnonymous:
			writeError(w, fmt.Errorf("admin session required: %w", types.ErrAuth))
			return
		default:
			writeError(w, fmt.Errorf("admin access required: %w", types.ErrForbidden))
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			if r.Header.Get(headerCSRF) != p.CSRFToken || p.CSRFToken == "" {
				metrics.AuthFailures.WithLabelValues("bad_csrf").Inc()
				writeError(w, fmt.Errorf("missing or invalid CSRF token: %w", types.ErrForbidden))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// requireRunner gates a route on runner credentials.
func (s *Server) requireRunner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := auth.PrincipalFrom(r.Context())
		if p.Kind != auth.KindRunner {
			writeError(w, fmt.Errorf("runner credentials required: %w", types.ErrAuth))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// pinRunner binds {id} routes to the authenticated runner, so one
// runner's key can never act on another's behalf. It must sit inside the
// {id} subrouter: the router fills the parameter only after that path
// segment has matched.
func (s *Server) pinRunner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := auth.PrincipalFrom(r.Context())
		if id := chi.URLParam(r, "id"); id != p.RunnerID {
			metrics.AuthFailures.WithLabelValues("runner_mismatch").Inc()
			writeError(w, fmt.Errorf("runner %s cannot act for %s: %w", p.RunnerID, id, types.ErrForbidden))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireRunnerOrAdmin admits either a runner fetching its payload files or
// an admin browsing the store.
func (s *Server) requireRunnerOrAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := auth.PrincipalFrom(r.Context())
		switch p.Kind {
		case auth.KindRunner, auth.KindAdmin:
			next.ServeHTTP(w, r)
		case auth.KindAnonymous:
			writeError(w, fmt.Errorf("authentication required: %w", types.ErrAuth))
		default:
			writeError(w, fmt.Errorf("access denied: %w", types.ErrForbidden))
		}
	})
}

// requireEnrollment admits enrollment bearer tokens only. Runner and admin
// credentials are refused so a leaked API key cannot mint fresh identities.
func (s *Server) requireEnrollment(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := auth.PrincipalFrom(r.Context())
		if p.Kind != auth.KindEnrollment {
			writeError(w, fmt.Errorf("enrollment token required: %w", types.ErrAuth))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireTokenMinter admits provisioning keys alongside admin sessions.
// Admin callers still go through the CSRF check.
func (s *Server) requireTokenMinter(next http.Handler) http.Handler {
	admin := s.requireAdmin(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.PrincipalFrom(r.Context()).Kind == auth.KindProvisioning {
			next.ServeHTTP(w, r)
			return
		}
		admin.ServeHTTP(w, r)
	})
}

// decodeJSON reads a bounded JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	defer body.Close()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", types.ErrConflict)
	}
	return nil
}
