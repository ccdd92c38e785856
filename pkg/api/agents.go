package api

import (
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/challengectl/challengectl/pkg/auth"
	"github.com/challengectl/challengectl/pkg/types"
)

// remoteIP strips the port from the request's remote address. RealIP runs
// earlier in the chain, so behind a trusted proxy this is already the
// client address.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// handleRegister refreshes the runner's record with its current host
// identity and device inventory. Agents call it once on startup and after
// every reconnect.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFrom(r.Context())

	var req types.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	runner, err := s.dispatcher.Register(p.RunnerID, remoteIP(r), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	runner.APIKeyHash = ""
	writeJSON(w, http.StatusOK, runner)
}

// handleHeartbeat refreshes runner liveness. The response carries the
// intervals the agent should honor, so tunable changes propagate without
// re-enrollment.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.Heartbeat(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":             "ok",
		"poll_interval":      s.tunables.PollInterval.Std().String(),
		"heartbeat_interval": s.tunables.HeartbeatInterval.Std().String(),
	})
}

// handleTask asks the dispatcher for work. No eligible challenge is the
// common case and answers 204 so agents can poll cheaply.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.dispatcher.AssignOne(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, types.ErrNoWork) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleComplete records a transmission report. Stale reports come back as
// 409 after the audit row is written; the agent must not retry them.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var report types.Report
	if err := decodeJSON(w, r, &report); err != nil {
		writeError(w, err)
		return
	}

	if err := s.dispatcher.ReportComplete(chi.URLParam(r, "id"), &report); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// handleSignout takes the runner offline and reclaims whatever it held.
func (s *Server) handleSignout(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.Signout(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}
