package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/challengectl/challengectl/pkg/storage"
	"github.com/challengectl/challengectl/pkg/types"
)

const (
	defaultTransmissionLimit = 100
	maxTransmissionLimit     = 1000
)

// handleListRunners returns the fleet. Key hashes are stripped; even a
// bcrypt hash has no business leaving the process.
func (s *Server) handleListRunners(w http.ResponseWriter, r *http.Request) {
	runners, err := s.store.ListRunners()
	if err != nil {
		writeError(w, err)
		return
	}
	if runners == nil {
		runners = []*types.Runner{}
	}
	for _, runner := range runners {
		runner.APIKeyHash = ""
	}
	writeJSON(w, http.StatusOK, runners)
}

func (s *Server) handleEnableRunner(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.EnableRunner(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

func (s *Server) handleDisableRunner(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.DisableRunner(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

func (s *Server) handleDeleteRunner(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.DeleteRunner(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleListTransmissions returns the audit log, newest first. Filters come
// from query parameters; an unparseable filter is a caller error rather
// than something to silently ignore.
func (s *Server) handleListTransmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.TransmissionFilter{
		ChallengeID: q.Get("challenge_id"),
		RunnerID:    q.Get("runner_id"),
		Limit:       defaultTransmissionLimit,
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, fmt.Errorf("invalid since %q: %w", v, types.ErrConflict))
			return
		}
		filter.Since = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, fmt.Errorf("invalid limit %q: %w", v, types.ErrConflict))
			return
		}
		if n > maxTransmissionLimit {
			n = maxTransmissionLimit
		}
		filter.Limit = n
	}

	transmissions, err := s.store.ListTransmissions(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if transmissions == nil {
		transmissions = []*types.Transmission{}
	}
	writeJSON(w, http.StatusOK, transmissions)
}
