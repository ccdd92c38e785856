package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/challengectl/challengectl/pkg/config"
	"github.com/challengectl/challengectl/pkg/types"
)

const maxManifestBytes = 4 << 20

func (s *Server) handleListChallenges(w http.ResponseWriter, r *http.Request) {
	challenges, err := s.store.ListChallenges()
	if err != nil {
		writeError(w, err)
		return
	}
	if challenges == nil {
		challenges = []*types.Challenge{}
	}
	writeJSON(w, http.StatusOK, challenges)
}

func (s *Server) handleGetChallenge(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetChallenge(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleTriggerChallenge(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.Trigger(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "triggered"})
}

func (s *Server) handleEnableChallenge(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.EnableChallenge(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

func (s *Server) handleDisableChallenge(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.DisableChallenge(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

func (s *Server) handleDeleteChallenge(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.DeleteChallenge(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleReload applies a YAML manifest posted as the request body. The
// response lists which challenges were created, updated, or untouched.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxManifestBytes))
	if err != nil {
		writeError(w, fmt.Errorf("reading manifest: %w", types.ErrConflict))
		return
	}

	manifest, err := config.ParseManifest(body)
	if err != nil {
		writeError(w, fmt.Errorf("%s: %w", err, types.ErrConflict))
		return
	}

	summary, err := s.dispatcher.Reload(manifest)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
