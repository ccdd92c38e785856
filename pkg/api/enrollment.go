package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/challengectl/challengectl/pkg/auth"
	"github.com/challengectl/challengectl/pkg/events"
	"github.com/challengectl/challengectl/pkg/types"
)

const defaultEnrollmentTTL = 24 * time.Hour

type enrollRequest struct {
	Name         string         `json:"name"`
	AgentVersion string         `json:"agent_version"`
	Devices      []types.Device `json:"devices"`
}

type enrollResponse struct {
	RunnerID string `json:"runner_id"`
	Name     string `json:"name"`
	APIKey   string `json:"api_key"`
}

// handleEnroll turns a single-use enrollment token into a runner identity.
// The plaintext API key appears in this response and nowhere else.
func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFrom(r.Context())
	if p.EnrollToken == nil {
		writeError(w, fmt.Errorf("enrollment token missing: %w", types.ErrAuth))
		return
	}

	var req enrollRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.resolver.Enroll(auth.EnrollRequest{
		Token:        p.EnrollToken.Token,
		Name:         req.Name,
		MAC:          r.Header.Get(headerRunnerMAC),
		MachineID:    r.Header.Get(headerRunnerMID),
		AgentVersion: req.AgentVersion,
		Devices:      req.Devices,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if s.broker != nil {
		s.broker.Publish(&events.Event{
			Type:     events.EventRunnerEnrolled,
			RunnerID: result.RunnerID,
			Message:  fmt.Sprintf("%s enrolled", result.Name),
		})
	}
	writeJSON(w, http.StatusOK, enrollResponse{
		RunnerID: result.RunnerID,
		Name:     result.Name,
		APIKey:   result.APIKey,
	})
}

type mintTokenRequest struct {
	Description string `json:"description"`
	TTL         string `json:"ttl,omitempty"`
	ReEnrollFor string `json:"re_enroll_for,omitempty"`
}

// handleMintEnrollmentToken creates a single-use enrollment token. TTL is a
// duration string; it defaults to a day and can never be unbounded.
func (s *Server) handleMintEnrollmentToken(w http.ResponseWriter, r *http.Request) {
	var req mintTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	ttl := defaultEnrollmentTTL
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d <= 0 {
			writeError(w, fmt.Errorf("invalid ttl %q: %w", req.TTL, types.ErrConflict))
			return
		}
		ttl = d
	}

	token, err := s.resolver.MintEnrollmentToken(req.Description, ttl, req.ReEnrollFor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, token)
}

func (s *Server) handleListEnrollmentTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.store.ListEnrollmentTokens()
	if err != nil {
		writeError(w, err)
		return
	}
	// Burned tokens linger until the credential sweep; they are not
	// outstanding invitations, so the admin view hides them.
	outstanding := []*types.EnrollmentToken{}
	for _, t := range tokens {
		if t.UsedAt.IsZero() {
			outstanding = append(outstanding, t)
		}
	}
	writeJSON(w, http.StatusOK, outstanding)
}

func (s *Server) handleRevokeEnrollmentToken(w http.ResponseWriter, r *http.Request) {
	if err := s.resolver.RevokeEnrollmentToken(chi.URLParam(r, "token")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
