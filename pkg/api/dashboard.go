package api

import (
	"net/http"
	"time"

	"github.com/challengectl/challengectl/pkg/auth"
	"github.com/challengectl/challengectl/pkg/storage"
	"github.com/challengectl/challengectl/pkg/types"
)

// publicChallenge is the scoreboard view of a challenge. It deliberately
// omits frequencies, assignment, and timing fields so players learn nothing
// about when or where the next transmission happens.
type publicChallenge struct {
	Name              string    `json:"name"`
	Description       string    `json:"description,omitempty"`
	Modulation        string    `json:"modulation"`
	Active            bool      `json:"active"`
	TransmissionCount int64     `json:"transmission_count"`
	LastTxTime        time.Time `json:"last_tx_time,omitzero"`
}

type dashboardResponse struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Paused      bool            `json:"paused,omitempty"`
	Stats       *storage.Stats  `json:"stats,omitempty"`
	Challenges  interface{}     `json:"challenges"`
	Runners     []*types.Runner `json:"runners,omitempty"`
}

// handleDashboard serves both audiences. Admin sessions get full state;
// everyone else gets the public scoreboard of challenges flagged for it.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFrom(r.Context())

	challenges, err := s.store.ListChallenges()
	if err != nil {
		writeError(w, err)
		return
	}

	if p.Kind != auth.KindAdmin {
		public := []publicChallenge{}
		for _, c := range challenges {
			if !c.PublicView {
				continue
			}
			public = append(public, publicChallenge{
				Name:              c.Name,
				Description:       c.Description,
				Modulation:        c.Modulation,
				Active:            c.Enabled,
				TransmissionCount: c.TransmissionCount,
				LastTxTime:        c.LastTxTime,
			})
		}
		writeJSON(w, http.StatusOK, dashboardResponse{
			GeneratedAt: time.Now(),
			Challenges:  public,
		})
		return
	}

	stats, err := s.store.GetStats()
	if err != nil {
		writeError(w, err)
		return
	}
	paused, err := s.store.Paused()
	if err != nil {
		writeError(w, err)
		return
	}
	runners, err := s.store.ListRunners()
	if err != nil {
		writeError(w, err)
		return
	}
	for _, runner := range runners {
		runner.APIKeyHash = ""
	}
	if challenges == nil {
		challenges = []*types.Challenge{}
	}

	writeJSON(w, http.StatusOK, dashboardResponse{
		GeneratedAt: time.Now(),
		Paused:      paused,
		Stats:       stats,
		Challenges:  challenges,
		Runners:     runners,
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.Pause(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.Resume(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}
