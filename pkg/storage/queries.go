package storage

import (
	"time"

	"github.com/challengectl/challengectl/pkg/types"
)

// Convenience wrappers for single-operation reads and writes. Multi-step
// read-modify-write sequences go through Update directly.

func (s *Store) GetChallenge(id string) (*types.Challenge, error) {
	var c *types.Challenge
	err := s.View(func(tx *Tx) error {
		var err error
		c, err = tx.GetChallenge(id)
		return err
	})
	return c, err
}

func (s *Store) GetChallengeByName(name string) (*types.Challenge, error) {
	var c *types.Challenge
	err := s.View(func(tx *Tx) error {
		var err error
		c, err = tx.GetChallengeByName(name)
		return err
	})
	return c, err
}

func (s *Store) ListChallenges() ([]*types.Challenge, error) {
	var challenges []*types.Challenge
	err := s.View(func(tx *Tx) error {
		return tx.ForEachChallenge(func(c *types.Challenge) error {
			challenges = append(challenges, c)
			return nil
		})
	})
	return challenges, err
}

func (s *Store) SaveChallenge(c *types.Challenge) error {
	return s.Update(func(tx *Tx) error {
		return tx.PutChallenge(c)
	})
}

func (s *Store) GetRunner(id string) (*types.Runner, error) {
	var r *types.Runner
	err := s.View(func(tx *Tx) error {
		var err error
		r, err = tx.GetRunner(id)
		return err
	})
	return r, err
}

func (s *Store) ListRunners() ([]*types.Runner, error) {
	var runners []*types.Runner
	err := s.View(func(tx *Tx) error {
		return tx.ForEachRunner(func(r *types.Runner) error {
			runners = append(runners, r)
			return nil
		})
	})
	return runners, err
}

func (s *Store) SaveRunner(r *types.Runner) error {
	return s.Update(func(tx *Tx) error {
		return tx.PutRunner(r)
	})
}

// TransmissionFilter restricts ListTransmissions output
type TransmissionFilter struct {
	ChallengeID string
	RunnerID    string
	Since       time.Time
	Limit       int
}

// ListTransmissions returns matching transmissions, newest first
func (s *Store) ListTransmissions(f TransmissionFilter) ([]*types.Transmission, error) {
	var out []*types.Transmission
	err := s.View(func(tx *Tx) error {
		return tx.ForEachTransmissionDesc(func(t *types.Transmission) (bool, error) {
			if !f.Since.IsZero() && t.ReportedAt.Before(f.Since) {
				// Keys are insertion-ordered, so everything older follows
				return false, nil
			}
			if f.ChallengeID != "" && t.ChallengeID != f.ChallengeID {
				return true, nil
			}
			if f.RunnerID != "" && t.RunnerID != f.RunnerID {
				return true, nil
			}
			out = append(out, t)
			return f.Limit <= 0 || len(out) < f.Limit, nil
		})
	})
	return out, err
}

func (s *Store) GetFileMeta(digest string) (*types.FileMeta, error) {
	var f *types.FileMeta
	err := s.View(func(tx *Tx) error {
		var err error
		f, err = tx.GetFileMeta(digest)
		return err
	})
	return f, err
}

func (s *Store) ListFiles() ([]*types.FileMeta, error) {
	var files []*types.FileMeta
	err := s.View(func(tx *Tx) error {
		return tx.ForEachFileMeta(func(f *types.FileMeta) error {
			files = append(files, f)
			return nil
		})
	})
	return files, err
}

func (s *Store) SaveFileMeta(f *types.FileMeta) error {
	return s.Update(func(tx *Tx) error {
		return tx.PutFileMeta(f)
	})
}

func (s *Store) GetEnrollmentToken(token string) (*types.EnrollmentToken, error) {
	var t *types.EnrollmentToken
	err := s.View(func(tx *Tx) error {
		var err error
		t, err = tx.GetEnrollmentToken(token)
		return err
	})
	return t, err
}

func (s *Store) ListEnrollmentTokens() ([]*types.EnrollmentToken, error) {
	var tokens []*types.EnrollmentToken
	err := s.View(func(tx *Tx) error {
		return tx.ForEachEnrollmentToken(func(t *types.EnrollmentToken) error {
			tokens = append(tokens, t)
			return nil
		})
	})
	return tokens, err
}

func (s *Store) SaveEnrollmentToken(t *types.EnrollmentToken) error {
	return s.Update(func(tx *Tx) error {
		return tx.PutEnrollmentToken(t)
	})
}

func (s *Store) DeleteEnrollmentToken(token string) error {
	return s.Update(func(tx *Tx) error {
		return tx.DeleteEnrollmentToken(token)
	})
}

func (s *Store) ListProvisioningKeys() ([]*types.ProvisioningKey, error) {
	var keys []*types.ProvisioningKey
	err := s.View(func(tx *Tx) error {
		return tx.ForEachProvisioningKey(func(k *types.ProvisioningKey) error {
			keys = append(keys, k)
			return nil
		})
	})
	return keys, err
}

func (s *Store) SaveProvisioningKey(k *types.ProvisioningKey) error {
	return s.Update(func(tx *Tx) error {
		return tx.PutProvisioningKey(k)
	})
}

func (s *Store) GetUser(username string) (*types.User, error) {
	var u *types.User
	err := s.View(func(tx *Tx) error {
		var err error
		u, err = tx.GetUser(username)
		return err
	})
	return u, err
}

func (s *Store) SaveUser(u *types.User) error {
	return s.Update(func(tx *Tx) error {
		return tx.PutUser(u)
	})
}

func (s *Store) GetSession(token string) (*types.Session, error) {
	var sess *types.Session
	err := s.View(func(tx *Tx) error {
		var err error
		sess, err = tx.GetSession(token)
		return err
	})
	return sess, err
}

func (s *Store) SaveSession(sess *types.Session) error {
	return s.Update(func(tx *Tx) error {
		return tx.PutSession(sess)
	})
}

func (s *Store) Paused() (bool, error) {
	var paused bool
	err := s.View(func(tx *Tx) error {
		paused = tx.Paused()
		return nil
	})
	return paused, err
}

func (s *Store) SetPaused(paused bool) error {
	return s.Update(func(tx *Tx) error {
		return tx.SetPaused(paused)
	})
}

// Stats summarizes store contents for the dashboard and metrics collector
type Stats struct {
	ChallengesByStatus map[types.ChallengeStatus]int `json:"challenges_by_status"`
	RunnersByStatus    map[types.RunnerStatus]int    `json:"runners_by_status"`
	RunnersDisabled    int                           `json:"runners_disabled"`
	Files              int                           `json:"files"`
	TransmissionsTotal uint64                        `json:"transmissions_total"`
}

func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{
		ChallengesByStatus: make(map[types.ChallengeStatus]int),
		RunnersByStatus:    make(map[types.RunnerStatus]int),
	}
	err := s.View(func(tx *Tx) error {
		if err := tx.ForEachChallenge(func(c *types.Challenge) error {
			stats.ChallengesByStatus[c.Status]++
			return nil
		}); err != nil {
			return err
		}
		if err := tx.ForEachRunner(func(r *types.Runner) error {
			stats.RunnersByStatus[r.Status]++
			if !r.Enabled {
				stats.RunnersDisabled++
			}
			return nil
		}); err != nil {
			return err
		}
		if err := tx.ForEachFileMeta(func(*types.FileMeta) error {
			stats.Files++
			return nil
		}); err != nil {
			return err
		}
		stats.TransmissionsTotal = tx.btx.Bucket(bucketTransmissions).Sequence()
		return nil
	})
	return stats, err
}
