package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/challengectl/challengectl/pkg/config"
	"github.com/challengectl/challengectl/pkg/dispatch"
	"github.com/challengectl/challengectl/pkg/events"
	"github.com/challengectl/challengectl/pkg/log"
	"github.com/challengectl/challengectl/pkg/metrics"
	"github.com/challengectl/challengectl/pkg/storage"
	"github.com/challengectl/challengectl/pkg/types"
)

// Monitor runs the background liveness sweeps: runners that stop
// heartbeating go offline, assignments that outlive their TTL are reclaimed,
// and expired credentials are removed.
type Monitor struct {
	store    *storage.Store
	broker   *events.Broker
	tunables config.Tunables
	logger   zerolog.Logger

	// sweepMu serializes sweep cycles. A tick that lands while a sweep is
	// still running is skipped, not queued.
	sweepMu sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMonitor creates a monitor. The broker may be nil.
func NewMonitor(store *storage.Store, broker *events.Broker, tunables config.Tunables) *Monitor {
	return &Monitor{
		store:    store,
		broker:   broker,
		tunables: tunables,
		logger:   log.WithComponent("monitor"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the sweep loops
func (m *Monitor) Start() {
	go m.run()
}

// Stop stops the monitor and waits for an in-flight sweep to finish
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Monitor) run() {
	defer close(m.doneCh)

	stale := time.NewTicker(m.tunables.StaleSweepInterval.Std())
	defer stale.Stop()
	credentials := time.NewTicker(m.tunables.TokenSweepInterval.Std())
	defer credentials.Stop()

	for {
		select {
		case <-stale.C:
			m.sweep(func() {
				if err := m.SweepRunners(); err != nil {
					m.logger.Error().Err(err).Msg("Runner sweep failed")
				}
				if err := m.SweepAssignments(); err != nil {
					m.logger.Error().Err(err).Msg("Assignment sweep failed")
				}
			})
		case <-credentials.C:
			m.sweep(func() {
				if err := m.SweepCredentials(); err != nil {
					m.logger.Error().Err(err).Msg("Credential sweep failed")
				}
			})
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) sweep(fn func()) {
	if !m.sweepMu.TryLock() {
		return
	}
	defer m.sweepMu.Unlock()
	fn()
}

func (m *Monitor) publish(event *events.Event) {
	if m.broker != nil {
		m.broker.Publish(event)
	}
}

// SweepRunners marks runners offline once their heartbeat lapses. Work they
// hold is deliberately left to the assignment TTL, so a briefly disconnected
// runner that comes back and reports in time is still accepted.
func (m *Monitor) SweepRunners() error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SweepDuration, "runners")

	now := time.Now()
	cutoff := now.Add(-m.tunables.HeartbeatTimeout.Std())

	type lostRunner struct {
		id      string
		name    string
		silence time.Duration
	}
	var lost []lostRunner

	err := m.store.Update(func(tx *storage.Tx) error {
		var stale []*types.Runner
		if err := tx.ForEachRunner(func(r *types.Runner) error {
			alive := r.Status == types.RunnerOnline || r.Status == types.RunnerBusy
			if alive && r.LastHeartbeat.Before(cutoff) {
				stale = append(stale, r)
			}
			return nil
		}); err != nil {
			return err
		}

		for _, r := range stale {
			r.Status = types.RunnerOffline
			r.UpdatedAt = now
			if err := tx.PutRunner(r); err != nil {
				return err
			}
			lost = append(lost, lostRunner{
				id:      r.ID,
				name:    r.Name,
				silence: now.Sub(r.LastHeartbeat),
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, r := range lost {
		metrics.RunnersTimedOut.Inc()
		m.logger.Warn().
			Str("runner_id", r.id).
			Str("runner", r.name).
			Dur("silence", r.silence).
			Msg("Runner heartbeat timed out")
		m.publish(&events.Event{
			Type:     events.EventRunnerOffline,
			RunnerID: r.id,
			Message:  fmt.Sprintf("%s offline after %s without heartbeat", r.name, r.silence.Round(time.Second)),
		})
	}
	return nil
}

// SweepAssignments reclaims assignments whose TTL lapsed without a report.
// Each gets a failure row so the silence is visible on the audit trail; the
// runner's late report, if it ever arrives, lands as a stale row.
func (m *Monitor) SweepAssignments() error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SweepDuration, "assignments")

	now := time.Now()

	type expired struct {
		id       string
		name     string
		runnerID string
	}
	var hits []expired

	err := m.store.Update(func(tx *storage.Tx) error {
		var lapsed []*types.Challenge
		if err := tx.ForEachChallenge(func(c *types.Challenge) error {
			if c.Status == types.ChallengeAssigned && c.AssignmentExpires.Before(now) {
				lapsed = append(lapsed, c)
			}
			return nil
		}); err != nil {
			return err
		}

		disowned := make(map[string]bool)
		for _, c := range lapsed {
			row := &types.Transmission{
				ChallengeID: c.ID,
				RunnerID:    c.AssignedTo,
				FrequencyHz: c.AssignedFrequencyHz,
				Outcome:     types.OutcomeFailure,
				Detail:      types.DetailTimeout,
			}
			if err := tx.AppendTransmission(row); err != nil {
				return err
			}
			hits = append(hits, expired{id: c.ID, name: c.Name, runnerID: c.AssignedTo})
			disowned[c.AssignedTo] = true

			c.ClearAssignment()
			c.Status = types.ChallengeWaiting
			c.NextTxTime = now
			c.UpdatedAt = now
			if err := tx.PutChallenge(c); err != nil {
				return err
			}
		}

		for runnerID := range disowned {
			if err := dispatch.SettleRunnerStatus(tx, runnerID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, h := range hits {
		metrics.AssignmentsExpired.Inc()
		m.logger.Warn().
			Str("challenge_id", h.id).
			Str("challenge", h.name).
			Str("runner_id", h.runnerID).
			Msg("Assignment expired without report")
		m.publish(&events.Event{
			Type:        events.EventChallengeExpired,
			ChallengeID: h.id,
			RunnerID:    h.runnerID,
			Message:     fmt.Sprintf("%s assignment expired, requeued", h.name),
		})
	}
	return nil
}

// SweepCredentials deletes expired and burned enrollment tokens plus
// expired admin sessions. Entries with a zero expiry are permanent and
// skipped.
func (m *Monitor) SweepCredentials() error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SweepDuration, "credentials")

	now := time.Now()
	var tokens, sessions int

	err := m.store.Update(func(tx *storage.Tx) error {
		var expiredTokens []string
		if err := tx.ForEachEnrollmentToken(func(et *types.EnrollmentToken) error {
			expired := !et.ExpiresAt.IsZero() && et.ExpiresAt.Before(now)
			if expired || !et.UsedAt.IsZero() {
				expiredTokens = append(expiredTokens, et.Token)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, token := range expiredTokens {
			if err := tx.DeleteEnrollmentToken(token); err != nil {
				return err
			}
		}
		tokens = len(expiredTokens)

		var expiredSessions []string
		if err := tx.ForEachSession(func(sess *types.Session) error {
			if !sess.ExpiresAt.IsZero() && sess.ExpiresAt.Before(now) {
				expiredSessions = append(expiredSessions, sess.Token)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, token := range expiredSessions {
			if err := tx.DeleteSession(token); err != nil {
				return err
			}
		}
		sessions = len(expiredSessions)
		return nil
	})
	if err != nil {
		return err
	}

	if tokens > 0 || sessions > 0 {
		m.logger.Info().Int("tokens", tokens).Int("sessions", sessions).Msg("Expired credentials removed")
	}
	return nil
}
