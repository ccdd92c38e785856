package dispatch

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/challengectl/challengectl/pkg/config"
	"github.com/challengectl/challengectl/pkg/events"
	"github.com/challengectl/challengectl/pkg/freq"
	"github.com/challengectl/challengectl/pkg/log"
	"github.com/challengectl/challengectl/pkg/metrics"
	"github.com/challengectl/challengectl/pkg/storage"
	"github.com/challengectl/challengectl/pkg/types"
)

// Invalidator drops cached credentials for a runner
type Invalidator interface {
	InvalidateRunner(runnerID string)
}

// Dispatcher owns every challenge and runner state transition. All writes go
// through single store transactions, so two concurrent operations can never
// hand the same challenge to two runners.
type Dispatcher struct {
	store    *storage.Store
	broker   *events.Broker
	cache    Invalidator
	tunables config.Tunables
	logger   zerolog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewDispatcher creates a dispatcher. The broker and cache may be nil, in
// which case events and credential invalidation are skipped.
func NewDispatcher(store *storage.Store, broker *events.Broker, cache Invalidator, tunables config.Tunables) *Dispatcher {
	return &Dispatcher{
		store:    store,
		broker:   broker,
		cache:    cache,
		tunables: tunables,
		logger:   log.WithComponent("dispatch"),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (d *Dispatcher) publish(event *events.Event) {
	if d.broker != nil {
		d.broker.Publish(event)
	}
}

func (d *Dispatcher) invalidate(runnerID string) {
	if d.cache != nil {
		d.cache.InvalidateRunner(runnerID)
	}
}

// AssignOne hands at most one queued challenge to the polling runner. The
// poll doubles as a liveness signal, so the heartbeat refresh is committed
// even when there is no work. Returns ErrNoWork when nothing is eligible.
func (d *Dispatcher) AssignOne(runnerID string) (*types.Task, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.AssignLatency)

	now := time.Now()
	var (
		noWork     bool
		cameOnline bool
		task       *types.Task
		assigned   *types.Challenge
	)

	err := d.store.Update(func(tx *storage.Tx) error {
		runner, err := tx.GetRunner(runnerID)
		if err != nil {
			return err
		}
		if !runner.Enabled {
			return types.ErrForbidden
		}

		// The poll refreshes liveness like a heartbeat: offline runners come
		// back online, busy runners stay busy.
		cameOnline = runner.Status == types.RunnerOffline
		if cameOnline {
			runner.Status = types.RunnerOnline
		}
		runner.LastHeartbeat = now
		runner.UpdatedAt = now
		if err := tx.PutRunner(runner); err != nil {
			return err
		}

		if tx.Paused() {
			noWork = true
			return nil
		}

		caps := runner.Capabilities()
		if caps.Empty() {
			noWork = true
			return nil
		}

		candidates, err := promoteDue(tx, now)
		if err != nil {
			return err
		}

		// Shuffle before the stable sort so equal priorities are served in
		// random order rather than by creation time.
		d.shuffle(candidates)
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Priority > candidates[j].Priority
		})

		for _, c := range candidates {
			hz, ok := d.pick(c.Frequencies.Intersect(caps))
			if !ok {
				continue
			}

			c.Status = types.ChallengeAssigned
			c.AssignedTo = runner.ID
			c.AssignedAt = now
			c.AssignmentExpires = now.Add(d.tunables.AssignmentTTL.Std())
			c.AssignedFrequencyHz = hz
			c.UpdatedAt = now
			if err := tx.PutChallenge(c); err != nil {
				return err
			}
			runner.Status = types.RunnerBusy
			if err := tx.PutRunner(runner); err != nil {
				return err
			}

			assigned = c
			task = &types.Task{
				ChallengeID: c.ID,
				Name:        c.Name,
				Modulation:  c.Modulation,
				Params:      c.Params,
				FrequencyHz: hz,
				Files:       c.Files,
				Expires:     c.AssignmentExpires,
			}
			return nil
		}

		noWork = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cameOnline {
		d.publish(&events.Event{
			Type:     events.EventRunnerOnline,
			RunnerID: runnerID,
		})
	}
	if noWork {
		return nil, types.ErrNoWork
	}

	metrics.AssignmentsTotal.Inc()
	d.logger.Info().
		Str("challenge_id", assigned.ID).
		Str("challenge", assigned.Name).
		Str("runner_id", runnerID).
		Uint64("frequency_hz", task.FrequencyHz).
		Msg("Challenge assigned")
	d.publish(&events.Event{
		Type:        events.EventChallengeAssigned,
		ChallengeID: assigned.ID,
		RunnerID:    runnerID,
		Message:     fmt.Sprintf("%s assigned at %s", assigned.Name, freq.FormatHz(task.FrequencyHz)),
	})
	return task, nil
}

// ReportComplete records a runner's transmission report. The audit row is
// written even when the assignment was reclaimed in the meantime; in that
// case the row is marked stale and ErrStaleAssignment is returned after the
// commit so the caller still answers with a conflict.
func (d *Dispatcher) ReportComplete(runnerID string, report *types.Report) error {
	now := time.Now()
	var (
		stale     bool
		challenge *types.Challenge
	)

	err := d.store.Update(func(tx *storage.Tx) error {
		c, err := tx.GetChallenge(report.ChallengeID)
		if err != nil {
			return err
		}
		challenge = c

		stale = c.Status != types.ChallengeAssigned || c.AssignedTo != runnerID

		row := &types.Transmission{
			ChallengeID: c.ID,
			RunnerID:    runnerID,
			DeviceID:    report.DeviceID,
			FrequencyHz: report.FrequencyHz,
			Outcome:     report.Outcome,
			Detail:      report.Detail,
			Stale:       stale,
			StartedAt:   report.StartedAt,
			Duration:    report.Duration,
		}
		if err := tx.AppendTransmission(row); err != nil {
			return err
		}
		if stale {
			return nil
		}

		// Success and failure take the same path: the attempt counts, the
		// challenge waits out its delay before it becomes eligible again. A
		// failed transmission is not fatal to the challenge's lifecycle.
		c.ClearAssignment()
		c.TransmissionCount++
		c.Status = types.ChallengeWaiting
		c.LastTxTime = now
		c.NextTxTime = now.Add(d.txDelay(c))
		c.UpdatedAt = now
		if err := tx.PutChallenge(c); err != nil {
			return err
		}
		return SettleRunnerStatus(tx, runnerID, now)
	})
	if err != nil {
		return err
	}

	if stale {
		metrics.StaleReports.Inc()
		d.logger.Warn().
			Str("challenge_id", report.ChallengeID).
			Str("runner_id", runnerID).
			Str("outcome", string(report.Outcome)).
			Msg("Stale transmission report recorded")
		return types.ErrStaleAssignment
	}

	metrics.TransmissionsTotal.WithLabelValues(string(report.Outcome)).Inc()
	d.logger.Info().
		Str("challenge_id", challenge.ID).
		Str("challenge", challenge.Name).
		Str("runner_id", runnerID).
		Str("outcome", string(report.Outcome)).
		Msg("Transmission reported")

	if report.Outcome == types.OutcomeSuccess {
		d.publish(&events.Event{
			Type:        events.EventChallengeCompleted,
			ChallengeID: challenge.ID,
			RunnerID:    runnerID,
			Message:     fmt.Sprintf("%s transmitted at %s", challenge.Name, freq.FormatHz(report.FrequencyHz)),
			Data:        map[string]string{"count": fmt.Sprintf("%d", challenge.TransmissionCount)},
		})
	} else {
		d.publish(&events.Event{
			Type:        events.EventChallengeFailed,
			ChallengeID: challenge.ID,
			RunnerID:    runnerID,
			Message:     fmt.Sprintf("%s failed: %s", challenge.Name, report.Detail),
		})
	}
	return nil
}

// promoteDue moves waiting challenges whose next transmit time has arrived
// back to queued and returns every queued challenge. Buckets must not be
// modified during iteration, so promotions are collected first and written
// after the scan.
func promoteDue(tx *storage.Tx, now time.Time) ([]*types.Challenge, error) {
	var queued, promoted []*types.Challenge
	err := tx.ForEachChallenge(func(c *types.Challenge) error {
		switch c.Status {
		case types.ChallengeQueued:
			queued = append(queued, c)
		case types.ChallengeWaiting:
			if !c.NextTxTime.After(now) {
				c.Status = types.ChallengeQueued
				c.UpdatedAt = now
				promoted = append(promoted, c)
				queued = append(queued, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, c := range promoted {
		if err := tx.PutChallenge(c); err != nil {
			return nil, err
		}
	}
	return queued, nil
}

// ReclaimAssignments takes back every challenge held by the runner and
// writes one synthetic failure row per challenge so the audit trail shows
// why the transmission never completed. Reclaimed challenges become
// immediately eligible again. Returns the reclaimed challenge IDs.
func ReclaimAssignments(tx *storage.Tx, runnerID, detail string, now time.Time) ([]string, error) {
	var held []*types.Challenge
	err := tx.ForEachChallenge(func(c *types.Challenge) error {
		if c.Status == types.ChallengeAssigned && c.AssignedTo == runnerID {
			held = append(held, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(held))
	for _, c := range held {
		row := &types.Transmission{
			ChallengeID: c.ID,
			RunnerID:    runnerID,
			FrequencyHz: c.AssignedFrequencyHz,
			Outcome:     types.OutcomeFailure,
			Detail:      detail,
		}
		if err := tx.AppendTransmission(row); err != nil {
			return nil, err
		}
		c.ClearAssignment()
		c.Status = types.ChallengeWaiting
		c.NextTxTime = now
		c.UpdatedAt = now
		if err := tx.PutChallenge(c); err != nil {
			return nil, err
		}
		ids = append(ids, c.ID)
	}
	if len(ids) > 0 {
		if err := SettleRunnerStatus(tx, runnerID, now); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// RunnerHoldsAssignment reports whether any challenge is currently assigned
// to the runner.
func RunnerHoldsAssignment(tx *storage.Tx, runnerID string) (bool, error) {
	held := false
	err := tx.ForEachChallenge(func(c *types.Challenge) error {
		if c.Status == types.ChallengeAssigned && c.AssignedTo == runnerID {
			held = true
		}
		return nil
	})
	return held, err
}

// SettleRunnerStatus drops a runner from busy back to online once it no
// longer holds any assignment. Offline runners are left alone.
func SettleRunnerStatus(tx *storage.Tx, runnerID string, now time.Time) error {
	held, err := RunnerHoldsAssignment(tx, runnerID)
	if err != nil || held {
		return err
	}
	r, err := tx.GetRunner(runnerID)
	if errors.Is(err, types.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if r.Status != types.RunnerBusy {
		return nil
	}
	r.Status = types.RunnerOnline
	r.UpdatedAt = now
	return tx.PutRunner(r)
}

func (d *Dispatcher) publishReclaimed(ids []string, runnerID string) {
	for _, id := range ids {
		d.publish(&events.Event{
			Type:        events.EventChallengeQueued,
			ChallengeID: id,
			RunnerID:    runnerID,
			Message:     "assignment reclaimed",
		})
	}
}

func (d *Dispatcher) shuffle(cs []*types.Challenge) {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	d.rng.Shuffle(len(cs), func(i, j int) { cs[i], cs[j] = cs[j], cs[i] })
}

func (d *Dispatcher) pick(s freq.Set) (uint64, bool) {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return s.Pick(d.rng)
}

// txDelay returns the randomized wait before a successful challenge becomes
// eligible again.
func (d *Dispatcher) txDelay(c *types.Challenge) time.Duration {
	if c.MaxDelay <= c.MinDelay {
		return c.MinDelay
	}
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return c.MinDelay + time.Duration(d.rng.Int63n(int64(c.MaxDelay-c.MinDelay)+1))
}
