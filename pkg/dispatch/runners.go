package dispatch

import (
	"fmt"
	"time"

	"github.com/challengectl/challengectl/pkg/events"
	"github.com/challengectl/challengectl/pkg/storage"
	"github.com/challengectl/challengectl/pkg/types"
)

// Register records a runner's devices, host details and agent version and
// marks it online. Runners re-register on every startup, so the device list
// always reflects the hardware currently attached.
func (d *Dispatcher) Register(runnerID, remoteIP string, req *types.RegisterRequest) (*types.Runner, error) {
	now := time.Now()
	var (
		cameOnline bool
		runner     *types.Runner
	)

	err := d.store.Update(func(tx *storage.Tx) error {
		r, err := tx.GetRunner(runnerID)
		if err != nil {
			return err
		}
		if !r.Enabled {
			return types.ErrForbidden
		}
		if req.Name != "" {
			r.Name = req.Name
		}
		if req.Hostname != "" {
			r.Hostname = req.Hostname
		}
		if remoteIP != "" {
			r.IP = remoteIP
		}
		r.AgentVersion = req.AgentVersion
		r.Devices = req.Devices
		// A fresh agent is not transmitting, whatever state it crashed in.
		cameOnline = r.Status == types.RunnerOffline
		r.Status = types.RunnerOnline
		r.LastHeartbeat = now
		r.UpdatedAt = now
		runner = r
		return tx.PutRunner(r)
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info().
		Str("runner_id", runnerID).
		Str("runner", runner.Name).
		Int("devices", len(req.Devices)).
		Str("agent_version", req.AgentVersion).
		Msg("Runner registered")
	if cameOnline {
		d.publish(&events.Event{
			Type:     events.EventRunnerOnline,
			RunnerID: runnerID,
			Message:  fmt.Sprintf("%s online", runner.Name),
		})
	}
	return runner, nil
}

// Heartbeat refreshes a runner's liveness timestamp and promotes offline
// runners back to online. Busy runners stay busy.
func (d *Dispatcher) Heartbeat(runnerID string) error {
	now := time.Now()
	var (
		cameOnline bool
		name       string
	)

	err := d.store.Update(func(tx *storage.Tx) error {
		r, err := tx.GetRunner(runnerID)
		if err != nil {
			return err
		}
		cameOnline = r.Status == types.RunnerOffline
		if cameOnline {
			r.Status = types.RunnerOnline
		}
		r.LastHeartbeat = now
		r.UpdatedAt = now
		name = r.Name
		return tx.PutRunner(r)
	})
	if err != nil {
		return err
	}

	d.logger.Debug().Str("runner_id", runnerID).Msg("Heartbeat")
	if cameOnline {
		d.publish(&events.Event{
			Type:     events.EventRunnerOnline,
			RunnerID: runnerID,
			Message:  fmt.Sprintf("%s online", name),
		})
	}
	return nil
}

// Signout marks a runner offline on its way down and requeues anything it
// still holds so other runners can pick the work up immediately.
func (d *Dispatcher) Signout(runnerID string) error {
	now := time.Now()
	var (
		reclaimed []string
		name      string
	)

	err := d.store.Update(func(tx *storage.Tx) error {
		r, err := tx.GetRunner(runnerID)
		if err != nil {
			return err
		}
		r.Status = types.RunnerOffline
		r.UpdatedAt = now
		name = r.Name
		if err := tx.PutRunner(r); err != nil {
			return err
		}
		reclaimed, err = ReclaimAssignments(tx, runnerID, types.DetailShutdown, now)
		return err
	})
	if err != nil {
		return err
	}

	d.logger.Info().
		Str("runner_id", runnerID).
		Str("runner", name).
		Int("reclaimed", len(reclaimed)).
		Msg("Runner signed out")
	d.publish(&events.Event{
		Type:     events.EventRunnerSignedOut,
		RunnerID: runnerID,
		Message:  fmt.Sprintf("%s signed out", name),
	})
	d.publishReclaimed(reclaimed, runnerID)
	return nil
}

// EnableRunner readmits a runner to dispatch. The runner stays offline until
// its next heartbeat.
func (d *Dispatcher) EnableRunner(runnerID string) error {
	now := time.Now()
	var name string

	err := d.store.Update(func(tx *storage.Tx) error {
		r, err := tx.GetRunner(runnerID)
		if err != nil {
			return err
		}
		name = r.Name
		if r.Enabled {
			return nil
		}
		r.Enabled = true
		r.UpdatedAt = now
		return tx.PutRunner(r)
	})
	if err != nil {
		return err
	}

	d.logger.Info().Str("runner_id", runnerID).Str("runner", name).Msg("Runner enabled")
	return nil
}

// DisableRunner excludes a runner from dispatch. Its cached credentials are
// dropped so in-flight requests fail closed, and anything it holds is
// requeued.
func (d *Dispatcher) DisableRunner(runnerID string) error {
	now := time.Now()
	var (
		changed   bool
		reclaimed []string
		name      string
	)

	err := d.store.Update(func(tx *storage.Tx) error {
		r, err := tx.GetRunner(runnerID)
		if err != nil {
			return err
		}
		name = r.Name
		if !r.Enabled {
			return nil
		}
		r.Enabled = false
		r.UpdatedAt = now
		changed = true
		if err := tx.PutRunner(r); err != nil {
			return err
		}
		reclaimed, err = ReclaimAssignments(tx, runnerID, types.DetailDisabled, now)
		return err
	})
	if err != nil || !changed {
		return err
	}

	d.invalidate(runnerID)
	d.logger.Info().
		Str("runner_id", runnerID).
		Str("runner", name).
		Int("reclaimed", len(reclaimed)).
		Msg("Runner disabled")
	d.publishReclaimed(reclaimed, runnerID)
	return nil
}

// DeleteRunner removes a runner record entirely. Runners that hold an
// assignment or appear in the transmission history are protected so the
// audit trail never references a missing runner; disable those instead.
func (d *Dispatcher) DeleteRunner(runnerID string) error {
	var name string

	err := d.store.Update(func(tx *storage.Tx) error {
		r, err := tx.GetRunner(runnerID)
		if err != nil {
			return err
		}
		name = r.Name
		held, err := RunnerHoldsAssignment(tx, runnerID)
		if err != nil {
			return err
		}
		if held {
			return fmt.Errorf("runner %s holds an active assignment: %w", r.Name, types.ErrConflict)
		}
		referenced := false
		if err := tx.ForEachTransmissionDesc(func(t *types.Transmission) (bool, error) {
			if t.RunnerID == runnerID {
				referenced = true
				return false, nil
			}
			return true, nil
		}); err != nil {
			return err
		}
		if referenced {
			return fmt.Errorf("runner %s has transmission history, disable it instead: %w", r.Name, types.ErrConflict)
		}
		return tx.DeleteRunner(runnerID)
	})
	if err != nil {
		return err
	}

	d.invalidate(runnerID)
	d.logger.Info().Str("runner_id", runnerID).Str("runner", name).Msg("Runner deleted")
	return nil
}
