package dispatch

import (
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/challengectl/challengectl/pkg/config"
	"github.com/challengectl/challengectl/pkg/events"
	"github.com/challengectl/challengectl/pkg/freq"
	"github.com/challengectl/challengectl/pkg/storage"
	"github.com/challengectl/challengectl/pkg/types"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *storage.Store) {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	d := NewDispatcher(store, nil, nil, config.DefaultTunables())
	d.rng = rand.New(rand.NewSource(1))
	return d, store
}

func seedRunner(t *testing.T, store *storage.Store, name string, set freq.Set) *types.Runner {
	t.Helper()
	r := &types.Runner{
		ID:            uuid.New().String(),
		Name:          name,
		Status:        types.RunnerOnline,
		Enabled:       true,
		Devices:       []types.Device{{Name: "hackrf0", Driver: "hackrf", Frequencies: set}},
		LastHeartbeat: time.Now(),
	}
	require.NoError(t, store.SaveRunner(r))
	return r
}

func seedChallenge(t *testing.T, store *storage.Store, name string, status types.ChallengeStatus, priority int) *types.Challenge {
	t.Helper()
	c := &types.Challenge{
		ID:          uuid.New().String(),
		Name:        name,
		Modulation:  "ook",
		Frequencies: freq.Set{{Low: 433_000_000, High: 434_000_000}},
		MinDelay:    time.Minute,
		MaxDelay:    2 * time.Minute,
		Priority:    priority,
		Enabled:     status != types.ChallengeDisabled,
		Status:      status,
	}
	require.NoError(t, store.SaveChallenge(c))
	return c
}

func TestAssignOne(t *testing.T) {
	d, store := newTestDispatcher(t)
	runner := seedRunner(t, store, "bench-1", freq.Set{{Low: 400_000_000, High: 500_000_000}})
	challenge := seedChallenge(t, store, "keyfob", types.ChallengeQueued, 0)

	before := time.Now()
	task, err := d.AssignOne(runner.ID)
	require.NoError(t, err)
	require.NotNil(t, task)

	assert.Equal(t, challenge.ID, task.ChallengeID)
	assert.Equal(t, "keyfob", task.Name)
	assert.Equal(t, "ook", task.Modulation)
	assert.True(t, challenge.Frequencies.Contains(task.FrequencyHz), "picked frequency %d outside challenge set", task.FrequencyHz)

	stored, err := store.GetChallenge(challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChallengeAssigned, stored.Status)
	assert.Equal(t, runner.ID, stored.AssignedTo)
	assert.False(t, stored.AssignedAt.IsZero())
	assert.False(t, stored.AssignmentExpires.IsZero())
	assert.Equal(t, task.FrequencyHz, stored.AssignedFrequencyHz)
	assert.WithinRange(t, stored.AssignmentExpires, before.Add(5*time.Minute-time.Second), time.Now().Add(5*time.Minute+time.Second))

	storedRunner, err := store.GetRunner(runner.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunnerBusy, storedRunner.Status)

	// An assigned challenge must never be handed out again.
	other := seedRunner(t, store, "bench-2", freq.Set{{Low: 400_000_000, High: 500_000_000}})
	_, err = d.AssignOne(other.ID)
	assert.ErrorIs(t, err, types.ErrNoWork)
}

func TestAssignOneNoCapabilityOverlap(t *testing.T) {
	d, store := newTestDispatcher(t)
	runner := seedRunner(t, store, "bench-1", freq.Set{{Low: 900_000_000, High: 930_000_000}})
	seedChallenge(t, store, "keyfob", types.ChallengeQueued, 0)

	_, err := d.AssignOne(runner.ID)
	assert.ErrorIs(t, err, types.ErrNoWork)
}

func TestAssignOnePaused(t *testing.T) {
	d, store := newTestDispatcher(t)
	runner := seedRunner(t, store, "bench-1", freq.Set{{Low: 400_000_000, High: 500_000_000}})
	seedChallenge(t, store, "keyfob", types.ChallengeQueued, 0)
	require.NoError(t, store.SetPaused(true))

	before := time.Now()
	_, err := d.AssignOne(runner.ID)
	assert.ErrorIs(t, err, types.ErrNoWork)

	// The poll still counts as a heartbeat even while paused.
	stored, err := store.GetRunner(runner.ID)
	require.NoError(t, err)
	assert.False(t, stored.LastHeartbeat.Before(before))

	require.NoError(t, store.SetPaused(false))
	task, err := d.AssignOne(runner.ID)
	require.NoError(t, err)
	assert.Equal(t, "keyfob", task.Name)
}

func TestAssignOnePrefersHigherPriority(t *testing.T) {
	d, store := newTestDispatcher(t)
	runner := seedRunner(t, store, "bench-1", freq.Set{{Low: 400_000_000, High: 500_000_000}})
	seedChallenge(t, store, "low", types.ChallengeQueued, 1)
	high := seedChallenge(t, store, "high", types.ChallengeQueued, 10)

	task, err := d.AssignOne(runner.ID)
	require.NoError(t, err)
	assert.Equal(t, high.ID, task.ChallengeID)
}

func TestAssignOnePromotesDueWaiting(t *testing.T) {
	d, store := newTestDispatcher(t)
	runner := seedRunner(t, store, "bench-1", freq.Set{{Low: 400_000_000, High: 500_000_000}})

	due := seedChallenge(t, store, "due", types.ChallengeWaiting, 0)
	due.NextTxTime = time.Now().Add(-time.Second)
	require.NoError(t, store.SaveChallenge(due))

	notDue := seedChallenge(t, store, "not-due", types.ChallengeWaiting, 0)
	notDue.NextTxTime = time.Now().Add(time.Hour)
	require.NoError(t, store.SaveChallenge(notDue))

	task, err := d.AssignOne(runner.ID)
	require.NoError(t, err)
	assert.Equal(t, due.ID, task.ChallengeID)

	stored, err := store.GetChallenge(notDue.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChallengeWaiting, stored.Status)
}

func TestAssignOneRejectsUnknownAndDisabledRunners(t *testing.T) {
	d, store := newTestDispatcher(t)
	seedChallenge(t, store, "keyfob", types.ChallengeQueued, 0)

	_, err := d.AssignOne("ghost")
	assert.ErrorIs(t, err, types.ErrNotFound)

	runner := seedRunner(t, store, "bench-1", freq.Set{{Low: 400_000_000, High: 500_000_000}})
	runner.Enabled = false
	require.NoError(t, store.SaveRunner(runner))

	_, err = d.AssignOne(runner.ID)
	assert.ErrorIs(t, err, types.ErrForbidden)
}

func TestReportCompleteSuccess(t *testing.T) {
	d, store := newTestDispatcher(t)
	runner := seedRunner(t, store, "bench-1", freq.Set{{Low: 400_000_000, High: 500_000_000}})
	challenge := seedChallenge(t, store, "keyfob", types.ChallengeQueued, 0)

	task, err := d.AssignOne(runner.ID)
	require.NoError(t, err)

	before := time.Now()
	err = d.ReportComplete(runner.ID, &types.Report{
		ChallengeID: task.ChallengeID,
		FrequencyHz: task.FrequencyHz,
		Outcome:     types.OutcomeSuccess,
		StartedAt:   before,
		Duration:    2 * time.Second,
	})
	require.NoError(t, err)

	stored, err := store.GetChallenge(challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChallengeWaiting, stored.Status)
	assert.Equal(t, int64(1), stored.TransmissionCount)
	assert.Empty(t, stored.AssignedTo)
	assert.True(t, stored.AssignedAt.IsZero())
	assert.True(t, stored.AssignmentExpires.IsZero())
	assert.False(t, stored.LastTxTime.IsZero())
	// Next eligibility lands inside the configured delay window.
	assert.WithinRange(t, stored.NextTxTime, before.Add(time.Minute-time.Second), time.Now().Add(2*time.Minute+time.Second))

	// The runner is done transmitting.
	storedRunner, err := store.GetRunner(runner.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunnerOnline, storedRunner.Status)

	rows, err := store.ListTransmissions(storage.TransmissionFilter{ChallengeID: challenge.ID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, types.OutcomeSuccess, rows[0].Outcome)
	assert.Equal(t, runner.ID, rows[0].RunnerID)
	assert.Equal(t, task.FrequencyHz, rows[0].FrequencyHz)
	assert.False(t, rows[0].Stale)
}

func TestReportCompleteFailureWaitsOutDelay(t *testing.T) {
	d, store := newTestDispatcher(t)
	runner := seedRunner(t, store, "bench-1", freq.Set{{Low: 400_000_000, High: 500_000_000}})
	challenge := seedChallenge(t, store, "keyfob", types.ChallengeQueued, 0)

	task, err := d.AssignOne(runner.ID)
	require.NoError(t, err)

	before := time.Now()
	err = d.ReportComplete(runner.ID, &types.Report{
		ChallengeID: task.ChallengeID,
		Outcome:     types.OutcomeFailure,
		Detail:      "device unplugged",
	})
	require.NoError(t, err)

	// A failed attempt takes the same path as a success: it counts, and the
	// challenge waits out its delay before the next try.
	stored, err := store.GetChallenge(challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChallengeWaiting, stored.Status)
	assert.Equal(t, int64(1), stored.TransmissionCount)
	assert.Empty(t, stored.AssignedTo)
	assert.WithinRange(t, stored.NextTxTime, before.Add(time.Minute-time.Second), time.Now().Add(2*time.Minute+time.Second))

	_, err = d.AssignOne(runner.ID)
	assert.ErrorIs(t, err, types.ErrNoWork)

	rows, err := store.ListTransmissions(storage.TransmissionFilter{ChallengeID: challenge.ID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, types.OutcomeFailure, rows[0].Outcome)
	assert.Equal(t, "device unplugged", rows[0].Detail)
}

func TestReportCompleteStale(t *testing.T) {
	d, store := newTestDispatcher(t)
	runner := seedRunner(t, store, "bench-1", freq.Set{{Low: 400_000_000, High: 500_000_000}})
	challenge := seedChallenge(t, store, "keyfob", types.ChallengeQueued, 0)

	task, err := d.AssignOne(runner.ID)
	require.NoError(t, err)

	// The assignment is reclaimed before the report arrives.
	require.NoError(t, d.Signout(runner.ID))

	err = d.ReportComplete(runner.ID, &types.Report{
		ChallengeID: task.ChallengeID,
		Outcome:     types.OutcomeSuccess,
	})
	assert.ErrorIs(t, err, types.ErrStaleAssignment)

	// The stale report is still on the audit trail, but the challenge state
	// is untouched.
	stored, err := store.GetChallenge(challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChallengeWaiting, stored.Status)
	assert.Equal(t, int64(0), stored.TransmissionCount)

	rows, err := store.ListTransmissions(storage.TransmissionFilter{ChallengeID: challenge.ID})
	require.NoError(t, err)
	require.Len(t, rows, 2) // synthetic shutdown row plus the stale report
	assert.True(t, rows[0].Stale)
	assert.Equal(t, types.OutcomeSuccess, rows[0].Outcome)
	assert.Equal(t, types.DetailShutdown, rows[1].Detail)
}

func TestReportCompleteUnknownChallenge(t *testing.T) {
	d, store := newTestDispatcher(t)
	runner := seedRunner(t, store, "bench-1", freq.Set{{Low: 400_000_000, High: 500_000_000}})

	err := d.ReportComplete(runner.ID, &types.Report{ChallengeID: "ghost", Outcome: types.OutcomeSuccess})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestAssignmentMutualExclusion(t *testing.T) {
	d, store := newTestDispatcher(t)
	seedChallenge(t, store, "keyfob", types.ChallengeQueued, 0)

	const runners = 8
	ids := make([]string, runners)
	for i := range ids {
		ids[i] = seedRunner(t, store, "bench", freq.Set{{Low: 400_000_000, High: 500_000_000}}).ID
	}

	var assigned atomic.Int32
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(runnerID string) {
			defer wg.Done()
			_, err := d.AssignOne(runnerID)
			switch {
			case err == nil:
				assigned.Add(1)
			case errors.Is(err, types.ErrNoWork):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, int32(1), assigned.Load(), "exactly one runner may win the assignment")
}

func TestSignoutReclaimsAssignments(t *testing.T) {
	d, store := newTestDispatcher(t)
	runner := seedRunner(t, store, "bench-1", freq.Set{{Low: 400_000_000, High: 500_000_000}})
	challenge := seedChallenge(t, store, "keyfob", types.ChallengeQueued, 0)

	_, err := d.AssignOne(runner.ID)
	require.NoError(t, err)

	require.NoError(t, d.Signout(runner.ID))

	storedRunner, err := store.GetRunner(runner.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunnerOffline, storedRunner.Status)
	assert.True(t, storedRunner.Enabled, "signout must not disable the runner")

	stored, err := store.GetChallenge(challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChallengeWaiting, stored.Status)
	assert.Empty(t, stored.AssignedTo)
	assert.False(t, stored.NextTxTime.After(time.Now()), "reclaimed work must be immediately eligible")

	rows, err := store.ListTransmissions(storage.TransmissionFilter{ChallengeID: challenge.ID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, types.OutcomeFailure, rows[0].Outcome)
	assert.Equal(t, types.DetailShutdown, rows[0].Detail)

	// Another runner picks it up on its next poll.
	other := seedRunner(t, store, "bench-2", freq.Set{{Low: 400_000_000, High: 500_000_000}})
	task, err := d.AssignOne(other.ID)
	require.NoError(t, err)
	assert.Equal(t, challenge.ID, task.ChallengeID)
}

func TestRegisterAndHeartbeat(t *testing.T) {
	d, store := newTestDispatcher(t)
	runner := seedRunner(t, store, "bench-1", freq.Set{{Low: 400_000_000, High: 500_000_000}})
	runner.Status = types.RunnerOffline
	require.NoError(t, store.SaveRunner(runner))

	updated, err := d.Register(runner.ID, "10.30.0.7", &types.RegisterRequest{
		Hostname:     "bench-1.lab",
		AgentVersion: "1.2.0",
		Devices: []types.Device{
			{Name: "hackrf0", Driver: "hackrf", Frequencies: freq.Set{{Low: 1_000_000, High: 6_000_000_000}}},
			{Name: "yardstick0", Driver: "rfcat", Frequencies: freq.Set{{Low: 300_000_000, High: 928_000_000}}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, types.RunnerOnline, updated.Status)
	assert.Equal(t, "1.2.0", updated.AgentVersion)
	assert.Equal(t, "bench-1.lab", updated.Hostname)
	assert.Equal(t, "10.30.0.7", updated.IP)
	assert.Len(t, updated.Devices, 2)

	before := time.Now()
	require.NoError(t, d.Heartbeat(runner.ID))
	stored, err := store.GetRunner(runner.ID)
	require.NoError(t, err)
	assert.False(t, stored.LastHeartbeat.Before(before))

	// Heartbeats refresh liveness without knocking a transmitting runner
	// back to plain online.
	stored.Status = types.RunnerBusy
	require.NoError(t, store.SaveRunner(stored))
	require.NoError(t, d.Heartbeat(runner.ID))
	stored, err = store.GetRunner(runner.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunnerBusy, stored.Status)

	err = d.Heartbeat("ghost")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDisableRunnerReclaims(t *testing.T) {
	d, store := newTestDispatcher(t)
	runner := seedRunner(t, store, "bench-1", freq.Set{{Low: 400_000_000, High: 500_000_000}})
	challenge := seedChallenge(t, store, "keyfob", types.ChallengeQueued, 0)

	_, err := d.AssignOne(runner.ID)
	require.NoError(t, err)

	require.NoError(t, d.DisableRunner(runner.ID))

	storedRunner, err := store.GetRunner(runner.ID)
	require.NoError(t, err)
	assert.False(t, storedRunner.Enabled)

	stored, err := store.GetChallenge(challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChallengeWaiting, stored.Status)

	rows, err := store.ListTransmissions(storage.TransmissionFilter{ChallengeID: challenge.ID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, types.DetailDisabled, rows[0].Detail)

	// Disabled runners poll into a wall.
	_, err = d.AssignOne(runner.ID)
	assert.ErrorIs(t, err, types.ErrForbidden)

	require.NoError(t, d.EnableRunner(runner.ID))
	_, err = d.AssignOne(runner.ID)
	require.NoError(t, err)
}

func TestDeleteRunner(t *testing.T) {
	d, store := newTestDispatcher(t)
	runner := seedRunner(t, store, "bench-1", freq.Set{{Low: 400_000_000, High: 500_000_000}})
	seedChallenge(t, store, "keyfob", types.ChallengeQueued, 0)

	task, err := d.AssignOne(runner.ID)
	require.NoError(t, err)

	// Holding an assignment protects the runner.
	err = d.DeleteRunner(runner.ID)
	assert.ErrorIs(t, err, types.ErrConflict)

	require.NoError(t, d.ReportComplete(runner.ID, &types.Report{
		ChallengeID: task.ChallengeID,
		Outcome:     types.OutcomeSuccess,
	}))

	// So does transmission history; the audit trail must keep resolving.
	err = d.DeleteRunner(runner.ID)
	assert.ErrorIs(t, err, types.ErrConflict)

	fresh := seedRunner(t, store, "bench-2", freq.Set{{Low: 400_000_000, High: 500_000_000}})
	require.NoError(t, d.DeleteRunner(fresh.ID))
	_, err = store.GetRunner(fresh.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestAssignPublishesEventAfterCommit(t *testing.T) {
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	sub := broker.Subscribe()

	d := NewDispatcher(store, broker, nil, config.DefaultTunables())
	runner := seedRunner(t, store, "bench-1", freq.Set{{Low: 400_000_000, High: 500_000_000}})
	challenge := seedChallenge(t, store, "keyfob", types.ChallengeQueued, 0)

	_, err = d.AssignOne(runner.ID)
	require.NoError(t, err)

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventChallengeAssigned, ev.Type)
		assert.Equal(t, challenge.ID, ev.ChallengeID)
		assert.Equal(t, runner.ID, ev.RunnerID)

		// The stored state already reflects the event.
		stored, err := store.GetChallenge(challenge.ID)
		require.NoError(t, err)
		assert.Equal(t, types.ChallengeAssigned, stored.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}
