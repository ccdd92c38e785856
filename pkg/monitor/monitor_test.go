package monitor

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/challengectl/challengectl/pkg/config"
	"github.com/challengectl/challengectl/pkg/dispatch"
	"github.com/challengectl/challengectl/pkg/events"
	"github.com/challengectl/challengectl/pkg/freq"
	"github.com/challengectl/challengectl/pkg/storage"
	"github.com/challengectl/challengectl/pkg/types"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedAssignedPair(t *testing.T, store *storage.Store, heartbeat time.Time, expires time.Time) (*types.Runner, *types.Challenge) {
	t.Helper()
	r := &types.Runner{
		ID:            uuid.New().String(),
		Name:          "bench-1",
		Status:        types.RunnerBusy,
		Enabled:       true,
		Devices:       []types.Device{{Name: "hackrf0", Driver: "hackrf", Frequencies: freq.Set{{Low: 400_000_000, High: 500_000_000}}}},
		LastHeartbeat: heartbeat,
	}
	require.NoError(t, store.SaveRunner(r))

	c := &types.Challenge{
		ID:                  uuid.New().String(),
		Name:                "keyfob",
		Modulation:          "ook",
		Frequencies:         freq.Set{{Low: 433_000_000, High: 434_000_000}},
		Enabled:             true,
		Status:              types.ChallengeAssigned,
		AssignedTo:          r.ID,
		AssignedAt:          time.Now().Add(-time.Minute),
		AssignmentExpires:   expires,
		AssignedFrequencyHz: 433_920_000,
	}
	require.NoError(t, store.SaveChallenge(c))
	return r, c
}

func TestSweepRunnersMarksOffline(t *testing.T) {
	store := openTestStore(t)
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	sub := broker.Subscribe()

	m := NewMonitor(store, broker, config.DefaultTunables())

	// 2 minutes of silence is past the 90 second timeout.
	lost, challenge := seedAssignedPair(t, store, time.Now().Add(-2*time.Minute), time.Now().Add(5*time.Minute))

	healthy := &types.Runner{
		ID:            uuid.New().String(),
		Name:          "bench-2",
		Status:        types.RunnerOnline,
		Enabled:       true,
		LastHeartbeat: time.Now(),
	}
	require.NoError(t, store.SaveRunner(healthy))

	require.NoError(t, m.SweepRunners())

	stored, err := store.GetRunner(lost.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunnerOffline, stored.Status)

	untouched, err := store.GetRunner(healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunnerOnline, untouched.Status)

	// Going offline does not take the work away; only the assignment TTL
	// does. A runner that reconnects before the TTL still gets its report in.
	kept, err := store.GetChallenge(challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChallengeAssigned, kept.Status)
	assert.Equal(t, lost.ID, kept.AssignedTo)

	rows, err := store.ListTransmissions(storage.TransmissionFilter{ChallengeID: challenge.ID})
	require.NoError(t, err)
	assert.Empty(t, rows)

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventRunnerOffline, ev.Type)
		assert.Equal(t, lost.ID, ev.RunnerID)
	case <-time.After(2 * time.Second):
		t.Fatal("no offline event received")
	}
}

func TestLateReportAfterHeartbeatTimeoutAccepted(t *testing.T) {
	store := openTestStore(t)
	m := NewMonitor(store, nil, config.DefaultTunables())
	d := dispatch.NewDispatcher(store, nil, nil, config.DefaultTunables())

	// Silent past the heartbeat timeout but inside the assignment TTL.
	runner, challenge := seedAssignedPair(t, store, time.Now().Add(-2*time.Minute), time.Now().Add(3*time.Minute))

	require.NoError(t, m.SweepRunners())

	err := d.ReportComplete(runner.ID, &types.Report{
		ChallengeID: challenge.ID,
		FrequencyHz: 433_920_000,
		Outcome:     types.OutcomeSuccess,
	})
	require.NoError(t, err)

	stored, err := store.GetChallenge(challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChallengeWaiting, stored.Status)
	assert.Equal(t, int64(1), stored.TransmissionCount)
}

func TestSweepAssignmentsReclaimsExpired(t *testing.T) {
	store := openTestStore(t)
	m := NewMonitor(store, nil, config.DefaultTunables())

	// Heartbeat fresh, but the assignment TTL has lapsed.
	runner, challenge := seedAssignedPair(t, store, time.Now(), time.Now().Add(-time.Second))

	require.NoError(t, m.SweepAssignments())

	stored, err := store.GetChallenge(challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChallengeWaiting, stored.Status)
	assert.Empty(t, stored.AssignedTo)
	assert.True(t, stored.AssignedAt.IsZero())
	assert.False(t, stored.NextTxTime.After(time.Now()), "expired work must be immediately eligible")

	rows, err := store.ListTransmissions(storage.TransmissionFilter{ChallengeID: challenge.ID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, types.DetailTimeout, rows[0].Detail)
	assert.Equal(t, runner.ID, rows[0].RunnerID)
	assert.Equal(t, uint64(433_920_000), rows[0].FrequencyHz)

	// The runner holds nothing anymore, so busy settles back to online.
	storedRunner, err := store.GetRunner(runner.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunnerOnline, storedRunner.Status)
}

func TestLateReportAfterExpiryIsStale(t *testing.T) {
	store := openTestStore(t)
	m := NewMonitor(store, nil, config.DefaultTunables())
	d := dispatch.NewDispatcher(store, nil, nil, config.DefaultTunables())

	runner, challenge := seedAssignedPair(t, store, time.Now(), time.Now().Add(-time.Second))

	require.NoError(t, m.SweepAssignments())

	err := d.ReportComplete(runner.ID, &types.Report{
		ChallengeID: challenge.ID,
		Outcome:     types.OutcomeSuccess,
	})
	assert.ErrorIs(t, err, types.ErrStaleAssignment)

	stored, err := store.GetChallenge(challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.TransmissionCount)

	rows, err := store.ListTransmissions(storage.TransmissionFilter{ChallengeID: challenge.ID})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Stale)
}

func TestSweepAssignmentsLeavesLiveOnes(t *testing.T) {
	store := openTestStore(t)
	m := NewMonitor(store, nil, config.DefaultTunables())

	_, challenge := seedAssignedPair(t, store, time.Now(), time.Now().Add(5*time.Minute))

	require.NoError(t, m.SweepAssignments())

	stored, err := store.GetChallenge(challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChallengeAssigned, stored.Status)
}

func TestSweepCredentials(t *testing.T) {
	store := openTestStore(t)
	m := NewMonitor(store, nil, config.DefaultTunables())

	require.NoError(t, store.SaveEnrollmentToken(&types.EnrollmentToken{
		Token:     "expired",
		ExpiresAt: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, store.SaveEnrollmentToken(&types.EnrollmentToken{
		Token:     "burned",
		ExpiresAt: time.Now().Add(time.Hour),
		UsedAt:    time.Now().Add(-time.Minute),
		UsedBy:    "runner-1",
	}))
	require.NoError(t, store.SaveEnrollmentToken(&types.EnrollmentToken{
		Token:     "fresh",
		ExpiresAt: time.Now().Add(time.Hour),
	}))
	require.NoError(t, store.SaveSession(&types.Session{
		Token:     "stale-session",
		Username:  "admin",
		ExpiresAt: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, store.SaveSession(&types.Session{
		Token:    "bootstrap",
		Username: "admin",
		// Zero expiry is permanent.
	}))

	require.NoError(t, m.SweepCredentials())

	tokens, err := store.ListEnrollmentTokens()
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "fresh", tokens[0].Token)

	_, err = store.GetSession("stale-session")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = store.GetSession("bootstrap")
	assert.NoError(t, err)
}

func TestMonitorLoop(t *testing.T) {
	store := openTestStore(t)

	tunables := config.DefaultTunables()
	tunables.StaleSweepInterval = config.Duration(10 * time.Millisecond)
	tunables.TokenSweepInterval = config.Duration(10 * time.Millisecond)

	m := NewMonitor(store, nil, tunables)

	lost, _ := seedAssignedPair(t, store, time.Now().Add(-2*time.Minute), time.Now().Add(5*time.Minute))

	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool {
		r, err := store.GetRunner(lost.ID)
		return err == nil && r.Status == types.RunnerOffline
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMonitorLoopKeepsLiveAssignment(t *testing.T) {
	store := openTestStore(t)

	tunables := config.DefaultTunables()
	tunables.StaleSweepInterval = config.Duration(10 * time.Millisecond)

	m := NewMonitor(store, nil, tunables)
	_, challenge := seedAssignedPair(t, store, time.Now().Add(-2*time.Minute), time.Now().Add(5*time.Minute))

	m.Start()
	defer m.Stop()

	time.Sleep(100 * time.Millisecond)

	stored, err := store.GetChallenge(challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChallengeAssigned, stored.Status)
}
