package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/challengectl/challengectl/pkg/client"
	"github.com/challengectl/challengectl/pkg/config"
	"github.com/challengectl/challengectl/pkg/types"
	"github.com/challengectl/challengectl/test/framework"
)

// TestAssignmentTimeoutRecovery abandons an assignment mid-flight and
// watches the sweeper log a timeout, requeue the challenge for another
// runner, and flag the eventual late report as stale.
func TestAssignmentTimeoutRecovery(t *testing.T) {
	ctrl := framework.StartController(t)
	admin := ctrl.Admin(t)
	waiter := framework.DefaultWaiter()
	ctx := context.Background()

	ctrl.Apply(t, `
challenges:
  - name: flaky-target
    modulation: nbfm
    frequency: 146.52MHz
    min_delay: 0s
    max_delay: 0s
`)

	ghost := framework.EnrollRaw(t, ctrl, "ghost")
	task := ghost.PollUntilTask(t, 5*time.Second)

	// ghost goes silent. The assignment sweep writes a timeout failure
	// against it once the TTL lapses.
	ch, err := framework.ChallengeByName(admin, "flaky-target")
	require.NoError(t, err)
	require.NoError(t, waiter.WaitForTransmissions(ctx, admin, ch.ID, 1))

	rows, err := admin.ListTransmissions(client.TransmissionQuery{ChallengeID: ch.ID})
	require.NoError(t, err)
	var timedOut *types.Transmission
	for _, tx := range rows {
		if tx.Detail == types.DetailTimeout {
			timedOut = tx
		}
	}
	require.NotNil(t, timedOut, "expected a timeout failure row")
	assert.Equal(t, types.OutcomeFailure, timedOut.Outcome)
	assert.Equal(t, ghost.ID, timedOut.RunnerID)
	assert.False(t, timedOut.Stale)

	// missed heartbeats take the silent runner offline
	require.NoError(t, waiter.WaitForRunnerStatus(ctx, admin, "ghost", types.RunnerOffline))

	// a healthy runner picks the requeued challenge up
	relief := framework.EnrollRaw(t, ctrl, "relief")
	task2 := relief.PollUntilTask(t, 5*time.Second)
	assert.Equal(t, task.ChallengeID, task2.ChallengeID)
	relief.ReportSuccess(t, task2)

	// ghost finally answers for the reclaimed assignment: refused, but
	// still audited
	err = ghost.Report(task, types.OutcomeSuccess, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConflict)

	rows, err = admin.ListTransmissions(client.TransmissionQuery{ChallengeID: ch.ID, RunnerID: ghost.ID})
	require.NoError(t, err)
	var stale *types.Transmission
	for _, tx := range rows {
		if tx.Stale {
			stale = tx
		}
	}
	require.NotNil(t, stale, "late report should be audited as stale")
	assert.Equal(t, types.OutcomeSuccess, stale.Outcome)
}

// TestControllerRestartKeepsState reboots the controller on the same data
// directory and checks challenges, runners, and audit rows survive.
func TestControllerRestartKeepsState(t *testing.T) {
	dir := t.TempDir()
	reuse := func(cfg *config.Controller) { cfg.DataDir = dir }

	ctrl := framework.StartController(t, reuse)
	admin := ctrl.Admin(t)

	ctrl.Apply(t, `
challenges:
  - name: beacon
    modulation: cw
    frequency: 14.07MHz
    min_delay: 0s
    max_delay: 0s
`)

	r := framework.EnrollRaw(t, ctrl, "survivor")
	task := r.PollUntilTask(t, 5*time.Second)
	r.ReportSuccess(t, task)

	ch, err := framework.ChallengeByName(admin, "beacon")
	require.NoError(t, err)
	require.NoError(t, ctrl.Stop())

	ctrl2 := framework.StartController(t, reuse)
	admin2 := ctrl2.Admin(t)

	ch2, err := framework.ChallengeByName(admin2, "beacon")
	require.NoError(t, err)
	assert.Equal(t, ch.ID, ch2.ID, "challenge identity survives the restart")
	assert.Equal(t, int64(1), ch2.TransmissionCount)

	runners, err := admin2.ListRunners()
	require.NoError(t, err)
	require.Len(t, runners, 1)
	assert.Equal(t, "survivor", runners[0].Name)

	rows, err := admin2.ListTransmissions(client.TransmissionQuery{ChallengeID: ch.ID})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
