package framework

import (
	"context"
	"fmt"
	"time"

	"github.com/challengectl/challengectl/pkg/client"
	"github.com/challengectl/challengectl/pkg/types"
)

// Waiter provides utilities for waiting on conditions with timeouts
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a new Waiter with the given timeout and polling interval
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{
		timeout:  timeout,
		interval: interval,
	}
}

// DefaultWaiter returns a waiter sized for harness timers (10s timeout,
// 25ms interval)
func DefaultWaiter() *Waiter {
	return NewWaiter(10*time.Second, 25*time.Millisecond)
}

// WaitFor waits for a condition to become true
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Check immediately
	if condition() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// ChallengeByName finds a challenge by its manifest name.
func ChallengeByName(admin *client.Client, name string) (*types.Challenge, error) {
	challenges, err := admin.ListChallenges()
	if err != nil {
		return nil, err
	}
	for _, ch := range challenges {
		if ch.Name == name {
			return ch, nil
		}
	}
	return nil, fmt.Errorf("challenge %q not found", name)
}

// WaitForChallengeStatus waits for a challenge to reach a dispatch status
func (w *Waiter) WaitForChallengeStatus(ctx context.Context, admin *client.Client, name string, status types.ChallengeStatus) error {
	return w.WaitFor(ctx, func() bool {
		ch, err := ChallengeByName(admin, name)
		return err == nil && ch.Status == status
	}, fmt.Sprintf("challenge %s to reach status %s", name, status))
}

// WaitForAssignment waits for a challenge to be handed to a runner and
// reports which runner holds it
func (w *Waiter) WaitForAssignment(ctx context.Context, admin *client.Client, name string) (string, error) {
	var holder string
	err := w.WaitFor(ctx, func() bool {
		ch, err := ChallengeByName(admin, name)
		if err != nil || ch.Status != types.ChallengeAssigned {
			return false
		}
		holder = ch.AssignedTo
		return true
	}, fmt.Sprintf("challenge %s to be assigned", name))
	return holder, err
}

// WaitForRunnerStatus waits for a named runner to reach a liveness status
func (w *Waiter) WaitForRunnerStatus(ctx context.Context, admin *client.Client, name string, status types.RunnerStatus) error {
	return w.WaitFor(ctx, func() bool {
		runners, err := admin.ListRunners()
		if err != nil {
			return false
		}
		for _, r := range runners {
			if r.Name == name {
				return r.Status == status
			}
		}
		return false
	}, fmt.Sprintf("runner %s to reach status %s", name, status))
}

// WaitForRunnerCount waits for the fleet to reach a given size
func (w *Waiter) WaitForRunnerCount(ctx context.Context, admin *client.Client, count int) error {
	return w.WaitFor(ctx, func() bool {
		runners, err := admin.ListRunners()
		return err == nil && len(runners) == count
	}, fmt.Sprintf("fleet to have %d runners", count))
}

// WaitForTransmissions waits until a challenge has logged at least min
// audit rows
func (w *Waiter) WaitForTransmissions(ctx context.Context, admin *client.Client, challengeID string, min int) error {
	return w.WaitFor(ctx, func() bool {
		rows, err := admin.ListTransmissions(client.TransmissionQuery{ChallengeID: challengeID})
		return err == nil && len(rows) >= min
	}, fmt.Sprintf("challenge %s to log %d transmissions", challengeID, min))
}
