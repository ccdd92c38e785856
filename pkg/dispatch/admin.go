package dispatch

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/challengectl/challengectl/pkg/config"
	"github.com/challengectl/challengectl/pkg/events"
	"github.com/challengectl/challengectl/pkg/metrics"
	"github.com/challengectl/challengectl/pkg/storage"
	"github.com/challengectl/challengectl/pkg/types"
)

// Trigger makes a challenge eligible for dispatch immediately. A waiting
// challenge is requeued; an assigned one keeps its assignment and becomes
// eligible again as soon as the current attempt resolves.
func (d *Dispatcher) Trigger(challengeID string) error {
	now := time.Now()
	var challenge *types.Challenge

	err := d.store.Update(func(tx *storage.Tx) error {
		c, err := tx.GetChallenge(challengeID)
		if err != nil {
			return err
		}
		if c.Status == types.ChallengeDisabled {
			return fmt.Errorf("challenge %s is disabled: %w", c.Name, types.ErrConflict)
		}
		if c.Status == types.ChallengeWaiting {
			c.Status = types.ChallengeQueued
		}
		c.NextTxTime = now
		c.UpdatedAt = now
		challenge = c
		return tx.PutChallenge(c)
	})
	if err != nil {
		return err
	}

	d.logger.Info().Str("challenge_id", challengeID).Str("challenge", challenge.Name).Msg("Challenge triggered")
	d.publish(&events.Event{
		Type:        events.EventChallengeTriggered,
		ChallengeID: challengeID,
		Message:     fmt.Sprintf("%s triggered", challenge.Name),
	})
	return nil
}

// EnableChallenge puts a disabled challenge back in the queue. Enabling an
// already enabled challenge is a no-op.
func (d *Dispatcher) EnableChallenge(challengeID string) error {
	now := time.Now()
	var (
		changed   bool
		challenge *types.Challenge
	)

	err := d.store.Update(func(tx *storage.Tx) error {
		c, err := tx.GetChallenge(challengeID)
		if err != nil {
			return err
		}
		challenge = c
		if c.Enabled {
			return nil
		}
		c.Enabled = true
		c.Status = types.ChallengeQueued
		c.NextTxTime = now
		c.UpdatedAt = now
		changed = true
		return tx.PutChallenge(c)
	})
	if err != nil || !changed {
		return err
	}

	d.logger.Info().Str("challenge_id", challengeID).Str("challenge", challenge.Name).Msg("Challenge enabled")
	d.publish(&events.Event{
		Type:        events.EventChallengeEnabled,
		ChallengeID: challengeID,
		Message:     fmt.Sprintf("%s enabled", challenge.Name),
	})
	return nil
}

// DisableChallenge withdraws a challenge from dispatch. A live assignment is
// cleared; the runner's eventual report lands as a stale audit row. The
// disabled event names the disowned runner so it can stop early if it is
// listening.
func (d *Dispatcher) DisableChallenge(challengeID string) error {
	now := time.Now()
	var (
		changed   bool
		disowned  string
		challenge *types.Challenge
	)

	err := d.store.Update(func(tx *storage.Tx) error {
		c, err := tx.GetChallenge(challengeID)
		if err != nil {
			return err
		}
		challenge = c
		if !c.Enabled {
			return nil
		}
		disowned = c.AssignedTo
		c.Enabled = false
		c.Status = types.ChallengeDisabled
		c.ClearAssignment()
		c.UpdatedAt = now
		changed = true
		if err := tx.PutChallenge(c); err != nil {
			return err
		}
		if disowned != "" {
			return SettleRunnerStatus(tx, disowned, now)
		}
		return nil
	})
	if err != nil || !changed {
		return err
	}

	d.logger.Info().Str("challenge_id", challengeID).Str("challenge", challenge.Name).Msg("Challenge disabled")
	d.publish(&events.Event{
		Type:        events.EventChallengeDisabled,
		ChallengeID: challengeID,
		RunnerID:    disowned,
		Message:     fmt.Sprintf("%s disabled", challenge.Name),
	})
	return nil
}

// DeleteChallenge removes a challenge definition. Challenges that are
// currently assigned or already have recorded transmissions are protected,
// so the audit trail never references a missing challenge.
func (d *Dispatcher) DeleteChallenge(challengeID string) error {
	var name string

	err := d.store.Update(func(tx *storage.Tx) error {
		c, err := tx.GetChallenge(challengeID)
		if err != nil {
			return err
		}
		if c.Assigned() {
			return fmt.Errorf("challenge %s is currently assigned: %w", c.Name, types.ErrConflict)
		}
		n, err := tx.CountTransmissions(challengeID)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("challenge %s has %d recorded transmissions: %w", c.Name, n, types.ErrConflict)
		}
		name = c.Name
		return tx.DeleteChallenge(challengeID)
	})
	if err != nil {
		return err
	}

	d.logger.Info().Str("challenge_id", challengeID).Str("challenge", name).Msg("Challenge deleted")
	return nil
}

// Reload applies a manifest against the stored challenge set. Entries are
// matched by name: new ones are created, existing ones get their definition
// fields replaced while dispatch state is preserved, and stored challenges
// absent from the manifest are left untouched.
func (d *Dispatcher) Reload(m *config.Manifest) (*types.ReloadSummary, error) {
	now := time.Now()
	summary := &types.ReloadSummary{}

	err := d.store.Update(func(tx *storage.Tx) error {
		for _, spec := range m.Challenges {
			tmpl, err := spec.ToChallenge()
			if err != nil {
				return err
			}

			existing, err := tx.GetChallengeByName(spec.Name)
			if errors.Is(err, types.ErrNotFound) {
				c := tmpl
				c.ID = uuid.New().String()
				if c.Enabled {
					c.Status = types.ChallengeQueued
					c.NextTxTime = now
				} else {
					c.Status = types.ChallengeDisabled
				}
				c.CreatedAt = now
				c.UpdatedAt = now
				if err := tx.PutChallenge(c); err != nil {
					return err
				}
				summary.Created = append(summary.Created, c.Name)
				continue
			}
			if err != nil {
				return err
			}

			wasAssignedTo := existing.AssignedTo
			if !applySpec(existing, tmpl, now) {
				summary.Unchanged = append(summary.Unchanged, existing.Name)
				continue
			}
			existing.UpdatedAt = now
			if err := tx.PutChallenge(existing); err != nil {
				return err
			}
			if wasAssignedTo != "" && existing.AssignedTo == "" {
				if err := SettleRunnerStatus(tx, wasAssignedTo, now); err != nil {
					return err
				}
			}
			summary.Updated = append(summary.Updated, existing.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info().
		Int("created", len(summary.Created)).
		Int("updated", len(summary.Updated)).
		Int("unchanged", len(summary.Unchanged)).
		Msg("Manifest reloaded")
	d.publish(&events.Event{
		Type:    events.EventConfigReloaded,
		Message: fmt.Sprintf("manifest applied: %d created, %d updated, %d unchanged", len(summary.Created), len(summary.Updated), len(summary.Unchanged)),
	})
	return summary, nil
}

// applySpec copies definition fields onto the stored challenge, preserving
// dispatch state. An enabled flag flip applies the enable or disable
// transition. Returns false when nothing changed.
func applySpec(c, tmpl *types.Challenge, now time.Time) bool {
	changed := false
	if c.Description != tmpl.Description {
		c.Description = tmpl.Description
		changed = true
	}
	if c.Modulation != tmpl.Modulation {
		c.Modulation = tmpl.Modulation
		changed = true
	}
	if !maps.Equal(c.Params, tmpl.Params) {
		c.Params = tmpl.Params
		changed = true
	}
	if !slices.Equal(c.Frequencies, tmpl.Frequencies) {
		c.Frequencies = tmpl.Frequencies
		changed = true
	}
	if !slices.Equal(c.Files, tmpl.Files) {
		c.Files = tmpl.Files
		changed = true
	}
	if c.MinDelay != tmpl.MinDelay {
		c.MinDelay = tmpl.MinDelay
		changed = true
	}
	if c.MaxDelay != tmpl.MaxDelay {
		c.MaxDelay = tmpl.MaxDelay
		changed = true
	}
	if c.Priority != tmpl.Priority {
		c.Priority = tmpl.Priority
		changed = true
	}
	if c.PublicView != tmpl.PublicView {
		c.PublicView = tmpl.PublicView
		changed = true
	}
	if c.Enabled != tmpl.Enabled {
		c.Enabled = tmpl.Enabled
		if tmpl.Enabled {
			c.Status = types.ChallengeQueued
			c.NextTxTime = now
		} else {
			c.Status = types.ChallengeDisabled
			c.ClearAssignment()
		}
		changed = true
	}
	return changed
}

// Pause stops handing out assignments. In-flight assignments are unaffected
// and reports are still accepted.
func (d *Dispatcher) Pause() error {
	if err := d.store.SetPaused(true); err != nil {
		return err
	}
	metrics.SystemPaused.Set(1)
	d.logger.Info().Msg("Dispatch paused")
	d.publish(&events.Event{Type: events.EventSystemPaused, Message: "dispatch paused"})
	return nil
}

// Resume restarts assignment hand-out
func (d *Dispatcher) Resume() error {
	if err := d.store.SetPaused(false); err != nil {
		return err
	}
	metrics.SystemPaused.Set(0)
	d.logger.Info().Msg("Dispatch resumed")
	d.publish(&events.Event{Type: events.EventSystemResumed, Message: "dispatch resumed"})
	return nil
}
