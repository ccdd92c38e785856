package auth

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/challengectl/challengectl/pkg/storage"
	"github.com/challengectl/challengectl/pkg/types"
)

// MintEnrollmentToken creates a single-use enrollment token. With
// reEnrollFor set, the token re-keys an existing runner instead of
// creating a new one.
func (r *Resolver) MintEnrollmentToken(description string, ttl time.Duration, reEnrollFor string) (*types.EnrollmentToken, error) {
	secret, err := NewSecret()
	if err != nil {
		return nil, err
	}

	token := &types.EnrollmentToken{
		Token:       secret,
		Description: description,
		ReEnrollFor: reEnrollFor,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(ttl),
	}

	err = r.store.Update(func(tx *storage.Tx) error {
		if reEnrollFor != "" {
			if _, err := tx.GetRunner(reEnrollFor); err != nil {
				return err
			}
		}
		return tx.PutEnrollmentToken(token)
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

// RevokeEnrollmentToken deletes a token before use
func (r *Resolver) RevokeEnrollmentToken(token string) error {
	return r.store.Update(func(tx *storage.Tx) error {
		if _, err := tx.GetEnrollmentToken(token); err != nil {
			return err
		}
		return tx.DeleteEnrollmentToken(token)
	})
}

// MintProvisioningKey creates a long-lived fleet credential. The plaintext
// secret is returned exactly once.
func (r *Resolver) MintProvisioningKey(description string) (*types.ProvisioningKey, string, error) {
	secret, err := NewSecret()
	if err != nil {
		return nil, "", err
	}
	hash, err := HashSecret(secret)
	if err != nil {
		return nil, "", err
	}

	key := &types.ProvisioningKey{
		ID:          uuid.New().String(),
		KeyHash:     hash,
		Description: description,
		CreatedAt:   time.Now(),
	}
	if err := r.store.SaveProvisioningKey(key); err != nil {
		return nil, "", err
	}
	return key, secret, nil
}

// CreateSession issues an admin session with a fresh CSRF token. The login
// and TOTP ceremony happen outside the controller; callers assert the
// verification state that ceremony reached. A zero ttl leaves ExpiresAt
// zero, which the resolver and sweeper treat as permanent; any other ttl
// sets a deadline, so a negative one is already expired.
func (r *Resolver) CreateSession(username string, ttl time.Duration, totpVerified bool) (*types.Session, error) {
	token, err := NewSecret()
	if err != nil {
		return nil, err
	}
	csrf, err := NewSecret()
	if err != nil {
		return nil, err
	}

	sess := &types.Session{
		Token:        token,
		Username:     username,
		CSRFToken:    csrf,
		TOTPVerified: totpVerified,
		CreatedAt:    time.Now(),
	}
	if ttl != 0 {
		sess.ExpiresAt = time.Now().Add(ttl)
	}

	err = r.store.Update(func(tx *storage.Tx) error {
		if _, err := tx.GetUser(username); err != nil {
			return err
		}
		return tx.PutSession(sess)
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// DeleteSession removes a session token
func (r *Resolver) DeleteSession(token string) error {
	return r.store.Update(func(tx *storage.Tx) error {
		return tx.DeleteSession(token)
	})
}

// EnsureUser creates the user if missing and returns it
func (r *Resolver) EnsureUser(username string) (*types.User, error) {
	var user *types.User
	err := r.store.Update(func(tx *storage.Tx) error {
		existing, err := tx.GetUser(username)
		if err == nil {
			user = existing
			return nil
		}
		user = &types.User{Username: username, CreatedAt: time.Now()}
		return tx.PutUser(user)
	})
	return user, err
}

// EnrollRequest carries what a new runner presents at enrollment
type EnrollRequest struct {
	Token        string
	Name         string
	MAC          string
	MachineID    string
	AgentVersion string
	Devices      []types.Device
}

// EnrollResult returns the minted identity. APIKey is plaintext and never
// reproducible.
type EnrollResult struct {
	RunnerID string
	Name     string
	APIKey   string
}

// Enroll consumes an enrollment token and creates (or re-keys) a runner.
// Token validation, token burn and the runner write commit atomically.
func (r *Resolver) Enroll(req EnrollRequest) (*EnrollResult, error) {
	if req.MAC == "" && req.MachineID == "" {
		return nil, fmt.Errorf("host identifiers required: %w", types.ErrAuth)
	}

	apiKey, err := NewSecret()
	if err != nil {
		return nil, err
	}
	keyHash, err := HashSecret(apiKey)
	if err != nil {
		return nil, err
	}

	var result *EnrollResult
	err = r.store.Update(func(tx *storage.Tx) error {
		token, err := tx.GetEnrollmentToken(req.Token)
		if err != nil {
			return fmt.Errorf("enrollment token rejected: %w", types.ErrAuth)
		}
		if !token.UsedAt.IsZero() {
			return fmt.Errorf("enrollment token already used: %w", types.ErrConflict)
		}
		if time.Now().After(token.ExpiresAt) {
			return fmt.Errorf("enrollment token expired: %w", types.ErrAuth)
		}

		now := time.Now()
		var runner *types.Runner
		if token.ReEnrollFor != "" {
			runner, err = tx.GetRunner(token.ReEnrollFor)
			if err != nil {
				return err
			}
			r.InvalidateRunner(runner.ID)
		} else {
			runner = &types.Runner{
				ID:        uuid.New().String(),
				Status:    types.RunnerOffline,
				Enabled:   true,
				CreatedAt: now,
			}
		}

		if req.Name != "" {
			runner.Name = req.Name
		}
		if runner.Name == "" {
			runner.Name = "runner-" + runner.ID[:8]
		}
		runner.MAC = req.MAC
		runner.MachineID = req.MachineID
		runner.APIKeyHash = keyHash
		runner.AgentVersion = req.AgentVersion
		runner.Devices = req.Devices
		runner.UpdatedAt = now

		if err := tx.PutRunner(runner); err != nil {
			return err
		}

		// Burn the token in the same commit as the runner write. Exactly
		// one presenter of a token can reach this point.
		token.UsedAt = now
		token.UsedBy = runner.ID
		if err := tx.PutEnrollmentToken(token); err != nil {
			return err
		}
		result = &EnrollResult{RunnerID: runner.ID, Name: runner.Name, APIKey: apiKey}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info().Str("runner_id", result.RunnerID).Str("name", result.Name).Msg("runner enrolled")
	return result, nil
}
