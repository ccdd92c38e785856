package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/challengectl/challengectl/pkg/log"
	"github.com/challengectl/challengectl/pkg/metrics"
	"github.com/challengectl/challengectl/pkg/storage"
	"github.com/challengectl/challengectl/pkg/types"
)

// PrincipalKind classifies who is making a request
type PrincipalKind string

const (
	KindRunner       PrincipalKind = "runner"
	KindAdmin        PrincipalKind = "admin"
	KindProvisioning PrincipalKind = "provisioning"
	KindEnrollment   PrincipalKind = "enrollment"
	KindAnonymous    PrincipalKind = "anonymous"
)

// Principal is the resolved identity of a request
type Principal struct {
	Kind     PrincipalKind
	RunnerID string
	Username string

	// CSRFToken is the token admin mutations must echo back
	CSRFToken string

	// EnrollToken is set for enrollment principals
	EnrollToken *types.EnrollmentToken
}

// Credentials are the raw artifacts extracted from a request
type Credentials struct {
	BearerToken   string
	MAC           string
	MachineID     string
	SessionCookie string
}

const verifiedKeyCacheSize = 1024

type cacheEntry struct {
	kind     PrincipalKind
	runnerID string
}

// Resolver turns request credentials into principals. Verified bearer
// tokens are cached by their SHA-256 so the bcrypt comparison runs once
// per key, not once per poll.
type Resolver struct {
	store     *storage.Store
	cache     *lru.Cache[string, cacheEntry]
	dummyHash string
	logger    zerolog.Logger
}

// NewResolver creates a resolver over the store
func NewResolver(store *storage.Store) (*Resolver, error) {
	cache, err := lru.New[string, cacheEntry](verifiedKeyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create key cache: %w", err)
	}
	dummy, err := newDummyHash()
	if err != nil {
		return nil, err
	}
	return &Resolver{
		store:     store,
		cache:     cache,
		dummyHash: dummy,
		logger:    log.WithComponent("auth"),
	}, nil
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Resolve maps credentials to a principal. A bearer with host identifiers
// resolves as a runner key first and an enrollment token second; a bare
// bearer tries provisioning keys then enrollment tokens. A presented
// bearer token that matches nothing is an authentication failure, never
// anonymous.
func (r *Resolver) Resolve(creds Credentials) (Principal, error) {
	if creds.BearerToken != "" {
		return r.resolveBearer(creds)
	}
	if creds.SessionCookie != "" {
		if p, ok := r.resolveSession(creds.SessionCookie); ok {
			return p, nil
		}
		// Stale browser cookies degrade to anonymous rather than failing
		// the request outright.
	}
	return Principal{Kind: KindAnonymous}, nil
}

func (r *Resolver) resolveBearer(creds Credentials) (Principal, error) {
	// Host identifiers signal a runner credential. The identifiers select
	// the candidate; bcrypt confirms the key.
	if creds.MAC != "" || creds.MachineID != "" {
		return r.resolveRunner(creds)
	}

	if p, ok := r.resolveProvisioning(creds.BearerToken); ok {
		return p, nil
	}
	if p, ok := r.resolveEnrollment(creds.BearerToken); ok {
		return p, nil
	}

	r.compareDummy(creds.BearerToken)
	metrics.AuthFailures.WithLabelValues("unknown_bearer").Inc()
	return Principal{}, fmt.Errorf("bearer token matched no credential: %w", types.ErrAuth)
}

func (r *Resolver) resolveRunner(creds Credentials) (Principal, error) {
	candidates, err := r.findRunnersByHost(creds.MAC, creds.MachineID)
	if err != nil {
		return Principal{}, err
	}

	key := cacheKey(creds.BearerToken)
	if entry, ok := r.cache.Get(key); ok && entry.kind == KindRunner {
		for _, c := range candidates {
			if c.ID != entry.runnerID {
				continue
			}
			if !c.Enabled {
				metrics.AuthFailures.WithLabelValues("runner_disabled").Inc()
				return Principal{}, fmt.Errorf("runner %s is disabled: %w", c.ID, types.ErrForbidden)
			}
			return Principal{Kind: KindRunner, RunnerID: c.ID}, nil
		}
	}

	// Hosts can share identifiers (cloned images that kept their
	// machine-id), so every candidate gets a verification attempt and the
	// key decides which runner is calling.
	for _, c := range candidates {
		if c.APIKeyHash == "" || !VerifySecret(c.APIKeyHash, creds.BearerToken) {
			continue
		}
		if !c.Enabled {
			metrics.AuthFailures.WithLabelValues("runner_disabled").Inc()
			return Principal{}, fmt.Errorf("runner %s is disabled: %w", c.ID, types.ErrForbidden)
		}
		r.cache.Add(key, cacheEntry{kind: KindRunner, runnerID: c.ID})
		return Principal{Kind: KindRunner, RunnerID: c.ID}, nil
	}

	// Not a runner key. New and re-enrolling hosts present their
	// enrollment token with the same host headers, so the token gets a
	// turn before the request is rejected.
	if p, ok := r.resolveEnrollment(creds.BearerToken); ok {
		return p, nil
	}

	if len(candidates) == 0 {
		r.compareDummy(creds.BearerToken)
		metrics.AuthFailures.WithLabelValues("unknown_host").Inc()
		return Principal{}, fmt.Errorf("no runner matches host identifiers: %w", types.ErrAuth)
	}
	metrics.AuthFailures.WithLabelValues("bad_api_key").Inc()
	return Principal{}, fmt.Errorf("api key rejected: %w", types.ErrAuth)
}

func (r *Resolver) findRunnersByHost(mac, machineID string) ([]*types.Runner, error) {
	var out []*types.Runner
	err := r.store.View(func(tx *storage.Tx) error {
		return tx.ForEachRunner(func(runner *types.Runner) error {
			if (machineID != "" && runner.MachineID == machineID) ||
				(mac != "" && runner.MAC == mac) {
				out = append(out, runner)
			}
			return nil
		})
	})
	return out, err
}

func (r *Resolver) resolveProvisioning(token string) (Principal, bool) {
	key := cacheKey(token)
	if entry, ok := r.cache.Get(key); ok && entry.kind == KindProvisioning {
		return Principal{Kind: KindProvisioning}, true
	}

	keys, err := r.store.ListProvisioningKeys()
	if err != nil {
		return Principal{}, false
	}
	for _, pk := range keys {
		if VerifySecret(pk.KeyHash, token) {
			r.cache.Add(key, cacheEntry{kind: KindProvisioning})
			return Principal{Kind: KindProvisioning}, true
		}
	}
	return Principal{}, false
}

func (r *Resolver) resolveEnrollment(token string) (Principal, bool) {
	var et *types.EnrollmentToken
	err := r.store.View(func(tx *storage.Tx) error {
		var err error
		et, err = tx.GetEnrollmentToken(token)
		return err
	})
	if err != nil {
		return Principal{}, false
	}
	if time.Now().After(et.ExpiresAt) {
		metrics.AuthFailures.WithLabelValues("expired_token").Inc()
		return Principal{}, false
	}
	// Used tokens still resolve here; the enroll transaction itself turns
	// them away with a conflict, which beats a generic auth failure when
	// two agents raced for the same token.
	return Principal{Kind: KindEnrollment, EnrollToken: et}, true
}

func (r *Resolver) resolveSession(cookie string) (Principal, bool) {
	sess, err := r.store.GetSession(cookie)
	if err != nil {
		metrics.AuthFailures.WithLabelValues("bad_session").Inc()
		return Principal{}, false
	}
	// A zero expiry never lapses; the bootstrap session relies on this.
	if !sess.ExpiresAt.IsZero() && time.Now().After(sess.ExpiresAt) {
		metrics.AuthFailures.WithLabelValues("expired_session").Inc()
		return Principal{}, false
	}
	if !sess.TOTPVerified {
		// Half-authenticated sessions never grant admin
		metrics.AuthFailures.WithLabelValues("totp_pending").Inc()
		return Principal{}, false
	}
	return Principal{
		Kind:      KindAdmin,
		Username:  sess.Username,
		CSRFToken: sess.CSRFToken,
	}, true
}

// compareDummy burns one bcrypt comparison so a missing credential takes
// as long as a wrong one.
func (r *Resolver) compareDummy(token string) {
	VerifySecret(r.dummyHash, token)
}

// InvalidateRunner drops cached verifications for a runner. Called when a
// runner is disabled, deleted or re-keyed.
func (r *Resolver) InvalidateRunner(runnerID string) {
	for _, key := range r.cache.Keys() {
		if entry, ok := r.cache.Peek(key); ok && entry.runnerID == runnerID {
			r.cache.Remove(key)
		}
	}
}
