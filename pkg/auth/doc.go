/*
Package auth resolves credentials into principals and manages the
accounts behind them.

Four credential kinds reach the API: runner API keys, enrollment tokens,
provisioning keys, and admin session cookies. The resolver turns
whatever arrived on a request into a Principal; the middleware in
pkg/api then decides whether that principal may do what the route does.

# Resolution

A bearer accompanied by host identifier headers is presumed to be a
runner: candidates are looked up by machine ID or MAC, and the bcrypt
comparison against each candidate's stored hash decides identity, so
hosts sharing a cloned machine image still resolve correctly. A bearer
that verifies against no candidate falls through to enrollment token
resolution, which is how a fresh host's first request and a re-enrolling
host's recovery both work. A bare bearer tries provisioning keys, then
enrollment tokens. Session cookies resolve to admin principals.

Verified keys are cached by their SHA-256 in a bounded LRU so the bcrypt
cost is paid once per key, not once per poll. Unknown-host failures burn
a dummy bcrypt comparison to keep timing flat.

# Enrollment

Enroll trades a token for a runner identity inside one storage
transaction: the runner row is written and the token is marked used in
the same commit, so exactly one presenter of a token can win. The loser
sees a conflict, not a generic auth failure. Used tokens linger until
the credential sweep deletes them.

Re-enrollment tokens carry the runner ID they replace credentials for;
enrolling against one rotates the stored key hash instead of minting a
new identity.

# Accounts

EnsureUser, session issuance, and provisioning key management live here
too. API keys and tokens are generated from crypto/rand and stored only
as bcrypt hashes; the plaintext appears exactly once, in the response
that created it.

# See Also

  - pkg/api for the middleware that enforces principal kinds per route
  - pkg/monitor for the sweep that removes burned and expired tokens
*/
package auth
