/*
Package storage provides BoltDB-backed state persistence for the controller.

The storage package wraps bbolt with typed transaction accessors for every
durable record the controller keeps: challenges, runners, the transmission
audit log, payload file metadata, enrollment tokens, provisioning keys,
admin users, admin sessions, and system state. All data is serialized as
JSON and stored in separate buckets.

# Architecture

A single database file holds all controller state:

	┌──────────────────── BOLTDB STORAGE ────────────────────┐
	│                                                         │
	│  ┌───────────────────────────────────────────┐         │
	│  │            Store                          │         │
	│  │  - File: <dataDir>/challengectl.db        │         │
	│  │  - Open: 0600, 5s lock timeout            │         │
	│  │  - Migrations applied on open             │         │
	│  └──────────────────┬────────────────────────┘         │
	│                     │                                   │
	│  ┌──────────────────▼────────────────────────┐         │
	│  │              Bucket Structure             │         │
	│  │  ┌─────────────────────────────────┐      │         │
	│  │  │ challenges        (Challenge ID)│      │         │
	│  │  │ runners           (Runner ID)   │      │         │
	│  │  │ transmissions     (sequence)    │      │         │
	│  │  │ files             (digest)      │      │         │
	│  │  │ enrollment_tokens (token)       │      │         │
	│  │  │ provisioning_keys (key ID)      │      │         │
	│  │  │ users             (username)    │      │         │
	│  │  │ sessions          (token)       │      │         │
	│  │  │ system_state      (fixed keys)  │      │         │
	│  │  └─────────────────────────────────┘      │         │
	│  └──────────────────┬────────────────────────┘         │
	│                     │                                   │
	│  ┌──────────────────▼────────────────────────┐         │
	│  │        Transaction Management             │         │
	│  │  - Read:  Store.View()   concurrent       │         │
	│  │  - Write: Store.Update() single writer    │         │
	│  │  - Rollback: automatic on error           │         │
	│  │  - Commit: automatic on success + fsync   │         │
	│  └───────────────────────────────────────────┘         │
	└─────────────────────────────────────────────────────────┘

# Core Components

Store:
  - Opens the database and applies pending schema migrations
  - Update() runs the callback as the sole writer; every read-modify-write
    inside one call commits atomically
  - View() runs against a consistent snapshot and never blocks writers

Tx:
  - Typed accessors over one bolt transaction (GetChallenge, SaveRunner,
    AppendTransmission, ...)
  - The dispatcher composes several accessors inside a single Update so an
    assignment decision and its state change commit together

Transmission log:
  - Append-only; keys are zero-padded NextSequence numbers so cursor order
    equals insertion order
  - ForEachTransmissionDesc iterates newest-first for the audit API

Migrations:
  - Ordered idempotent steps recorded under system_state/schema_version
  - A database newer than the binary refuses to open rather than guessing

# Usage

Open a store and read a challenge:

	store, err := storage.Open("/var/lib/challengectl")
	if err != nil {
		return err
	}
	defer store.Close()

	var ch *types.Challenge
	err = store.View(func(tx *storage.Tx) error {
		var err error
		ch, err = tx.GetChallenge(id)
		return err
	})

Atomically assign inside one write transaction:

	err = store.Update(func(tx *storage.Tx) error {
		ch, err := tx.GetChallenge(id)
		if err != nil {
			return err
		}
		ch.Status = types.ChallengeAssigned
		ch.AssignedTo = runnerID
		return tx.SaveChallenge(ch)
	})

Convenience wrappers (Store.GetChallenge, Store.ListRunners, ...) exist for
single-record reads; anything that spans records belongs in an explicit
View or Update.

# Data Integrity

JSON decode failures on values the store itself wrote are classified as
types.ErrCorrupt and treated as fatal by callers; a damaged database file
is not something the controller limps through. Writes go through fsync on
commit, so a crash loses at most the in-flight transaction.

# Integration Points

  - pkg/dispatch: all assignment state machines run inside Store.Update
  - pkg/auth: credential lookups and enrollment burns
  - pkg/monitor: liveness sweeps rewrite runner and challenge rows
  - pkg/api: read paths for lists, dashboards, and the audit log
  - pkg/metrics: the collector derives gauge values from Stats()

# See Also

  - pkg/types for the stored record shapes
  - pkg/dispatch for the state machines that run inside transactions
*/
package storage
