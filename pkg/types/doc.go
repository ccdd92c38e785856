/*
Package types defines the core data structures shared by the controller,
the runner agent, and the client.

This package contains the domain model: challenges and their dispatch
state, runners and their radio inventory, transmit tasks and reports, the
transmission audit row, payload file metadata, and the credential records
(enrollment tokens, provisioning keys, admin users and sessions). It has
no dependencies beyond the standard library plus the frequency set type,
so every other package can import it freely.

# Core Types

Challenge:
  - One repeating RF emission: modulation, frequency set, payload files,
    priority, and the min/max delay window between transmissions
  - Carries its own dispatch state (Status, AssignedTo, NextTxTime, ...)

Runner:
  - One enrolled transmit host: identity, bcrypt API key hash, device
    inventory, liveness status, and heartbeat bookkeeping
  - Capabilities() unions the device frequency sets

Task:
  - The wire form of one assignment handed to a runner: what to transmit,
    on which frequency, with which files, and the expiry deadline

Report:
  - The runner's completion claim for a task: outcome, detail, timing

Transmission:
  - One immutable audit row. Stale marks reports that arrived after the
    assignment had been reclaimed

EnrollmentToken / ProvisioningKey / User / Session:
  - The credential records behind enrollment, factory pre-staging, and
    the admin API

# State Machine

Challenge dispatch status:

	            enable                    assign
	 disabled ─────────► queued ────────────────────► assigned
	    ▲                  ▲                             │
	    │ disable          │ promote (NextTxTime due)    │ report or
	    │                  │                             │ reclaim
	    └────────────── waiting ◄────────────────────────┘

A challenge is eligible for dispatch only in queued. Reports and
reclaims both land in waiting with a fresh NextTxTime; the promotion to
queued happens inside the next assignment scan.

Runner liveness status is online, busy, or offline. Busy means the
runner holds an assignment; offline is set by the heartbeat sweep and
cleared by the runner's next authenticated call.

# Errors

The sentinel errors (ErrNotFound, ErrAuth, ErrForbidden, ErrConflict,
ErrStaleAssignment, ErrNoWork, ErrCorrupt) classify failures across
package boundaries. They are matched with errors.Is and mapped onto
HTTP status codes at the API layer, so wrapping with fmt.Errorf("...: %w")
preserves the classification.

# Thread Safety

Types here are plain data. Records loaded from storage are private
copies; mutating one never races another goroutine. Cross-record
consistency is the storage transaction's job, not the type's.

# See Also

  - pkg/freq for the frequency set algebra used by Challenge and Device
  - pkg/storage for how these records persist
*/
package types
