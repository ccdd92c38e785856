/*
Package dispatch implements the assignment core: which challenge goes to
which runner, and what happens when the runner answers.

Everything here runs inside a single storage write transaction, so two
runners polling at the same instant can never be handed the same
challenge, and a report can never race a reclaim. The dispatcher holds no
state of its own; the database rows are the only truth.

# Assignment

AssignOne is the poll entry point. One call, one transaction:

 1. Refresh the polling runner's liveness (a poll is as good as a
    heartbeat; an offline runner polling comes back online)
 2. Bail out with no work while dispatch is paused
 3. Promote waiting challenges whose NextTxTime has arrived
 4. Shuffle the queued set, then stable-sort by priority descending, so
    equal-priority challenges spread across the fleet instead of
    starving in insertion order
 5. Hand out the first challenge whose frequency set intersects the
    runner's device capabilities, picking a transmit frequency from the
    intersection
 6. Mark the challenge assigned with an expiry deadline and the runner
    busy, and commit

# Completion

ReportComplete audits first and asks questions later: every report gets
a transmission row. A report for an assignment the runner no longer
holds is recorded with the stale flag and refused; a current report
clears the assignment, bumps the transmission count, and schedules the
next cycle at now plus a uniform draw from the challenge's delay window.
Success and failure follow the same path; a failed transmission retries
on the ordinary schedule rather than a special one.

# Reclaim

ReclaimAssignments pulls every assignment a runner holds back into the
queue, writing failure rows with the caller's detail string. Signout
uses it with "shutdown"; operators disabling a runner use "disabled".
The TTL sweep in pkg/monitor writes "timeout" through its own path.

# Admin Operations

Reload applies a manifest: challenges are matched by name, created or
updated in place, and dispatch state survives a definition update.
Trigger, Enable, Disable, and Delete adjust one challenge; Pause and
Resume flip the global gate. All of them follow the same
transaction-per-operation rule as the dispatch path.

# See Also

  - pkg/monitor for the sweeps that enforce liveness deadlines
  - pkg/storage for the transaction model this package leans on
*/
package dispatch
