/*
Package monitor runs the controller's periodic liveness sweeps.

Runners fail silently: a host loses power, a radio wedges, a network
path disappears. Nothing tells the controller except absence, so the
monitor turns absence into state changes on a timer.

Three sweeps share one loop:

  - SweepRunners marks runners offline once their last heartbeat falls
    behind the timeout. Their assignments stay put; expiry is the
    assignment sweep's call.
  - SweepAssignments reclaims assignments whose deadline has passed,
    writing a timeout failure row and requeueing the challenge for the
    next eligible runner.
  - SweepCredentials deletes expired and burned enrollment tokens plus
    expired admin sessions.

Each sweep is one storage transaction, and a TryLock skips a tick when
the previous sweep still runs rather than queueing behind it. Sweep
results are published as events and counted in metrics, so a dashboard
shows a reclaim the moment it happens.
*/
package monitor
