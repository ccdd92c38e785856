/*
Package api implements the controller's HTTP control plane.

The api package exposes every externally visible operation of the
controller: agent enrollment and work dispatch, file distribution, admin
challenge and runner management, the audit log, the dashboard, and the
live event stream. Handlers contain no domain logic; they authenticate the
caller, decode the request, call into the dispatcher, resolver, or store,
and translate domain errors into HTTP status codes.

# Architecture

	┌───────────────────────── API SERVER ─────────────────────────┐
	│                                                               │
	│  Request                                                      │
	│     │                                                         │
	│  ┌──▼──────────────────────────────────────────┐             │
	│  │ chi middleware chain                         │             │
	│  │  RequestID → RealIP → logger → Recoverer     │             │
	│  └──┬──────────────────────────────────────────┘             │
	│     │                                                         │
	│  ┌──▼──────────────────────────────────────────┐             │
	│  │ authenticate                                 │             │
	│  │  bearer / host headers / session cookie      │             │
	│  │  → auth.Resolver → Principal in context      │             │
	│  └──┬──────────────────────────────────────────┘             │
	│     │                                                         │
	│  ┌──▼──────────────────────────────────────────┐             │
	│  │ route guards                                 │             │
	│  │  requireRunner   (self-pinned via {id})      │             │
	│  │  requireAdmin    (+ CSRF on mutations)       │             │
	│  │  requireEnrollment / requireTokenMinter      │             │
	│  └──┬──────────────────────────────────────────┘             │
	│     │                                                         │
	│  ┌──▼──────────────────────────────────────────┐             │
	│  │ handlers                                     │             │
	│  │  dispatch.Dispatcher  (work lifecycle)       │             │
	│  │  auth.Resolver        (identity, tokens)     │             │
	│  │  blob.Store           (payload files)        │             │
	│  │  storage.Store        (reads, audit)         │             │
	│  │  events.Broker        (websocket relay)      │             │
	│  └─────────────────────────────────────────────┘             │
	└───────────────────────────────────────────────────────────────┘

# Route Groups

Agent endpoints (runner bearer key plus host identity headers):
  - POST /api/v1/agents/register: refresh identity and device inventory
  - POST /api/v1/agents/{id}/heartbeat: liveness; returns current intervals
  - GET  /api/v1/agents/{id}/task: poll for work; 204 when none
  - POST /api/v1/agents/{id}/complete: transmission report; 409 when stale
  - POST /api/v1/agents/{id}/signout: graceful shutdown

Enrollment endpoints:
  - POST /api/v1/enrollment/enroll: single-use token → runner id + API key
  - POST /api/v1/enrollment/tokens: mint token (admin or provisioning key)
  - GET/DELETE under /enrollment/tokens: admin token management

Admin endpoints (session cookie, CSRF on mutations):
  - /api/v1/challenges: list, detail, trigger, enable, disable, delete,
    and manifest reload
  - /api/v1/runners: list, enable, disable, delete
  - /api/v1/files: multipart upload, list; GET /files/{digest} also serves
    runners
  - /api/v1/transmissions: filtered audit log
  - /api/v1/system/pause and /resume: dispatch gate
  - /api/v1/events/ws: websocket event stream, snapshot first

Public endpoints:
  - GET /api/v1/dashboard: full state for admins, public scoreboard for
    anonymous callers
  - GET /health, /ready, /metrics: unauthenticated probes

# Error Mapping

Domain errors map onto status codes in one place (writeError):

	types.ErrAuth            → 401
	types.ErrForbidden       → 403
	types.ErrNotFound        → 404
	types.ErrConflict        → 409
	types.ErrStaleAssignment → 409
	types.ErrNoWork          → 204 (task polling only)
	anything else            → 500, body sanitized

Agents treat 5xx as retryable, 409 as final, and 401 during registration
as fatal.

# Usage

	server := api.NewServer(api.Options{
		Store:      store,
		Blobs:      blobs,
		Dispatcher: dispatcher,
		Resolver:   resolver,
		Broker:     broker,
		Tunables:   cfg.Tunables,
		Version:    version,
	})
	go func() {
		if err := server.Start(cfg.Listen, cfg.TLS); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("api server failed")
		}
	}()
	...
	server.Shutdown(ctx)

# Integration Points

This package integrates with:

  - pkg/dispatch: assignment, reporting, and admin lifecycle operations
  - pkg/auth: principal resolution, enrollment, token and session minting
  - pkg/blob: content-addressed payload storage
  - pkg/storage: read paths and the transmission audit log
  - pkg/events: websocket relay of dispatch events
  - pkg/metrics: request counters, latency histograms, subscriber gauge

# Security Notes

Runner routes are pinned to the authenticated identity: the {id} path
segment must match the principal's runner id, so one leaked key cannot act
for another runner. Admin mutations require the CSRF token minted with the
session. API key hashes are stripped from every response. The enrollment
route refuses runner and admin credentials outright; identities are minted
only from enrollment tokens.
*/
package api
