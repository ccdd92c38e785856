/*
Package controller assembles the controller process.

It owns construction order, startup duties, and reverse-order shutdown
for every controller-side component. Nothing here contains dispatch or
storage logic; this package only wires and sequences.

# Architecture

	┌─────────────────────── CONTROLLER ───────────────────────┐
	│                                                          │
	│  api.Server ──▶ dispatch.Dispatcher ──▶ storage.Store    │
	│      │               │        │              ▲           │
	│      │               ▼        ▼              │           │
	│      │        events.Broker  auth.Resolver ──┘           │
	│      │               ▲                                   │
	│      ▼               │                                   │
	│  blob.Store   monitor.Monitor (sweeps)                   │
	│               metrics.Collector (gauges)                 │
	└──────────────────────────────────────────────────────────┘

# Startup

Run performs, in order: ensure the admin account and session file, apply
the configured challenge manifest (diff-based, so reapplying is cheap),
provision TLS material if needed, bind the listener, then start broker,
monitor, collector, and the HTTP server. Manifest errors are fatal at
boot; a controller serving a catalog it could not parse helps nobody.

# Shutdown

Context cancellation drains the HTTP server first, then stops the
sweeps, the collector, and the broker, and closes the store last so
components can still write while draining.

The admin session file (<data-dir>/admin-session, 0600) holds the
session token on the first line and the CSRF token on the second. It is
reissued only when the saved session no longer resolves.
*/
package controller
