/*
Package agent implements the runner-side daemon that executes transmit tasks.

The agent is the fleet's data plane: it enrolls with the controller once,
registers its SDR inventory on every boot, heartbeats, polls for work,
materializes payload files into a local cache, and invokes modulation
tools. The controller never connects to an agent; everything is
agent-initiated HTTP, so runners work from behind NAT.

# Architecture

	┌──────────────────────── RUNNER HOST ────────────────────────┐
	│                                                             │
	│  ┌───────────────────────────────────────────┐              │
	│  │                Agent                      │              │
	│  │  - startup health probe                   │              │
	│  │  - enroll-once / load identity            │              │
	│  │  - register device inventory              │              │
	│  │  - heartbeat loop (30s)                   │              │
	│  │  - poll loop (10s, backoff to 5m)         │              │
	│  └──────┬──────────────────────┬─────────────┘              │
	│         │                      │                            │
	│  ┌──────▼───────┐       ┌──────▼────────────┐               │
	│  │  fileCache   │       │  modulation.      │               │
	│  │  - sha256    │       │  Transmitter      │               │
	│  │    addressed │       │  - tool registry  │               │
	│  │  - verify on │       │  - paint pre-pass │               │
	│  │    download  │       │  - exit code 0 =  │               │
	│  └──────────────┘       │    success        │               │
	│                         └───────────────────┘               │
	└─────────────────────────────────────────────────────────────┘

# Lifecycle

 1. Probe GET /health until the controller answers (bounded retries).
 2. Load identity.json from the state dir; if absent, trade the
    configured enrollment token for a runner id and api key, then save
    them 0600. The token is single-use; a second agent reusing the same
    config file will fail enrollment.
 3. Register the parsed device inventory. A 401 here is fatal: the key
    on disk no longer matches the controller and the operator must
    re-enroll.
 4. Heartbeat and poll concurrently until the context is cancelled,
    then sign out so the controller marks the runner offline at once.

# Failure Policy

Transient controller errors (5xx, transport) grow the poll interval
exponentially up to a cap. Auth errors during polling do NOT exit: a
disabled runner keeps polling slowly and resumes when re-enabled.
Completion reports are redelivered a bounded number of times; a 409
means the assignment lease expired while transmitting and the report is
dropped, because the controller has already requeued the challenge.

# Usage

	cfg, err := config.LoadAgent(path)
	if err != nil {
		return err
	}
	a, err := agent.New(cfg, version)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return a.Run(ctx)

# See Also

  - pkg/modulation: tool registry and subprocess execution
  - pkg/client: the HTTP client the agent drives
  - pkg/dispatch: the controller-side counterpart of the poll loop
*/
package agent
