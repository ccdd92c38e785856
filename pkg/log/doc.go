/*
Package log provides structured logging built on zerolog.

The log package wraps zerolog with a process-global logger, a small level
vocabulary, and helpers for the component-scoped child loggers the rest
of the codebase uses. Output is either JSON for machine collection or a
human console format for interactive use.

# Log Levels

	debug  - per-request and per-poll detail, off in production
	info   - lifecycle events: startup, enrollment, assignment, sweeps
	warn   - recoverable oddities: stale reports, invalid saved sessions
	error  - failed operations that the caller handles or retries

Level and format come from configuration (log_level, log_json in the
config files, or flags on the CLIs).

# Usage

Initialize once at process start:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

Components take a child logger and attach context fields:

	logger := log.WithComponent("dispatch")
	logger.Info().
		Str("challenge_id", ch.ID).
		Str("runner_id", runner.ID).
		Msg("Challenge assigned")

WithRunnerID and WithChallengeID exist for the two fields that appear
everywhere. The zero-value zerolog.Logger is a usable no-op, which is
what tests rely on when they skip Init.

# Output Examples

JSON:

	{"level":"info","component":"dispatch","challenge_id":"b4f0...","time":"2026-08-24T10:12:03Z","message":"Challenge assigned"}

Console:

	2026-08-24T10:12:03Z INF Challenge assigned component=dispatch challenge_id=b4f0...

# See Also

  - github.com/rs/zerolog for the underlying API
*/
package log
