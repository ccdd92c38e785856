/*
Package modulation invokes RF transmit tools as subprocesses.

The dispatch core treats modulation as opaque: a transmit attempt is one
wrapper binary run to completion, and success is exactly a zero exit
code. This package owns the kind-to-binary registry, the uniform
argument convention, and the optional spectrum-paint pre-pass.

# Argument Convention

Every wrapper binary, built-in or operator-supplied, is invoked as:

	<tool> --frequency <hz> [--device <serial>] [--param k=v ...] [file ...]

Params are passed in sorted key order so invocations are reproducible.
Payload files arrive as positional arguments in challenge order, already
resolved to local paths by the agent's file cache.

# Usage

	tr := modulation.NewTransmitter(cfg.Tools, cfg.SpectrumPaint)
	res := tr.Transmit(ctx, &modulation.Request{
		Modulation:  task.Modulation,
		FrequencyHz: task.FrequencyHz,
		Device:      device.Serial,
		Files:       paths,
		Params:      task.Params,
	})
	if res.Outcome == types.OutcomeFailure {
		// res.Detail carries the process error and a stderr excerpt
	}

Transmit never returns an error; failures fold into the Result so the
caller can report them verbatim. Timeouts come from the Transmitter, not
the caller's context, though cancelling the context kills the subprocess
too.

# Spectrum Paint

When enabled, a short decorative pass runs on the task's frequency and
device before the primary transmission. Paint failures are logged and
swallowed; only the primary invocation decides the reported outcome.
*/
package modulation
