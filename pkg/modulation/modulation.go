package modulation

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/challengectl/challengectl/pkg/log"
	"github.com/challengectl/challengectl/pkg/types"
)

const (
	// DefaultTimeout bounds a single transmit invocation. Long file
	// replays on slow hardware can legitimately run for minutes.
	DefaultTimeout = 10 * time.Minute

	// paintTimeout bounds the decorative pre-pass, which is always short
	paintTimeout = 2 * time.Minute

	// maxDetailLen caps the stderr excerpt carried into a report
	maxDetailLen = 512
)

// Request describes one transmit invocation. Files are local paths in
// transmit order; the agent resolves digest references into its cache
// before building the request.
type Request struct {
	Modulation  string
	FrequencyHz uint64
	Device      string
	Files       []string
	Params      map[string]string
}

// Result is the outcome of a transmit invocation. Failures fold the
// process error and a stderr excerpt into Detail rather than returning
// an error, so a result always maps directly onto a report.
type Result struct {
	Outcome   types.Outcome
	Detail    string
	StartedAt time.Time
	Duration  time.Duration
}

// Transmitter runs modulation wrapper binaries as subprocesses
type Transmitter struct {
	// Tools overrides or extends the built-in kind-to-binary table
	Tools map[string]string

	// Timeout is the per-invocation execution timeout (default: 10 minutes)
	Timeout time.Duration

	// Paint enables the spectrum-paint pre-pass before every transmit
	// whose own modulation is not already spectrum paint
	Paint bool

	logger zerolog.Logger
}

// NewTransmitter creates a transmitter with the default timeout
func NewTransmitter(tools map[string]string, paint bool) *Transmitter {
	return &Transmitter{
		Tools:   tools,
		Timeout: DefaultTimeout,
		Paint:   paint,
		logger:  log.WithComponent("modulation"),
	}
}

// Transmit runs the wrapper for the request's modulation kind and waits
// for it to exit. Success is exactly a zero exit code. When the paint
// pre-pass is enabled it runs first on the same frequency and device;
// a paint failure is logged and otherwise ignored, the primary
// transmission still proceeds.
func (t *Transmitter) Transmit(ctx context.Context, req *Request) Result {
	start := time.Now()

	tool, err := resolveTool(req.Modulation, t.Tools)
	if err != nil {
		return Result{
			Outcome:   types.OutcomeFailure,
			Detail:    err.Error(),
			StartedAt: start,
			Duration:  time.Since(start),
		}
	}

	if t.Paint && req.Modulation != KindSpectrumPaint {
		t.paintPass(ctx, req)
	}

	res := t.run(ctx, tool, req, t.timeout())
	res.StartedAt = start
	res.Duration = time.Since(start)
	return res
}

// paintPass runs the decorative spectrum-paint wrapper ahead of the
// primary transmission. It reuses the request's frequency and device
// but none of its files or params.
func (t *Transmitter) paintPass(ctx context.Context, req *Request) {
	tool, err := resolveTool(KindSpectrumPaint, t.Tools)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Spectrum paint enabled but no tool configured")
		return
	}
	paint := &Request{
		Modulation:  KindSpectrumPaint,
		FrequencyHz: req.FrequencyHz,
		Device:      req.Device,
	}
	res := t.run(ctx, tool, paint, paintTimeout)
	if res.Outcome != types.OutcomeSuccess {
		t.logger.Warn().
			Str("detail", res.Detail).
			Uint64("frequency_hz", req.FrequencyHz).
			Msg("Spectrum paint pass failed")
	}
}

func (t *Transmitter) run(ctx context.Context, tool string, req *Request, timeout time.Duration) Result {
	start := time.Now()
	args := argv(req)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, tool, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	t.logger.Debug().
		Str("tool", tool).
		Strs("args", args).
		Msg("Invoking transmit tool")

	err := cmd.Run()
	if err != nil {
		detail := fmt.Sprintf("%s: %v", tool, err)
		if execCtx.Err() == context.DeadlineExceeded {
			detail = fmt.Sprintf("%s: timed out after %s", tool, timeout)
		}
		if tail := excerpt(stderr.String()); tail != "" {
			detail = fmt.Sprintf("%s: %s", detail, tail)
		}
		return Result{
			Outcome:   types.OutcomeFailure,
			Detail:    detail,
			StartedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Outcome:   types.OutcomeSuccess,
		StartedAt: start,
		Duration:  time.Since(start),
	}
}

// argv builds the uniform wrapper argument list. Every wrapper binary
// accepts: --frequency <hz>, optional --device <serial>, repeated
// --param key=value pairs in sorted key order, then the payload file
// paths as positional arguments.
func argv(req *Request) []string {
	args := []string{"--frequency", strconv.FormatUint(req.FrequencyHz, 10)}
	if req.Device != "" {
		args = append(args, "--device", req.Device)
	}
	keys := make([]string, 0, len(req.Params))
	for k := range req.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--param", k+"="+req.Params[k])
	}
	return append(args, req.Files...)
}

func (t *Transmitter) timeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return DefaultTimeout
}

// excerpt trims and caps tool stderr for inclusion in a report detail
func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxDetailLen {
		s = s[:maxDetailLen] + "..."
	}
	return s
}
