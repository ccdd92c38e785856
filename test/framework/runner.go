package framework

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/challengectl/challengectl/pkg/agent"
	"github.com/challengectl/challengectl/pkg/client"
	"github.com/challengectl/challengectl/pkg/config"
	"github.com/challengectl/challengectl/pkg/modulation"
	"github.com/challengectl/challengectl/pkg/types"
)

// Agent runs a real runner agent inside the test process. It enrolls
// against a harness controller and transmits through a stub shell script
// instead of SDR tooling, recording every invocation in CallLog.
type Agent struct {
	Name     string
	CallLog  string
	CacheDir string

	cancel context.CancelFunc
	done   chan error

	stopOnce sync.Once
	stopErr  error
}

// AgentOptions tune the stub hardware an in-process agent presents.
type AgentOptions struct {
	// Frequencies the stub device claims to cover. Empty means the
	// whole usable span, so any challenge matches.
	Frequencies []string
	// ToolDelay makes the stub transmit tool linger before exiting.
	ToolDelay time.Duration
	// ToolExit is the stub tool's exit code. Non-zero turns every
	// transmission into a failure report.
	ToolExit int
}

// StartAgent boots an agent named name against ctrl. The agent enrolls
// with a freshly minted token, presents one stub device, and keeps
// running until Stop or test cleanup.
func StartAgent(t *testing.T, ctrl *Controller, name string, opts AgentOptions) *Agent {
	t.Helper()

	dir := t.TempDir()
	callLog := filepath.Join(dir, "calls.log")
	tool := writeTransmitTool(t, dir, callLog, opts.ToolDelay, opts.ToolExit)

	freqs := opts.Frequencies
	if len(freqs) == 0 {
		freqs = []string{"1MHz-6GHz"}
	}
	tools := make(map[string]string)
	for _, kind := range modulation.Kinds() {
		tools[kind] = tool
	}

	cfg := &config.Agent{
		ControllerURL:     ctrl.URL(),
		Name:              name,
		EnrollmentToken:   ctrl.MintToken(t),
		StateDir:          filepath.Join(dir, "state"),
		CacheDir:          filepath.Join(dir, "cache"),
		PollInterval:      config.Duration(25 * time.Millisecond),
		HeartbeatInterval: config.Duration(50 * time.Millisecond),
		Devices: []config.DeviceConfig{{
			Name:        name + "-sdr",
			Driver:      "hackrf",
			Serial:      "serial-" + name,
			Frequencies: freqs,
		}},
		Tools: tools,
	}

	inner, err := agent.New(cfg, "e2e")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		Name:     name,
		CallLog:  callLog,
		CacheDir: cfg.CacheDir,
		cancel:   cancel,
		done:     make(chan error, 1),
	}
	go func() { a.done <- inner.Run(ctx) }()
	t.Cleanup(func() {
		if err := a.Stop(); err != nil {
			t.Errorf("agent %s: %v", name, err)
		}
	})
	return a
}

// Stop shuts the agent down gracefully, which signs the runner out of
// the controller. Safe to call more than once.
func (a *Agent) Stop() error {
	a.stopOnce.Do(func() {
		a.cancel()
		select {
		case a.stopErr = <-a.done:
		case <-time.After(stopTimeout):
			a.stopErr = fmt.Errorf("agent did not stop within %s", stopTimeout)
		}
	})
	return a.stopErr
}

// Calls returns the transmit tool invocations recorded so far, one
// argv line per transmission.
func (a *Agent) Calls(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(a.CallLog)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var calls []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			calls = append(calls, line)
		}
	}
	return calls
}

// writeTransmitTool drops a shell script that logs its argv, optionally
// sleeps, and exits with the given code.
func writeTransmitTool(t *testing.T, dir, callLog string, delay time.Duration, exitCode int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "printf '%%s\\n' \"$*\" >> %q\n", callLog)
	if delay > 0 {
		fmt.Fprintf(&b, "sleep %.3f\n", delay.Seconds())
	}
	fmt.Fprintf(&b, "exit %d\n", exitCode)

	path := filepath.Join(dir, "transmit-tool")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o755))
	return path
}

// RawRunner drives the agent API directly, without the agent loop's
// politeness. Tests use it when a scenario needs a runner that
// misbehaves: polling without reporting, reporting late, or vanishing
// with no signout.
type RawRunner struct {
	ID     string
	Name   string
	Device types.Device
	Client *client.Client
}

// EnrollRaw mints a token, enrolls a bare runner, and registers its
// device inventory. The runner shows up online and idle; nothing polls
// until the test does.
func EnrollRaw(t *testing.T, ctrl *Controller, name string, frequencies ...string) *RawRunner {
	t.Helper()

	if len(frequencies) == 0 {
		frequencies = []string{"1MHz-6GHz"}
	}
	dev, err := config.DeviceConfig{
		Name:        name + "-sdr",
		Driver:      "hackrf",
		Serial:      "serial-" + name,
		Frequencies: frequencies,
	}.ToDevice()
	require.NoError(t, err)

	machineID := "machine-" + name
	enroll := client.NewEnrollment(ctrl.URL(), ctrl.MintToken(t), "", machineID, false)
	res, err := enroll.Enroll(name, "e2e", []types.Device{dev})
	require.NoError(t, err)

	rc := client.NewRunner(ctrl.URL(), res.APIKey, "", machineID, false)
	_, err = rc.Register(&types.RegisterRequest{
		Name:         name,
		Hostname:     name + ".test",
		AgentVersion: "e2e",
		Devices:      []types.Device{dev},
	})
	require.NoError(t, err)

	return &RawRunner{ID: res.RunnerID, Name: name, Device: dev, Client: rc}
}

// Poll asks for work once. Returns nil when the controller has none.
func (r *RawRunner) Poll(t *testing.T) *types.Task {
	t.Helper()
	task, err := r.Client.PollTask(r.ID)
	if errors.Is(err, types.ErrNoWork) {
		return nil
	}
	require.NoError(t, err)
	return task
}

// PollUntilTask polls until the controller hands out work.
func (r *RawRunner) PollUntilTask(t *testing.T, timeout time.Duration) *types.Task {
	t.Helper()
	var (
		task    *types.Task
		lastErr error
	)
	require.Eventually(t, func() bool {
		got, err := r.Client.PollTask(r.ID)
		if err != nil {
			if !errors.Is(err, types.ErrNoWork) {
				lastErr = err
			}
			return false
		}
		task = got
		return true
	}, timeout, 20*time.Millisecond, "runner %s never received a task", r.Name)
	require.NoError(t, lastErr)
	return task
}

// Report submits a completion report for a task.
func (r *RawRunner) Report(task *types.Task, outcome types.Outcome, detail string) error {
	return r.Client.Complete(r.ID, &types.Report{
		ChallengeID: task.ChallengeID,
		DeviceID:    r.Device.Name,
		FrequencyHz: task.FrequencyHz,
		Outcome:     outcome,
		Detail:      detail,
		StartedAt:   time.Now().UTC(),
		Duration:    50 * time.Millisecond,
	})
}

// ReportSuccess closes out a task as transmitted.
func (r *RawRunner) ReportSuccess(t *testing.T, task *types.Task) {
	t.Helper()
	require.NoError(t, r.Report(task, types.OutcomeSuccess, ""))
}
