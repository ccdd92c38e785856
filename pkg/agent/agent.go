package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/challengectl/challengectl/pkg/client"
	"github.com/challengectl/challengectl/pkg/config"
	"github.com/challengectl/challengectl/pkg/log"
	"github.com/challengectl/challengectl/pkg/modulation"
	"github.com/challengectl/challengectl/pkg/types"
)

const (
	// startupProbeAttempts bounds how long the agent waits for the
	// controller at boot before giving up
	startupProbeAttempts = 30
	startupProbeDelay    = 2 * time.Second

	// maxPollBackoff caps the poll interval growth while the controller
	// is unreachable or rejecting us
	maxPollBackoff = 5 * time.Minute

	// reportAttempts bounds redelivery of a completion report. A report
	// held back longer than the assignment lease would come back stale
	// anyway, so there is no point retrying forever.
	reportAttempts   = 5
	reportRetryDelay = 5 * time.Second
)

// Agent is the runner-side daemon: it enrolls once, registers its
// devices, heartbeats, polls for transmit tasks, and reports outcomes.
type Agent struct {
	cfg     *config.Agent
	devices []types.Device
	tx      *modulation.Transmitter
	version string

	client   *client.Client
	cache    *fileCache
	runnerID string
	mac      string
	machID   string

	logger zerolog.Logger
	wg     sync.WaitGroup
}

// New validates the agent configuration and prepares a runnable agent.
// It performs no network I/O; Run does.
func New(cfg *config.Agent, version string) (*Agent, error) {
	devices := make([]types.Device, 0, len(cfg.Devices))
	for _, dc := range cfg.Devices {
		dev, err := dc.ToDevice()
		if err != nil {
			return nil, err
		}
		devices = append(devices, dev)
	}

	mac := hostMAC()
	machID := hostMachineID()
	if mac == "" && machID == "" {
		return nil, fmt.Errorf("no MAC address or machine id available to pin credentials to")
	}

	return &Agent{
		cfg:     cfg,
		devices: devices,
		tx:      modulation.NewTransmitter(cfg.Tools, cfg.SpectrumPaint),
		version: version,
		mac:     mac,
		machID:  machID,
		logger:  log.WithComponent("agent"),
	}, nil
}

// Run drives the full agent lifecycle and blocks until ctx is cancelled
// or a fatal error occurs. Cancellation signs the runner out before
// returning so the controller marks it offline immediately.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.waitForController(ctx); err != nil {
		return err
	}
	if err := a.ensureIdentity(ctx); err != nil {
		return err
	}

	cache, err := newFileCache(a.cfg.CacheDir, a.client, a.logger)
	if err != nil {
		return err
	}
	a.cache = cache

	if err := a.register(); err != nil {
		return err
	}

	a.wg.Add(1)
	go a.heartbeatLoop(ctx)

	a.pollLoop(ctx)

	a.wg.Wait()
	if err := a.client.Signout(a.runnerID); err != nil {
		a.logger.Warn().Err(err).Msg("Signout failed")
	} else {
		a.logger.Info().Msg("Signed out")
	}
	return nil
}

// waitForController probes the health endpoint until the controller
// answers. A fresh fleet often boots agents before the controller.
func (a *Agent) waitForController(ctx context.Context) error {
	probe := client.NewRunner(a.cfg.ControllerURL, "", a.mac, a.machID, a.cfg.InsecureSkipVerify)
	for attempt := 1; attempt <= startupProbeAttempts; attempt++ {
		err := probe.Health()
		if err == nil {
			return nil
		}
		a.logger.Debug().Err(err).Int("attempt", attempt).Msg("Controller not reachable yet")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(startupProbeDelay):
		}
	}
	return fmt.Errorf("controller %s not reachable after %d attempts", a.cfg.ControllerURL, startupProbeAttempts)
}

// ensureIdentity loads the persisted runner identity or enrolls with the
// configured token to obtain one, then builds the authenticated client.
func (a *Agent) ensureIdentity(ctx context.Context) error {
	id, err := loadIdentity(a.cfg.StateDir)
	if err != nil {
		return err
	}
	if id == nil {
		if a.cfg.EnrollmentToken == "" {
			return fmt.Errorf("no saved identity in %s and no enrollment_token configured", a.cfg.StateDir)
		}
		id, err = a.enroll(ctx)
		if err != nil {
			return err
		}
	}

	a.runnerID = id.RunnerID
	a.client = client.NewRunner(a.cfg.ControllerURL, id.APIKey, a.mac, a.machID, a.cfg.InsecureSkipVerify)
	a.logger = a.logger.With().Str("runner_id", a.runnerID).Logger()
	return nil
}

func (a *Agent) enroll(ctx context.Context) (*identity, error) {
	ec := client.NewEnrollment(a.cfg.ControllerURL, a.cfg.EnrollmentToken, a.mac, a.machID, a.cfg.InsecureSkipVerify)
	resp, err := ec.Enroll(a.cfg.Name, a.version, a.devices)
	if err != nil {
		if errors.Is(err, types.ErrAuth) {
			return nil, fmt.Errorf("enrollment token rejected: %w", err)
		}
		if errors.Is(err, types.ErrConflict) {
			return nil, fmt.Errorf("enrollment token already used, mint a new one: %w", err)
		}
		return nil, fmt.Errorf("enrollment failed: %w", err)
	}

	id := &identity{RunnerID: resp.RunnerID, Name: resp.Name, APIKey: resp.APIKey}
	if err := saveIdentity(a.cfg.StateDir, id); err != nil {
		return nil, err
	}
	a.logger.Info().
		Str("runner_id", id.RunnerID).
		Str("name", id.Name).
		Msg("Enrolled with controller")
	return id, nil
}

// register announces the device inventory. An auth rejection here is
// fatal: the saved key no longer matches what the controller holds.
func (a *Agent) register() error {
	hostname, _ := os.Hostname()
	runner, err := a.client.Register(&types.RegisterRequest{
		Name:         a.cfg.Name,
		Hostname:     hostname,
		AgentVersion: a.version,
		Devices:      a.devices,
	})
	if err != nil {
		if errors.Is(err, types.ErrAuth) {
			return fmt.Errorf("credentials rejected at registration, re-enroll this runner: %w", err)
		}
		return fmt.Errorf("registration failed: %w", err)
	}
	a.logger.Info().
		Str("name", runner.Name).
		Int("devices", len(runner.Devices)).
		Msg("Registered with controller")
	return nil
}

// heartbeatLoop refreshes liveness on a fixed interval. Failures are
// logged and skipped; the poll loop is the authority on reachability.
func (a *Agent) heartbeatLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.HeartbeatInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := a.client.Heartbeat(a.runnerID); err != nil {
				a.logger.Warn().Err(err).Msg("Heartbeat failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// pollLoop asks for work until ctx is cancelled. The interval doubles up
// to a cap while the controller errors, including auth errors: a
// disabled runner keeps polling slowly so re-enabling it does not
// require restarting the agent.
func (a *Agent) pollLoop(ctx context.Context) {
	interval := a.cfg.PollInterval.Std()
	delay := interval

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		task, err := a.client.PollTask(a.runnerID)
		switch {
		case errors.Is(err, types.ErrNoWork):
			delay = interval
		case err != nil:
			delay = min(delay*2, maxPollBackoff)
			a.logger.Warn().Err(err).Dur("retry_in", delay).Msg("Task poll failed")
		default:
			a.execute(ctx, task)
			delay = interval
		}

		timer.Reset(delay)
	}
}

// execute runs one task end to end: pick a device, materialize payload
// files, transmit, report. Every path produces exactly one report.
func (a *Agent) execute(ctx context.Context, task *types.Task) {
	logger := a.logger.With().
		Str("challenge_id", task.ChallengeID).
		Str("challenge", task.Name).
		Uint64("frequency_hz", task.FrequencyHz).
		Logger()

	report := &types.Report{
		ChallengeID: task.ChallengeID,
		FrequencyHz: task.FrequencyHz,
		StartedAt:   time.Now(),
	}

	dev, ok := a.deviceFor(task.FrequencyHz)
	if !ok {
		report.Outcome = types.OutcomeFailure
		report.Detail = fmt.Sprintf("no device covers %d Hz", task.FrequencyHz)
		report.Duration = time.Since(report.StartedAt)
		logger.Error().Str("detail", report.Detail).Msg("Cannot transmit")
		a.report(ctx, report, logger)
		return
	}
	report.DeviceID = dev.Name

	paths, err := a.cache.resolve(task.Files)
	if err != nil {
		report.Outcome = types.OutcomeFailure
		report.Detail = err.Error()
		report.Duration = time.Since(report.StartedAt)
		logger.Error().Err(err).Msg("Payload files unavailable")
		a.report(ctx, report, logger)
		return
	}

	logger.Info().Str("device", dev.Name).Str("modulation", task.Modulation).Msg("Transmitting")
	res := a.tx.Transmit(ctx, &modulation.Request{
		Modulation:  task.Modulation,
		FrequencyHz: task.FrequencyHz,
		Device:      deviceHandle(dev),
		Files:       paths,
		Params:      task.Params,
	})

	report.Outcome = res.Outcome
	report.Detail = res.Detail
	report.StartedAt = res.StartedAt
	report.Duration = res.Duration

	if res.Outcome == types.OutcomeSuccess {
		logger.Info().Dur("duration", res.Duration).Msg("Transmission complete")
	} else {
		logger.Error().Str("detail", res.Detail).Msg("Transmission failed")
	}
	a.report(ctx, report, logger)
}

// report delivers a completion report, retrying transient failures. A
// stale-assignment conflict means the lease expired while we worked;
// the controller has already requeued the challenge, so drop it.
func (a *Agent) report(ctx context.Context, report *types.Report, logger zerolog.Logger) {
	for attempt := 1; attempt <= reportAttempts; attempt++ {
		err := a.client.Complete(a.runnerID, report)
		if err == nil {
			return
		}
		if errors.Is(err, types.ErrConflict) {
			logger.Warn().Msg("Report was stale, dropping")
			return
		}
		if !client.Retryable(err) {
			logger.Error().Err(err).Msg("Report rejected")
			return
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("Report delivery failed")
		select {
		case <-ctx.Done():
			return
		case <-time.After(reportRetryDelay):
		}
	}
	logger.Error().Int("attempts", reportAttempts).Msg("Report abandoned")
}

// deviceFor picks the first configured device whose transmit ranges
// cover the frequency. Devices are tried in config order, so operators
// control preference by ordering.
func (a *Agent) deviceFor(hz uint64) (types.Device, bool) {
	for _, dev := range a.devices {
		if dev.Frequencies.Contains(hz) {
			return dev, true
		}
	}
	return types.Device{}, false
}

// deviceHandle is the device selector handed to transmit tools
func deviceHandle(dev types.Device) string {
	if dev.Serial != "" {
		return dev.Serial
	}
	return dev.Name
}
