// Package framework boots real controllers and runner agents inside the
// test process. The controller binds an ephemeral port and the agents talk
// to it over loopback HTTP, so a scenario exercises the same code paths as
// a deployed fleet without external binaries or fixtures.
package framework

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/challengectl/challengectl/pkg/client"
	"github.com/challengectl/challengectl/pkg/config"
	"github.com/challengectl/challengectl/pkg/controller"
)

const stopTimeout = 10 * time.Second

// Controller is an in-process controller bound to an ephemeral loopback
// port. Construct it with StartController.
type Controller struct {
	DataDir string

	ctrl   *controller.Controller
	cancel context.CancelFunc
	done   chan error
}

// TestTunables shrinks every operational timer so scenarios that span
// heartbeat timeouts and assignment TTLs finish in seconds.
func TestTunables() config.Tunables {
	return config.Tunables{
		PollInterval:       config.Duration(25 * time.Millisecond),
		HeartbeatInterval:  config.Duration(50 * time.Millisecond),
		HeartbeatTimeout:   config.Duration(400 * time.Millisecond),
		AssignmentTTL:      config.Duration(600 * time.Millisecond),
		StaleSweepInterval: config.Duration(50 * time.Millisecond),
		TokenSweepInterval: config.Duration(time.Hour),
		SessionTimeout:     config.Duration(time.Hour),
	}
}

// StartController boots a controller on 127.0.0.1:0 and waits for the API
// to accept requests. It is stopped when the test finishes.
func StartController(t *testing.T, mutate ...func(*config.Controller)) *Controller {
	t.Helper()

	cfg := &config.Controller{
		Listen:   "127.0.0.1:0",
		DataDir:  t.TempDir(),
		Tunables: TestTunables(),
	}
	for _, fn := range mutate {
		fn(cfg)
	}

	ctrl, err := controller.New(cfg, "test")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		DataDir: cfg.DataDir,
		ctrl:    ctrl,
		cancel:  cancel,
		done:    make(chan error, 1),
	}
	go func() { c.done <- ctrl.Run(ctx) }()
	t.Cleanup(func() {
		if err := c.Stop(); err != nil {
			t.Errorf("controller shutdown: %v", err)
		}
	})

	require.Eventually(t, func() bool {
		return ctrl.Addr() != "" && client.NewAdmin(c.URL(), "", "", false).Health() == nil
	}, 10*time.Second, 10*time.Millisecond, "controller did not come up")
	return c
}

// URL returns the controller's base URL
func (c *Controller) URL() string {
	return "http://" + c.ctrl.Addr()
}

// Stop shuts the controller down and reports the Run error. Safe to call
// more than once.
func (c *Controller) Stop() error {
	c.cancel()
	select {
	case err := <-c.done:
		c.done <- err
		return err
	case <-time.After(stopTimeout):
		return fmt.Errorf("controller did not stop within %s", stopTimeout)
	}
}

// Admin returns a client authenticated with the bootstrap admin session
// the controller wrote to its data directory.
func (c *Controller) Admin(t *testing.T) *client.Client {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(c.DataDir, "admin-session"))
	require.NoError(t, err, "bootstrap admin session missing")
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2, "malformed admin session file")
	return client.NewAdmin(c.URL(), lines[0], lines[1], false)
}

// Apply loads a challenge manifest through the admin API
func (c *Controller) Apply(t *testing.T, manifest string) {
	t.Helper()
	_, err := c.Admin(t).Reload([]byte(manifest))
	require.NoError(t, err)
}

// MintToken mints a one-hour single-use enrollment token
func (c *Controller) MintToken(t *testing.T) string {
	t.Helper()
	tok, err := c.Admin(t).MintEnrollmentToken("test runner", "1h", "")
	require.NoError(t, err)
	return tok.Token
}
