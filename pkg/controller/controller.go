package controller

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/challengectl/challengectl/pkg/api"
	"github.com/challengectl/challengectl/pkg/auth"
	"github.com/challengectl/challengectl/pkg/blob"
	"github.com/challengectl/challengectl/pkg/config"
	"github.com/challengectl/challengectl/pkg/dispatch"
	"github.com/challengectl/challengectl/pkg/events"
	"github.com/challengectl/challengectl/pkg/log"
	"github.com/challengectl/challengectl/pkg/metrics"
	"github.com/challengectl/challengectl/pkg/monitor"
	"github.com/challengectl/challengectl/pkg/security"
	"github.com/challengectl/challengectl/pkg/storage"
)

const (
	// adminSessionFile receives the bootstrap admin session token so the
	// local CLI can reach admin endpoints without a login ceremony
	adminSessionFile = "admin-session"

	// bootstrapUser is the operator account ensured at first start
	bootstrapUser = "admin"

	shutdownTimeout = 10 * time.Second
)

// Controller assembles and owns every controller-side component: the
// durable store, blob store, event broker, auth resolver, dispatcher,
// liveness monitor, metrics collector, and the HTTP API server.
type Controller struct {
	cfg     *config.Controller
	version string

	store      *storage.Store
	blobs      *blob.Store
	broker     *events.Broker
	resolver   *auth.Resolver
	dispatcher *dispatch.Dispatcher
	monitor    *monitor.Monitor
	collector  *metrics.Collector
	server     *api.Server

	logger zerolog.Logger
}

// New opens the data directory and wires all components together. No
// listener is bound and no goroutine started until Run.
func New(cfg *config.Controller, version string) (*Controller, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	blobs, err := blob.NewStore(filepath.Join(cfg.DataDir, "files"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	resolver, err := auth.NewResolver(store)
	if err != nil {
		store.Close()
		return nil, err
	}

	broker := events.NewBroker()
	dispatcher := dispatch.NewDispatcher(store, broker, resolver, cfg.Tunables)

	c := &Controller{
		cfg:        cfg,
		version:    version,
		store:      store,
		blobs:      blobs,
		broker:     broker,
		resolver:   resolver,
		dispatcher: dispatcher,
		monitor:    monitor.NewMonitor(store, broker, cfg.Tunables),
		collector:  metrics.NewCollector(store),
		logger:     log.WithComponent("controller"),
	}
	c.server = api.NewServer(api.Options{
		Store:      store,
		Blobs:      blobs,
		Dispatcher: dispatcher,
		Resolver:   resolver,
		Broker:     broker,
		Tunables:   cfg.Tunables,
		Version:    version,
	})
	return c, nil
}

// Addr returns the API listener address. Valid once Run has bound it.
func (c *Controller) Addr() string {
	return c.server.Addr()
}

// Run starts every component, binds the listener, and blocks until ctx
// is cancelled, then shuts down in reverse order. The store closes last
// so every component can still write during drain.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info().
		Str("version", c.version).
		Str("data_dir", c.cfg.DataDir).
		Msg("Controller starting")

	if err := c.bootstrapAdmin(); err != nil {
		return err
	}
	if err := c.loadManifest(); err != nil {
		return err
	}

	tlsCfg, err := c.materializeTLS()
	if err != nil {
		return err
	}
	if err := c.server.Listen(c.cfg.Listen); err != nil {
		return err
	}

	c.broker.Start()
	c.monitor.Start()
	c.collector.Start()

	serveErr := make(chan error, 1)
	go func() {
		if err := c.server.Serve(tlsCfg); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		c.stop()
		return err
	}

	c.logger.Info().Msg("Controller shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := c.server.Shutdown(shutdownCtx); err != nil {
		c.logger.Warn().Err(err).Msg("Listener shutdown failed")
	}
	<-serveErr
	c.stop()
	return nil
}

func (c *Controller) stop() {
	c.collector.Stop()
	c.monitor.Stop()
	c.broker.Stop()
	if err := c.store.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Store close failed")
	}
}

// bootstrapAdmin ensures the admin account exists and drops a permanent
// TOTP-verified session token into the data dir. The file is the local
// CLI's credential; remote admins must be handed a session out of band.
func (c *Controller) bootstrapAdmin() error {
	if _, err := c.resolver.EnsureUser(bootstrapUser); err != nil {
		return fmt.Errorf("failed to ensure admin user: %w", err)
	}

	path := filepath.Join(c.cfg.DataDir, adminSessionFile)
	if existing, err := os.ReadFile(path); err == nil {
		if c.sessionValid(string(existing)) {
			return nil
		}
		c.logger.Warn().Msg("Saved admin session no longer valid, reissuing")
	}

	sess, err := c.resolver.CreateSession(bootstrapUser, 0, true)
	if err != nil {
		return fmt.Errorf("failed to create admin session: %w", err)
	}
	body := fmt.Sprintf("%s\n%s\n", sess.Token, sess.CSRFToken)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		return fmt.Errorf("failed to write admin session file: %w", err)
	}
	c.logger.Info().Str("path", path).Msg("Admin session written")
	return nil
}

// sessionValid reports whether a saved session file still resolves. The
// file holds the session token on the first line.
func (c *Controller) sessionValid(contents string) bool {
	token, _, _ := strings.Cut(contents, "\n")
	p, err := c.resolver.Resolve(auth.Credentials{SessionCookie: token})
	return err == nil && p.Kind == auth.KindAdmin
}

// loadManifest applies the configured challenge manifest, if any. Reload
// is diff-based, so applying the same manifest at every boot is cheap.
func (c *Controller) loadManifest() error {
	if c.cfg.Manifest == "" {
		return nil
	}
	data, err := os.ReadFile(c.cfg.Manifest)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := config.ParseManifest(data)
	if err != nil {
		return fmt.Errorf("manifest %s: %w", c.cfg.Manifest, err)
	}
	summary, err := c.dispatcher.Reload(m)
	if err != nil {
		return err
	}
	c.logger.Info().
		Str("manifest", c.cfg.Manifest).
		Int("created", len(summary.Created)).
		Int("updated", len(summary.Updated)).
		Int("unchanged", len(summary.Unchanged)).
		Msg("Challenge manifest applied")
	return nil
}

// materializeTLS resolves the TLS file paths, generating a self-signed
// certificate under the data dir when TLS is on but no paths are set.
func (c *Controller) materializeTLS() (config.TLSConfig, error) {
	tlsCfg := c.cfg.TLS
	if !tlsCfg.Enabled || tlsCfg.CertFile != "" {
		return tlsCfg, nil
	}

	host, _, err := net.SplitHostPort(c.cfg.Listen)
	if err != nil || host == "" {
		host = "localhost"
	}
	dir := filepath.Join(c.cfg.DataDir, "tls")
	if _, err := security.EnsureServerCert(dir, host); err != nil {
		return tlsCfg, fmt.Errorf("failed to provision TLS certificate: %w", err)
	}
	tlsCfg.CertFile = filepath.Join(dir, "server.crt")
	tlsCfg.KeyFile = filepath.Join(dir, "server.key")
	c.logger.Info().Str("dir", dir).Msg("Using self-signed TLS certificate")
	return tlsCfg, nil
}
