// Package lifecycle owns the Router's process-wide mutable state
// (spec.md §4.1/§5): the bound TCP listener, the restart watch channel,
// and the published Status a UI polls. Grounded on orig/proxy.rs's
// start_proxy_server restart loop and the teacher's
// internal/cmd.StartService / internal/watcher.Watcher fsnotify idiom.
package lifecycle

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/dlpproxy/dlpproxy/internal/api"
	"github.com/dlpproxy/dlpproxy/internal/backend"
	"github.com/dlpproxy/dlpproxy/internal/config"
	"github.com/dlpproxy/dlpproxy/internal/dlp"
	"github.com/dlpproxy/dlpproxy/internal/policy"
	"github.com/dlpproxy/dlpproxy/internal/proxy"
	"github.com/dlpproxy/dlpproxy/internal/store"
)

// Status is the Router's published lifecycle state.
type Status int

const (
	StatusStarting Status = iota
	StatusRunning
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FailedInfo is published alongside StatusFailed: the port that could
// not be bound, and why.
type FailedInfo struct {
	Port int
	Err  error
}

// bindRetryDelay and shutdownGrace mirror orig/proxy.rs's
// start_proxy_server: 5s before retrying a failed bind, and (adapted
// from the teacher's 30s `apiServer.Stop` timeout) a bound on how long
// a graceful shutdown is allowed to drain in-flight requests.
const (
	bindRetryDelay   = 5 * time.Second
	rebuildPause     = 500 * time.Millisecond
	shutdownGrace    = 30 * time.Second
)

// Controller is the single owner of the proxy's bound port, restart
// signal, and lifecycle status — spec.md §5's "proxy lifecycle status
// and restart signal, guarded by a single-writer mutex and a watch
// channel".
type Controller struct {
	ConfigPath string
	Store      *store.Store
	Gate       *policy.Gate
	// PortOverride, when non-zero, takes priority over config.yaml's
	// port field on every rebuild — the QPORT environment variable
	// (spec.md §6) is a process-launch override, not a config file
	// edit, so it must survive every reload, not just the first one.
	PortOverride int

	mu      sync.RWMutex
	status  Status
	failed  FailedInfo
	restart chan struct{}
}

// NewController builds a Controller reading config from configPath and
// persisting through st. The Gate (and its rate limiter state) is
// created once and threaded through every rebuild, since rate-limit
// windows must survive a graceful restart.
func NewController(configPath string, st *store.Store) *Controller {
	return &Controller{
		ConfigPath: configPath,
		Store:      st,
		Gate:       policy.NewGate(),
		restart:    make(chan struct{}, 1),
	}
}

// StatusSnapshot returns the current lifecycle status and, if Failed, the
// FailedInfo that caused it.
func (c *Controller) StatusSnapshot() (Status, FailedInfo) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status, c.failed
}

func (c *Controller) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *Controller) setFailed(port int, err error) {
	c.mu.Lock()
	c.status = StatusFailed
	c.failed = FailedInfo{Port: port, Err: err}
	c.mu.Unlock()
}

// Restart requests a graceful rebuild of the route table and listener:
// drain in-flight requests, re-read Backends/Patterns/port, re-bind.
// Exposed for the out-of-scope admin UI and for this package's own
// config-file watch.
func (c *Controller) Restart() {
	select {
	case c.restart <- struct{}{}:
	default:
	}
}

// buildServer loads the current set of enabled Backends and Patterns
// from internal/store and assembles a fresh Dispatcher,
// CursorHookHandler, and http.Server — the "rebuild state" step of the
// graceful-restart contract.
func (c *Controller) buildServer(cfg *config.Config) (*http.Server, error) {
	rows, err := c.Store.LoadEnabledBackends()
	if err != nil {
		return nil, fmt.Errorf("failed to load backends: %w", err)
	}
	reg := backend.NewRegistry()
	reg.Load(toRegistryBackends(rows))

	patternSource := func() []dlp.CompiledPattern {
		patternRows, err := c.Store.LoadEnabledPatterns()
		if err != nil {
			logrus.WithError(err).Warn("lifecycle: failed to load patterns")
			return nil
		}
		return dlp.Compile(toDlpPatterns(patternRows))
	}
	dlpAction := func() config.DlpAction { return cfg.DlpAction }

	dispatcher := proxy.NewDispatcher(reg, c.Gate, c.Store, patternSource, dlpAction)
	hooks := proxy.NewCursorHookHandler(c.Store, patternSource, dlpAction)
	engine := api.NewEngine(dispatcher, hooks)

	return &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: engine}, nil
}

// Run is the Router's restart loop. Each iteration: load config, bind,
// serve, and wait for either a restart signal, an unexpected server
// exit, or ctx cancellation — then gracefully shut down and loop back
// to rebuild with whatever config/backends/patterns now hold. Mirrors
// orig/proxy.rs's start_proxy_server: re-init every dependency per
// loop iteration, retry every 5s on bind failure, pause 500ms before
// every rebuild.
func (c *Controller) Run(ctx context.Context) error {
	if deleted, err := c.Store.CleanupOldData(time.Now()); err != nil {
		logrus.WithError(err).Warn("lifecycle: startup retention sweep failed")
	} else if deleted > 0 {
		logrus.Infof("lifecycle: retention sweep deleted %d stale request records", deleted)
	}

	stopWatch := c.watchConfig()
	defer stopWatch()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		cfg, err := config.LoadConfig(c.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if c.PortOverride > 0 {
			cfg.Port = c.PortOverride
		}

		c.setStatus(StatusStarting)
		server, err := c.buildServer(cfg)
		if err != nil {
			return err
		}

		ln, err := net.Listen("tcp", server.Addr)
		if err != nil {
			c.setFailed(cfg.Port, err)
			logrus.WithError(err).Warnf("lifecycle: failed to bind %s, retrying in %s", server.Addr, bindRetryDelay)
			select {
			case <-time.After(bindRetryDelay):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		serveErr := make(chan error, 1)
		go func() { serveErr <- server.Serve(ln) }()
		c.setStatus(StatusRunning)
		logrus.Infof("lifecycle: listening on %s", server.Addr)

		select {
		case <-c.restart:
			logrus.Info("lifecycle: restart requested, rebuilding")
		case err := <-serveErr:
			if err != nil && err != http.ErrServerClosed {
				logrus.WithError(err).Warn("lifecycle: server stopped unexpectedly, rebuilding")
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			_ = server.Shutdown(shutdownCtx)
			cancel()
			return nil
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		_ = server.Shutdown(shutdownCtx)
		cancel()
		time.Sleep(rebuildPause)
	}
}

// watchConfig watches ConfigPath for writes and requests a restart on
// change, so editing the port in config.yaml takes effect without a
// process restart (spec.md §4.1). A config file that does not exist
// yet (LoadConfig tolerates this and falls back to defaults) is simply
// not watched — fsnotify cannot watch a path that isn't there — rather
// than treated as a fatal startup error, unlike the teacher's
// internal/watcher.Watcher.Start which fails fast on a missing path.
func (c *Controller) watchConfig() func() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		logrus.WithError(err).Warn("lifecycle: failed to create config watcher")
		return func() {}
	}
	if err := w.Add(c.ConfigPath); err != nil {
		logrus.WithError(err).Debugf("lifecycle: not watching %s", c.ConfigPath)
		_ = w.Close()
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					logrus.Debugf("lifecycle: config file changed (%s), requesting restart", event.Op)
					c.Restart()
				}
			case werr, ok := <-w.Errors:
				if !ok {
					return
				}
				logrus.WithError(werr).Warn("lifecycle: config watcher error")
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		_ = w.Close()
	}
}
