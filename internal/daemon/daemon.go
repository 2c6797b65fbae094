// Package daemon assembles the long-running trustless process: the
// local service, its Unix socket control plane and the periodic
// autolock sweep.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maisiliym/trustless/internal/control"
	"github.com/maisiliym/trustless/internal/logging"
	"github.com/maisiliym/trustless/internal/service"
)

// sweepInterval is how often the autolock sweeper inspects open stores.
// It bounds how far past its deadline an idle store can stay unlocked.
const sweepInterval = 250 * time.Millisecond

// Daemon is the long-running service process.
type Daemon struct {
	svc     *service.Service
	server  *control.Server
	logger  *slog.Logger
	stop    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

// New creates a daemon over the configuration at configPath, serving
// control requests on socketPath.
func New(configPath, socketPath string, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	svc, err := service.New(configPath, logger)
	if err != nil {
		return nil, err
	}

	return &Daemon{
		svc:    svc,
		server: control.NewServer(control.DefaultServerConfig(socketPath), svc, logger),
		logger: logger.With(logging.KeyComponent, "daemon"),
	}, nil
}

// Service exposes the underlying service, e.g. for event subscriptions.
func (d *Daemon) Service() *service.Service {
	return d.svc
}

// Start brings up the control server and the autolock sweeper.
func (d *Daemon) Start() error {
	if d.running.Load() {
		return fmt.Errorf("daemon already running")
	}

	if err := d.server.Start(); err != nil {
		return fmt.Errorf("start control server: %w", err)
	}

	d.stop = make(chan struct{})
	d.running.Store(true)

	d.wg.Add(1)
	go d.sweepLoop()

	d.logger.Info("daemon started")
	return nil
}

// Stop shuts down the control server, stops the sweeper and locks every
// open store.
func (d *Daemon) Stop() error {
	if !d.running.Swap(false) {
		return nil
	}

	close(d.stop)
	d.wg.Wait()

	err := d.server.Stop()
	d.svc.Close()

	d.logger.Info("daemon stopped")
	return err
}

// Run starts the daemon and blocks until the context is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return d.Stop()
}

// IsRunning returns true if the daemon is running.
func (d *Daemon) IsRunning() bool {
	return d.running.Load()
}

func (d *Daemon) sweepLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.svc.CheckAutolock()
		case <-d.stop:
			return
		}
	}
}
