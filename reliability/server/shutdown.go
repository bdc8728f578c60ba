package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/internal/nilcheck"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/runtime"
)

// ErrNoServersConfigured indicates neither an HTTP server nor a worker was
// configured.
var ErrNoServersConfigured = errors.New("no servers configured: use WithHTTPServer() or WithWorkers()")

const defaultShutdownTimeout = 30 * time.Second

// Shutdowner is a worker that drains on Shutdown. The outbox publisher,
// consumers, relay and trimmer satisfy it.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Cleanup releases a resource after servers and workers stopped.
type Cleanup struct {
	Name string
	Fn   func(ctx context.Context) error
}

// ServerManager starts the HTTP server and, on a signal, a closed shutdown
// channel or a startup failure, stops HTTP first, then the workers, then
// runs the cleanups in order.
type ServerManager struct {
	httpServer         *fiber.App
	httpAddress        string
	workers            []Shutdowner
	cleanups           []Cleanup
	logger             log.Logger
	serversStarted     chan struct{}
	serversStartedOnce sync.Once
	shutdownChan       <-chan struct{}
	shutdownOnce       sync.Once
	shutdownTimeout    time.Duration
	startupErrors      chan error
}

// NewServerManager creates a manager. A nil logger becomes a nop logger.
func NewServerManager(logger log.Logger) *ServerManager {
	if nilcheck.Interface(logger) {
		logger = log.NewNop()
	}

	return &ServerManager{
		logger:          logger,
		serversStarted:  make(chan struct{}),
		shutdownTimeout: defaultShutdownTimeout,
		startupErrors:   make(chan error, 1),
	}
}

// WithHTTPServer configures the HTTP server.
func (sm *ServerManager) WithHTTPServer(app *fiber.App, address string) *ServerManager {
	sm.httpServer = app
	sm.httpAddress = address

	return sm
}

// WithWorkers registers workers to drain on shutdown. Nil entries are
// ignored.
func (sm *ServerManager) WithWorkers(workers ...Shutdowner) *ServerManager {
	for _, w := range workers {
		if !nilcheck.Interface(w) {
			sm.workers = append(sm.workers, w)
		}
	}

	return sm
}

// WithCleanup appends a cleanup step.
func (sm *ServerManager) WithCleanup(name string, fn func(ctx context.Context) error) *ServerManager {
	if fn != nil {
		sm.cleanups = append(sm.cleanups, Cleanup{Name: name, Fn: fn})
	}

	return sm
}

// WithShutdownChannel replaces OS signal handling with ch, for tests.
func (sm *ServerManager) WithShutdownChannel(ch <-chan struct{}) *ServerManager {
	sm.shutdownChan = ch

	return sm
}

// WithShutdownTimeout bounds the whole shutdown sequence. Defaults to 30s.
func (sm *ServerManager) WithShutdownTimeout(d time.Duration) *ServerManager {
	if d > 0 {
		sm.shutdownTimeout = d
	}

	return sm
}

// ServersStarted is closed once the server goroutines were launched. It
// does not mean the socket is bound.
func (sm *ServerManager) ServersStarted() <-chan struct{} {
	return sm.serversStarted
}

// Run implements reliability.App.
func (sm *ServerManager) Run(_ *reliability.Launcher) error {
	return sm.StartWithGracefulShutdownWithError()
}

// StartWithGracefulShutdownWithError starts the servers and blocks until
// shutdown completed. A startup failure is returned after shutdown ran.
func (sm *ServerManager) StartWithGracefulShutdownWithError() error {
	if sm.httpServer == nil && len(sm.workers) == 0 {
		return ErrNoServersConfigured
	}

	sm.startServers()

	return sm.handleShutdown()
}

func (sm *ServerManager) startServers() {
	if sm.httpServer != nil {
		runtime.SafeGoWithContextAndComponent(
			context.Background(),
			sm.logger,
			"server",
			"start_http_server",
			runtime.KeepRunning,
			func(_ context.Context) {
				sm.logger.Log(context.Background(), log.LevelInfo, "starting HTTP server",
					log.String("address", sm.httpAddress))

				if err := sm.httpServer.Listen(sm.httpAddress); err != nil {
					select {
					case sm.startupErrors <- fmt.Errorf("HTTP server: %w", err):
					default:
					}
				}
			},
		)
	}

	sm.serversStartedOnce.Do(func() {
		close(sm.serversStarted)
	})
}

func (sm *ServerManager) handleShutdown() error {
	var startupErr error

	if sm.shutdownChan != nil {
		select {
		case <-sm.shutdownChan:
		case startupErr = <-sm.startupErrors:
		}
	} else {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)

		select {
		case <-c:
		case startupErr = <-sm.startupErrors:
		}

		signal.Stop(c)
	}

	if startupErr != nil {
		sm.logger.Log(context.Background(), log.LevelError, "server startup failed", log.Err(startupErr))
	}

	sm.logger.Log(context.Background(), log.LevelInfo, "gracefully shutting down")

	sm.executeShutdown()

	return startupErr
}

// Shutdown runs the shutdown sequence once. Later calls are no-ops.
func (sm *ServerManager) Shutdown() {
	sm.executeShutdown()
}

func (sm *ServerManager) executeShutdown() {
	sm.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
		defer cancel()

		if sm.httpServer != nil {
			if err := sm.httpServer.ShutdownWithContext(ctx); err != nil {
				sm.logger.Log(ctx, log.LevelError, "HTTP server shutdown failed", log.Err(err))
			}
		}

		var wg sync.WaitGroup

		for _, w := range sm.workers {
			wg.Add(1)

			runtime.SafeGo(sm.logger, "worker_shutdown", runtime.KeepRunning, func() {
				defer wg.Done()

				if err := w.Shutdown(ctx); err != nil {
					sm.logger.Log(ctx, log.LevelWarn, "worker shutdown failed", log.Err(err))
				}
			})
		}

		wg.Wait()

		for _, c := range sm.cleanups {
			if err := c.Fn(ctx); err != nil {
				sm.logger.Log(ctx, log.LevelWarn, "cleanup failed",
					log.String("name", c.Name),
					log.Err(err),
				)
			}
		}

		if err := sm.logger.Sync(ctx); err != nil {
			sm.logger.Log(ctx, log.LevelWarn, "logger sync failed", log.Err(err))
		}

		sm.logger.Log(ctx, log.LevelInfo, "graceful shutdown completed")
	})
}
