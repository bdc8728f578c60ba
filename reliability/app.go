package reliability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/runtime"
)

var (
	ErrLoggerNil    = errors.New("logger is nil")
	ErrNilLauncher  = errors.New("launcher is nil")
	ErrEmptyApp     = errors.New("app name is empty")
	ErrNilApp       = errors.New("app is nil")
	ErrDuplicateApp = errors.New("app already registered")
	// ErrConfigFailed prefixes registration errors returned by RunWithError.
	ErrConfigFailed = errors.New("launcher configuration failed")
	// ErrAppFailed wraps every error an app returned from Run.
	ErrAppFailed = errors.New("app failed")
)

// App is a long-lived component run by the Launcher: the outbox publisher,
// stream consumers, the trimmer and the admin HTTP server.
type App interface {
	Run(launcher *Launcher) error
}

// LauncherOption configures a Launcher.
type LauncherOption func(l *Launcher)

// WithLogger sets the launcher logger. It is required.
func WithLogger(logger log.Logger) LauncherOption {
	return func(l *Launcher) {
		l.Logger = logger
	}
}

// RunApp registers app under name. A bad registration is reported by
// RunWithError rather than here.
func RunApp(name string, app App) LauncherOption {
	return func(l *Launcher) {
		if err := l.Add(name, app); err != nil {
			l.configErrors = append(l.configErrors, fmt.Errorf("add app %q: %w", name, err))
		}
	}
}

type namedApp struct {
	name string
	app  App
}

// Launcher starts apps in registration order and waits for all of them.
type Launcher struct {
	Logger log.Logger

	apps         []namedApp
	configErrors []error
}

// NewLauncher creates a Launcher and applies opts in order.
func NewLauncher(opts ...LauncherOption) *Launcher {
	l := &Launcher{}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Add registers an application to be started by RunWithError.
func (l *Launcher) Add(name string, app App) error {
	if l == nil {
		return ErrNilLauncher
	}

	name = strings.TrimSpace(name)

	switch {
	case name == "":
		return ErrEmptyApp
	case app == nil:
		return ErrNilApp
	}

	for _, existing := range l.apps {
		if existing.name == name {
			return fmt.Errorf("%w: %s", ErrDuplicateApp, name)
		}
	}

	l.apps = append(l.apps, namedApp{name: name, app: app})

	return nil
}

// Run is RunWithError with the error logged instead of returned.
func (l *Launcher) Run() {
	if err := l.RunWithError(); err != nil && l != nil && l.Logger != nil {
		l.Logger.Log(context.Background(), log.LevelError, "launcher error", log.Err(err))
	}
}

// RunWithError runs every app concurrently and blocks until all returned.
// App errors are joined, each wrapped with ErrAppFailed and the app name.
func (l *Launcher) RunWithError() error {
	if l == nil {
		return ErrNilLauncher
	}

	if l.Logger == nil {
		return ErrLoggerNil
	}

	if len(l.configErrors) > 0 {
		return errors.Join(append([]error{ErrConfigFailed}, l.configErrors...)...)
	}

	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	l.Logger.Log(ctx, log.LevelInfo, "starting apps", log.Int("count", len(l.apps)))

	for _, a := range l.apps {
		wg.Add(1)

		runtime.SafeGoWithContextAndComponent(ctx, l.Logger, "launcher", "run_app_"+a.name, runtime.KeepRunning,
			func(ctx context.Context) {
				defer wg.Done()

				l.Logger.Log(ctx, log.LevelInfo, "app starting", log.String("app", a.name))

				if err := a.app.Run(l); err != nil {
					l.Logger.Log(ctx, log.LevelError, "app error", log.String("app", a.name), log.Err(err))

					mu.Lock()
					errs = append(errs, fmt.Errorf("%w: %s: %w", ErrAppFailed, a.name, err))
					mu.Unlock()
				}

				l.Logger.Log(ctx, log.LevelInfo, "app finished", log.String("app", a.name))
			})
	}

	wg.Wait()

	l.Logger.Log(ctx, log.LevelInfo, "launcher terminated")

	return errors.Join(errs...)
}
