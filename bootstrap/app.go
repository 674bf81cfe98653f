package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kbukum/pipekit/component"
	"github.com/kbukum/pipekit/logger"
	"github.com/kbukum/pipekit/version"
)

// App is a driver with uniform lifecycle management. C is the config type.
type App[C Config] struct {
	Name       string
	Version    string
	Cfg        C
	Components *component.Registry
	Logger     *logger.Logger
	// Summary is the startup summary, set once RunTask has started.
	Summary *Summary

	gracefulTimeout time.Duration
	signals         []os.Signal

	onStart []Hook
	onStop  []Hook
}

// NewApp applies defaults, validates the config and initializes the logger.
func NewApp[C Config](cfg C, opts ...Option) (*App[C], error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	base := cfg.GetServiceConfig()
	o := resolveOptions(opts)

	app := &App[C]{
		Name:            base.Name,
		Version:         base.Version,
		Cfg:             cfg,
		gracefulTimeout: base.Pipe.StopTimeout,
		signals:         []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
	if app.Version == "" {
		app.Version = version.GetShortVersion()
	}
	if o.gracefulTimeout != nil {
		app.gracefulTimeout = *o.gracefulTimeout
	}
	if o.signals != nil {
		app.signals = o.signals
	}

	if o.logger != nil {
		app.Logger = o.logger
	} else {
		logger.Init(&base.Logging)
		app.Logger = logger.GetGlobalLogger()
	}

	app.Components = component.NewRegistry(
		component.WithRegistryLogger(app.Logger.WithComponent("registry")),
		component.WithStopTimeout(base.Pipe.StopTimeout),
	)
	return app, nil
}

// RegisterComponent adds a component to the application's registry.
func (a *App[C]) RegisterComponent(c component.Component) error {
	return a.Components.Register(c)
}

// ReadyCheck verifies that all registered components are healthy.
func (a *App[C]) ReadyCheck(ctx context.Context) error {
	var unhealthy []string
	for _, h := range a.Components.HealthAll(ctx) {
		if h.Status == component.StatusHealthy {
			continue
		}
		detail := h.Name + "=" + string(h.Status)
		if h.Message != "" {
			detail += "(" + h.Message + ")"
		}
		unhealthy = append(unhealthy, detail)
	}
	if len(unhealthy) > 0 {
		return fmt.Errorf("unhealthy components: %v", unhealthy)
	}
	return nil
}

// RunTask starts every component, runs task and shuts down. The task context
// is canceled by ctx or by a shutdown signal. A task error takes precedence
// over a shutdown error.
func (a *App[C]) RunTask(ctx context.Context, task func(ctx context.Context) error) error {
	if err := a.startup(ctx); err != nil {
		if stopErr := a.stop(); stopErr != nil {
			a.Logger.WithError(stopErr).Warn("shutdown after failed startup reported errors")
		}
		return err
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if len(a.signals) > 0 {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, a.signals...)
		defer signal.Stop(sigCh)

		go func() {
			select {
			case sig := <-sigCh:
				a.Logger.Info("received signal, canceling task", logger.Fields("signal", sig.String()))
				cancel()
			case <-taskCtx.Done():
			}
		}()
	}

	start := time.Now()
	taskErr := task(taskCtx)
	a.Logger.Debug("task finished", logger.DurationFields("task", time.Since(start)))

	if stopErr := a.stop(); stopErr != nil {
		if taskErr != nil {
			return taskErr
		}
		return stopErr
	}
	return taskErr
}

// Shutdown stops the application. Use it when managing your own lifecycle.
func (a *App[C]) Shutdown() error {
	return a.stop()
}

func (a *App[C]) startup(ctx context.Context) error {
	start := time.Now()
	a.Logger.Info("starting application", version.GetVersionInfo().Fields())

	if err := a.Components.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start components: %w", err)
	}
	if err := runHooks(ctx, a.onStart); err != nil {
		return fmt.Errorf("onStart hook failed: %w", err)
	}
	if err := a.ReadyCheck(ctx); err != nil {
		a.Logger.WithError(err).Warn("ready check reported issues")
	}

	a.logSummary(ctx, time.Since(start))
	return nil
}

// stop runs the stop hooks and stops all components within the graceful
// timeout.
func (a *App[C]) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.gracefulTimeout)
	defer cancel()

	var shutdownErr error
	if err := runHooks(ctx, a.onStop); err != nil {
		a.Logger.WithError(err).Error("onStop hook failed")
		shutdownErr = err
	}
	if err := a.Components.StopAll(ctx); err != nil {
		a.Logger.WithError(err).Error("shutdown completed with errors")
		if shutdownErr == nil {
			shutdownErr = err
		}
	}

	a.Logger.Debug("application stopped", logger.Fields("timeout", a.gracefulTimeout.String()))
	return shutdownErr
}
