package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kbukum/flowkit/config"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
)

// App owns the lifecycle of a service configured by C.
//
//	app, err := bootstrap.NewApp(cfg)
//	app.Register(server)
//	err = app.Run(ctx)
type App[C config.Config] struct {
	Name       string
	Version    string
	Cfg        C
	Components *Registry
	Logger     *logger.Logger

	gracefulTimeout time.Duration
	signals         []os.Signal
	onStart         []Hook
	onStop          []Hook
}

// NewApp applies defaults to cfg, validates it and initializes the logger.
func NewApp[C config.Config](cfg C, opts ...Option) (*App[C], error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	base := cfg.GetServiceConfig()

	o := &appOptions{
		gracefulTimeout: 15 * time.Second,
		signals:         []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		logger.Init(base.Logging)
		o.logger = logger.GetGlobalLogger()
	}

	return &App[C]{
		Name:            base.Name,
		Version:         base.Version,
		Cfg:             cfg,
		Components:      NewRegistry(o.logger.WithComponent("bootstrap")),
		Logger:          o.logger,
		gracefulTimeout: o.gracefulTimeout,
		signals:         o.signals,
	}, nil
}

// Register adds components in start order.
func (a *App[C]) Register(cs ...Component) error {
	for _, c := range cs {
		if err := a.Components.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Health folds the health of every component.
func (a *App[C]) Health(ctx context.Context) *observability.ServiceHealth {
	return observability.NewServiceHealth(a.Name, a.Version).Check(ctx, a.Components.Checkers()...)
}

// Run starts the components and blocks until a shutdown signal arrives or
// ctx is done, then shuts down.
func (a *App[C]) Run(ctx context.Context) error {
	return a.RunTask(ctx, func(ctx context.Context) error {
		a.Logger.Info("application ready")
		<-ctx.Done()
		return nil
	})
}

// RunTask starts the components, runs task with a context canceled on
// shutdown signals, then shuts down. The task error wins over a shutdown
// error.
func (a *App[C]) RunTask(ctx context.Context, task func(ctx context.Context) error) error {
	if err := a.startup(ctx); err != nil {
		_ = a.stop()
		return err
	}

	taskCtx, stop := signal.NotifyContext(ctx, a.signals...)
	defer stop()

	taskErr := task(taskCtx)
	if taskCtx.Err() != nil && ctx.Err() == nil {
		a.Logger.Info("shutdown signal received")
	}
	if err := a.stop(); err != nil && taskErr == nil {
		return err
	}
	return taskErr
}

func (a *App[C]) startup(ctx context.Context) error {
	start := time.Now()
	a.Logger.Info("starting application", logger.Fields(
		logger.FieldService, a.Name,
		"version", a.Version,
	))
	if err := a.Components.StartAll(ctx); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	if err := runStartHooks(ctx, a.onStart); err != nil {
		return fmt.Errorf("onStart hook failed: %w", err)
	}
	if h := a.Health(ctx); !h.Healthy() {
		a.Logger.Warn("ready check reported issues", logger.Fields(logger.FieldStatus, string(h.Status)))
	}
	a.Logger.Info("application started", logger.OpDuration("startup", time.Since(start)))
	return nil
}

// Shutdown stops the application when the caller manages the lifecycle.
func (a *App[C]) Shutdown() error {
	return a.stop()
}

func (a *App[C]) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.gracefulTimeout)
	defer cancel()

	var shutdownErr error
	if err := runStopHooks(ctx, a.onStop); err != nil {
		a.Logger.Error("onStop hook error", logger.OpError("shutdown", err))
		shutdownErr = err
	}
	if err := a.Components.StopAll(ctx); err != nil {
		shutdownErr = err
	}
	a.Logger.Info("application stopped")
	return shutdownErr
}
