package bootstrap

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Hook runs at a lifecycle boundary of an App.
type Hook func(ctx context.Context) error

// OnStart adds hooks run, in order, once every component is started. The
// first failing hook aborts startup.
func (a *App[C]) OnStart(hooks ...Hook) { a.onStart = append(a.onStart, hooks...) }

// OnStop adds hooks run before components stop. They run last-added first
// and all of them run even when one fails.
func (a *App[C]) OnStop(hooks ...Hook) { a.onStop = append(a.onStop, hooks...) }

func runStartHooks(ctx context.Context, hooks []Hook) error {
	for i, h := range hooks {
		if err := h(ctx); err != nil {
			return fmt.Errorf("start hook #%d: %w", i, err)
		}
	}
	return nil
}

func runStopHooks(ctx context.Context, hooks []Hook) error {
	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop hook #%d: %w", i, err))
		}
	}
	return stderrors.Join(errs...)
}
