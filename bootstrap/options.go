package bootstrap

import (
	"os"
	"time"

	"github.com/kbukum/flowkit/logger"
)

// Option configures an App.
type Option func(*appOptions)

type appOptions struct {
	logger          *logger.Logger
	gracefulTimeout time.Duration
	signals         []os.Signal
}

// WithLogger replaces the logger built from the config's logging section.
func WithLogger(l *logger.Logger) Option {
	return func(o *appOptions) { o.logger = l }
}

// WithGracefulTimeout bounds shutdown.
func WithGracefulTimeout(d time.Duration) Option {
	return func(o *appOptions) { o.gracefulTimeout = d }
}

// WithSignals sets the signals that trigger shutdown.
func WithSignals(sig ...os.Signal) Option {
	return func(o *appOptions) { o.signals = sig }
}
