package dataflow

import (
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
	"github.com/kbukum/flowkit/validation"
)

// Unbounded disables the capacity bound of a stage.
const Unbounded = validation.Unbounded

// StageOptions sizes a stage. The zero value is one worker and an
// unbounded queue.
type StageOptions struct {
	// MaxDegreeOfParallelism is the number of workers.
	MaxDegreeOfParallelism int `yaml:"max_degree_of_parallelism" mapstructure:"max_degree_of_parallelism" validate:"min=1"`
	// BoundedCapacity caps queued plus in-flight items; Unbounded for no cap.
	BoundedCapacity int `yaml:"bounded_capacity" mapstructure:"bounded_capacity" validate:"capacity"`
}

// DefaultStageOptions returns one worker and an unbounded queue.
func DefaultStageOptions() StageOptions {
	return StageOptions{MaxDegreeOfParallelism: 1, BoundedCapacity: Unbounded}
}

// WithDefaults replaces zero fields with their defaults.
func (o StageOptions) WithDefaults() StageOptions {
	if o.MaxDegreeOfParallelism == 0 {
		o.MaxDegreeOfParallelism = 1
	}
	if o.BoundedCapacity == 0 {
		o.BoundedCapacity = Unbounded
	}
	return o
}

// Validate checks the options after defaults are applied.
func (o StageOptions) Validate() error {
	return validation.Validate(o.WithDefaults())
}

// Option configures instrumentation of a stage, graph or builder. Options
// given to a graph or builder apply to every stage that did not set its own.
type Option func(*settings)

type settings struct {
	log          *logger.Logger
	metrics      *observability.StageMetrics
	tracePrefix  string
	traceEnabled bool
}

// WithLogger sets the logger. State transitions log at debug, faults at error.
func WithLogger(l *logger.Logger) Option {
	return func(s *settings) { s.log = l }
}

// WithInstruments records item outcomes, durations, in-flight counts and
// double resolutions on m.
func WithInstruments(m *observability.StageMetrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithTracing starts one span per transform named "prefix.stageID".
func WithTracing(prefix string) Option {
	return func(s *settings) {
		s.tracePrefix = prefix
		s.traceEnabled = true
	}
}

func newSettings(opts []Option) settings {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// inherit fills unset fields from parent.
func (s *settings) inherit(parent settings) {
	if s.log == nil {
		s.log = parent.log
	}
	if s.metrics == nil {
		s.metrics = parent.metrics
	}
	if !s.traceEnabled && parent.traceEnabled {
		s.tracePrefix = parent.tracePrefix
		s.traceEnabled = true
	}
}

func (s *settings) logger() *logger.Logger {
	if s.log == nil {
		return logger.Get("dataflow")
	}
	return s.log
}
