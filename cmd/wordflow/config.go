package main

import (
	"fmt"
	"time"

	"github.com/kbukum/flowkit/config"
	"github.com/kbukum/flowkit/dataflow"
	"github.com/kbukum/flowkit/server"
	"github.com/kbukum/flowkit/wordflow"
)

// Config is the wordflow service configuration.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	HTTP           server.Config             `yaml:"http" mapstructure:"http"`
	Stages         wordflow.WordStatsOptions `yaml:"stages" mapstructure:"stages"`
	Fanout         wordflow.FanoutOptions    `yaml:"fanout" mapstructure:"fanout"`
	Retry          dataflow.RetryPolicy      `yaml:"retry" mapstructure:"retry"`
	RequestTimeout time.Duration             `yaml:"request_timeout" mapstructure:"request_timeout"`
}

// ApplyDefaults fills the service, HTTP and stage defaults.
func (c *Config) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	c.HTTP.ApplyDefaults()

	def := wordflow.DefaultWordStatsOptions()
	if c.Stages.FindMostCommon == (dataflow.StageOptions{}) {
		c.Stages.FindMostCommon = def.FindMostCommon
	}
	if c.Stages.WordLength == (dataflow.StageOptions{}) {
		c.Stages.WordLength = def.WordLength
	}
	if c.Stages.IsOdd == (dataflow.StageOptions{}) {
		c.Stages.IsOdd = def.IsOdd
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	// A missing retry section means a single attempt.
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 1
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	sections := []struct {
		name string
		opts dataflow.StageOptions
	}{
		{"stages.find_most_common", c.Stages.FindMostCommon},
		{"stages.word_length", c.Stages.WordLength},
		{"stages.is_odd", c.Stages.IsOdd},
		{"fanout.splitter", c.Fanout.Splitter},
		{"fanout.filter", c.Fanout.Filter},
		{"fanout.crawler", c.Fanout.Crawler},
		{"fanout.appraiser", c.Fanout.Appraiser},
		{"fanout.sink", c.Fanout.Sink},
	}
	for _, sec := range sections {
		if err := sec.opts.Validate(); err != nil {
			return fmt.Errorf("config.%s: %w", sec.name, err)
		}
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("config.request_timeout must be non-negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config.retry.max_attempts must be at least 1 (got: %d)", c.Retry.MaxAttempts)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("config.retry.jitter must be within [0, 1] (got: %v)", c.Retry.Jitter)
	}
	return nil
}
