// Package config loads flowkit service configuration.
//
// Configuration comes from a YAML file, then a .env file, then the process
// environment, using Viper. Environment variables override keys already
// present in the file: STAGES_SPLIT_BOUNDED_CAPACITY overrides
// stages.split.bounded_capacity.
//
// # Usage
//
//	type AppConfig struct {
//	    config.ServiceConfig `yaml:",inline" mapstructure:",squash"`
//	    Stages map[string]dataflow.StageOptions `yaml:"stages" mapstructure:"stages"`
//	}
//
//	cfg, err := config.Load[*AppConfig]("wordflow", &AppConfig{})
package config
