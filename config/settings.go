package config

import (
	"fmt"

	"github.com/aviral-bhardwaj/laktory/logger"
)

// Settings contains orchestrator-level defaults. Pipelines without an
// explicit root path are namespaced under Settings.RootPath; the logging
// section configures the global logger.
type Settings struct {
	Name        string        `yaml:"name" mapstructure:"name"`
	Environment string        `yaml:"environment" mapstructure:"environment"`
	Debug       bool          `yaml:"debug" mapstructure:"debug"`
	RootPath    string        `yaml:"root_path" mapstructure:"root_path"`
	Logging     logger.Config `yaml:"logging" mapstructure:"logging"`
}

// ApplyDefaults applies default values to the settings.
func (s *Settings) ApplyDefaults() {
	if s.Name == "" {
		s.Name = "laktory"
	}
	if s.Environment == "" {
		s.Environment = "development"
	}
	if s.Environment == "development" {
		s.Debug = true
	}
	if s.RootPath == "" {
		s.RootPath = "./laktory"
	}
	s.Logging.ApplyDefaults()
}

// Validate validates the settings.
func (s *Settings) Validate() error {
	validEnvs := []string{"development", "staging", "production"}
	found := false
	for _, v := range validEnvs {
		if s.Environment == v {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("settings.environment must be one of [development, staging, production] (got: %s)", s.Environment)
	}
	if s.RootPath == "" {
		return fmt.Errorf("settings.root_path is required")
	}
	if err := s.Logging.Validate(); err != nil {
		return fmt.Errorf("settings.logging: %w", err)
	}
	return nil
}

// LoadSettings loads orchestrator settings from config files, .env files and
// environment variables, applies defaults and validates the result.
func LoadSettings(opts ...LoaderOption) (*Settings, error) {
	var s Settings
	if err := LoadConfig("laktory", &s, opts...); err != nil {
		return nil, err
	}
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
