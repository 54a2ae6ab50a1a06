// Package config provides configuration loading and validation for the
// pipeline orchestrator.
//
// It uses Viper to load configuration from files and environment variables,
// supporting YAML documents, .env files, and environment-specific overrides.
//
// # Usage
//
//	settings, err := config.LoadSettings()
//
// Environment variables override file values using underscore-separated
// paths (e.g., LOGGING_LEVEL, ROOT_PATH).
package config
