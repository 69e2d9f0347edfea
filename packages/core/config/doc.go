// Package config handles configuration loading and management for minitest.
//
// It provides functionality for:
//   - Loading configuration from minitest.config.json or minitest.config.yaml files
//   - Default configuration values
//   - MINITEST_* environment overrides
//   - Merging CLI flags over file values
package config
