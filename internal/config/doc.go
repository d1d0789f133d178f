// Package config loads runtime configuration from multiple sources (YAML files,
// environment variables, CLI flags) with precedence: CLI flags > YAML config >
// Environment variables > Defaults. Besides the typed server settings it
// collects the initial contents of the key/value settings store from the YAML
// "settings" map and APPSETTING_ environment variables.
package config
