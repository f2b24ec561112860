// Package config defines the application configuration structure and
// loading logic. Configuration is sourced from defaults, an optional
// config.yaml, and RATCHET_-prefixed environment variables, then validated
// once at startup so every component downstream can trust its settings.
package config
