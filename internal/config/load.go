package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional
// config file. Environment variables (prefix RATCHET_, nested keys joined
// with underscores, e.g. RATCHET_SERVER_PORT) take precedence over file
// values, which take precedence over defaults.
//
// Returns a populated, validated Config or an error. A validation failure
// here is a startup-fatal configuration error, distinct from the runtime
// degraded states the components recover from on their own.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RATCHET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars and defaults cover it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers the default value for every key so viper knows
// about them even when neither file nor environment provides a value.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("executor.workers", 0) // derived from available parallelism
	v.SetDefault("executor.queue_size", 100)

	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.queue_size", 256)
	v.SetDefault("queue.result_ttl", time.Duration(0))

	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.local_ttl", 5*time.Minute)

	v.SetDefault("storage.s3_bucket", "")
	v.SetDefault("storage.s3_region", "us-east-1")
	v.SetDefault("storage.s3_endpoint", "")
	v.SetDefault("storage.local_dir", "./data/objects")
	v.SetDefault("storage.probe_timeout", 2*time.Second)

	v.SetDefault("database.url", "")
}
