// Package config loads the process configuration: the HTTP listen
// address, persistent storage directory, and the list of model.Spec
// entries to load at startup. It replaces the original service's
// required-environment-variable loader with a TOML file read through
// viper, since the configuration surface here is a list of structured
// model entries rather than a handful of scalars.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/nextcloud/go_kaldi_serve/internal/model"
)

// Config is the fully resolved process configuration.
type Config struct {
	ListenAddr        string       `mapstructure:"listen_addr"`
	PersistentStorage string       `mapstructure:"persistent_storage"`
	LogLevel          string       `mapstructure:"log_level"`
	// AuthSecret, when non-empty, requires every request except the
	// health check and metrics endpoints to carry a matching HTTP Basic
	// Authorization header. Empty disables authentication.
	AuthSecret string       `mapstructure:"auth_secret"`
	Models     []model.Spec `mapstructure:"models"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":23000")
	v.SetDefault("persistent_storage", "/var/lib/go_kaldi_serve")
	v.SetDefault("log_level", "info")
	v.SetDefault("auth_secret", "")
}

// Load reads configuration from the TOML file at path (if it exists),
// overlaid with KALDI_SERVE_-prefixed environment variables, and
// validates every configured model spec.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("kaldi_serve")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, isNotFound := err.(viper.ConfigFileNotFoundError); !isNotFound && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config: read %q: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("config: no models configured")
	}
	for _, spec := range cfg.Models {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(cfg.PersistentStorage, 0o755); err != nil {
		return nil, fmt.Errorf("config: create persistent storage dir %q: %w", cfg.PersistentStorage, err)
	}

	return &cfg, nil
}
