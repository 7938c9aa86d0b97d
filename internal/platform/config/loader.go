package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	platformerrors "voicegate-server-go/internal/platform/errors"
)

// Loader reads configuration from a YAML file layered over defaults, with
// selected secrets overridable from the environment.
type Loader struct {
	path      string
	useDotEnv bool
}

// NewLoader creates a loader for the given config path. An empty path
// means defaults plus environment only.
func NewLoader(path string) *Loader {
	return &Loader{
		path:      path,
		useDotEnv: true,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load builds the effective configuration: defaults, then YAML file, then
// environment overrides, then validation.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		if err := godotenv.Load(); err != nil {
			fmt.Println("no .env file found, using process environment")
		}
	}

	cfg := DefaultConfig()

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, platformerrors.Wrap(platformerrors.KindConfig, "load", "read config file", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, platformerrors.Wrap(platformerrors.KindConfig, "load", "parse config file", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: l.path}, nil
}

// applyEnvOverrides lets deployments inject secrets without editing the
// YAML file. Only credentials and the Redis address are overridable.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VG_OPENAI_API_KEY"); v != "" {
		for name, backend := range cfg.STT {
			if backend.Type == "openai" {
				backend.APIKey = v
				cfg.STT[name] = backend
			}
		}
		for name, backend := range cfg.Reply {
			if backend.Type == "openai" {
				backend.APIKey = v
				cfg.Reply[name] = backend
			}
		}
	}
	if v := os.Getenv("VG_REDIS_ADDR"); v != "" {
		cfg.Cache.Redis.Addr = v
		cfg.Cache.Redis.Enabled = true
	}
	if v := os.Getenv("VG_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
