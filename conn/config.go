package conn

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/jacentio/lattice/search"
	"github.com/jacentio/lattice/store"
)

// ConfigEnv names the environment variable holding the config file path.
const ConfigEnv = "LATTICE_CONFIG"

// Config is the process-wide configuration.
type Config struct {
	Store  store.Config  `yaml:"store"`
	Search search.Config `yaml:"search"`
	Log    LogConfig     `yaml:"log"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: "info"
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`

	// Format is "text" or "json".
	// Default: "text"
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Store:  store.DefaultConfig(),
		Search: search.DefaultConfig(),
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// applyEnv overlays environment variables. DYNAMO_ENDPOINT_URL wins over
// AWS_ENDPOINT_URL; an explicitly empty value selects the real AWS endpoint.
func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("DYNAMO_ENDPOINT_URL"); ok {
		c.Store.Endpoint = v
	} else if v, ok := lookup("AWS_ENDPOINT_URL"); ok {
		c.Store.Endpoint = v
	}

	strs := []struct {
		env string
		dst *string
	}{
		{"AWS_DEFAULT_REGION", &c.Store.Region},
		{"AWS_ACCESS_KEY_ID", &c.Store.AccessKeyID},
		{"AWS_SECRET_ACCESS_KEY", &c.Store.SecretAccessKey},
		{"DYNAMO_TABLE_PREFIX", &c.Store.TablePrefix},
		{"SEARCH_HOST", &c.Search.Host},
		{"LOG_LEVEL", &c.Log.Level},
		{"LOG_FORMAT", &c.Log.Format},
	}
	for _, s := range strs {
		if v, ok := lookup(s.env); ok {
			*s.dst = v
		}
	}

	bools := []struct {
		env string
		dst *bool
	}{
		{"DYNAMO_CREATE_TABLES", &c.Store.CreateTablesOnStartup},
		{"SEARCH_ENABLED", &c.Search.Enabled},
		{"SEARCH_USE_TLS", &c.Search.UseTLS},
	}
	for _, b := range bools {
		v, ok := lookup(b.env)
		if !ok || v == "" {
			continue
		}
		parsed, err := cast.ToBoolE(strings.ToLower(v))
		if err != nil {
			return fmt.Errorf("%s: %w", b.env, err)
		}
		*b.dst = parsed
	}

	if v, ok := lookup("SEARCH_PORT"); ok && v != "" {
		port, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("SEARCH_PORT: %w", err)
		}
		c.Search.Port = port
	}
	return nil
}

// Logger builds a slog logger writing to w.
func (l LogConfig) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(l.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
