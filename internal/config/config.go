// Package config loads the process configuration once at startup.
//
// Sources, highest precedence first: LTC_* environment variables, the YAML
// config file, built-in defaults. The file is checked against a closed CUE
// schema before it is read, so misspelled keys fail loudly instead of being
// ignored.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/roach88/ltc/internal/fallback"
	"github.com/roach88/ltc/internal/lazy"
)

//go:embed schema.cue
var schemaCUE string

// Environment variables read in addition to the LTC_<SECTION>_<KEY> form.
const (
	EnvMainThread    = "LTC_FALLBACK_MAIN_THREAD"
	EnvForce         = "LTC_FALLBACK_FORCE"
	EnvForceAlias    = "LTC_FORCE_FALLBACK"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
	DefaultAddr      = "127.0.0.1:8089"
)

// Config is the loaded configuration. Treat it as read-only once Load
// returns.
type Config struct {
	Fallback fallback.Config `json:"fallback" yaml:"fallback"`
	Backend  BackendConfig   `json:"backend" yaml:"backend"`
	Store    StoreConfig     `json:"store" yaml:"store"`
	Log      LogConfig       `json:"log" yaml:"log"`
	Server   ServerConfig    `json:"server" yaml:"server"`
}

// BackendConfig configures the lazy backend.
type BackendConfig struct {
	Native         []string `json:"native" yaml:"native"`
	MaxDeviceBytes int64    `json:"max_device_bytes" yaml:"max_device_bytes"`
}

// StoreConfig configures the dispatch event store. An empty Path disables
// recording.
type StoreConfig struct {
	Path string `json:"path" yaml:"path"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// ServerConfig configures `ltc serve`.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Backend: BackendConfig{Native: lazy.DefaultNative()},
		Log:     LogConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
		Server:  ServerConfig{Addr: DefaultAddr},
	}
}

// Policy builds the fallback policy.
func (c Config) Policy() *fallback.Policy {
	return fallback.NewPolicy(c.Fallback)
}

// LazyConfig builds the lazy backend configuration.
func (c Config) LazyConfig() lazy.Config {
	return lazy.Config{Native: c.Backend.Native, MaxDeviceBytes: c.Backend.MaxDeviceBytes}
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (Config, error) {
	v := viper.New()
	def := Default()
	v.SetDefault("fallback.main_thread", false)
	v.SetDefault("fallback.force", []string{})
	v.SetDefault("backend.native", def.Backend.Native)
	v.SetDefault("backend.max_device_bytes", 0)
	v.SetDefault("store.path", "")
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("server.addr", def.Server.Addr)

	v.SetEnvPrefix("LTC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("fallback.main_thread", EnvMainThread)
	v.BindEnv("fallback.force", EnvForce, EnvForceAlias)

	if path != "" {
		if err := ValidateFile(path); err != nil {
			return Config{}, err
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Config{
		Fallback: fallback.Config{
			MainThread: v.GetBool("fallback.main_thread"),
			Force:      stringList(v.Get("fallback.force")),
		},
		Backend: BackendConfig{
			Native:         stringList(v.Get("backend.native")),
			MaxDeviceBytes: v.GetInt64("backend.max_device_bytes"),
		},
		Store:  StoreConfig{Path: v.GetString("store.path")},
		Log:    LogConfig{Level: v.GetString("log.level"), Format: v.GetString("log.format")},
		Server: ServerConfig{Addr: v.GetString("server.addr")},
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate checks values that may come from the environment, which the CUE
// schema never sees.
func (c Config) validate() error {
	var errs []error
	if c.Backend.MaxDeviceBytes < 0 {
		errs = append(errs, fmt.Errorf("backend.max_device_bytes must be >= 0, got %d", c.Backend.MaxDeviceBytes))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	if _, err := lazy.New(c.LazyConfig()); err != nil {
		errs = append(errs, fmt.Errorf("backend.native: %w", err))
	}
	return errors.Join(errs...)
}

// ValidateFile checks the YAML file at path against the configuration
// schema.
func ValidateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return ValidateYAML(data)
}

// ValidateYAML checks a YAML document against the configuration schema.
func ValidateYAML(data []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	value := ctx.Encode(doc)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := schema.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// stringList normalizes a list-valued setting. Strings from the environment
// are comma-separated.
func stringList(raw any) []string {
	var items []string
	switch x := raw.(type) {
	case nil:
		return nil
	case string:
		items = strings.Split(x, ",")
	case []string:
		items = x
	case []any:
		for _, item := range x {
			items = append(items, fmt.Sprint(item))
		}
	default:
		items = []string{fmt.Sprint(x)}
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
