package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes environment variables read by Load.
const EnvPrefix = "QUILL_"

// Config is the daemon configuration.
type Config struct {
	Log      LogConfig      `koanf:"log"`
	DataDir  string         `koanf:"data_dir" validate:"required"`
	Hooks    HooksConfig    `koanf:"hooks"`
	Dispatch DispatchConfig `koanf:"dispatch"`
	Lua      LuaConfig      `koanf:"lua"`
	Bridge   BridgeConfig   `koanf:"bridge"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Tracing  TracingConfig  `koanf:"tracing"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=console json"`
}

// HooksConfig controls hook script discovery.
type HooksConfig struct {
	Dirs     []string      `koanf:"dirs" validate:"dive,required"`
	Watch    bool          `koanf:"watch"`
	Debounce time.Duration `koanf:"debounce" validate:"min=0"`
}

// DispatchConfig controls handler execution.
type DispatchConfig struct {
	// HandlerTimeout bounds each handler call; zero disables it.
	HandlerTimeout time.Duration `koanf:"handler_timeout" validate:"min=0"`
	Workers        int           `koanf:"workers" validate:"min=0,max=256"`
}

// LuaConfig bounds each Lua interpreter state.
type LuaConfig struct {
	CallStackSize   int `koanf:"call_stack_size" validate:"min=16"`
	RegistryMaxSize int `koanf:"registry_max_size" validate:"min=1024"`
}

// BridgeConfig controls the plugin bridge.
type BridgeConfig struct {
	Enabled   bool `koanf:"enabled"`
	QueueSize int  `koanf:"queue_size" validate:"min=1"`
	Workers   int  `koanf:"workers" validate:"min=1"`

	// Types limits forwarding to events whose type matches one of the
	// patterns. Empty forwards everything.
	Types []string `koanf:"types" validate:"dive,required"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr" validate:"omitempty,hostname_port"`
}

// TracingConfig controls OTLP trace export.
type TracingConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint" validate:"omitempty,hostname_port"`
	SampleRate float64 `koanf:"sample_rate" validate:"min=0,max=1"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log:     LogConfig{Level: "info", Format: "console"},
		DataDir: defaultDataDir(),
		Hooks: HooksConfig{
			Dirs:     []string{},
			Watch:    true,
			Debounce: 150 * time.Millisecond,
		},
		Dispatch: DispatchConfig{HandlerTimeout: 5 * time.Second, Workers: 4},
		Lua:      LuaConfig{CallStackSize: 256, RegistryMaxSize: 65536},
		Bridge:   BridgeConfig{QueueSize: 1024, Workers: 1, Types: []string{}},
		Metrics:  MetricsConfig{Addr: "127.0.0.1:9464"},
		Tracing:  TracingConfig{Endpoint: "localhost:4318", SampleRate: 1.0},
	}
}

// defaultMap flattens Default for the confmap provider.
func defaultMap() map[string]any {
	def := Default()
	return map[string]any{
		"log.level":                def.Log.Level,
		"log.format":               def.Log.Format,
		"data_dir":                 def.DataDir,
		"hooks.dirs":               def.Hooks.Dirs,
		"hooks.watch":              def.Hooks.Watch,
		"hooks.debounce":           def.Hooks.Debounce,
		"dispatch.handler_timeout": def.Dispatch.HandlerTimeout,
		"dispatch.workers":         def.Dispatch.Workers,
		"lua.call_stack_size":      def.Lua.CallStackSize,
		"lua.registry_max_size":    def.Lua.RegistryMaxSize,
		"bridge.enabled":           def.Bridge.Enabled,
		"bridge.queue_size":        def.Bridge.QueueSize,
		"bridge.workers":           def.Bridge.Workers,
		"bridge.types":             def.Bridge.Types,
		"metrics.enabled":          def.Metrics.Enabled,
		"metrics.addr":             def.Metrics.Addr,
		"tracing.enabled":          def.Tracing.Enabled,
		"tracing.endpoint":         def.Tracing.Endpoint,
		"tracing.sample_rate":      def.Tracing.SampleRate,
	}
}

// flagKeys maps command line flags to setting keys. BindFlags defines them.
var flagKeys = map[string]string{
	"log-level":       "log.level",
	"log-format":      "log.format",
	"data-dir":        "data_dir",
	"hooks-dir":       "hooks.dirs",
	"watch":           "hooks.watch",
	"handler-timeout": "dispatch.handler_timeout",
	"workers":         "dispatch.workers",
	"bridge":          "bridge.enabled",
	"bridge-types":    "bridge.types",
	"metrics":         "metrics.enabled",
	"metrics-addr":    "metrics.addr",
	"tracing":         "tracing.enabled",
}

// BindFlags defines the flags that override settings. Their defaults are
// only shown in help; unset flags never override other sources.
func BindFlags(flags *pflag.FlagSet) {
	def := Default()
	flags.String("log-level", def.Log.Level, "log level (trace, debug, info, warn, error)")
	flags.String("log-format", def.Log.Format, "log format (console, json)")
	flags.String("data-dir", def.DataDir, "directory holding the note database")
	flags.StringSlice("hooks-dir", nil, "hook script directory (repeatable)")
	flags.Bool("watch", def.Hooks.Watch, "reload hook scripts when they change")
	flags.Duration("handler-timeout", def.Dispatch.HandlerTimeout, "per-handler timeout, 0 disables")
	flags.Int("workers", def.Dispatch.Workers, "script worker pool size, 0 runs scripts inline")
	flags.Bool("bridge", def.Bridge.Enabled, "forward events to plugins on stdout")
	flags.StringSlice("bridge-types", nil, "event type patterns the bridge forwards (repeatable)")
	flags.Bool("metrics", def.Metrics.Enabled, "serve Prometheus metrics")
	flags.String("metrics-addr", def.Metrics.Addr, "metrics listen address")
	flags.Bool("tracing", def.Tracing.Enabled, "export traces over OTLP/HTTP")
}

// Load merges defaults, the YAML file at path, the environment and flags.
// A missing file is skipped. An empty path uses DefaultPath. flags may be
// nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultMap(), "."), nil); err != nil {
		return Config{}, &LoadError{Source: "defaults", Err: err}
	}

	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, &LoadError{Source: "file:" + path, Err: err}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, &LoadError{Source: "file:" + path, Err: err}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, &LoadError{Source: "env", Err: err}
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, flagValue(flags)), nil); err != nil {
			return Config{}, &LoadError{Source: "flags", Err: err}
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("decode configuration: %w", err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	for i, dir := range cfg.Hooks.Dirs {
		cfg.Hooks.Dirs[i] = expandHome(dir)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envKey maps QUILL_DISPATCH__HANDLER_TIMEOUT to dispatch.handler_timeout.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

func flagValue(flags *pflag.FlagSet) func(f *pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		if f.Value.Type() == "stringSlice" {
			v, _ := flags.GetStringSlice(f.Name)
			return key, v
		}
		return key, f.Value.String()
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks every setting.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return newValidationError(verrs)
	}
	return fmt.Errorf("%w: %w", ErrValidationFailed, err)
}

// DefaultPath returns $XDG_CONFIG_HOME/quill/config.yaml.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "quill", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "quill", "config.yaml")
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "quill")
	}
	return filepath.Join("~", ".local", "share", "quill")
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// HooksDir returns the default hook directory inside the config directory.
func HooksDir() string {
	return filepath.Join(filepath.Dir(DefaultPath()), "hooks")
}
