// Package config loads the gthreads configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/inhies/go-bytesize"
	"gopkg.in/yaml.v3"

	"github.com/me/gthreads/internal/clock"
	"github.com/me/gthreads/pkg/gthread"
)

// Config is the full gthreads configuration.
type Config struct {
	Runtime RuntimeConfig `yaml:"runtime"`
	Log     LogConfig     `yaml:"log"`
	Trace   TraceConfig   `yaml:"trace"`
	Debug   DebugConfig   `yaml:"debug"`
}

// RuntimeConfig holds scheduler settings. Sizes are human strings such as
// "16KB" or "4MB".
type RuntimeConfig struct {
	StackSize      string        `yaml:"stack_size"`
	MaxStackMemory string        `yaml:"max_stack_memory"` // "" or "0" means unbounded
	Tick           time.Duration `yaml:"tick"`
	MaxTasks       int           `yaml:"max_tasks"`
	Preemption     clock.Kind    `yaml:"preemption"` // ticker, itimer, off
}

// LogConfig selects the slog level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// TraceConfig enables the SQLite event recorder when DBPath is set.
type TraceConfig struct {
	DBPath string `yaml:"db_path"`
	Buffer int    `yaml:"buffer"`
}

// DebugConfig enables the introspection HTTP server when Addr is set.
type DebugConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns sensible defaults.
func Default() Config {
	return Config{
		Runtime: RuntimeConfig{
			StackSize:  "16KB",
			Tick:       time.Second,
			Preemption: clock.KindTicker,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Trace: TraceConfig{
			Buffer: 1024,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every section and reports all problems at once.
func (c Config) Validate() error {
	var errs []error
	if _, err := c.Scheduler(); err != nil {
		errs = append(errs, err)
	}
	switch c.Runtime.Preemption {
	case clock.KindTicker, clock.KindITimer, clock.KindOff, "":
	default:
		errs = append(errs, fmt.Errorf("runtime.preemption: unknown kind %q", c.Runtime.Preemption))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json", "":
	default:
		errs = append(errs, fmt.Errorf("log.format: want text or json, got %q", c.Log.Format))
	}
	if c.Trace.Buffer < 0 {
		errs = append(errs, fmt.Errorf("trace.buffer: must not be negative"))
	}
	return errors.Join(errs...)
}

// Scheduler converts the runtime section into a gthread.Config.
// Preemption "off" yields a zero tick interval.
func (c Config) Scheduler() (gthread.Config, error) {
	out := gthread.Config{
		TickInterval: c.Runtime.Tick,
		MaxTasks:     c.Runtime.MaxTasks,
	}
	size, err := parseSize(c.Runtime.StackSize)
	if err != nil {
		return out, fmt.Errorf("runtime.stack_size: %w", err)
	}
	out.StackSize = int(size)
	limit, err := parseSize(c.Runtime.MaxStackMemory)
	if err != nil {
		return out, fmt.Errorf("runtime.max_stack_memory: %w", err)
	}
	out.MaxStackMemory = int64(limit)
	if c.Runtime.Preemption == clock.KindOff {
		out.TickInterval = 0
	}
	if err := out.Validate(); err != nil {
		return out, err
	}
	return out, nil
}

// NewClock returns the preemption clock the configuration selects, or nil
// when preemption is off.
func (c Config) NewClock() (gthread.Clock, error) {
	src, err := clock.New(c.Runtime.Preemption)
	if err != nil || src == nil {
		return nil, err
	}
	return src, nil
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func parseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	b, err := bytesize.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", s, err)
	}
	return uint64(b), nil
}
