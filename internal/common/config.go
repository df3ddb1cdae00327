package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config is the engine's configuration surface: scheduling and
// tolerance knobs for the graph executor, logging, and which progress UI
// sink (if any) to attach. Loaded from flow.toml with the teacher's
// default -> file -> env precedence.
type Config struct {
	MaxParallelJobs                 int              `toml:"max_parallel_jobs"`
	KeepGoing                       bool             `toml:"keep_going"`
	ToleranceTransientUpdateFailure bool             `toml:"tolerate_transient_update_failures"`
	Log                             LoggingConfig    `toml:"log"`
	ProgressUI                      ProgressUIConfig `toml:"progress_ui"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // default: "15:04:05.000"
}

// ProgressUIConfig selects the progressui.Sink the executor is wired to.
type ProgressUIConfig struct {
	Mode       string `toml:"mode"`        // "none", "console", "websocket"
	ListenAddr string `toml:"listen_addr"` // address the websocket sink listens on, when mode is "websocket"
}

// NewDefaultConfig returns the configuration every run starts from, before
// any flow.toml or environment override is applied.
func NewDefaultConfig() *Config {
	return &Config{
		MaxParallelJobs:                 4,
		KeepGoing:                       false,
		ToleranceTransientUpdateFailure: false,
		Log: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
		ProgressUI: ProgressUIConfig{
			Mode:       "console",
			ListenAddr: ":4505",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env.
// path may be empty, in which case only defaults and environment overrides
// apply.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier
// ones, mirroring flowctl's -config flag, which may be repeated.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

// applyEnvOverrides applies FLOW_* environment variables, which take
// priority over both defaults and the config file.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("FLOW_MAX_PARALLEL_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.MaxParallelJobs = n
		}
	}
	if v := os.Getenv("FLOW_KEEP_GOING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.KeepGoing = b
		}
	}
	if v := os.Getenv("FLOW_TOLERATE_TRANSIENT_UPDATE_FAILURES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.ToleranceTransientUpdateFailure = b
		}
	}
	if v := os.Getenv("FLOW_LOG_LEVEL"); v != "" {
		config.Log.Level = v
	}
	if v := os.Getenv("FLOW_LOG_FORMAT"); v != "" {
		config.Log.Format = v
	}
	if v := os.Getenv("FLOW_LOG_OUTPUT"); v != "" {
		var outputs []string
		for _, o := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Log.Output = outputs
		}
	}
	if v := os.Getenv("FLOW_PROGRESS_UI_MODE"); v != "" {
		config.ProgressUI.Mode = v
	}
	if v := os.Getenv("FLOW_PROGRESS_UI_LISTEN_ADDR"); v != "" {
		config.ProgressUI.ListenAddr = v
	}
}

// ValidateWatchSchedule validates a cron schedule expression used by
// `flowctl run --watch`, enforcing the same minimum 5-minute interval the
// teacher's job scheduler requires, so a mistyped schedule can't turn a
// periodic re-run into a busy loop.
func ValidateWatchSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	parts := strings.Fields(schedule)
	if len(parts) < 5 {
		return fmt.Errorf("invalid cron format: expected 5 fields")
	}

	minuteField := parts[0]
	if minuteField == "*" {
		return fmt.Errorf("schedule must have a minimum 5-minute interval (every minute is not allowed)")
	}
	if strings.HasPrefix(minuteField, "*/") {
		interval, err := strconv.Atoi(strings.TrimPrefix(minuteField, "*/"))
		if err == nil && interval < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", interval)
		}
	}

	return nil
}
