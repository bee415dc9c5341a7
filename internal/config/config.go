// Package config loads gateway configuration with the precedence
// defaults < config file < environment (PSGATE_*).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Config is the full gateway configuration.
type Config struct {
	General   GeneralConfig   `mapstructure:"general" toml:"general"`
	Auth      AuthConfig      `mapstructure:"auth" toml:"auth"`
	Timeouts  TimeoutConfig   `mapstructure:"timeouts" toml:"timeouts"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" toml:"rate_limit"`
	Workdir   WorkdirConfig   `mapstructure:"workdir" toml:"workdir"`
	Executor  ExecutorConfig  `mapstructure:"executor" toml:"executor"`
	Learning  LearningConfig  `mapstructure:"learning" toml:"learning"`
	Events    EventsConfig    `mapstructure:"events" toml:"events"`
	HTTP      HTTPConfig      `mapstructure:"http" toml:"http"`
}

// GeneralConfig holds directories and logging.
type GeneralConfig struct {
	DataDir  string `mapstructure:"data_dir" toml:"data_dir"`
	LogsDir  string `mapstructure:"logs_dir" toml:"logs_dir"`
	LogLevel string `mapstructure:"log_level" toml:"log_level"`
}

// AuthConfig holds the shared secret. Empty disables authentication.
type AuthConfig struct {
	Key string `mapstructure:"key" toml:"key"`
}

// TimeoutConfig bounds execution timeouts.
type TimeoutConfig struct {
	DefaultSecs int `mapstructure:"default_secs" toml:"default_secs"`
	MaxSecs     int `mapstructure:"max_secs" toml:"max_secs"`
}

// RateLimitConfig parameterizes the per-caller token buckets.
type RateLimitConfig struct {
	Capacity     int `mapstructure:"capacity" toml:"capacity"`
	RefillMs     int `mapstructure:"refill_ms" toml:"refill_ms"`
	RefillAmount int `mapstructure:"refill_amount" toml:"refill_amount"`
}

// WorkdirConfig is the initial working-directory policy.
type WorkdirConfig struct {
	Enforced     bool     `mapstructure:"enforced" toml:"enforced"`
	AllowedRoots []string `mapstructure:"allowed_roots" toml:"allowed_roots"`
}

// ExecutorConfig parameterizes the child-process supervisor.
type ExecutorConfig struct {
	Shell                 string `mapstructure:"shell" toml:"shell"`
	ChunkKB               int    `mapstructure:"chunk_kb" toml:"chunk_kb"`
	MaxOutputKB           int    `mapstructure:"max_output_kb" toml:"max_output_kb"`
	MaxLines              int    `mapstructure:"max_lines" toml:"max_lines"`
	MaxCommandChars       int    `mapstructure:"max_command_chars" toml:"max_command_chars"`
	OverflowStrategy      string `mapstructure:"overflow_strategy" toml:"overflow_strategy"`
	CaptureProcessMetrics bool   `mapstructure:"capture_process_metrics" toml:"capture_process_metrics"`
	DisableSelfDestruct   bool   `mapstructure:"disable_self_destruct" toml:"disable_self_destruct"`
}

// LearningConfig parameterizes the candidate journal.
type LearningConfig struct {
	Secret          string `mapstructure:"secret" toml:"secret"`
	JournalMaxBytes int64  `mapstructure:"journal_max_bytes" toml:"journal_max_bytes"`
}

// EventsConfig controls the event stream.
type EventsConfig struct {
	PublishAttempts bool `mapstructure:"publish_attempts" toml:"publish_attempts"`
}

// HTTPConfig enables the observability listener when Addr is set.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" toml:"addr"`
}

// DefaultConfig returns the shipped defaults.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".psgate")
	return Config{
		General: GeneralConfig{
			DataDir:  filepath.Join(base, "data"),
			LogsDir:  filepath.Join(base, "logs"),
			LogLevel: "info",
		},
		Timeouts: TimeoutConfig{DefaultSecs: 30, MaxSecs: 600},
		RateLimit: RateLimitConfig{
			Capacity:     30,
			RefillMs:     2000,
			RefillAmount: 1,
		},
		Workdir: WorkdirConfig{Enforced: false, AllowedRoots: []string{"TEMP"}},
		Executor: ExecutorConfig{
			ChunkKB:          16,
			MaxOutputKB:      512,
			MaxLines:         10000,
			MaxCommandChars:  8192,
			OverflowStrategy: "truncate",
		},
		Learning: LearningConfig{Secret: "psgate-learning"},
		Events:   EventsConfig{PublishAttempts: true},
	}
}

// envBindings maps PSGATE_* names onto config keys.
var envBindings = map[string]string{
	"general.data_dir":                 "PSGATE_DATA_DIR",
	"general.logs_dir":                 "PSGATE_LOGS_DIR",
	"general.log_level":                "PSGATE_LOG_LEVEL",
	"auth.key":                         "PSGATE_AUTH_KEY",
	"timeouts.default_secs":            "PSGATE_DEFAULT_TIMEOUT_SECS",
	"timeouts.max_secs":                "PSGATE_MAX_TIMEOUT_SECS",
	"rate_limit.capacity":              "PSGATE_RATE_CAPACITY",
	"rate_limit.refill_ms":             "PSGATE_RATE_REFILL_MS",
	"rate_limit.refill_amount":         "PSGATE_RATE_REFILL_AMOUNT",
	"workdir.enforced":                 "PSGATE_WORKDIR_ENFORCED",
	"executor.shell":                   "PSGATE_SHELL",
	"executor.overflow_strategy":       "PSGATE_OVERFLOW_STRATEGY",
	"executor.capture_process_metrics": "PSGATE_CAPTURE_PROCESS_METRICS",
	"executor.disable_self_destruct":   "PSGATE_DISABLE_SELF_DESTRUCT",
	"learning.secret":                  "PSGATE_LEARNING_SECRET",
	"http.addr":                        "PSGATE_HTTP_ADDR",
}

// Load reads the config file (optional) and applies environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	def := DefaultConfig()
	setDefaults(v, def)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, ".psgate", "config.toml")
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}

	// List values use a comma-separated env form outside viper's bindings.
	if roots := os.Getenv("PSGATE_WORKDIR_ALLOWED"); roots != "" {
		cfg.Workdir.AllowedRoots = splitList(roots)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, def Config) {
	v.SetDefault("general.data_dir", def.General.DataDir)
	v.SetDefault("general.logs_dir", def.General.LogsDir)
	v.SetDefault("general.log_level", def.General.LogLevel)
	v.SetDefault("auth.key", def.Auth.Key)
	v.SetDefault("timeouts.default_secs", def.Timeouts.DefaultSecs)
	v.SetDefault("timeouts.max_secs", def.Timeouts.MaxSecs)
	v.SetDefault("rate_limit.capacity", def.RateLimit.Capacity)
	v.SetDefault("rate_limit.refill_ms", def.RateLimit.RefillMs)
	v.SetDefault("rate_limit.refill_amount", def.RateLimit.RefillAmount)
	v.SetDefault("workdir.enforced", def.Workdir.Enforced)
	v.SetDefault("workdir.allowed_roots", def.Workdir.AllowedRoots)
	v.SetDefault("executor.shell", def.Executor.Shell)
	v.SetDefault("executor.chunk_kb", def.Executor.ChunkKB)
	v.SetDefault("executor.max_output_kb", def.Executor.MaxOutputKB)
	v.SetDefault("executor.max_lines", def.Executor.MaxLines)
	v.SetDefault("executor.max_command_chars", def.Executor.MaxCommandChars)
	v.SetDefault("executor.overflow_strategy", def.Executor.OverflowStrategy)
	v.SetDefault("executor.capture_process_metrics", def.Executor.CaptureProcessMetrics)
	v.SetDefault("executor.disable_self_destruct", def.Executor.DisableSelfDestruct)
	v.SetDefault("learning.secret", def.Learning.Secret)
	v.SetDefault("learning.journal_max_bytes", def.Learning.JournalMaxBytes)
	v.SetDefault("events.publish_attempts", def.Events.PublishAttempts)
	v.SetDefault("http.addr", def.HTTP.Addr)
}

// Validate collects every violation into one error.
func Validate(cfg Config) error {
	var problems []string
	if cfg.General.DataDir == "" {
		problems = append(problems, "general.data_dir must be set")
	}
	if cfg.General.LogsDir == "" {
		problems = append(problems, "general.logs_dir must be set")
	}
	if cfg.Timeouts.DefaultSecs <= 0 {
		problems = append(problems, "timeouts.default_secs must be positive")
	}
	if cfg.Timeouts.MaxSecs < cfg.Timeouts.DefaultSecs {
		problems = append(problems, "timeouts.max_secs must be >= timeouts.default_secs")
	}
	if cfg.RateLimit.Capacity <= 0 {
		problems = append(problems, "rate_limit.capacity must be positive")
	}
	if cfg.RateLimit.RefillMs <= 0 {
		problems = append(problems, "rate_limit.refill_ms must be positive")
	}
	if cfg.RateLimit.RefillAmount <= 0 {
		problems = append(problems, "rate_limit.refill_amount must be positive")
	}
	if cfg.Executor.MaxCommandChars <= 0 {
		problems = append(problems, "executor.max_command_chars must be positive")
	}
	switch cfg.Executor.OverflowStrategy {
	case "return", "truncate", "terminate":
	default:
		problems = append(problems, fmt.Sprintf("executor.overflow_strategy %q is not one of return, truncate, terminate", cfg.Executor.OverflowStrategy))
	}
	if cfg.Workdir.Enforced && len(cfg.Workdir.AllowedRoots) == 0 {
		problems = append(problems, "workdir.allowed_roots must not be empty when enforcement is on")
	}
	if len(problems) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

// WriteDefault writes the default configuration to path in TOML form.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(DefaultConfig()); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
