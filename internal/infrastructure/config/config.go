package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the root application configuration, assembled from layered
// viper sources: built-in defaults, a global ~/.shesha/config.yaml, a
// project-local config.yaml, then environment variable overrides.
type Config struct {
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	LLM      LLMConfig      `mapstructure:"llm"`
}

// GatewayConfig configures the HTTP surface exposing the public query API.
type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

// DatabaseConfig configures the gorm-backed trace/document store.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EngineConfig configures the RLM engine-wide defaults — per-query
// overrides still come from entity.QueryOptions.
type EngineConfig struct {
	DriverModel   string        `mapstructure:"driver_model"`
	SubModel      string        `mapstructure:"sub_model"`
	Temperature   float64       `mapstructure:"temperature"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryBaseWait time.Duration `mapstructure:"retry_base_wait"`

	MaxIterations   int `mapstructure:"max_iterations"`
	MaxSubcallChars int `mapstructure:"max_subcall_chars"`

	MaxTokenBudget   int64         `mapstructure:"max_token_budget"`
	MaxRunDuration   time.Duration `mapstructure:"max_run_duration"`
	ContextMaxTokens int           `mapstructure:"context_max_tokens"`
	ContextWarnRatio float64       `mapstructure:"context_warn_ratio"`
	ContextHardRatio float64       `mapstructure:"context_hard_ratio"`

	LoopWindowSize      int `mapstructure:"loop_window_size"`
	LoopDetectThreshold int `mapstructure:"loop_detect_threshold"`
}

// SandboxConfig configures the sandbox child process pool.
type SandboxConfig struct {
	Binary         string        `mapstructure:"binary"`           // path to the compiled shesha-sandbox executable
	WorkDir        string        `mapstructure:"work_dir"`         // scratch directory root for children
	PoolSize       int           `mapstructure:"pool_size"`        // max concurrent sandbox children
	ExecTimeout    time.Duration `mapstructure:"exec_timeout"`     // per-exec wall clock ceiling
	MaxFrameBytes  int           `mapstructure:"max_frame_bytes"`  // wire frame ceiling
	MaxOutputChars int           `mapstructure:"max_output_chars"` // captured stdout ceiling per block
}

// LLMConfig configures the Go-native LLM providers used for both the
// driver model and the sub-LLM gateway.
type LLMConfig struct {
	Providers []LLMProviderConfig `mapstructure:"providers"`
}

// LLMProviderConfig configures one provider entry for the failover router.
type LLMProviderConfig struct {
	Name     string   `mapstructure:"name"`
	BaseURL  string   `mapstructure:"base_url"`
	APIKey   string   `mapstructure:"api_key"`
	Models   []string `mapstructure:"models"`
	Priority int      `mapstructure:"priority"`
}

// Load assembles Config from layered sources: built-in defaults, then
// ~/.shesha/config.yaml, then a project-local config.yaml (first of
// ./config/config.yaml or ./config.yaml found), then SHESHA_-prefixed
// environment variables, in increasing priority.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir := filepath.Join(os.Getenv("HOME"), ".shesha")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break
		}
	}

	v.SetEnvPrefix("SHESHA")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 18080)
	v.SetDefault("gateway.mode", "debug")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "shesha.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("engine.temperature", 0)
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.retry_base_wait", "2s")
	v.SetDefault("engine.max_iterations", 20)
	v.SetDefault("engine.max_subcall_chars", 500000)
	v.SetDefault("engine.max_token_budget", 0)
	v.SetDefault("engine.max_run_duration", "0s")
	v.SetDefault("engine.context_max_tokens", 128000)
	v.SetDefault("engine.context_warn_ratio", 0.7)
	v.SetDefault("engine.context_hard_ratio", 0.85)
	v.SetDefault("engine.loop_window_size", 6)
	v.SetDefault("engine.loop_detect_threshold", 3)

	v.SetDefault("sandbox.binary", "./bin/shesha-sandbox")
	v.SetDefault("sandbox.work_dir", filepath.Join(os.TempDir(), "shesha-sandbox"))
	v.SetDefault("sandbox.pool_size", 4)
	v.SetDefault("sandbox.exec_timeout", "5m")
	v.SetDefault("sandbox.max_frame_bytes", 50*1024*1024)
	v.SetDefault("sandbox.max_output_chars", 20000)
}
