package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "CODEARENA"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Db       DbConfig       `mapstructure:"db"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Limiter  LimiterConfig  `mapstructure:"limiter"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port         string `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
	// RequestTimeout bounds how long a caller waits for a queued job, in seconds.
	RequestTimeout int `mapstructure:"request_timeout"`
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP. Enable only
	// behind a reverse proxy that overwrites those headers.
	TrustProxy bool `mapstructure:"trust_proxy"`
}

type DbConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type ExecutorConfig struct {
	WorkRoot         string `mapstructure:"work_root"`
	LanguagesFile    string `mapstructure:"languages_file"`
	PullImages       bool   `mapstructure:"pull_images"`
	Workers          int    `mapstructure:"workers"`
	QueueCapacity    int    `mapstructure:"queue_capacity"`
	RunTimeoutMs     int    `mapstructure:"run_timeout_ms"`
	CompileTimeoutMs int    `mapstructure:"compile_timeout_ms"`
	MemoryLimitMb    int    `mapstructure:"memory_limit_mb"`
	CPUPeriod        int64  `mapstructure:"cpu_period"`
	CPUQuota         int64  `mapstructure:"cpu_quota"`
	PidsLimit        int64  `mapstructure:"pids_limit"`
	OutputLimitBytes int64  `mapstructure:"output_limit_bytes"`
}

type LimiterConfig struct {
	GlobalRPS     float64 `mapstructure:"global_rps"`
	PerIPRPS      float64 `mapstructure:"per_ip_rps"`
	PerIPBurst    int     `mapstructure:"per_ip_burst"`
	MaxConcurrent int     `mapstructure:"max_concurrent"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// LoadConfig reads configuration from an optional YAML file and CODEARENA_* environment
// variables. A .env file in the working directory is loaded first when present.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return &conf, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "6000")
	v.SetDefault("server.read_timeout", 15)
	v.SetDefault("server.write_timeout", 120)
	v.SetDefault("server.idle_timeout", 60)
	v.SetDefault("server.request_timeout", 110)
	v.SetDefault("server.trust_proxy", false)

	v.SetDefault("db.enabled", false)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "codearena")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "codearena")
	v.SetDefault("db.sslmode", "disable")

	v.SetDefault("executor.work_root", os.TempDir())
	v.SetDefault("executor.languages_file", "")
	v.SetDefault("executor.pull_images", true)
	v.SetDefault("executor.workers", 5)
	v.SetDefault("executor.queue_capacity", 100)
	v.SetDefault("executor.run_timeout_ms", 5000)
	v.SetDefault("executor.compile_timeout_ms", 30000)
	v.SetDefault("executor.memory_limit_mb", 256)
	v.SetDefault("executor.cpu_period", 100000)
	v.SetDefault("executor.cpu_quota", 50000)
	v.SetDefault("executor.pids_limit", 64)
	v.SetDefault("executor.output_limit_bytes", 10*1024*1024)

	v.SetDefault("limiter.global_rps", 100)
	v.SetDefault("limiter.per_ip_rps", 10)
	v.SetDefault("limiter.per_ip_burst", 20)
	v.SetDefault("limiter.max_concurrent", 50)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Executor.Workers <= 0 {
		errs = append(errs, errors.New("executor.workers must be positive"))
	}
	if c.Executor.QueueCapacity <= 0 {
		errs = append(errs, errors.New("executor.queue_capacity must be positive"))
	}
	if c.Executor.RunTimeoutMs <= 0 {
		errs = append(errs, errors.New("executor.run_timeout_ms must be positive"))
	}
	if c.Executor.CompileTimeoutMs <= 0 {
		errs = append(errs, errors.New("executor.compile_timeout_ms must be positive"))
	}
	if c.Executor.MemoryLimitMb <= 0 {
		errs = append(errs, errors.New("executor.memory_limit_mb must be positive"))
	}
	if c.Executor.CPUPeriod <= 0 || c.Executor.CPUQuota <= 0 {
		errs = append(errs, errors.New("executor.cpu_period and executor.cpu_quota must be positive"))
	}
	if c.Executor.OutputLimitBytes <= 0 {
		errs = append(errs, errors.New("executor.output_limit_bytes must be positive"))
	}
	if c.Db.Enabled && c.Db.Host == "" {
		errs = append(errs, errors.New("db.host is required when db.enabled is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
