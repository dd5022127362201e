package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. DIGEST_API_ADDR
const EnvPrefix = "DIGEST"

// Config is the full digest configuration
type Config struct {
	DataDir    string           `mapstructure:"data_dir"`
	API        APIConfig        `mapstructure:"api"`
	Log        LogConfig        `mapstructure:"log"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Health     HealthConfig     `mapstructure:"health"`
	Processor  ProcessorConfig  `mapstructure:"processor"`
	Client     ClientConfig     `mapstructure:"client"`
}

// APIConfig holds the listen addresses
type APIConfig struct {
	Addr     string `mapstructure:"addr"`
	GRPCAddr string `mapstructure:"grpc_addr"`
}

// LogConfig configures pkg/log
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// QueueConfig sizes the summary queue and its consumer
type QueueConfig struct {
	Capacity    int           `mapstructure:"capacity"`
	Concurrency int           `mapstructure:"concurrency"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

// SupervisorConfig configures consumer restarts
type SupervisorConfig struct {
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

// SchedulerConfig configures the job scheduler
type SchedulerConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// HealthConfig configures the periodic health pass
type HealthConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	AutoRepair bool          `mapstructure:"auto_repair"`
}

// ProcessorConfig selects what happens to a due summary. An empty webhook
// URL logs the task instead.
type ProcessorConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ClientConfig is used by the CLI commands that talk to a running server
type ClientConfig struct {
	Server string `mapstructure:"server"`
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./digest-data")

	v.SetDefault("api.addr", "127.0.0.1:8080")
	v.SetDefault("api.grpc_addr", "127.0.0.1:9090")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("queue.capacity", 1024)
	v.SetDefault("queue.concurrency", 2)
	v.SetDefault("queue.task_timeout", 5*time.Minute)

	v.SetDefault("supervisor.grace_period", 2*time.Second)

	v.SetDefault("scheduler.timezone", "Local")

	v.SetDefault("health.interval", 10*time.Minute)
	v.SetDefault("health.auto_repair", true)

	v.SetDefault("processor.webhook_url", "")
	v.SetDefault("processor.timeout", 30*time.Second)

	v.SetDefault("client.server", "127.0.0.1:8080")
}

// NewViper builds a viper instance with defaults, DIGEST_ environment
// overrides and, when found, a YAML config file. An empty configFile
// searches for digest.yaml in the working directory and $HOME/.digest.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("digest")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.digest")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}
	return v, nil
}

// LoadWithViper unmarshals and validates a configuration
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads the configuration from defaults, environment and configFile
func Load(configFile string) (*Config, error) {
	v, err := NewViper(configFile)
	if err != nil {
		return nil, err
	}
	return LoadWithViper(v)
}

// Validate checks values that would otherwise fail late at startup
func (c *Config) Validate() error {
	var errs error
	if c.DataDir == "" {
		errs = errors.CombineErrors(errs, errors.New("data_dir must not be empty"))
	}
	if c.Queue.Capacity <= 0 {
		errs = errors.CombineErrors(errs, errors.Newf("queue.capacity must be positive, got %d", c.Queue.Capacity))
	}
	if c.Queue.Concurrency <= 0 {
		errs = errors.CombineErrors(errs, errors.Newf("queue.concurrency must be positive, got %d", c.Queue.Concurrency))
	}
	if c.Supervisor.GracePeriod <= 0 {
		errs = errors.CombineErrors(errs, errors.Newf("supervisor.grace_period must be positive, got %s", c.Supervisor.GracePeriod))
	}
	if c.Health.Interval < 0 {
		errs = errors.CombineErrors(errs, errors.Newf("health.interval must not be negative, got %s", c.Health.Interval))
	}
	if _, err := c.Location(); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	if errs != nil {
		return errors.Wrap(errs, "invalid config")
	}
	return nil
}

// Location resolves scheduler.timezone
func (c *Config) Location() (*time.Location, error) {
	if c.Scheduler.Timezone == "" || c.Scheduler.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid scheduler.timezone %q", c.Scheduler.Timezone)
	}
	return loc, nil
}
