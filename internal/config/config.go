package config

import (
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds operations HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color"`
}

// SchedulerConfig holds the publishing scheduler configuration
type SchedulerConfig struct {
	Schedule        string          `yaml:"schedule"`
	PublishTimeout  time.Duration   `yaml:"publish_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	Tiers           TiersConfig     `yaml:"tiers"`
	Activity        ActivityConfig  `yaml:"activity"`
}

// RateLimitConfig caps publisher calls across all tiers
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// TiersConfig holds batch settings per overdue tier
type TiersConfig struct {
	OnTime            TierConfig `yaml:"on_time"`
	RecentlyOverdue   TierConfig `yaml:"recently_overdue"`
	ModeratelyOverdue TierConfig `yaml:"moderately_overdue"`
	SeverelyOverdue   TierConfig `yaml:"severely_overdue"`
}

// TierConfig is the batch size and inter-batch delay of one tier.
// Zero concurrency falls back to the built-in default for the tier.
type TierConfig struct {
	Concurrency int           `yaml:"concurrency"`
	BatchDelay  time.Duration `yaml:"batch_delay"`
}

// ActivityConfig holds activity log writer settings
type ActivityConfig struct {
	BufferSize   int           `yaml:"buffer_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Load reads and parses the configuration file.
// ${VAR} references are expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Scheduler.Schedule == "" {
		c.Scheduler.Schedule = "@every 1m"
	}
	if c.Scheduler.PublishTimeout == 0 {
		c.Scheduler.PublishTimeout = 30 * time.Second
	}
	if c.Scheduler.ShutdownTimeout == 0 {
		c.Scheduler.ShutdownTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return c.Scheduler.validate()
}

func (s *SchedulerConfig) validate() error {
	if _, err := cron.ParseStandard(s.Schedule); err != nil {
		return fmt.Errorf("invalid scheduler schedule %q: %w", s.Schedule, err)
	}

	if s.PublishTimeout < 0 {
		return fmt.Errorf("scheduler publish_timeout must not be negative")
	}

	if s.RateLimit.PerSecond < 0 {
		return fmt.Errorf("scheduler rate_limit per_second must not be negative")
	}

	if s.RateLimit.Burst < 0 {
		return fmt.Errorf("scheduler rate_limit burst must not be negative")
	}

	tiers := map[string]TierConfig{
		"on_time":            s.Tiers.OnTime,
		"recently_overdue":   s.Tiers.RecentlyOverdue,
		"moderately_overdue": s.Tiers.ModeratelyOverdue,
		"severely_overdue":   s.Tiers.SeverelyOverdue,
	}
	for name, tier := range tiers {
		if tier.Concurrency < 0 {
			return fmt.Errorf("scheduler tier %s concurrency must not be negative", name)
		}
		if tier.BatchDelay < 0 {
			return fmt.Errorf("scheduler tier %s batch_delay must not be negative", name)
		}
	}

	if s.Activity.BufferSize < 0 {
		return fmt.Errorf("scheduler activity buffer_size must not be negative")
	}

	return nil
}
