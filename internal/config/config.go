// Package config loads the queue processor configuration from a YAML file,
// with selected fields overridable through environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/szaretsky/queueprocessor/internal/worker"
	"github.com/szaretsky/queueprocessor/shared/logger"
	"github.com/szaretsky/queueprocessor/shared/postgresql"
	"github.com/szaretsky/queueprocessor/shared/rabbitmq"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// PathEnv names the variable holding the default config file path
	PathEnv = "QUEUE_PROCESSOR_CONFIG_PATH"
	// DefaultPath is used when neither a flag nor PathEnv is given
	DefaultPath = "config/config.yaml"
)

// Config represents the complete application configuration
type Config struct {
	App       AppConfig       `yaml:"app"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LOG_"`
	Database  DatabaseConfig  `yaml:"database" envPrefix:"DB_"`
	Control   ControlConfig   `yaml:"control" envPrefix:"CONTROL_"`
	Processor ProcessorConfig `yaml:"processor" envPrefix:"PROCESSOR_"`
	Queues    []QueueConfig   `yaml:"queues"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq" envPrefix:"RABBITMQ_"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment" env:"APP_ENV"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" env:"LEVEL"`
	Format       string `yaml:"format" env:"FORMAT"`
	Output       string `yaml:"output" env:"OUTPUT"`
	EnableSource bool   `yaml:"enable_source"`
	TimeFormat   string `yaml:"time_format"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Database        string        `yaml:"database" env:"NAME"`
	SSLMode         string        `yaml:"sslmode" env:"SSLMODE"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// ControlConfig holds control server configuration
type ControlConfig struct {
	Enabled           bool          `yaml:"enabled" env:"ENABLED"`
	Host              string        `yaml:"host" env:"HOST"`
	Port              int           `yaml:"port" env:"PORT"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

// ProcessorConfig holds orchestrator timing and retention settings
type ProcessorConfig struct {
	AcquireWait     time.Duration `yaml:"acquire_wait" env:"ACQUIRE_WAIT"`
	EmptyWait       time.Duration `yaml:"empty_wait" env:"EMPTY_WAIT"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" env:"RETRY_BACKOFF"`
	DeleteProcessed bool          `yaml:"delete_processed" env:"DELETE_PROCESSED"`
}

// QueueConfig holds the initial settings of one queue
type QueueConfig struct {
	ID      int `yaml:"id"`
	Workers int `yaml:"workers"`
	Frame   int `yaml:"frame"`
}

// RabbitMQConfig holds the optional AMQP ingress configuration
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled" env:"ENABLED"`
	Host       string           `yaml:"host" env:"HOST"`
	Port       int              `yaml:"port" env:"PORT"`
	User       string           `yaml:"user" env:"USER"`
	Password   string           `yaml:"password" env:"PASSWORD"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      AMQPQueueConfig  `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// AMQPQueueConfig holds RabbitMQ queue configuration
type AMQPQueueConfig struct {
	Name string `yaml:"name"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// Default returns the configuration used for fields the file leaves unset
func Default() Config {
	return Config{
		App: AppConfig{
			Name:        "queue-processor",
			Environment: "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			SSLMode:         "disable",
			ConnectTimeout:  5 * time.Second,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Control: ControlConfig{
			Enabled:           true,
			Host:              "127.0.0.1",
			Port:              2345,
			ReadHeaderTimeout: 5 * time.Second,
		},
		Processor: ProcessorConfig{
			AcquireWait:  time.Millisecond,
			EmptyWait:    time.Second,
			RetryBackoff: 5 * time.Second,
		},
		RabbitMQ: RabbitMQConfig{
			Port:       5672,
			VHost:      "/",
			Exchange:   ExchangeConfig{Type: "direct", Durable: true},
			Connection: ConnectionConfig{RetryAttempts: 5, RetryInterval: 2 * time.Second, Heartbeat: 10 * time.Second},
			Publish:    PublishConfig{RetryAttempts: 3, RetryInterval: 100 * time.Millisecond, BackoffMultiplier: 2},
			Consumer:   ConsumerConfig{PrefetchCount: 50},
		},
	}
}

// Load reads and parses the configuration file on top of Default, then
// applies environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return &config, nil
}

// ResolvePath picks the config file: the flag value, then PathEnv, then DefaultPath
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	return DefaultPath
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return errors.New("database host is required")
	}
	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}
	if c.Database.Database == "" {
		return errors.New("database name is required")
	}

	if c.Control.Enabled && (c.Control.Port < MinPort || c.Control.Port > MaxPort) {
		return fmt.Errorf("invalid control port: %d (must be between %d and %d)", c.Control.Port, MinPort, MaxPort)
	}

	if len(c.Queues) == 0 {
		return errors.New("at least one queue must be configured")
	}
	seen := make(map[int]bool, len(c.Queues))
	for _, q := range c.Queues {
		if q.ID <= 0 {
			return fmt.Errorf("queue id must be positive, got %d", q.ID)
		}
		if seen[q.ID] {
			return fmt.Errorf("queue %d configured twice", q.ID)
		}
		seen[q.ID] = true
		if q.Workers < 0 {
			return fmt.Errorf("queue %d: workers must not be negative", q.ID)
		}
		if q.Frame < 1 {
			return fmt.Errorf("queue %d: frame must be at least 1", q.ID)
		}
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Host == "" {
			return errors.New("rabbitmq host is required")
		}
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return errors.New("rabbitmq exchange name is required")
		}
		if c.RabbitMQ.Queue.Name == "" {
			return errors.New("rabbitmq queue name is required")
		}
	}

	return nil
}

// QueueSettings converts the queue section into orchestrator settings
func (c *Config) QueueSettings() []worker.Settings {
	settings := make([]worker.Settings, len(c.Queues))
	for i, q := range c.Queues {
		settings[i] = worker.Settings{QueueID: q.ID, Workers: q.Workers, Frame: q.Frame}
	}
	return settings
}

// Logger returns the logger configuration
func (c *LoggingConfig) Logger() *logger.Config {
	return &logger.Config{
		Level:        c.Level,
		Format:       c.Format,
		Output:       c.Output,
		EnableSource: c.EnableSource,
		TimeFormat:   c.TimeFormat,
	}
}

// Postgres returns the client configuration
func (c *DatabaseConfig) Postgres() *postgresql.Config {
	return &postgresql.Config{
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		Database:        c.Database,
		SSLMode:         c.SSLMode,
		ConnectTimeout:  c.ConnectTimeout,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
	}
}

// Client returns the RabbitMQ client configuration
func (c *RabbitMQConfig) Client() *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               c.Host,
		Port:               c.Port,
		User:               c.User,
		Password:           c.Password,
		VHost:              c.VHost,
		ExchangeName:       c.Exchange.Name,
		ExchangeType:       c.Exchange.Type,
		QueueName:          c.Queue.Name,
		RoutingKey:         c.RoutingKey,
		Durable:            c.Exchange.Durable,
		PrefetchCount:      c.Consumer.PrefetchCount,
		RetryAttempts:      c.Connection.RetryAttempts,
		RetryInterval:      c.Connection.RetryInterval,
		Heartbeat:          c.Connection.Heartbeat,
		PublishRetries:     c.Publish.RetryAttempts,
		PublishRetryDelay:  c.Publish.RetryInterval,
		PublishBackoffMult: c.Publish.BackoffMultiplier,
	}
}
