// Package config resolves the topicbus configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"topicbus/src/broker"
	"topicbus/src/logger"
)

// Config holds every recognised option. It is resolved once and not
// modified afterwards.
type Config struct {
	// BrokerHosts is a comma-separated host:port list. BrokerHost is used
	// when it is empty.
	BrokerHosts []string `env:"BROKER_HOSTS" env-separator:","`
	BrokerHost  string   `env:"BROKER_HOST" env-default:"localhost:9092"`

	ClientID string `env:"CLIENT_ID" env-default:"topicbus"`
	GroupID  string `env:"GROUP_ID" env-default:"topicbus"`

	TopicPartitions  int32 `env:"TOPIC_PARTITIONS" env-default:"3"`
	TopicReplication int16 `env:"TOPIC_REPLICATION" env-default:"3"`

	RetryInitial          time.Duration `env:"RETRY_INITIAL" env-default:"250ms"`
	RetryMax              time.Duration `env:"RETRY_MAX" env-default:"10s"`
	RetryMaxAttempts      int           `env:"RETRY_MAX_ATTEMPTS" env-default:"0"`
	RetryMaxElapsed       time.Duration `env:"RETRY_MAX_ELAPSED" env-default:"0s"`
	ConnectAttemptTimeout time.Duration `env:"CONNECT_ATTEMPT_TIMEOUT" env-default:"10s"`

	// PostgresDSN enables the delivery journal in Postgres.
	PostgresDSN string `env:"POSTGRES_DSN"`
	// MetricsAddr enables the Prometheus endpoint, e.g. ":9090".
	MetricsAddr string `env:"METRICS_ADDR"`
	LogLevel    string `env:"LOG_LEVEL" env-default:"info"`
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Brokers()) == 0 {
		return fmt.Errorf("BROKER_HOSTS or BROKER_HOST must name at least one broker")
	}
	if c.TopicPartitions <= 0 {
		return fmt.Errorf("TOPIC_PARTITIONS must be positive, got %d", c.TopicPartitions)
	}
	if c.TopicReplication <= 0 {
		return fmt.Errorf("TOPIC_REPLICATION must be positive, got %d", c.TopicReplication)
	}
	if c.RetryMaxAttempts < 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must not be negative, got %d", c.RetryMaxAttempts)
	}
	return nil
}

// Brokers returns the seed broker list with blanks removed.
func (c *Config) Brokers() []string {
	hosts := c.BrokerHosts
	if len(hosts) == 0 && c.BrokerHost != "" {
		hosts = []string{c.BrokerHost}
	}

	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}

// RetryPolicy converts the retry settings for the connector.
func (c *Config) RetryPolicy() broker.RetryPolicy {
	p := broker.DefaultRetryPolicy()
	p.InitialInterval = c.RetryInitial
	p.MaxInterval = c.RetryMax
	p.MaxAttempts = c.RetryMaxAttempts
	p.MaxElapsed = c.RetryMaxElapsed
	p.AttemptTimeout = c.ConnectAttemptTimeout
	return p
}

// TopicPolicy converts the topic creation settings.
func (c *Config) TopicPolicy() broker.TopicPolicy {
	return broker.TopicPolicy{
		Partitions:        c.TopicPartitions,
		ReplicationFactor: c.TopicReplication,
	}
}

// Level returns the parsed log level.
func (c *Config) Level() logger.Level {
	return logger.ParseLevel(c.LogLevel)
}
