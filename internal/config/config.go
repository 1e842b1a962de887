package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	// Realtime layer.
	MaxMessageBytes      int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	SendBuffer           int           `mapstructure:"send_buffer" yaml:"send_buffer"`
	CommandsPerMinute    int           `mapstructure:"commands_per_minute" yaml:"commands_per_minute"`
	PresenceWriteRetries int           `mapstructure:"presence_write_retries" yaml:"presence_write_retries"`
	PresenceRetryBackoff time.Duration `mapstructure:"presence_retry_backoff" yaml:"presence_retry_backoff"`
	PresenceQueueSize    int           `mapstructure:"presence_queue_size" yaml:"presence_queue_size"`
	SyncMembership       bool          `mapstructure:"sync_membership" yaml:"sync_membership"`

	// Presence audit stream; empty URL disables it.
	AMQPURL      string `mapstructure:"amqp_url" yaml:"amqp_url"`
	AMQPExchange string `mapstructure:"amqp_exchange" yaml:"amqp_exchange"`

	MetricsEnabled bool `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:                 ":3001",
		ReadHeaderTimeout:    5 * time.Second,
		ShutdownTimeout:      5 * time.Second,
		LogLevel:             "info",
		DatabasePath:         "relaychat.db",
		JWTSecret:            "default-secret-change-me",
		JWTIssuer:            "relaychat",
		JWTAudience:          "relaychat",
		JWTTTL:               7 * 24 * time.Hour,
		MaxMessageBytes:      1 << 20,
		SendBuffer:           64,
		CommandsPerMinute:    600,
		PresenceWriteRetries: 3,
		PresenceRetryBackoff: 200 * time.Millisecond,
		PresenceQueueSize:    1024,
		AMQPExchange:         "relaychat.audit",
		MetricsEnabled:       true,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.AMQPURL != "" {
		c.AMQPURL = other.AMQPURL
	}
}
