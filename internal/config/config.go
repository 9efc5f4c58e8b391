// Package config loads the typed configuration for all traffic-manager
// processes. Configuration is read once at startup from an optional YAML file
// plus TM_-prefixed environment variables; nothing re-reads it at request time.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MongoDB  MongoConfig    `mapstructure:"mongodb"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// APIConfig holds the HTTP server configuration
type APIConfig struct {
	ListenAddress   string        `mapstructure:"listen_address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds the Postgres configuration
type DatabaseConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Name         string        `mapstructure:"name"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	SSLMode      string        `mapstructure:"ssl_mode"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	ConnLifetime time.Duration `mapstructure:"conn_lifetime"`
}

// DSN returns the Postgres connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Name, c.User, c.Password, c.SSLMode)
}

// RedisConfig holds the Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the host:port address for the Redis client
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MongoConfig holds the MongoDB configuration for the audit store
type MongoConfig struct {
	URI             string        `mapstructure:"uri"`
	Database        string        `mapstructure:"database"`
	AuditCollection string        `mapstructure:"audit_collection"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// KafkaConfig holds the event log configuration
type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	Topic           string        `mapstructure:"topic"`
	GroupPrefix     string        `mapstructure:"group_prefix"`
	ProducerRetries int           `mapstructure:"producer_retries"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// CacheConfig holds the route cache TTLs
type CacheConfig struct {
	PositiveTTL time.Duration `mapstructure:"positive_ttl"`
	NegativeTTL time.Duration `mapstructure:"negative_ttl"`
}

// LoggingConfig holds the logging configuration
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load builds the configuration from defaults, the optional config file
// named by TM_CONFIG_FILE, and TM_-prefixed environment variables
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configFile := os.Getenv("TM_CONFIG_FILE"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	v.SetEnvPrefix("TM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// API
	v.SetDefault("api.listen_address", ":8000")
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "15s")
	v.SetDefault("api.shutdown_timeout", "35s")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "traffic_manager")
	v.SetDefault("database.user", "traffic_manager")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_lifetime", "30m")

	// Redis
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// MongoDB
	v.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("mongodb.database", "traffic_manager")
	v.SetDefault("mongodb.audit_collection", "route_events")
	v.SetDefault("mongodb.connect_timeout", "10s")

	// Kafka
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "route-events")
	v.SetDefault("kafka.group_prefix", "traffic-manager")
	v.SetDefault("kafka.producer_retries", 3)
	v.SetDefault("kafka.request_timeout", "10s")

	// Cache TTLs
	v.SetDefault("cache.positive_ttl", "60s")
	v.SetDefault("cache.negative_ttl", "10s")

	// Logging
	v.SetDefault("logging.level", "info")
}
