package config

import "time"

// PersistenceBackend selects which persistence.Store implementation the
// engine runs against.
type PersistenceBackend string

const (
	PersistenceMemory PersistenceBackend = "memory"
	PersistenceJSON   PersistenceBackend = "json"
	PersistenceSQL    PersistenceBackend = "sql"
)

// LockBackend selects which lock.Adapter implementation backs SEQUENTIAL
// mode's distributed mirror.
type LockBackend string

const (
	LockMemory LockBackend = "memory"
	LockRedis  LockBackend = "redis"
)

// Config holds the application configuration.
type Config struct {
	WorkflowDir string `mapstructure:"workflow_dir"`
	HTTPPort    int    `mapstructure:"http_port"`
	LogLevel    string `mapstructure:"log_level"`
	DataDir     string `mapstructure:"data_dir"`

	Persistence PersistenceBackend `mapstructure:"persistence_backend"`
	SQLDriver   string             `mapstructure:"sql_driver"`
	SQLDSN      string             `mapstructure:"sql_dsn"`

	LockBackend   LockBackend   `mapstructure:"lock_backend"`
	RedisAddress  string        `mapstructure:"redis_address"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`

	JanitorSchedule string `mapstructure:"janitor_schedule"`

	AuditEnabled bool     `mapstructure:"audit_enabled"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`

	MetricsEnabled bool `mapstructure:"metrics_enabled"`
}

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		WorkflowDir: "./workflows",
		HTTPPort:    8000,
		LogLevel:    "info",
		DataDir:     "./data",

		Persistence: PersistenceMemory,

		LockBackend: LockMemory,
		LockTTL:     30 * time.Second,

		JanitorSchedule: "*/5 * * * * *",

		KafkaTopic: "reactor.transitions",

		MetricsEnabled: true,
	}
}
