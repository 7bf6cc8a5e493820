// Package config loads process configuration from the environment in the
// teacher's own getEnv/getEnvAsInt/getEnvAsBool idiom — one struct per
// service, no config file format beyond the limit-profile JSON (§4.5).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig is shared by both services.
type ServerConfig struct {
	Port string
	Host string
}

// LoggingConfig is shared by both services.
type LoggingConfig struct {
	Level  string
	Format string
}

// DatabaseConfig configures a single Postgres pool.
type DatabaseConfig struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ConnectionString builds a libpq-style DSN.
func (c DatabaseConfig) ConnectionString() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Database +
		" sslmode=" + c.SSLMode
}

func loadDatabaseConfig(prefix, defaultDB string) DatabaseConfig {
	return DatabaseConfig{
		Host:            getEnv(prefix+"_DB_HOST", "localhost"),
		Port:            getEnvAsInt(prefix+"_DB_PORT", 5432),
		Database:        getEnv(prefix+"_DB_NAME", defaultDB),
		User:            getEnv(prefix+"_DB_USER", "ledger"),
		Password:        getEnv(prefix+"_DB_PASSWORD", "ledger_secure_pass"),
		SSLMode:         getEnv(prefix+"_DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt(prefix+"_DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt(prefix+"_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration(prefix+"_DB_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

// AuthConfig carries the bearer-token verification secret.
type AuthConfig struct {
	JWTSecret string
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-me"),
	}
}

// AccountServiceConfig is the Account Service process configuration.
type AccountServiceConfig struct {
	Server   ServerConfig
	Logging  LoggingConfig
	Database DatabaseConfig
	Auth     AuthConfig
}

// LoadAccountService reads Account Service configuration from the environment.
func LoadAccountService() *AccountServiceConfig {
	return &AccountServiceConfig{
		Server: ServerConfig{
			Port: getEnv("ACCOUNT_SERVICE_PORT", "8081"),
			Host: getEnv("ACCOUNT_SERVICE_HOST", "0.0.0.0"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Database: loadDatabaseConfig("ACCOUNT", "accounts"),
		Auth:     loadAuthConfig(),
	}
}

// ResilienceConfig tunes the resilient account client (§4.3).
type ResilienceConfig struct {
	Timeout             time.Duration
	MaxAttempts         int
	InitialBackoff      time.Duration
	BreakerWindow       uint32
	BreakerMinCalls     uint32
	BreakerFailureRatio float64
	BreakerOpenTimeout  time.Duration
	BreakerHalfOpenMax  uint32
}

func loadResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		Timeout:             getEnvAsDuration("ACCOUNT_CLIENT_TIMEOUT", 8*time.Second),
		MaxAttempts:         getEnvAsInt("ACCOUNT_CLIENT_MAX_ATTEMPTS", 5),
		InitialBackoff:      getEnvAsDuration("ACCOUNT_CLIENT_INITIAL_BACKOFF", 2*time.Second),
		BreakerWindow:       uint32(getEnvAsInt("ACCOUNT_CLIENT_BREAKER_WINDOW", 15)),
		BreakerMinCalls:     uint32(getEnvAsInt("ACCOUNT_CLIENT_BREAKER_MIN_CALLS", 8)),
		BreakerFailureRatio: getEnvAsFloat("ACCOUNT_CLIENT_BREAKER_FAILURE_RATIO", 0.6),
		BreakerOpenTimeout:  getEnvAsDuration("ACCOUNT_CLIENT_BREAKER_OPEN_TIMEOUT", 45*time.Second),
		BreakerHalfOpenMax:  uint32(getEnvAsInt("ACCOUNT_CLIENT_BREAKER_HALF_OPEN_MAX", 3)),
	}
}

// CacheConfig configures the Redis read-side cache.
type CacheConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Addr:     getEnv("CACHE_ADDR", "localhost:6379"),
		Password: getEnv("CACHE_PASSWORD", ""),
		DB:       getEnvAsInt("CACHE_DB", 0),
		TTL:      getEnvAsDuration("CACHE_TTL", 5*time.Minute),
	}
}

// TransactionServiceConfig is the Transaction Service process configuration.
type TransactionServiceConfig struct {
	Server             ServerConfig
	Logging            LoggingConfig
	Database           DatabaseConfig
	Auth               AuthConfig
	Resilience         ResilienceConfig
	Cache              CacheConfig
	AccountServiceURL  string
	LimitProfilePath   string
	RequestDeadline    time.Duration
	ReversalWindow     time.Duration
	StaleSweepInterval time.Duration
	StaleSweepAge      time.Duration
	KafkaBrokers       []string
	KafkaEnabled       bool
}

// LoadTransactionService reads Transaction Service configuration from the environment.
func LoadTransactionService() *TransactionServiceConfig {
	return &TransactionServiceConfig{
		Server: ServerConfig{
			Port: getEnv("TRANSACTION_SERVICE_PORT", "8082"),
			Host: getEnv("TRANSACTION_SERVICE_HOST", "0.0.0.0"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Database:           loadDatabaseConfig("TRANSACTION", "transactions"),
		Auth:                loadAuthConfig(),
		Resilience:          loadResilienceConfig(),
		Cache:               loadCacheConfig(),
		AccountServiceURL:   getEnv("ACCOUNT_SERVICE_URL", "http://localhost:8081"),
		LimitProfilePath:    getEnv("LIMIT_PROFILE_PATH", ""),
		RequestDeadline:     getEnvAsDuration("REQUEST_DEADLINE", 30*time.Second),
		ReversalWindow:      getEnvAsDuration("REVERSAL_WINDOW", 30*24*time.Hour),
		StaleSweepInterval:  getEnvAsDuration("STALE_SWEEP_INTERVAL", 60*time.Second),
		StaleSweepAge:       getEnvAsDuration("STALE_SWEEP_AGE", 5*time.Minute),
		KafkaBrokers:        getEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaEnabled:        getEnvAsBool("KAFKA_ENABLED", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue
	}
	return strings.Split(v, ",")
}
