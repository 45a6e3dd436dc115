package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	LogLevel              string
	Timezone              string
	StoreBackend          string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	RedisPrefix           string
	KafkaBrokers          string
	KafkaTopic            string
	MongoURI              string
	MongoDatabase         string
	WorkerPoolSize        int
	AuthSecret            string
	AdminPassword         string
	AccessTokenTTLMinutes int
	DefaultLoanDays       int

	// ConfigFile is the file the values were read from, empty when only
	// defaults and the environment were used.
	ConfigFile string
}

// Load reads kassza.env from ./configs or the working directory, then
// applies environment overrides.
func Load() (Config, error) {
	return LoadNamed("kassza")
}

func LoadNamed(name string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName(name)
	v.SetConfigType("env")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	configFile := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		configFile = v.ConfigFileUsed()
	}

	v.AutomaticEnv()

	cfg := Config{
		Port:                  v.GetString("PORT"),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		LogLevel:              v.GetString("LOG_LEVEL"),
		Timezone:              v.GetString("TIMEZONE"),
		StoreBackend:          strings.ToLower(strings.TrimSpace(v.GetString("STORE_BACKEND"))),
		DatabaseURL:           v.GetString("DATABASE_URL"),
		RedisAddr:             v.GetString("REDIS_ADDR"),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		RedisPrefix:           v.GetString("REDIS_PREFIX"),
		KafkaBrokers:          v.GetString("KAFKA_BROKERS"),
		KafkaTopic:            v.GetString("KAFKA_TOPIC"),
		MongoURI:              v.GetString("MONGO_URI"),
		MongoDatabase:         v.GetString("MONGO_DATABASE"),
		WorkerPoolSize:        v.GetInt("WORKER_POOL_SIZE"),
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AdminPassword:         v.GetString("ADMIN_PASSWORD"),
		AccessTokenTTLMinutes: v.GetInt("ACCESS_TOKEN_TTL_MINUTES"),
		DefaultLoanDays:       v.GetInt("DEFAULT_LOAN_DAYS"),
		ConfigFile:            configFile,
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TIMEZONE", "Europe/Budapest")
	v.SetDefault("STORE_BACKEND", BackendMemory)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "kassza")
	// Empty brokers or Mongo URI turn the event stream and the report
	// archive into their in-process fallbacks.
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "kassza.events")
	v.SetDefault("MONGO_URI", "")
	v.SetDefault("MONGO_DATABASE", "kassza")
	v.SetDefault("WORKER_POOL_SIZE", 8)
	v.SetDefault("AUTH_SECRET", "")
	// ADMIN_PASSWORD only seeds the first admin of an empty user store.
	v.SetDefault("ADMIN_PASSWORD", "")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("DEFAULT_LOAN_DAYS", 14)
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return errors.New("PORT cannot be empty")
	}
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres backend")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE: %w", err)
	}
	if c.AccessTokenTTLMinutes < 1 {
		return errors.New("ACCESS_TOKEN_TTL_MINUTES must be positive")
	}
	if c.DefaultLoanDays < 1 {
		return errors.New("DEFAULT_LOAN_DAYS must be positive")
	}
	if c.WorkerPoolSize < 1 {
		return errors.New("WORKER_POOL_SIZE must be positive")
	}
	if c.RedisDB < 0 {
		return errors.New("REDIS_DB cannot be negative")
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Location falls back to UTC if the zone vanished after validation.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}
