// Package config loads the settings the CLI commands hand to the worker
// and introspection server: Redis connection parameters and the scalar
// worker-runtime knobs from spec §4.F. Functions and cron entries are
// Go-native registrations assembled by cmd/redisq, not env-loaded.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// RedisSettings mirrors the source's RedisSettings dataclass (aiorq
// connections.py): host/port/db/password plus TLS and sentinel failover.
type RedisSettings struct {
	Host           string        `validate:"required"`
	Port           int           `validate:"required,gt=0"`
	Database       int           `validate:"gte=0"`
	Password       string
	TLS            bool
	Sentinel       bool
	SentinelMaster string
	ConnTimeout    time.Duration `validate:"gt=0"`
	ConnRetries    int           `validate:"gte=0"`
	ConnRetryDelay time.Duration `validate:"gte=0"`
}

func DefaultRedisSettings() RedisSettings {
	return RedisSettings{
		Host:           "127.0.0.1",
		Port:           6379,
		Database:       0,
		ConnTimeout:    1 * time.Second,
		ConnRetries:    5,
		ConnRetryDelay: 1 * time.Second,
	}
}

// RedisSettingsFromDSN parses a "redis://[:password@]host:port/db" URL,
// the Go analogue of aiorq's RedisSettings.from_dsn classmethod.
func RedisSettingsFromDSN(dsn string) (RedisSettings, error) {
	rs := DefaultRedisSettings()

	rest := dsn
	switch {
	case strings.HasPrefix(rest, "rediss://"):
		rs.TLS = true
		rest = strings.TrimPrefix(rest, "rediss://")
	case strings.HasPrefix(rest, "redis://"):
		rest = strings.TrimPrefix(rest, "redis://")
	default:
		return RedisSettings{}, fmt.Errorf("config: unsupported redis dsn scheme in %q", dsn)
	}

	if at := strings.LastIndex(rest, "@"); at >= 0 {
		userinfo := rest[:at]
		rest = rest[at+1:]
		if c := strings.Index(userinfo, ":"); c >= 0 {
			rs.Password = userinfo[c+1:]
		} else {
			rs.Password = userinfo
		}
	}

	hostport := rest
	if slash := strings.Index(rest, "/"); slash >= 0 {
		hostport = rest[:slash]
		if db, err := strconv.Atoi(rest[slash+1:]); err == nil {
			rs.Database = db
		}
	}

	if c := strings.LastIndex(hostport, ":"); c >= 0 {
		rs.Host = hostport[:c]
		port, err := strconv.Atoi(hostport[c+1:])
		if err != nil {
			return RedisSettings{}, fmt.Errorf("config: invalid redis port in %q: %w", dsn, err)
		}
		rs.Port = port
	} else if hostport != "" {
		rs.Host = hostport
	}

	if err := validate.Struct(rs); err != nil {
		return RedisSettings{}, fmt.Errorf("config: invalid redis dsn %q: %w", dsn, err)
	}
	return rs, nil
}

func (rs RedisSettings) Addr() string {
	return fmt.Sprintf("%s:%d", rs.Host, rs.Port)
}

// WorkerSettings is the scalar half of spec §4.F's configuration table.
// cmd/redisq copies these fields one by one into worker.Config, where the
// caller also attaches functions, cron jobs, and hooks.
type WorkerSettings struct {
	QueueName  string `validate:"required"`
	WorkerName string `validate:"required"`

	MaxJobs  int           `validate:"gt=0"`
	JobTimeout time.Duration `validate:"gt=0"`

	KeepResult        time.Duration `validate:"gte=0"`
	KeepResultForever bool

	PollDelay time.Duration `validate:"gt=0"`

	MaxTries      int  `validate:"gt=0"`
	RetryJobs     bool
	AllowAbortJobs bool

	HealthCheckInterval time.Duration `validate:"gt=0"`
	ShutdownGrace       time.Duration `validate:"gt=0"`

	HealthAddr string
	Burst      bool
}

func DefaultWorkerSettings() WorkerSettings {
	return WorkerSettings{
		QueueName:           "default:queue",
		WorkerName:          "redisq-worker",
		MaxJobs:             10,
		JobTimeout:          300 * time.Second,
		KeepResult:          3600 * time.Second,
		PollDelay:           500 * time.Millisecond,
		MaxTries:            5,
		RetryJobs:           true,
		AllowAbortJobs:      true,
		HealthCheckInterval: time.Hour,
		ShutdownGrace:       10 * time.Second,
		HealthAddr:          ":8081",
	}
}

func (ws WorkerSettings) Validate() error {
	return validate.Struct(ws)
}

// Config is the process-wide environment, loaded once in cmd/redisq.
type Config struct {
	Env        string
	Redis      RedisSettings
	Worker     WorkerSettings
	ServerHost string
	ServerPort int
}

func Load() Config {
	cfg := Config{
		Env:    getEnv("APP_ENV", "dev"),
		Redis:  DefaultRedisSettings(),
		Worker: DefaultWorkerSettings(),
	}

	cfg.Redis.Host = getEnv("REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = getEnvInt("REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.Database = getEnvInt("REDIS_DATABASE", cfg.Redis.Database)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.TLS = getEnvBool("REDIS_TLS", cfg.Redis.TLS)
	cfg.Redis.Sentinel = getEnvBool("REDIS_SENTINEL", cfg.Redis.Sentinel)
	cfg.Redis.SentinelMaster = getEnv("REDIS_SENTINEL_MASTER", "mymaster")

	cfg.Worker.HealthAddr = getEnv("WORKER_HEALTH_ADDR", cfg.Worker.HealthAddr)

	cfg.ServerHost = getEnv("SERVER_HOST", "0.0.0.0")
	cfg.ServerPort = getEnvInt("SERVER_PORT", 9999)

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)
		if err != nil {
			return fallback
		}
		return num
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return b
	}
	return fallback
}
