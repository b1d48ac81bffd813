package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	AppEnv        string
	HTTPAddr      string
	RedisAddr     string
	RedisPassword string
	PostgresDSN   string

	// PoolWidth bounds the concurrent extraction workers per job.
	PoolWidth int
	// DomainRPS caps requests per second per target domain. Zero disables
	// the limiter.
	DomainRPS   float64
	DomainBurst int

	NavTimeoutMs   int
	LoginTimeoutMs int

	// FailureThreshold is the failed/processed ratio above which a job is
	// marked failed instead of completing.
	FailureThreshold float64
	// CommitOnStop promotes already-staged items when a job is stopped
	// without a purge.
	CommitOnStop bool

	// CredentialKey is the AES-256 key for stored secrets, base64 encoded
	// in the environment. Decoded once at startup, never logged.
	CredentialKey []byte

	TaskMaxRetries    int
	WorkerConcurrency int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func Load() Config {
	cfg := Config{
		AppEnv:        getenv("APP_ENV", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8082"),
		RedisAddr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		PostgresDSN:   getenv("POSTGRES_DSN", "postgres://localhost:5432/enricher?sslmode=disable"),

		PoolWidth:   getenvInt("POOL_WIDTH", 4),
		DomainRPS:   getenvFloat("DOMAIN_RPS", 2),
		DomainBurst: getenvInt("DOMAIN_BURST", 2),

		NavTimeoutMs:   getenvInt("NAV_TIMEOUT_MS", 30000),
		LoginTimeoutMs: getenvInt("LOGIN_TIMEOUT_MS", 45000),

		FailureThreshold: getenvFloat("FAILURE_THRESHOLD", 0.5),
		CommitOnStop:     getenvBool("COMMIT_ON_STOP", true),

		TaskMaxRetries:    getenvInt("TASK_MAX_RETRIES", 3),
		WorkerConcurrency: getenvInt("WORKER_CONCURRENCY", 10),
	}
	if cfg.RedisAddr == "" {
		panic(fmt.Errorf("REDIS_ADDR is required"))
	}
	if key := os.Getenv("CREDENTIAL_KEY"); key != "" {
		decoded, err := base64.StdEncoding.DecodeString(key)
		if err != nil || len(decoded) != 32 {
			panic(fmt.Errorf("CREDENTIAL_KEY must be 32 bytes, base64 encoded"))
		}
		cfg.CredentialKey = decoded
	}
	return cfg
}
