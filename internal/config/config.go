package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	IdempotencyTTLHours   int
	CutIntervalMinutes    int
	ManualLookbackHours   int
	OpWaitTimeoutSeconds  int
	InFlightPurgeMinutes  int
	SweepIntervalMinutes  int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		IdempotencyTTLHours:   getEnvInt("IDEMPOTENCY_TTL_HOURS", 24),
		CutIntervalMinutes:    getEnvInt("CUT_INTERVAL_MINUTES", 720),
		ManualLookbackHours:   getEnvInt("MANUAL_CUT_LOOKBACK_HOURS", 12),
		OpWaitTimeoutSeconds:  getEnvInt("OP_WAIT_TIMEOUT_SECONDS", 30),
		InFlightPurgeMinutes:  getEnvInt("IN_FLIGHT_PURGE_MINUTES", 5),
		SweepIntervalMinutes:  getEnvInt("IDEMPOTENCY_SWEEP_INTERVAL_MINUTES", 60),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLHours) * time.Hour
}

func (c Config) CutInterval() time.Duration {
	return time.Duration(c.CutIntervalMinutes) * time.Minute
}

func (c Config) ManualLookback() time.Duration {
	return time.Duration(c.ManualLookbackHours) * time.Hour
}

func (c Config) OpWaitTimeout() time.Duration {
	return time.Duration(c.OpWaitTimeoutSeconds) * time.Second
}

func (c Config) InFlightPurge() time.Duration {
	return time.Duration(c.InFlightPurgeMinutes) * time.Minute
}

func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	parsed, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}
