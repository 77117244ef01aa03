package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string
	Timezone    string

	WeeklyWarnThresholdHours float64
	StaleAfter               time.Duration
	StaleCredit              time.Duration
	SweepInterval            time.Duration

	RateLimitPerMinute         int
	RateLimitBurst             int
	OperatorRateLimitPerMinute int
	OperatorRateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	timezone := os.Getenv("CRET_TZ")
	if timezone == "" {
		timezone = "UTC"
	}

	return Config{
		Port:                       port,
		DatabaseURL:                os.Getenv("DB_DSN"),
		Timezone:                   timezone,
		WeeklyWarnThresholdHours:   readFloat("WEEKLY_WARN_THRESHOLD_HOURS", 5.0),
		StaleAfter:                 readDurationHours("STALE_AFTER_HOURS", 11),
		StaleCredit:                readDurationHours("STALE_CREDIT_HOURS", 10),
		SweepInterval:              readDurationSeconds("SWEEP_INTERVAL_SECONDS", 60),
		RateLimitPerMinute:         readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:             readInt("RATE_LIMIT_BURST", 30),
		OperatorRateLimitPerMinute: readInt("OPERATOR_RATE_LIMIT_PER_MIN", 600),
		OperatorRateLimitBurst:     readInt("OPERATOR_RATE_LIMIT_BURST", 120),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readDurationHours(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Hour
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}
