package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	DatabaseURL        string
	PageSize           int
	ChunkSize          int
	TimeBudget         time.Duration
	RetryMaxAttempts   int
	RetryBaseDelay     time.Duration
	RetryMultiplier    float64
	BreakerThreshold   int
	MaxRunErrors       int
	MaxResumeAttempts  int
	ResumeDelay        time.Duration
	UnmatchedPolicy    string
	DefaultAgentTarget decimal.Decimal
}

func New() (*Config, error) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	cfg := &Config{
		DatabaseURL:        databaseURL,
		PageSize:           1000,
		ChunkSize:          50,
		TimeBudget:         30 * time.Minute,
		RetryMaxAttempts:   3,
		RetryBaseDelay:     500 * time.Millisecond,
		RetryMultiplier:    2.0,
		BreakerThreshold:   3,
		MaxRunErrors:       100,
		MaxResumeAttempts:  5,
		ResumeDelay:        5 * time.Second,
		UnmatchedPolicy:    "reject-unmatched",
		DefaultAgentTarget: decimal.NewFromInt(50000),
	}

	var err error
	cfg.PageSize, err = getEnvAsInt("ALLOCATION_PAGE_SIZE", cfg.PageSize)
	if err != nil {
		return nil, err
	}

	cfg.ChunkSize, err = getEnvAsInt("ALLOCATION_CHUNK_SIZE", cfg.ChunkSize)
	if err != nil {
		return nil, err
	}

	cfg.TimeBudget, err = getEnvAsDuration("ALLOCATION_TIME_BUDGET", cfg.TimeBudget)
	if err != nil {
		return nil, err
	}

	cfg.RetryMaxAttempts, err = getEnvAsInt("RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts)
	if err != nil {
		return nil, err
	}

	cfg.RetryBaseDelay, err = getEnvAsDuration("RETRY_BASE_DELAY", cfg.RetryBaseDelay)
	if err != nil {
		return nil, err
	}

	cfg.RetryMultiplier, err = getEnvAsFloat("RETRY_MULTIPLIER", cfg.RetryMultiplier)
	if err != nil {
		return nil, err
	}

	cfg.BreakerThreshold, err = getEnvAsInt("BREAKER_THRESHOLD", cfg.BreakerThreshold)
	if err != nil {
		return nil, err
	}

	cfg.MaxRunErrors, err = getEnvAsInt("MAX_RUN_ERRORS", cfg.MaxRunErrors)
	if err != nil {
		return nil, err
	}

	cfg.MaxResumeAttempts, err = getEnvAsInt("MAX_RESUME_ATTEMPTS", cfg.MaxResumeAttempts)
	if err != nil {
		return nil, err
	}

	cfg.ResumeDelay, err = getEnvAsDuration("RESUME_DELAY", cfg.ResumeDelay)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("UNMATCHED_POLICY"); v != "" {
		if v != "reject-unmatched" && v != "create-with-defaults" {
			return nil, fmt.Errorf("invalid value for UNMATCHED_POLICY: expected 'reject-unmatched' or 'create-with-defaults', got '%s'", v)
		}
		cfg.UnmatchedPolicy = v
	}

	if v := os.Getenv("DEFAULT_AGENT_TARGET"); v != "" {
		target, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid value for DEFAULT_AGENT_TARGET: expected a decimal, got '%s'", v)
		}
		cfg.DefaultAgentTarget = target
	}

	return cfg, nil
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: expected an integer, got '%s'", key, valueStr)
	}

	return value, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: expected a duration like '30m', got '%s'", key, valueStr)
	}

	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: expected a number, got '%s'", key, valueStr)
	}

	return value, nil
}
