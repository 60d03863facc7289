// Package config loads gradeflow's settings from environment variables,
// following the teacher's getEnv(key, default) pattern, extended with
// typed int parsing and the validation spec.md §6 requires.
package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port   string
	DBPath string

	SchedulerIntervalSecs    int
	MinGradingIntervalSecs   int
	GradingOrderedTimeoutSecs int
	GradingStartedTimeoutSecs int
	MaxParallelGradings      int

	WebhookSecret          string
	RunnerJWKSURL          string
	RunnerOrg              string
	RunnerRepo             string
	RunnerWorkflowID       string
	RunnerCallbackBaseURL  string
	RunnerCallbackOverride string

	InstallationTokenCacheSize int
}

// Load reads every recognised option from the environment, applying spec.md
// §6's defaults and rejecting out-of-range values.
func Load() (Config, error) {
	cfg := Config{
		Port:   getEnv("PORT", "8080"),
		DBPath: getEnv("DB_PATH", "./data/gradeflow.db"),

		WebhookSecret:          getEnv("WEBHOOK_SECRET", ""),
		RunnerJWKSURL:          getEnv("RUNNER_JWKS_URL", "https://token.actions.githubusercontent.com/.well-known/jwks"),
		RunnerOrg:              getEnv("RUNNER_ORG", ""),
		RunnerRepo:             getEnv("RUNNER_REPO", ""),
		RunnerWorkflowID:       getEnv("RUNNER_WORKFLOW_ID", "grade.yml"),
		RunnerCallbackBaseURL:  getEnv("RUNNER_CALLBACK_BASE_URL", ""),
		RunnerCallbackOverride: getEnv("RUNNER_CALLBACK_URL", ""),

		InstallationTokenCacheSize: 50,
	}

	var err error
	if cfg.SchedulerIntervalSecs, err = getEnvIntMin("SCHEDULER_INTERVAL_SECS", 15, 1); err != nil {
		return Config{}, err
	}
	if cfg.MinGradingIntervalSecs, err = getEnvIntMin("MIN_GRADING_INTERVAL_SECS", 1200, 1); err != nil {
		return Config{}, err
	}
	if cfg.GradingOrderedTimeoutSecs, err = getEnvIntMin("GRADING_ORDERED_TIMEOUT_SECS", 300, 1); err != nil {
		return Config{}, err
	}
	if cfg.GradingStartedTimeoutSecs, err = getEnvIntMin("GRADING_STARTED_TIMEOUT_SECS", 900, 1); err != nil {
		return Config{}, err
	}
	if cfg.MaxParallelGradings, err = getEnvIntMin("MAX_PARALLEL_GRADINGS", 3, 1); err != nil {
		return Config{}, err
	}

	if cfg.WebhookSecret == "" {
		return Config{}, fmt.Errorf("WEBHOOK_SECRET is required")
	}
	if cfg.RunnerOrg == "" || cfg.RunnerRepo == "" {
		return Config{}, fmt.Errorf("RUNNER_ORG and RUNNER_REPO are required")
	}
	if cfg.RunnerCallbackBaseURL == "" && cfg.RunnerCallbackOverride == "" {
		return Config{}, fmt.Errorf("either RUNNER_CALLBACK_BASE_URL or RUNNER_CALLBACK_URL must be set")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntMin(key string, defaultValue, min int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q: %w", key, raw, err)
	}
	if value < min {
		return 0, fmt.Errorf("%s must be >= %d, got %d", key, min, value)
	}
	return value, nil
}
