package ciutil

import (
	"log/slog"
	"os"

	"github.com/insurance-ai/backoffice/internal/redact"
)

// Environment variable names used across the test suites.
const (
	// CI environment detection variables
	EnvCI            = "CI"
	EnvGitHubActions = "GITHUB_ACTIONS"
	EnvGitLabCI      = "GITLAB_CI"
	EnvJenkinsURL    = "JENKINS_URL"
	EnvCircleCI      = "CIRCLECI"

	// Integration service URLs. The prefixed names are preferred.
	EnvTestDatabaseURL = "INSURANCE_AI_TEST_DB_URL"
	EnvDatabaseURL     = "DATABASE_URL"
	EnvTestRedisURL    = "INSURANCE_AI_TEST_REDIS_URL"
	EnvRedisURL        = "REDIS_URL"

	// EnvRequireIntegration makes missing service URLs fail instead of skip.
	EnvRequireIntegration = "INSURANCE_AI_REQUIRE_INTEGRATION"
)

// IsCI returns true if the current environment is a CI environment.
func IsCI() bool {
	return os.Getenv(EnvCI) != "" ||
		os.Getenv(EnvGitHubActions) != "" ||
		os.Getenv(EnvGitLabCI) != "" ||
		os.Getenv(EnvJenkinsURL) != "" ||
		os.Getenv(EnvCircleCI) != ""
}

// GetEnvWithFallbacks returns the value of the first non-empty environment
// variable in envVars, or defaultValue. Using any name but the first logs a
// warning naming the preferred one.
func GetEnvWithFallbacks(envVars []string, defaultValue string, logger *slog.Logger) string {
	for i, envVar := range envVars {
		if val := os.Getenv(envVar); val != "" {
			if i > 0 && logger != nil {
				logger.Warn("using fallback environment variable",
					"used_var", envVar,
					"preferred_var", envVars[0],
					"value", redact.String(val))
			}
			return val
		}
	}
	return defaultValue
}

// GetTestDatabaseURL returns the Postgres URL for integration tests, or "".
func GetTestDatabaseURL(logger *slog.Logger) string {
	return GetEnvWithFallbacks([]string{EnvTestDatabaseURL, EnvDatabaseURL}, "", logger)
}

// GetTestRedisURL returns the Redis URL for integration tests, or "".
func GetTestRedisURL(logger *slog.Logger) string {
	return GetEnvWithFallbacks([]string{EnvTestRedisURL, EnvRedisURL}, "", logger)
}
