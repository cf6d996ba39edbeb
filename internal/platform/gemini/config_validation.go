package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/insurance-ai/backoffice/internal/config"
)

// validateConfig checks that the API key and model name are set.
// Negative retry settings only warn since defaults apply.
func validateConfig(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) error {
	if cfg.GeminiAPIKey == "" {
		logger.ErrorContext(ctx, "missing gemini API key")
		return fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}

	if cfg.ModelName == "" {
		logger.ErrorContext(ctx, "missing gemini model name")
		return fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}

	if cfg.MaxRetries < 0 {
		logger.WarnContext(ctx, "invalid max retries, using default",
			"value", cfg.MaxRetries,
			"default", defaultMaxRetries)
	}

	if cfg.RetryDelaySeconds < 0 {
		logger.WarnContext(ctx, "invalid retry delay, using default",
			"value", cfg.RetryDelaySeconds,
			"default", defaultRetryDelay)
	}
	return nil
}
