package gemini

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/insurance-ai/backoffice/internal/config"
	"github.com/insurance-ai/backoffice/internal/service"
	"github.com/sethvargo/go-retry"
	"google.golang.org/genai"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 2 * time.Second
	reportTemplate    = "report"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

// contentGenerator is the part of the genai client the analyzer uses.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Analyzer implements service.Analyzer using the Gemini API.
type Analyzer struct {
	logger     *slog.Logger
	prompts    *template.Template
	models     contentGenerator
	model      string
	maxRetries uint64
	baseDelay  time.Duration
}

var _ service.Analyzer = (*Analyzer)(nil)

// NewAnalyzer validates cfg and creates a Gemini-backed Analyzer.
func NewAnalyzer(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Analyzer, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if err := validateConfig(ctx, logger, cfg); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	return newAnalyzer(logger, cfg, client.Models)
}

func newAnalyzer(logger *slog.Logger, cfg config.LLMConfig, models contentGenerator) (*Analyzer, error) {
	prompts, err := template.ParseFS(promptFS, "prompts/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse prompt templates: %v", ErrInvalidConfig, err)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	baseDelay := time.Duration(cfg.RetryDelaySeconds) * time.Second
	if baseDelay <= 0 {
		baseDelay = defaultRetryDelay
	}

	return &Analyzer{
		logger:     logger.With("component", "gemini_analyzer", "model", cfg.ModelName),
		prompts:    prompts,
		models:     models,
		model:      cfg.ModelName,
		maxRetries: uint64(maxRetries),
		baseDelay:  baseDelay,
	}, nil
}

// Analyze renders the prompt for req.Kind, calls the model and returns its
// JSON document.
func (a *Analyzer) Analyze(ctx context.Context, req service.AnalysisRequest) (json.RawMessage, error) {
	prompt, kind, err := a.createPrompt(ctx, req)
	if err != nil {
		return nil, err
	}

	text, err := a.generateWithRetry(ctx, prompt)
	if err != nil {
		return nil, err
	}

	return parseResponse(kind, text)
}

// createPrompt executes the template for the request kind. Report kinds
// share one template. It also returns the template name.
func (a *Analyzer) createPrompt(ctx context.Context, req service.AnalysisRequest) (string, string, error) {
	input := strings.TrimSpace(string(req.Input))
	if input == "" || input == "null" {
		return "", "", ErrEmptyInput
	}

	name := req.Kind
	data := promptData{Kind: req.Kind, InstitutionID: req.InstitutionID, Input: input}
	if reportType, ok := strings.CutPrefix(req.Kind, service.ReportKind("")); ok {
		name = reportTemplate
		data.ReportType = reportType
	}

	tmpl := a.prompts.Lookup(name + ".tmpl")
	if tmpl == nil {
		return "", "", fmt.Errorf("%w: unknown analysis kind %q", service.ErrInvalidInput, req.Kind)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("failed to execute prompt template: %w", err)
	}

	a.logger.DebugContext(ctx, "prompt generated",
		"kind", req.Kind,
		"prompt_length", buf.Len())
	return buf.String(), name, nil
}

// generateWithRetry calls the model, retrying transient failures with
// exponential backoff and jitter.
func (a *Analyzer) generateWithRetry(ctx context.Context, prompt string) (string, error) {
	backoff := retry.WithMaxRetries(a.maxRetries, retry.WithJitterPercent(50, retry.NewExponential(a.baseDelay)))
	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}

	var text string
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		resp, err := a.models.GenerateContent(ctx, a.model, genai.Text(prompt), cfg)
		if err != nil {
			if isTransient(err) {
				a.logger.WarnContext(ctx, "gemini call failed, retrying",
					"attempt", attempt,
					"error", err)
				return retry.RetryableError(fmt.Errorf("%w: %v", ErrTransientFailure, err))
			}
			return fmt.Errorf("gemini call failed: %w", err)
		}
		text, err = responseText(resp)
		return err
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "gemini call failed",
			"attempts", attempt,
			"error", err)
		if ctx.Err() != nil && !errors.Is(err, ErrTransientFailure) {
			return "", fmt.Errorf("%w: %v", ErrTransientFailure, err)
		}
		return "", err
	}

	a.logger.DebugContext(ctx, "gemini call succeeded", "attempts", attempt)
	return text, nil
}

// isTransient reports whether err is worth retrying: rate limits, server
// errors and transport failures.
func isTransient(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// responseText extracts the text of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", ErrInvalidResponse)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked: %s", ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no content generated", ErrInvalidResponse)
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: content blocked by safety filters", ErrContentBlocked)
	}
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: empty content in response", ErrInvalidResponse)
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: no text in response", ErrInvalidResponse)
	}
	return sb.String(), nil
}

// parseResponse checks that text is a JSON object with the keys kind needs.
func parseResponse(kind, text string) (json.RawMessage, error) {
	// Models sometimes wrap JSON in a markdown fence despite the MIME type.
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON response: %v", ErrInvalidResponse, err)
	}
	for _, key := range requiredFields[kind] {
		if _, ok := doc[key]; !ok {
			return nil, fmt.Errorf("%w: missing %q", ErrInvalidResponse, key)
		}
	}
	return json.RawMessage(text), nil
}
