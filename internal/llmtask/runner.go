// Package llmtask builds the prompts for each LLM pass and runs them through
// the completion client.
package llmtask

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"image-prompt-creator/internal/openai"
)

// ErrTokenLimit means the model stopped because it ran out of output tokens.
var ErrTokenLimit = errors.New("LLM response hit the token limit")

var ErrEmptyResponse = errors.New("LLM returned an empty response")

type Completer interface {
	Complete(ctx context.Context, req openai.Request) (openai.Response, error)
}

type Options struct {
	Client             Completer
	Model              string
	MaxTokens          int
	Temperature        float64
	IncludeTemperature bool
	Timeout            time.Duration
	Logger             *slog.Logger

	// Nonce overrides the per-request nonce; tests pin it.
	Nonce func() string
}

type Runner struct {
	client             Completer
	model              string
	maxTokens          int
	temperature        float64
	includeTemperature bool
	timeout            time.Duration
	logger             *slog.Logger
	nonce              func() string
}

func New(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	nonce := opts.Nonce
	if nonce == nil {
		nonce = func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		}
	}
	return &Runner{
		client:             opts.Client,
		model:              opts.Model,
		maxTokens:          opts.MaxTokens,
		temperature:        opts.Temperature,
		includeTemperature: opts.IncludeTemperature,
		timeout:            opts.Timeout,
		logger:             logger,
		nonce:              nonce,
	}
}

func (r *Runner) Model() string {
	return r.model
}

// call sends one exchange. tokenHint is appended to ErrTokenLimit so the
// caller can tell the user what to shorten.
func (r *Runner) call(ctx context.Context, task, system, user string, temperature float64, tokenHint string) (string, error) {
	if r.client == nil {
		return "", errors.New("LLM client is not configured")
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	temp := temperature
	resp, err := r.client.Complete(ctx, openai.Request{
		Model:              r.model,
		SystemPrompt:       system,
		UserPrompt:         user,
		MaxTokens:          r.maxTokens,
		Temperature:        &temp,
		IncludeTemperature: r.includeTemperature,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("%s: %w (retries: %d, status: %d)", task, err, apiErr.Retries, apiErr.Status)
		}
		return "", fmt.Errorf("%s: %w", task, err)
	}
	if resp.Retries > 0 {
		r.logger.Info("llm task succeeded after retries", "event", "llm_task_retried", "task", task, "retries", resp.Retries)
	}
	if resp.FinishReason == "length" || resp.FinishReason == "max_output_tokens" {
		return "", fmt.Errorf("%s: %w; %s", task, ErrTokenLimit, tokenHint)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("%s: %w", task, ErrEmptyResponse)
	}
	return text, nil
}

// NormalizeLanguage maps any code other than "ja" to "en".
func NormalizeLanguage(code string) string {
	if strings.EqualFold(strings.TrimSpace(code), "ja") {
		return "ja"
	}
	return "en"
}

func languageDirectives(code string) (label, sentence string) {
	if NormalizeLanguage(code) == "ja" {
		return "Japanese", "Output language: Japanese. Respond ONLY in Japanese sentences except for unavoidable proper nouns."
	}
	return "English", "Output language: English. Respond ONLY in English sentences."
}
