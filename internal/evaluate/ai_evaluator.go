package evaluate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultEvalModel   = "claude-haiku-4-5"
	evalMaxRetries     = 3
	evalInitialBackoff = 1 * time.Second
	evalDispatchBudget = 60 * time.Second
)

// AnthropicEvaluator is the Tier 3 fallback's concrete implementation: a
// cheap model is asked to emit a strict verdict line.
type AnthropicEvaluator struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicEvaluator builds an evaluator. apiKey resolution mirrors
// the teacher's Haiku client: ANTHROPIC_API_KEY overrides an explicit key.
func NewAnthropicEvaluator(apiKey string) *AnthropicEvaluator {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	return &AnthropicEvaluator{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  defaultEvalModel,
	}
}

// Evaluate dispatches a short prompt bounded by the 60-second AI-
// evaluator dispatch timeout (spec §5).
func (e *AnthropicEvaluator) Evaluate(ctx context.Context, description, logTail string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, evalDispatchBudget)
	defer cancel()

	prompt := fmt.Sprintf(`A worker process finished running an AI coding task. Based on the task
description and the tail of its execution log, classify the outcome.

Task description:
%s

Log tail:
%s

Respond with exactly one line: VERDICT:<type>:<detail>
where <type> is one of complete, retry, blocked, failed.`, description, logTail)

	var lastErr error
	params := anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: 64,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	for attempt := 0; attempt <= evalMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := evalInitialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		message, err := e.client.Messages.New(ctx, params)
		if err == nil {
			if len(message.Content) > 0 && message.Content[0].Type == "text" {
				return message.Content[0].Text, nil
			}
			return "", fmt.Errorf("unexpected response format")
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryable(err) {
			return "", fmt.Errorf("non-retryable evaluator error: %w", err)
		}
	}
	return "", fmt.Errorf("evaluator failed after %d attempts: %w", evalMaxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
