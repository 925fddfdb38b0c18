package llm

import (
	"context"
	"errors"

	"runthru/internal/domain"
)

var ErrMockCompletion = errors.New("mock client does not complete prompts")

// MockClient answers without a network call, for development and tests.
type MockClient struct{}

// Complete always fails so model-backed callers take their fallback path.
func (MockClient) Complete(ctx context.Context, _ string, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", ErrMockCompletion
}

func (MockClient) GenerateSteps(ctx context.Context, _ string, targetURL string, max int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	steps := []string{
		"navigate to " + targetURL,
		"wait 1 second",
		"scroll down",
		"take screenshot",
	}
	if max > 0 && len(steps) > max {
		steps = steps[:max]
	}
	return steps, nil
}

func (MockClient) GenerateNarration(ctx context.Context, rec *domain.Recording) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return FallbackNarration(rec), nil
}
