package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"runthru/internal/domain"
)

const stepsSystemPrompt = `You plan browser demo recordings.
Given a product description and a starting URL, reply with a JSON array of short imperative instructions.
Each instruction is one of: navigate to <url>, click <visible text or css selector>, type <value> into <field>, scroll down, wait <n> seconds, take screenshot.
Reply with the JSON array only.`

const narrationSystemPrompt = `You write voice-over scripts for product demo videos.
Write a concise, friendly narration in plain prose that walks the viewer through the steps in order.
Do not use markdown, headings or lists.`

// GenerateSteps asks the model for up to max instructions that demonstrate
// description starting at targetURL.
func (c *Client) GenerateSteps(ctx context.Context, description, targetURL string, max int) ([]string, error) {
	prompt := fmt.Sprintf("Description: %s\nStarting URL: %s\nMaximum steps: %d", strings.TrimSpace(description), targetURL, max)
	raw, err := c.Complete(ctx, stepsSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	steps, err := decodeSteps(raw)
	if err != nil {
		return nil, err
	}
	if max > 0 && len(steps) > max {
		steps = steps[:max]
	}
	return steps, nil
}

func decodeSteps(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var steps []string
	if err := json.Unmarshal([]byte(raw), &steps); err != nil {
		fixed, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, fmt.Errorf("decode generated steps: %w", repairErr)
		}
		if err := json.Unmarshal([]byte(fixed), &steps); err != nil {
			return nil, fmt.Errorf("decode repaired steps: %w", err)
		}
	}
	out := steps[:0]
	for _, s := range steps {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("model returned no steps")
	}
	return out, nil
}

// GenerateNarration writes a voice-over for the recorded steps.
func (c *Client) GenerateNarration(ctx context.Context, rec *domain.Recording) (string, error) {
	var b strings.Builder
	if rec.Description != "" {
		fmt.Fprintf(&b, "Product: %s\n", rec.Description)
	}
	if rec.Narration.Style != "" {
		fmt.Fprintf(&b, "Tone: %s\n", rec.Narration.Style)
	}
	b.WriteString("Steps performed:\n")
	for _, s := range rec.Steps {
		if !s.Success {
			continue
		}
		fmt.Fprintf(&b, "%d. %s\n", s.Sequence, s.Instruction)
	}
	text, err := c.Complete(ctx, narrationSystemPrompt, b.String())
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("model returned an empty narration")
	}
	return text, nil
}

// FallbackNarration narrates the step list verbatim for when the model is
// unavailable.
func FallbackNarration(rec *domain.Recording) string {
	var parts []string
	for _, s := range rec.Steps {
		if !s.Success {
			continue
		}
		parts = append(parts, fmt.Sprintf("Step %d: %s.", s.Sequence, strings.TrimRight(s.Instruction, ". ")))
	}
	if len(parts) == 0 {
		for i, ins := range rec.Instructions {
			parts = append(parts, fmt.Sprintf("Step %d: %s.", i+1, strings.TrimRight(ins, ". ")))
		}
	}
	return strings.Join(parts, " ")
}
