package interpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kaptinlin/jsonrepair"

	"runthru/internal/logging"
)

// Resolution is an interpreted instruction plus an optional explanation
// from the model that produced it.
type Resolution struct {
	Action    Action
	Rationale string
}

// Strategy resolves instructions. Implementations must never fail: any
// problem degrades to an Unknown action.
type Strategy interface {
	Resolve(ctx context.Context, instruction string) Resolution
}

// Heuristic is the keyword rule table as a Strategy.
type Heuristic struct{}

func (Heuristic) Resolve(_ context.Context, instruction string) Resolution {
	return Resolution{Action: Interpret(instruction)}
}

// Completer is the slice of the LLM client the model-backed strategy needs.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

const plannerSystemPrompt = `You convert one browser test instruction into a JSON object.
Allowed actions: navigate, click, fill, scroll, wait, screenshot, unknown.
Reply with JSON only: {"action":"...","url":"","target":"","value":"","pixels":0,"duration_ms":0,"rationale":"..."}.
For click and fill, "target" is the visible text of the element or a CSS selector.`

type plannedAction struct {
	Action     string `json:"action"`
	URL        string `json:"url"`
	Target     string `json:"target"`
	Value      string `json:"value"`
	Pixels     int    `json:"pixels"`
	DurationMS int    `json:"duration_ms"`
	Rationale  string `json:"rationale"`
}

// LLMStrategy asks a language model to plan each instruction and falls
// back to the heuristic table when the model errors or answers nonsense.
// Resolutions are cached by the exact instruction text, since fill values
// and click targets are case sensitive.
type LLMStrategy struct {
	completer Completer
	fallback  Strategy
	cache     *lru.Cache[string, Resolution]
	logger    logging.Logger
}

// NewLLMStrategy builds a model-backed strategy with an LRU of cacheSize
// entries (a non-positive size disables caching).
func NewLLMStrategy(completer Completer, cacheSize int, logger logging.Logger) *LLMStrategy {
	s := &LLMStrategy{
		completer: completer,
		fallback:  Heuristic{},
		logger:    logging.OrNop(logger),
	}
	if cacheSize > 0 {
		// lru.New only errors on non-positive size which we guard above.
		s.cache, _ = lru.New[string, Resolution](cacheSize)
	}
	return s
}

func (s *LLMStrategy) Resolve(ctx context.Context, instruction string) Resolution {
	key := strings.TrimSpace(instruction)
	if s.cache != nil {
		if res, ok := s.cache.Get(key); ok {
			return res
		}
	}

	res, err := s.plan(ctx, instruction)
	if err != nil {
		s.logger.Warn("LLM planning failed for %q, using heuristics: %v", instruction, err)
		return s.fallback.Resolve(ctx, instruction)
	}
	if s.cache != nil {
		s.cache.Add(key, res)
	}
	return res
}

func (s *LLMStrategy) plan(ctx context.Context, instruction string) (Resolution, error) {
	if s.completer == nil {
		return Resolution{}, fmt.Errorf("no completer configured")
	}
	raw, err := s.completer.Complete(ctx, plannerSystemPrompt, instruction)
	if err != nil {
		return Resolution{}, err
	}
	planned, err := decodePlan(raw)
	if err != nil {
		return Resolution{}, err
	}
	action, err := planned.toAction()
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Action: action, Rationale: strings.TrimSpace(planned.Rationale)}, nil
}

func decodePlan(raw string) (plannedAction, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var planned plannedAction
	if err := json.Unmarshal([]byte(raw), &planned); err == nil {
		return planned, nil
	}
	fixed, repairErr := jsonrepair.JSONRepair(raw)
	if repairErr != nil {
		return plannedAction{}, fmt.Errorf("decode planned action: %w", repairErr)
	}
	if err := json.Unmarshal([]byte(fixed), &planned); err != nil {
		return plannedAction{}, fmt.Errorf("decode repaired planned action: %w", err)
	}
	return planned, nil
}

func (p plannedAction) toAction() (Action, error) {
	switch strings.ToLower(strings.TrimSpace(p.Action)) {
	case "navigate":
		u := ExtractURL(p.URL)
		if u == "" {
			return nil, fmt.Errorf("planned navigate without a URL")
		}
		return Navigate{URL: u}, nil
	case "click":
		if strings.TrimSpace(p.Target) == "" {
			return nil, fmt.Errorf("planned click without a target")
		}
		return Click{Target: strings.TrimSpace(p.Target)}, nil
	case "fill":
		if strings.TrimSpace(p.Target) == "" {
			return nil, fmt.Errorf("planned fill without a target")
		}
		return Fill{Target: strings.TrimSpace(p.Target), Value: p.Value}, nil
	case "scroll":
		px := p.Pixels
		if px == 0 {
			px = DefaultScrollPixels
		}
		return Scroll{Pixels: clampScroll(px)}, nil
	case "wait":
		d := time.Duration(p.DurationMS) * time.Millisecond
		if d <= 0 {
			d = DefaultWait
		}
		if d > MaxWait {
			d = MaxWait
		}
		return Wait{Duration: d}, nil
	case "screenshot":
		return Screenshot{}, nil
	case "unknown":
		return Unknown{Reason: "model could not interpret the instruction"}, nil
	default:
		return nil, fmt.Errorf("planned unsupported action %q", p.Action)
	}
}
