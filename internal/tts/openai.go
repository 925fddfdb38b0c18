package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	rterrors "runthru/internal/errors"
	"runthru/internal/logging"
)

// OpenAIProvider calls an OpenAI-compatible /audio/speech endpoint.
type OpenAIProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	retry   rterrors.RetryConfig
	logger  logging.Logger
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

const maxAudioBytes = 64 << 20

func NewOpenAIProvider(cfg OpenAIConfig, logger logging.Logger) *OpenAIProvider {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "tts-1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OpenAIProvider{
		baseURL: base,
		apiKey:  cfg.APIKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
		retry:   rterrors.DefaultRetryConfig(),
		logger:  logging.OrNop(logger),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Instructions   string  `json:"instructions,omitempty"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

func (p *OpenAIProvider) Synthesize(ctx context.Context, req Request) (ProviderResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return ProviderResult{}, rterrors.NewPermanent(fmt.Errorf("tts: empty text"))
	}
	voice := req.Voice
	if voice == "" {
		voice = "alloy"
	}
	body, err := json.Marshal(speechRequest{
		Model:          p.model,
		Input:          req.Text,
		Voice:          voice,
		Instructions:   req.Style,
		ResponseFormat: "mp3",
		Speed:          req.Speed,
	})
	if err != nil {
		return ProviderResult{}, err
	}

	return rterrors.RetryWithResult(ctx, p.retry, p.logger, func(ctx context.Context) (ProviderResult, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/speech", bytes.NewReader(body))
		if err != nil {
			return ProviderResult{}, rterrors.NewPermanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if p.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		}
		resp, err := p.client.Do(httpReq)
		if err != nil {
			return ProviderResult{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return ProviderResult{}, rterrors.FromHTTPStatus(resp.StatusCode,
				fmt.Errorf("tts request failed: %s", strings.TrimSpace(string(snippet))))
		}
		audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
		if err != nil {
			return ProviderResult{}, rterrors.NewTransient(fmt.Errorf("read audio: %w", err))
		}
		contentType := resp.Header.Get("Content-Type")
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = "audio/mpeg"
		}
		if i := strings.IndexByte(contentType, ';'); i >= 0 {
			contentType = strings.TrimSpace(contentType[:i])
		}
		return ProviderResult{
			Audio:       audio,
			ContentType: contentType,
			Metadata:    map[string]string{"voice": voice, "model": p.model},
		}, nil
	})
}
