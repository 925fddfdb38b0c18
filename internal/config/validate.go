package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks cross-field constraints after all sources are merged.
func (c Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case "memory":
	case "file":
		if c.Store.Dir == "" {
			errs = append(errs, errors.New("store.dir is required for the file driver"))
		}
	case "postgres", "sqlite":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for the %s driver", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	if c.Artifacts.Root == "" {
		errs = append(errs, errors.New("artifacts.root is required"))
	}
	if c.Browser.ActionTimeout <= 0 {
		errs = append(errs, errors.New("browser.action_timeout must be positive"))
	}
	if c.Runner.MaxInstructions <= 0 {
		errs = append(errs, errors.New("runner.max_instructions must be positive"))
	}
	if c.Runner.MaxConcurrent < 0 {
		errs = append(errs, errors.New("runner.max_concurrent must not be negative"))
	}

	for name, provider := range map[string]string{"llm": c.LLM.Provider, "tts": c.TTS.Provider} {
		switch strings.ToLower(provider) {
		case "mock":
		case "openai":
			if c.Environment == "production" && name == "llm" && c.LLM.APIKey == "" {
				errs = append(errs, errors.New("llm.api_key is required in production"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown %s.provider %q", name, provider))
		}
	}

	if c.Lark.Enabled && (c.Lark.AppID == "" || c.Lark.AppSecret == "" || c.Lark.ChatID == "") {
		errs = append(errs, errors.New("lark.app_id, lark.app_secret and lark.chat_id are required when lark is enabled"))
	}
	if c.Observability.TracingEnabled && c.Observability.OTLPEndpoint == "" {
		errs = append(errs, errors.New("observability.otlp_endpoint is required when tracing is enabled"))
	}
	if c.Retention.Enabled && c.Retention.MaxAge <= 0 {
		errs = append(errs, errors.New("retention.max_age must be positive"))
	}

	return errors.Join(errs...)
}
