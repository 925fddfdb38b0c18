package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "RUNTHRU_"

// EnvLookup resolves an environment variable.
type EnvLookup func(key string) (string, bool)

// DefaultEnvLookup reads the process environment.
func DefaultEnvLookup(key string) (string, bool) { return os.LookupEnv(key) }

type loadOptions struct {
	configPath string
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
	homeDir    func() (string, error)
	overrides  []func(*Config)
}

// Option customises Load.
type Option func(*loadOptions)

// WithConfigPath forces a config file; a missing forced file is an error.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) { o.configPath = path }
}

// WithEnv replaces the environment lookup, mainly for tests.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) { o.envLookup = lookup }
}

// WithFileReader replaces os.ReadFile, mainly for tests.
func WithFileReader(read func(string) ([]byte, error)) Option {
	return func(o *loadOptions) { o.readFile = read }
}

// WithOverrides applies caller mutations after file and env, e.g. CLI flags.
func WithOverrides(fn func(*Config)) Option {
	return func(o *loadOptions) { o.overrides = append(o.overrides, fn) }
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Environment: "development",
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"*"},
			RateLimitRPS:    10,
			RateLimitBurst:  20,
			MaxUploadBytes:  5 << 20,
			ShutdownTimeout: 15 * time.Second,
			SSEHeartbeat:    30 * time.Second,
		},
		Store:     StoreConfig{Driver: "memory", Dir: "~/.runthru/recordings"},
		Artifacts: ArtifactsConfig{Root: "~/.runthru/artifacts", BlobDir: "~/.runthru/blobs", SignedURLTTL: 24 * time.Hour},
		Browser: BrowserConfig{
			ActionTimeout: 30 * time.Second,
			LaunchTimeout: 60 * time.Second,
		},
		Runner: RunnerConfig{MaxConcurrent: 4, MaxInstructions: 50},
		LLM: LLMConfig{
			Provider:  "mock",
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			Timeout:   60 * time.Second,
			CacheSize: 512,
		},
		TTS: TTSConfig{
			Provider: "mock",
			BaseURL:  "https://api.openai.com/v1",
			Model:    "tts-1",
			Timeout:  120 * time.Second,
		},
		FFmpeg:        FFmpegConfig{Binary: "ffmpeg", ProbeBinary: "ffprobe", Timeout: 10 * time.Minute},
		Logging:       LoggingConfig{Level: "info"},
		Observability: ObservabilityConfig{MetricsEnabled: true, SampleRate: 1.0, ServiceName: "runthru"},
		Retention:     RetentionConfig{Schedule: "@every 1h", MaxAge: 7 * 24 * time.Hour},
		IDStrategy:    "ksuid",
	}
}

// Load resolves configuration as defaults, then file, then env, then
// caller overrides, and validates the result.
func Load(opts ...Option) (Config, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		readFile:  os.ReadFile,
		homeDir:   os.UserHomeDir,
	}
	for _, opt := range opts {
		opt(&options)
	}

	cfg := Default()
	if err := applyFile(&cfg, options); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg, options.envLookup); err != nil {
		return Config{}, err
	}
	for _, fn := range options.overrides {
		if fn != nil {
			fn(&cfg)
		}
	}

	home, _ := options.homeDir()
	cfg.Store.Dir = expandHome(cfg.Store.Dir, home)
	cfg.Artifacts.Root = expandHome(cfg.Artifacts.Root, home)
	cfg.Artifacts.BlobDir = expandHome(cfg.Artifacts.BlobDir, home)
	cfg.Logging.File = expandHome(cfg.Logging.File, home)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, options loadOptions) error {
	path := options.configPath
	forced := path != ""
	if !forced {
		if v, ok := options.envLookup(envPrefix + "CONFIG"); ok && v != "" {
			path, forced = v, true
		} else if home, err := options.homeDir(); err == nil {
			path = filepath.Join(home, ".runthru", "config.yaml")
		}
	}
	if path == "" {
		return nil
	}

	data, err := options.readFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !forced {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := os.Expand(string(data), func(key string) string {
		v, _ := options.envLookup(key)
		return v
	})
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// envBindings maps RUNTHRU_* variables onto config fields.
func envBindings(cfg *Config) map[string]any {
	return map[string]any{
		"ENVIRONMENT":        &cfg.Environment,
		"SERVER_ADDR":        &cfg.Server.Addr,
		"RATE_LIMIT_RPS":     &cfg.Server.RateLimitRPS,
		"RATE_LIMIT_BURST":   &cfg.Server.RateLimitBurst,
		"STORE_DRIVER":       &cfg.Store.Driver,
		"STORE_DIR":          &cfg.Store.Dir,
		"STORE_DSN":          &cfg.Store.DSN,
		"ARTIFACTS_ROOT":     &cfg.Artifacts.Root,
		"BLOB_DIR":           &cfg.Artifacts.BlobDir,
		"BLOB_BASE_URL":      &cfg.Artifacts.BlobBaseURL,
		"SIGNING_SECRET":     &cfg.Artifacts.SigningSecret,
		"CHROME_PATH":        &cfg.Browser.ChromePath,
		"EDGE_PATH":          &cfg.Browser.EdgePath,
		"CDP_URL":            &cfg.Browser.CDPURL,
		"ACTION_TIMEOUT":     &cfg.Browser.ActionTimeout,
		"NO_SANDBOX":         &cfg.Browser.NoSandbox,
		"MAX_CONCURRENT":     &cfg.Runner.MaxConcurrent,
		"MAX_INSTRUCTIONS":   &cfg.Runner.MaxInstructions,
		"LLM_INTERPRETER":    &cfg.Runner.LLMInterpreter,
		"LLM_PROVIDER":       &cfg.LLM.Provider,
		"LLM_BASE_URL":       &cfg.LLM.BaseURL,
		"LLM_API_KEY":        &cfg.LLM.APIKey,
		"LLM_MODEL":          &cfg.LLM.Model,
		"TTS_PROVIDER":       &cfg.TTS.Provider,
		"TTS_BASE_URL":       &cfg.TTS.BaseURL,
		"TTS_API_KEY":        &cfg.TTS.APIKey,
		"TTS_MODEL":          &cfg.TTS.Model,
		"FFMPEG_BINARY":      &cfg.FFmpeg.Binary,
		"FFPROBE_BINARY":     &cfg.FFmpeg.ProbeBinary,
		"FFMPEG_PRESET_FILE": &cfg.FFmpeg.PresetFile,
		"LARK_ENABLED":       &cfg.Lark.Enabled,
		"LARK_APP_ID":        &cfg.Lark.AppID,
		"LARK_APP_SECRET":    &cfg.Lark.AppSecret,
		"LARK_CHAT_ID":       &cfg.Lark.ChatID,
		"LOG_LEVEL":          &cfg.Logging.Level,
		"LOG_FILE":           &cfg.Logging.File,
		"METRICS_ENABLED":    &cfg.Observability.MetricsEnabled,
		"TRACING_ENABLED":    &cfg.Observability.TracingEnabled,
		"OTLP_ENDPOINT":      &cfg.Observability.OTLPEndpoint,
		"RETENTION_ENABLED":  &cfg.Retention.Enabled,
		"RETENTION_MAX_AGE":  &cfg.Retention.MaxAge,
		"ID_STRATEGY":        &cfg.IDStrategy,
	}
}

func applyEnv(cfg *Config, lookup EnvLookup) error {
	for suffix, target := range envBindings(cfg) {
		key := envPrefix + suffix
		raw, ok := lookup(key)
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		switch ptr := target.(type) {
		case *string:
			*ptr = raw
		case *bool:
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*ptr = v
		case *int:
			v, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*ptr = v
		case *float64:
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*ptr = v
		case *time.Duration:
			v, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*ptr = v
		}
	}
	return nil
}

func expandHome(path, home string) string {
	if home == "" || path == "" {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
