package config

import "time"

// Config is the runtime configuration of the service and the CLI.
type Config struct {
	Environment   string              `yaml:"environment"`
	Server        ServerConfig        `yaml:"server"`
	Store         StoreConfig         `yaml:"store"`
	Artifacts     ArtifactsConfig     `yaml:"artifacts"`
	Browser       BrowserConfig       `yaml:"browser"`
	Runner        RunnerConfig        `yaml:"runner"`
	LLM           LLMConfig           `yaml:"llm"`
	TTS           TTSConfig           `yaml:"tts"`
	FFmpeg        FFmpegConfig        `yaml:"ffmpeg"`
	Lark          LarkConfig          `yaml:"lark"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Retention     RetentionConfig     `yaml:"retention"`
	IDStrategy    string              `yaml:"id_strategy"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	SSEHeartbeat    time.Duration `yaml:"sse_heartbeat"`
}

// StoreConfig selects the persistence backend: memory, file, postgres or sqlite.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Dir    string `yaml:"dir"`
	DSN    string `yaml:"dsn"`
}

// ArtifactsConfig sets the per-recording working directories and the blob
// store that final videos are published to.
type ArtifactsConfig struct {
	Root          string        `yaml:"root"`
	BlobDir       string        `yaml:"blob_dir"`
	BlobBaseURL   string        `yaml:"blob_base_url"`
	SignedURLTTL  time.Duration `yaml:"signed_url_ttl"`
	SigningSecret string        `yaml:"signing_secret"`
}

type BrowserConfig struct {
	ChromePath    string        `yaml:"chrome_path"`
	EdgePath      string        `yaml:"edge_path"`
	CDPURL        string        `yaml:"cdp_url"`
	ActionTimeout time.Duration `yaml:"action_timeout"`
	LaunchTimeout time.Duration `yaml:"launch_timeout"`
	NoSandbox     bool          `yaml:"no_sandbox"`
}

type RunnerConfig struct {
	MaxConcurrent   int  `yaml:"max_concurrent"`
	MaxInstructions int  `yaml:"max_instructions"`
	LLMInterpreter  bool `yaml:"llm_interpreter"`
}

type LLMConfig struct {
	Provider  string        `yaml:"provider"`
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheSize int           `yaml:"cache_size"`
}

type TTSConfig struct {
	Provider string        `yaml:"provider"`
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

type FFmpegConfig struct {
	Binary      string        `yaml:"binary"`
	ProbeBinary string        `yaml:"probe_binary"`
	PresetFile  string        `yaml:"preset_file"`
	Timeout     time.Duration `yaml:"timeout"`
}

type LarkConfig struct {
	Enabled   bool   `yaml:"enabled"`
	AppID     string `yaml:"app_id"`
	AppSecret string `yaml:"app_secret"`
	ChatID    string `yaml:"chat_id"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type ObservabilityConfig struct {
	MetricsEnabled bool    `yaml:"metrics_enabled"`
	TracingEnabled bool    `yaml:"tracing_enabled"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	SampleRate     float64 `yaml:"sample_rate"`
	ServiceName    string  `yaml:"service_name"`
}

type RetentionConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule"`
	MaxAge   time.Duration `yaml:"max_age"`
}
