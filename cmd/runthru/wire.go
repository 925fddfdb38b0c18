package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"runthru/internal/artifacts"
	"runthru/internal/browser"
	"runthru/internal/config"
	"runthru/internal/domain"
	"runthru/internal/executor"
	"runthru/internal/ffmpeg"
	"runthru/internal/interpreter"
	"runthru/internal/llm"
	"runthru/internal/logging"
	"runthru/internal/notify"
	"runthru/internal/observability"
	"runthru/internal/pipeline"
	"runthru/internal/storage/blobstore"
	"runthru/internal/store"
	"runthru/internal/store/filestore"
	"runthru/internal/store/memstore"
	"runthru/internal/store/postgresstore"
	"runthru/internal/store/sqlitestore"
	"runthru/internal/tts"
)

// app is the assembled service with everything that needs closing.
type app struct {
	cfg      config.Config
	service  *pipeline.Service
	store    store.Store
	layout   *artifacts.Layout
	blobs    *blobstore.FilesystemStore
	browsers *browser.Manager
	strategy interpreter.Strategy
	registry *prometheus.Registry
	tracer   *observability.TracerProvider
	logger   logging.Logger
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memstore.New(), nil
	case "file":
		return filestore.New(cfg.Dir)
	case "sqlite":
		return sqlitestore.New(cfg.DSN)
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		st, err := postgresstore.New(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newLLM(cfg config.LLMConfig, logger logging.Logger) (pipeline.Generator, interpreter.Completer) {
	if strings.EqualFold(cfg.Provider, "openai") {
		client := llm.NewClient(llm.Config{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, logger)
		return client, client
	}
	mock := llm.MockClient{}
	return mock, mock
}

func newSpeech(cfg config.TTSConfig, logger logging.Logger) tts.Provider {
	if strings.EqualFold(cfg.Provider, "openai") {
		return tts.NewOpenAIProvider(tts.OpenAIConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, logger)
	}
	return tts.MockProvider{}
}

// buildApp wires configuration into a ready pipeline service.
func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	logger := logging.NewComponentLogger("Main")

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: st, logger: logger, registry: prometheus.NewRegistry()}
	fail := func(err error) (*app, error) {
		a.close(context.Background())
		return nil, err
	}

	if a.layout, err = artifacts.NewLayout(cfg.Artifacts.Root); err != nil {
		return fail(err)
	}
	if a.blobs, err = blobstore.NewFilesystemStore(cfg.Artifacts.BlobDir, cfg.Artifacts.BlobBaseURL, cfg.Artifacts.SigningSecret); err != nil {
		return fail(err)
	}

	presets := ffmpeg.DefaultPresetLibrary()
	if cfg.FFmpeg.PresetFile != "" {
		if presets, err = ffmpeg.LoadPresetFile(cfg.FFmpeg.PresetFile); err != nil {
			return fail(err)
		}
	}
	run := &ffmpeg.LocalExecutor{Binary: cfg.FFmpeg.Binary, Timeout: cfg.FFmpeg.Timeout, Logger: logging.NewComponentLogger("FFmpeg")}
	probe := &ffmpeg.LocalExecutor{Binary: cfg.FFmpeg.ProbeBinary, Timeout: time.Minute}

	a.browsers = browser.NewManager(browser.Config{
		ChromePath:    cfg.Browser.ChromePath,
		EdgePath:      cfg.Browser.EdgePath,
		CDPURL:        cfg.Browser.CDPURL,
		NoSandbox:     cfg.Browser.NoSandbox,
		ActionTimeout: cfg.Browser.ActionTimeout,
		LaunchTimeout: cfg.Browser.LaunchTimeout,
	}, &browser.ChromedpLauncher{
		Encoder: &ffmpeg.FrameEncoder{Exec: run, Presets: presets},
		Logger:  logging.NewComponentLogger("Chromedp"),
	}, logging.NewComponentLogger("Browser"))

	generator, completer := newLLM(cfg.LLM, logging.NewComponentLogger("LLM"))
	a.strategy = interpreter.Heuristic{}
	if cfg.Runner.LLMInterpreter {
		a.strategy = interpreter.NewLLMStrategy(completer, cfg.LLM.CacheSize, logging.NewComponentLogger("Interpreter"))
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Lark.Enabled {
		notifier = notify.NewLarkNotifier(cfg.Lark.AppID, cfg.Lark.AppSecret, cfg.Lark.ChatID, logging.NewComponentLogger("Lark"))
	}

	var metrics *observability.Metrics
	var stepOpts []executor.Option
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(a.registry)
		stepOpts = append(stepOpts, executor.WithObserver(metrics))
		if err := observability.RegisterBrowsers(a.registry, a.browsers.Live); err != nil {
			return fail(err)
		}
	}
	if a.tracer, err = observability.NewTracerProvider(observability.TracingConfig{
		Enabled:        cfg.Observability.TracingEnabled,
		OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
		SampleRate:     cfg.Observability.SampleRate,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version,
	}); err != nil {
		return fail(err)
	}

	deps := pipeline.Deps{
		Store:     st,
		Browsers:  a.browsers,
		Executor:  executor.New(a.layout, logging.NewComponentLogger("Executor"), stepOpts...),
		Strategy:  a.strategy,
		Layout:    a.layout,
		Generator: generator,
		Speech:    newSpeech(cfg.TTS, logging.NewComponentLogger("TTS")),
		Composer:  &ffmpeg.Composer{Exec: run, Presets: presets, Logger: logging.NewComponentLogger("Composer")},
		Prober:    ffmpeg.LocalProber{Exec: probe},
		Blobs:     a.blobs,
		Notifier:  notifier,
		Tracer:    a.tracer.Tracer(),
		Logger:    logging.NewComponentLogger("Pipeline"),
	}
	if metrics != nil {
		deps.Observer = metrics
	}
	a.service, err = pipeline.New(pipeline.Config{
		MaxConcurrent: cfg.Runner.MaxConcurrent,
		Limits:        domain.Limits{MaxInstructions: cfg.Runner.MaxInstructions},
		ShareURLTTL:   cfg.Artifacts.SignedURLTTL,
	}, deps)
	if err != nil {
		return fail(err)
	}
	if cfg.Observability.MetricsEnabled {
		if err := observability.RegisterBroadcaster(a.registry, a.service.Events()); err != nil {
			return fail(err)
		}
	}
	return a, nil
}

// close stops running recordings, then releases the store and tracer.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.service != nil {
		if err := a.service.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown recordings: %w", err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush traces: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}
