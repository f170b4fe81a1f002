// Package app wires the shared components used by every entry point.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"image-prompt-creator/internal/config"
	"image-prompt-creator/internal/generator"
	"image-prompt-creator/internal/httpclient"
	"image-prompt-creator/internal/llmtask"
	"image-prompt-creator/internal/openai"
	"image-prompt-creator/internal/presets"
	"image-prompt-creator/internal/service"
	"image-prompt-creator/internal/store"
)

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Store   *store.Store
	Presets *presets.Registry
	Service *service.Service
	Runner  *llmtask.Runner
}

// NewLogger returns the JSON logger every binary uses.
func NewLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	hostname, _ := os.Hostname()
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})).With("hostname", hostname, "pid", os.Getpid())
}

// New opens the prompt database and builds the service graph. The caller
// owns Close.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = NewLogger(cfg)
	}
	settings := cfg.App

	logger.Info("startup environment",
		"event", "startup_environment",
		"go_version", runtime.Version(),
		"settings_file", cfg.SettingsFile,
		"base_folder", settings.BaseFolder,
		"llm_enabled", settings.LLMEnabled,
		"llm_model", settings.LLMModel,
	)
	for _, note := range cfg.Notes {
		logger.Warn("settings fallback", "event", "app_settings_fallback", "note", note)
	}
	logger.Info("app settings applied",
		"event", "app_settings_applied",
		"db_path", settings.DBPath,
		"exclusion_csv", settings.ExclusionCSV,
		"tail_presets_yaml", settings.TailPresetsYAML,
		"arrange_presets_yaml", settings.ArrangePresetsYAML,
		"sora_characters_yaml", settings.SoraCharactersYAML,
		"deduplicate_prompts", settings.DeduplicatePrompts,
	)

	st, err := store.Open(store.Options{Path: settings.DBPath, Logger: logger, Debug: cfg.Debug})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.CreateSchema(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	llmHTTP := httpclient.New(httpclient.Options{
		PreferIPv4:    cfg.PreferIPv4,
		Timeout:       cfg.HTTPTimeout,
		RatePerMinute: cfg.LLMRatePerMinute,
	})
	client := openai.New(openai.Options{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		HTTPClient: llmHTTP,
		Logger:     logger,
	})
	runner := llmtask.New(llmtask.Options{
		Client:             client,
		Model:              settings.LLMModel,
		MaxTokens:          settings.LLMMaxCompletionTokens,
		Temperature:        settings.LLMTemperature,
		IncludeTemperature: settings.LLMIncludeTemperature,
		Timeout:            settings.LLMTimeout,
		Logger:             logger,
	})

	registry := presets.NewRegistry(presets.Paths{
		Tails:      settings.TailPresetsYAML,
		Arrange:    settings.ArrangePresetsYAML,
		Characters: settings.SoraCharactersYAML,
	}, logger)

	gen := generator.New(generator.Options{
		Source:        st,
		Fragments:     runner,
		ExclusionPath: settings.ExclusionCSV,
		Logger:        logger,
	})

	svc := service.New(service.Options{
		Store:         st,
		Presets:       registry,
		Generator:     gen,
		Runner:        runner,
		LLMEnabled:    settings.LLMEnabled,
		ExclusionPath: settings.ExclusionCSV,
		FailedDir:     settings.BaseFolder,
		Logger:        logger,
	})

	return &App{
		Config:  cfg,
		Logger:  logger,
		Store:   st,
		Presets: registry,
		Service: svc,
		Runner:  runner,
	}, nil
}

// WatchPresets reloads preset files on change until ctx is done.
func (a *App) WatchPresets(ctx context.Context) error {
	return presets.Watch(ctx, a.Presets, a.Config.PresetReloadDebounce, a.Logger)
}

func (a *App) Close() error {
	return a.Store.Close()
}
