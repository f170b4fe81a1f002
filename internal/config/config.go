package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultSettingsFile = "desktop_gui_settings.yaml"
	SettingsSection     = "app_image_prompt_creator"
	DefaultRowNum       = 10
)

// AvailableModels lists the LLM models accepted by LLM_MODEL. The first entry
// is used when the configured model is unknown.
var AvailableModels = []string{"gpt-4o-mini", "gpt-4o", "gpt-5.1"}

type Config struct {
	TelegramToken string
	OpenAIAPIKey  string

	LogLevel string
	Debug    bool

	PreferIPv4 bool

	MaxConcurrent        int
	HistorySize          int
	RequestTimeout       time.Duration
	HTTPTimeout          time.Duration
	OpenAIBaseURL        string
	LLMRatePerMinute     int
	PresetReloadDebounce time.Duration
	WebAddr              string
	SettingsFile         string
	App                  AppSettings
	Notes                []string
}

// AppSettings is the app_image_prompt_creator section of the settings YAML.
type AppSettings struct {
	BaseFolder             string
	DBPath                 string
	ExclusionCSV           string
	ArrangePresetsYAML     string
	TailPresetsYAML        string
	SoraCharactersYAML     string
	DeduplicatePrompts     bool
	LLMEnabled             bool
	LLMModel               string
	LLMMaxCompletionTokens int
	LLMTimeout             time.Duration
	OpenAIAPIKeyEnv        string
	LLMIncludeTemperature  bool
	LLMTemperature         float64
	DefaultRowNum          int
}

func DefaultAppSettings() AppSettings {
	return AppSettings{
		BaseFolder:             ".",
		DBPath:                 "image_prompt_parts.db",
		ExclusionCSV:           "exclusion_targets.csv",
		ArrangePresetsYAML:     "arrange_presets.yaml",
		TailPresetsYAML:        "tail_presets.yaml",
		SoraCharactersYAML:     "sora_characters.yaml",
		DeduplicatePrompts:     true,
		LLMEnabled:             false,
		LLMModel:               AvailableModels[0],
		LLMMaxCompletionTokens: 4500,
		LLMTimeout:             30 * time.Second,
		OpenAIAPIKeyEnv:        "OPENAI_API_KEY",
		LLMIncludeTemperature:  false,
		LLMTemperature:         0.7,
		DefaultRowNum:          DefaultRowNum,
	}
}

// Load reads process settings from the environment and the application
// settings from SETTINGS_FILE. A missing or broken settings file is not an
// error; defaults are used and the reason is kept in Notes.
func Load() (Config, error) {
	cfg := Config{
		LogLevel:             strings.ToLower(strings.TrimSpace(getEnv("LOG_LEVEL", "info"))),
		Debug:                getEnvBool("DEBUG", false),
		PreferIPv4:           getEnvBool("PREFER_IPV4", true),
		MaxConcurrent:        getEnvInt("MAX_CONCURRENT", 4),
		HistorySize:          getEnvInt("HISTORY_SIZE", 20),
		RequestTimeout:       time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 180)) * time.Second,
		HTTPTimeout:          time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 180)) * time.Second,
		OpenAIBaseURL:        strings.TrimSpace(getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1")),
		LLMRatePerMinute:     getEnvInt("LLM_RATE_PER_MINUTE", 60),
		PresetReloadDebounce: time.Duration(getEnvInt("PRESET_RELOAD_DEBOUNCE_MS", 300)) * time.Millisecond,
		WebAddr:              strings.TrimSpace(getEnv("WEB_ADDR", ":8080")),
		SettingsFile:         getEnv("SETTINGS_FILE", DefaultSettingsFile),
	}
	cfg.TelegramToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))

	app, notes, err := LoadAppSettings(cfg.SettingsFile)
	if err != nil {
		return Config{}, fmt.Errorf("load settings: %w", err)
	}
	cfg.App = app
	cfg.Notes = notes
	cfg.OpenAIAPIKey = strings.TrimSpace(os.Getenv(app.OpenAIAPIKeyEnv))

	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 180 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 180 * time.Second
	}
	if cfg.LLMRatePerMinute < 0 {
		cfg.LLMRatePerMinute = 0
	}
	if cfg.PresetReloadDebounce <= 0 {
		cfg.PresetReloadDebounce = 300 * time.Millisecond
	}

	return cfg, nil
}

// RequireTelegram is checked by the bot entry point only.
func (c Config) RequireTelegram() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	return nil
}

// LoadAppSettings merges the settings section over the defaults and resolves
// relative paths against the settings file directory.
func LoadAppSettings(path string) (AppSettings, []string, error) {
	app := DefaultAppSettings()
	var notes []string

	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultSettingsFile
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return AppSettings{}, nil, fmt.Errorf("resolve settings path: %w", err)
	}
	baseDir := filepath.Dir(absPath)

	v := viper.New()
	v.SetConfigFile(absPath)
	v.SetConfigType("yaml")
	switch err := v.ReadInConfig(); {
	case err == nil:
		if section := v.Sub(SettingsSection); section != nil {
			applySection(&app, section)
		} else {
			notes = append(notes, fmt.Sprintf("settings section %q not found in %s; defaults used", SettingsSection, absPath))
		}
	case errors.Is(err, os.ErrNotExist) || isNotFound(err):
		notes = append(notes, fmt.Sprintf("settings file %s not found; defaults used", absPath))
	default:
		notes = append(notes, fmt.Sprintf("settings file %s could not be parsed (%v); defaults used", absPath, err))
	}

	if !validModel(app.LLMModel) {
		notes = append(notes, fmt.Sprintf("LLM_MODEL %q is not supported; falling back to %s", app.LLMModel, AvailableModels[0]))
		app.LLMModel = AvailableModels[0]
	}
	if app.LLMMaxCompletionTokens < 1 {
		app.LLMMaxCompletionTokens = DefaultAppSettings().LLMMaxCompletionTokens
	}
	if app.LLMTimeout <= 0 {
		app.LLMTimeout = DefaultAppSettings().LLMTimeout
	}
	if app.DefaultRowNum < 1 {
		app.DefaultRowNum = DefaultRowNum
	}
	if strings.TrimSpace(app.OpenAIAPIKeyEnv) == "" {
		app.OpenAIAPIKeyEnv = "OPENAI_API_KEY"
	}

	base := resolvePath(baseDir, app.BaseFolder)
	app.BaseFolder = base
	app.DBPath = resolvePath(base, app.DBPath)
	app.ExclusionCSV = resolvePath(base, app.ExclusionCSV)
	app.ArrangePresetsYAML = resolvePath(base, app.ArrangePresetsYAML)
	app.TailPresetsYAML = resolvePath(base, app.TailPresetsYAML)
	app.SoraCharactersYAML = resolvePath(base, app.SoraCharactersYAML)

	return app, notes, nil
}

func applySection(app *AppSettings, v *viper.Viper) {
	if v.IsSet("BASE_FOLDER") {
		app.BaseFolder = v.GetString("BASE_FOLDER")
	}
	if v.IsSet("DEFAULT_DB_PATH") {
		app.DBPath = v.GetString("DEFAULT_DB_PATH")
	}
	if v.IsSet("EXCLUSION_CSV") {
		app.ExclusionCSV = v.GetString("EXCLUSION_CSV")
	}
	if v.IsSet("ARRANGE_PRESETS_YAML") {
		app.ArrangePresetsYAML = v.GetString("ARRANGE_PRESETS_YAML")
	}
	if v.IsSet("TAIL_PRESETS_YAML") {
		app.TailPresetsYAML = v.GetString("TAIL_PRESETS_YAML")
	}
	if v.IsSet("SORA_CHARACTERS_YAML") {
		app.SoraCharactersYAML = v.GetString("SORA_CHARACTERS_YAML")
	}
	if v.IsSet("DEDUPLICATE_PROMPTS") {
		app.DeduplicatePrompts = v.GetBool("DEDUPLICATE_PROMPTS")
	}
	if v.IsSet("LLM_ENABLED") {
		app.LLMEnabled = v.GetBool("LLM_ENABLED")
	}
	if v.IsSet("LLM_MODEL") {
		app.LLMModel = strings.TrimSpace(v.GetString("LLM_MODEL"))
	}
	if v.IsSet("LLM_MAX_COMPLETION_TOKENS") {
		app.LLMMaxCompletionTokens = v.GetInt("LLM_MAX_COMPLETION_TOKENS")
	}
	if v.IsSet("LLM_TIMEOUT") {
		app.LLMTimeout = time.Duration(v.GetFloat64("LLM_TIMEOUT") * float64(time.Second))
	}
	if v.IsSet("OPENAI_API_KEY_ENV") {
		app.OpenAIAPIKeyEnv = strings.TrimSpace(v.GetString("OPENAI_API_KEY_ENV"))
	}
	if v.IsSet("LLM_INCLUDE_TEMPERATURE") {
		app.LLMIncludeTemperature = v.GetBool("LLM_INCLUDE_TEMPERATURE")
	}
	if v.IsSet("LLM_TEMPERATURE") {
		app.LLMTemperature = v.GetFloat64("LLM_TEMPERATURE")
	}
	if v.IsSet("DEFAULT_ROW_NUM") {
		app.DefaultRowNum = v.GetInt("DEFAULT_ROW_NUM")
	}
}

func validModel(model string) bool {
	for _, m := range AvailableModels {
		if m == model {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return true
	}
	return strings.Contains(err.Error(), "no such file")
}

func resolvePath(base, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return base
	}
	if filepath.IsAbs(value) {
		return filepath.Clean(value)
	}
	return filepath.Join(base, value)
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
