package presets

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Arrange is a named style direction for the arrange pass.
type Arrange struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Guidance string `json:"guidance"`
}

func DefaultArrange() []Arrange {
	return []Arrange{{ID: "auto", Label: "auto", Guidance: ""}}
}

func LoadArrange(path string, logger *slog.Logger) []Arrange {
	logger = orDiscard(logger)

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("arrange presets file missing", "event", "arrange_presets_yaml_missing", "path", path)
		return DefaultArrange()
	}
	if err != nil {
		logger.Error("arrange presets file unreadable", "event", "arrange_presets_yaml_error", "path", path, "error", err)
		return DefaultArrange()
	}

	presets, err := ParseArrange(raw)
	if err != nil {
		logger.Error("arrange presets invalid", "event", "arrange_presets_yaml_error", "path", path, "error", err)
		return DefaultArrange()
	}
	logger.Info("arrange presets loaded", "event", "arrange_presets_yaml_loaded", "path", path, "count", len(presets))
	return presets
}

// ParseArrange accepts id, key or name as the identifier. An empty result
// yields the single "auto" preset.
func ParseArrange(raw []byte) ([]Arrange, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	items, _ := doc["presets"].([]any)
	var out []Arrange
	for _, rawItem := range items {
		item, ok := rawItem.(map[string]any)
		if !ok {
			continue
		}
		id := firstNonEmpty(item, "id", "key", "name")
		if id == "" {
			continue
		}
		label := firstNonEmpty(item, "label", "name", "id")
		if label == "" {
			label = id
		}
		out = append(out, Arrange{ID: id, Label: label, Guidance: stringValue(item["guidance"])})
	}

	if len(out) == 0 {
		return DefaultArrange(), nil
	}
	return out, nil
}

func firstNonEmpty(item map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := stringValue(item[k]); v != "" {
			return v
		}
	}
	return ""
}
