package presets

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Character is a reusable video character referenced as @id in prompts.
type Character struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Pronoun3rd string `json:"pronoun_3rd,omitempty" yaml:"pronoun_3rd"`
}

type charactersFile struct {
	Characters []Character `yaml:"characters"`
}

// LoadCharacters returns an empty list when the file is missing or invalid.
func LoadCharacters(path string, logger *slog.Logger) []Character {
	logger = orDiscard(logger)

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Debug("characters file missing", "event", "sora_characters_yaml_missing", "path", path)
		return nil
	}
	if err != nil {
		logger.Error("characters file unreadable", "event", "sora_characters_yaml_io_error", "path", path, "error", err)
		return nil
	}

	chars, err := ParseCharacters(raw)
	if err != nil {
		logger.Warn("characters file invalid", "event", "sora_characters_yaml_invalid_schema", "path", path, "error", err)
		return nil
	}
	logger.Info("characters loaded", "event", "sora_characters_yaml_loaded", "path", path, "count", len(chars))
	return chars
}

func ParseCharacters(raw []byte) ([]Character, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	items, ok := doc["characters"].([]any)
	if !ok {
		return nil, errors.New("missing or non-list characters")
	}

	var out []Character
	for _, rawItem := range items {
		item, ok := rawItem.(map[string]any)
		if !ok {
			continue
		}
		id := strings.TrimSpace(stringValue(item["id"]))
		name := strings.TrimSpace(stringValue(item["name"]))
		if id == "" || name == "" {
			continue
		}
		out = append(out, Character{ID: id, Name: name, Pronoun3rd: stringValue(item["pronoun_3rd"])})
	}
	return out, nil
}

// RegisterCharacters appends entries whose id is not yet present and
// rewrites the file. Entries without a name are rejected.
func RegisterCharacters(path string, entries []Character) ([]Character, error) {
	for _, e := range entries {
		if strings.TrimSpace(e.ID) == "" || strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("character %q: id and name are required", e.ID)
		}
	}

	var existing []Character
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		existing, err = ParseCharacters(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	known := make(map[string]bool, len(existing))
	for _, c := range existing {
		known[c.ID] = true
	}
	for _, e := range entries {
		e.ID = strings.TrimSpace(e.ID)
		if known[e.ID] {
			continue
		}
		known[e.ID] = true
		existing = append(existing, Character{ID: e.ID, Name: strings.TrimSpace(e.Name), Pronoun3rd: strings.TrimSpace(e.Pronoun3rd)})
	}

	out, err := yaml.Marshal(charactersFile{Characters: existing})
	if err != nil {
		return nil, fmt.Errorf("encode characters: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir: %w", err)
		}
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return existing, nil
}
