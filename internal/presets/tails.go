package presets

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

const (
	MediaImage = "image"
	MediaMovie = "movie"
)

// Tail is a fixed sentence (image) or video_style JSON block (movie)
// appended after the generated text.
type Tail struct {
	Description string `json:"description" yaml:"description_ja"`
	Prompt      string `json:"prompt" yaml:"prompt"`
}

func DefaultTails() map[string][]Tail {
	return map[string][]Tail{
		MediaImage: {
			{Description: "(none)", Prompt: ""},
			{Description: "Ultra high resolution photo (8K)", Prompt: "A high resolution photograph. Very high resolution. 8K photo"},
			{Description: "Japanese ink painting", Prompt: "a Japanese ink painting. Zen painting"},
			{Description: "Medieval European painting", Prompt: "a Medieval European painting."},
		},
		MediaMovie: {
			{Description: "(none)", Prompt: ""},
			{Description: "Cinematic 70mm film", Prompt: `{"video_style":{"scope":"full_movie","description":"sweeping cinematic sequence shot on 70mm film","look":"dramatic lighting"}}`},
			{Description: "4K HDR tracking shot", Prompt: `{"video_style":{"scope":"full_movie","description":"dynamic tracking shot captured as ultra high fidelity footage","format":"4K HDR"}}`},
			{Description: "Moody arthouse short", Prompt: `{"video_style":{"scope":"full_movie","description":"moody arthouse short film","camera":"deliberate movement"}}`},
			{Description: "Trailer-style montage", Prompt: `{"video_style":{"scope":"full_movie","description":"fast-paced montage cut like a modern movie trailer","grade":"Dolby Vision"}}`},
			{Description: "Tight cinematic shot (4K)", Prompt: `{"video_style":{"scope":"full_movie","description":"tight cinematic shot with controlled, fluid camera motion","format":"4K"}}`},
			{Description: "1960s film print look", Prompt: `{"video_style":{"scope":"full_movie","description":"atmospheric sequence graded like a 1960s film print","grade":"film emulation"}}`},
			{Description: "High-contrast studio lighting", Prompt: `{"video_style":{"scope":"full_movie","description":"crisp studio-lit shot with high contrast and clean composition","look":"studio lighting"}}`},
			{Description: "Handheld with natural motion blur", Prompt: `{"video_style":{"scope":"full_movie","description":"handheld cinematic shot with subtle motion blur and natural grain","camera":"handheld"}}`},
			{Description: "8K master, smooth editing", Prompt: `{"video_style":{"scope":"full_movie","description":"cinematic shot mastered in 8K with smooth editing rhythm","format":"8K"}}`},
			{Description: "One-take aerial drone", Prompt: `{"video_style":{"scope":"full_movie","description":"continuous one-take aerial drone footage flying smoothly through the scene","camera":"drone one-shot"}}`},
			{Description: "Suspense drama tension", Prompt: `{"video_style":{"scope":"full_movie","description":"tense, dramatic scene from a suspense TV drama with moody lighting and framing","genre":"suspense drama"}}`},
			{Description: "One-shot documentary tone", Prompt: `{"video_style":{"scope":"full_movie","description":"single-take documentary-style shot that follows this world in a realistic tone","style":"one-shot documentary"}}`},
		},
	}
}

// LoadTails reads tails.<media>[] from path. Any problem is logged and falls
// back to the built-in tails.
func LoadTails(path string, logger *slog.Logger) map[string][]Tail {
	logger = orDiscard(logger)

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("tail presets file missing", "event", "tail_presets_yaml_missing", "path", path)
		return DefaultTails()
	}
	if err != nil {
		logger.Error("tail presets file unreadable", "event", "tail_presets_yaml_io_error", "path", path, "error", err)
		return DefaultTails()
	}

	tails, err := ParseTails(raw)
	if err != nil {
		logger.Error("tail presets invalid", "event", "tail_presets_yaml_parse_error", "path", path, "error", err)
		return DefaultTails()
	}

	media := make([]string, 0, len(tails))
	for k := range tails {
		media = append(media, k)
	}
	sort.Strings(media)
	logger.Info("tail presets loaded", "event", "tail_presets_yaml_loaded", "path", path, "media_types", media)
	return tails
}

// ParseTails normalizes a tails document. Items without description_ja use
// their prompt as the description and media types with no items are dropped.
func ParseTails(raw []byte) (map[string][]Tail, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	section, ok := doc["tails"].(map[string]any)
	if !ok {
		return nil, errors.New("missing or non-mapping tails")
	}

	out := make(map[string][]Tail)
	for media, rawItems := range section {
		items, ok := rawItems.([]any)
		if !ok {
			continue
		}
		var bucket []Tail
		for _, rawItem := range items {
			item, ok := rawItem.(map[string]any)
			if !ok {
				continue
			}
			prompt := stringValue(item["prompt"])
			description := prompt
			if _, ok := item["description_ja"]; ok {
				description = stringValue(item["description_ja"])
			}
			bucket = append(bucket, Tail{Description: description, Prompt: prompt})
		}
		if len(bucket) > 0 {
			out[media] = bucket
		}
	}

	if len(out) == 0 {
		return nil, errors.New("no valid tail presets")
	}
	return out, nil
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
