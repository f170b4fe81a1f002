package prompt

import (
	"bytes"
	"encoding/json"
	"strings"
)

const (
	KeyVideoStyle   = "video_style"
	KeyContentFlags = "content_flags"

	KeyWorldDescription = "world_description"
	KeyStoryboard       = "storyboard"

	ScopeWorld      = "single_continuous_world"
	ScopeStoryboard = "single_shot_storyboard"
)

// DetachJSONTail finds the last balanced {...} block that mentions key and
// returns the text without it plus the block itself.
func DetachJSONTail(text, key string) (remaining, block string) {
	text = strings.TrimSpace(text)
	quoted := `"` + key + `"`
	single := `'` + key + `'`

	searchEnd := len(text) - 1
	for searchEnd >= 0 {
		end := strings.LastIndexByte(text[:searchEnd+1], '}')
		if end < 0 {
			break
		}

		depth, start := 0, -1
		for i := end; i >= 0; i-- {
			switch text[i] {
			case '}':
				depth++
			case '{':
				depth--
				if depth == 0 {
					start = i
				}
			}
			if start >= 0 {
				break
			}
		}

		if start < 0 {
			searchEnd = end - 1
			continue
		}

		candidate := text[start : end+1]
		if strings.Contains(candidate, quoted) || strings.Contains(candidate, single) {
			rest := text[:start] + " " + text[end+1:]
			return strings.Join(strings.Fields(rest), " "), candidate
		}
		searchEnd = start - 1
	}
	return text, ""
}

func DetachMovieTail(text string) (string, string) {
	return DetachJSONTail(text, KeyVideoStyle)
}

func DetachContentFlagsTail(text string) (string, string) {
	return DetachJSONTail(text, KeyContentFlags)
}

// Parts is a prompt split into its editable body and the suffix blocks that
// LLM passes must carry through untouched.
type Parts struct {
	Main        string
	MovieTail   string
	FlagsTail   string
	OptionsTail string
}

// SplitParts peels the video_style block, then the content_flags block, then
// the trailing image flags.
func SplitParts(text string) Parts {
	core, movie := DetachMovieTail(text)
	core, flags := DetachContentFlagsTail(core)
	main, options, _ := SplitOptions(core)
	return Parts{Main: main, MovieTail: movie, FlagsTail: flags, OptionsTail: options}
}

// Compose joins body with the preserved suffix blocks.
func (p Parts) Compose(body string) string {
	return ComposeMovie(body, p.MovieTail, p.FlagsTail, p.OptionsTail)
}

// ComposeMovie joins the non-empty parts with single spaces.
func ComposeMovie(core, movieTail, flagsTail, optionsTail string) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{core, movieTail, flagsTail, optionsTail} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

type movieSection struct {
	Scope   string `json:"scope"`
	Summary string `json:"summary"`
}

// MovieJSON renders {"key":{"scope":..,"summary":..}} on one line.
func MovieJSON(summary, scope, key string) string {
	return marshalCompact(map[string]movieSection{
		key: {Scope: scope, Summary: strings.TrimSpace(summary)},
	})
}

func marshalCompact(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimRight(buf.String(), "\n")
}
