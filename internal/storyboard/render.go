package storyboard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

type storyboardJSON struct {
	TotalDurationSec   float64 `json:"total_duration_sec"`
	Template           string  `json:"template"`
	Cuts               []Cut   `json:"cuts"`
	ContinuityEnhanced bool    `json:"continuity_enhanced,omitempty"`
}

type videoPromptJSON struct {
	Storyboard   storyboardJSON  `json:"storyboard"`
	VideoStyle   json.RawMessage `json:"video_style,omitempty"`
	ContentFlags json.RawMessage `json:"content_flags,omitempty"`
}

// BuildJSON renders the storyboard as an indented video_prompt document.
func BuildJSON(cuts []Cut, total float64, templateID string, videoStyle, contentFlags json.RawMessage, continuity bool) (string, error) {
	out := make([]Cut, len(cuts))
	for i, c := range cuts {
		if c.CameraWork == CameraStatic {
			c.CameraWork = ""
		}
		out[i] = c
	}
	if templateID == "" {
		templateID = TemplateNone
	}

	doc := map[string]videoPromptJSON{
		"video_prompt": {
			Storyboard: storyboardJSON{
				TotalDurationSec:   total,
				Template:           templateID,
				Cuts:               out,
				ContinuityEnhanced: continuity,
			},
			VideoStyle:   nonEmptyObject(videoStyle),
			ContentFlags: nonEmptyObject(contentFlags),
		},
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("encode storyboard: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func nonEmptyObject(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return nil
	}
	if !json.Valid(trimmed) {
		return nil
	}
	return trimmed
}

var (
	videoStylePattern   = regexp.MustCompile(`\{[^{}]*"video_style"\s*:\s*\{[^{}]*\}[^{}]*\}`)
	contentFlagsPattern = regexp.MustCompile(`\{[^{}]*"content_flags"\s*:\s*\{[^{}]*\}[^{}]*\}`)
)

// ExtractMetadata pulls video_style and content_flags out of a prompt and
// returns what is left with whitespace collapsed. A whole video_prompt
// document is read structurally; otherwise the first flat block of each
// kind is cut out of the text.
func ExtractMetadata(text string) (videoStyle, contentFlags json.RawMessage, remaining string) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &root); err == nil {
		if vpRaw, ok := root["video_prompt"]; ok {
			var vp map[string]json.RawMessage
			if err := json.Unmarshal(vpRaw, &vp); err == nil && vp != nil {
				return nonEmptyObject(vp["video_style"]), nonEmptyObject(vp["content_flags"]), videoPromptText(vp)
			}
		}
	}

	remaining = text
	videoStyle, remaining = cutBlock(remaining, videoStylePattern, "video_style")
	contentFlags, remaining = cutBlock(remaining, contentFlagsPattern, "content_flags")
	return videoStyle, contentFlags, strings.Join(strings.Fields(remaining), " ")
}

func videoPromptText(vp map[string]json.RawMessage) string {
	var text string
	if raw, ok := vp["prompt"]; ok {
		text = scalarText(raw)
	}
	if text == "" {
		var world struct {
			Summary json.RawMessage `json:"summary"`
		}
		if raw, ok := vp["world_description"]; ok && json.Unmarshal(raw, &world) == nil {
			text = scalarText(world.Summary)
		}
	}
	return strings.Join(strings.Fields(text), " ")
}

func scalarText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func cutBlock(text string, pattern *regexp.Regexp, key string) (json.RawMessage, string) {
	loc := pattern.FindStringIndex(text)
	if loc == nil {
		return nil, text
	}
	var block map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text[loc[0]:loc[1]]), &block); err != nil {
		return nil, text
	}
	return nonEmptyObject(block[key]), text[:loc[0]] + text[loc[1]:]
}
