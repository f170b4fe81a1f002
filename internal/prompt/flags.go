package prompt

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// PersonCounts and PlannedCuts list the accepted non-empty values.
var (
	PersonCounts = []string{"1+", "1", "2", "3", "4", "many"}
	PlannedCuts  = []string{"1", "2", "3", "4", "5", "6", "many"}
)

// ContentFlags is the second video tail: a content_flags JSON object that is
// appended whenever enabled, even when every switch is off.
type ContentFlags struct {
	Enabled          bool   `json:"enabled"`
	Narration        bool   `json:"narration"`
	BGM              bool   `json:"bgm"`
	AmbientSound     bool   `json:"ambient_sound"`
	Dialogue         bool   `json:"dialogue"`
	DialogueSubtitle bool   `json:"dialogue_subtitle"`
	Telop            bool   `json:"telop"`
	PersonCount      string `json:"person_count"`
	PlannedCuts      string `json:"planned_cuts"`
	SpokenLanguage   string `json:"spoken_language"`
}

// Toggle flips a boolean flag by its JSON name.
func (f *ContentFlags) Toggle(name string) bool {
	switch name {
	case "narration":
		f.Narration = !f.Narration
	case "bgm":
		f.BGM = !f.BGM
	case "ambient_sound":
		f.AmbientSound = !f.AmbientSound
	case "dialogue":
		f.Dialogue = !f.Dialogue
	case "dialogue_subtitle":
		f.DialogueSubtitle = !f.DialogueSubtitle
	case "telop":
		f.Telop = !f.Telop
	default:
		return false
	}
	return true
}

// JSON renders {"content_flags":{...}} with a fixed key order, or "" when
// the tail is disabled.
func (f ContentFlags) JSON() string {
	if !f.Enabled {
		return ""
	}

	var buf bytes.Buffer
	buf.WriteString(`{"content_flags":{`)
	writeBool := func(key string, v bool, first bool) {
		if !first {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(key))
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatBool(v))
	}
	writeBool("narration", f.Narration, true)
	writeBool("bgm", f.BGM, false)
	writeBool("ambient_sound", f.AmbientSound, false)
	writeBool("dialogue", f.Dialogue, false)
	writeBool("dialogue_subtitle", f.DialogueSubtitle, false)
	writeBool("telop", f.Telop, false)

	count := strings.TrimSpace(f.PersonCount)
	if count != "" {
		writeBool("person_present", true, false)
		buf.WriteString(`,"person_count":`)
		buf.WriteString(countValue(count))
	}
	if cuts := strings.TrimSpace(f.PlannedCuts); cuts != "" {
		buf.WriteString(`,"planned_cuts":`)
		buf.WriteString(countValue(cuts))
	}
	if lang := strings.TrimSpace(f.SpokenLanguage); lang == "ja" || lang == "en" {
		buf.WriteString(`,"spoken_language":`)
		buf.WriteString(strconv.Quote(lang))
	}
	buf.WriteString("}}")
	return buf.String()
}

// countValue keeps plain integers numeric and quotes "1+" or "many".
func countValue(v string) string {
	if n, err := strconv.Atoi(v); err == nil {
		return strconv.Itoa(n)
	}
	quoted, _ := json.Marshal(v)
	return string(quoted)
}
