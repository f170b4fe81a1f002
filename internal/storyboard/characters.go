package storyboard

import (
	"regexp"
	"strings"

	"image-prompt-creator/internal/presets"
)

var mentionPattern = regexp.MustCompile(`@[A-Za-z0-9_.\-]+`)

// Mentions returns the distinct @ids in text without the leading "@" and
// with trailing dots trimmed, in order of appearance.
func Mentions(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range mentionPattern.FindAllString(text, -1) {
		id := strings.TrimRight(strings.TrimPrefix(m, "@"), ".")
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func characterKey(id string) string {
	return strings.TrimRight(strings.TrimPrefix(strings.TrimSpace(id), "@"), ".")
}

// DetectCharacters splits the mentions in text into registered characters
// and ids nobody has registered yet.
func DetectCharacters(text string, known []presets.Character) (found []presets.Character, missing []string) {
	byKey := make(map[string]presets.Character, len(known))
	for _, c := range known {
		byKey[characterKey(c.ID)] = c
	}
	for _, id := range Mentions(text) {
		if c, ok := byKey[id]; ok {
			found = append(found, c)
		} else {
			missing = append(missing, id)
		}
	}
	return found, missing
}

// AssignCharacters records on each cut which of chars its description mentions.
func AssignCharacters(cuts []Cut, chars []presets.Character) []Cut {
	if len(chars) == 0 {
		return cuts
	}
	for i := range cuts {
		mentioned := map[string]bool{}
		for _, id := range Mentions(cuts[i].Description) {
			mentioned[id] = true
		}
		cuts[i].Characters = nil
		for _, c := range chars {
			if mentioned[characterKey(c.ID)] {
				cuts[i].Characters = append(cuts[i].Characters, c.ID)
			}
		}
	}
	return cuts
}
