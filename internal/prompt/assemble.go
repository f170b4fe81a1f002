package prompt

import (
	"strings"
)

var trailingPunct = []string{",", "、", ";", ":", "；", "：", "!", "?"}

// NormalizeLine trims a sampled line and makes it end with a single period.
// A trailing comma-like or exclamation mark is replaced, not doubled.
func NormalizeLine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	for _, p := range trailingPunct {
		if strings.HasSuffix(line, p) {
			return strings.TrimSuffix(line, p) + "."
		}
	}
	if !strings.HasSuffix(line, ".") {
		line += "."
	}
	return line
}

// JoinLines normalizes every non-empty line and joins them with spaces.
func JoinLines(lines []string) string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if n := NormalizeLine(line); n != "" {
			out = append(out, n)
		}
	}
	return strings.Join(out, " ")
}

// Assemble appends the free tail, the content_flags block and the image
// flags to the main text.
func Assemble(main, tail, flagsJSON string, options Options) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(main))
	if tail = strings.TrimSpace(tail); tail != "" {
		b.WriteString(" ")
		b.WriteString(tail)
	}
	if flagsJSON = strings.TrimSpace(flagsJSON); flagsJSON != "" {
		b.WriteString(" ")
		b.WriteString(flagsJSON)
	}
	b.WriteString(options.Suffix())
	return strings.TrimSpace(b.String())
}
