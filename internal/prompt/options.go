package prompt

import (
	"strings"
)

// Flag names in the order they are rendered.
const (
	FlagAR    = "ar"
	FlagS     = "s"
	FlagChaos = "chaos"
	FlagQ     = "q"
	FlagWeird = "weird"
)

var FlagOrder = []string{FlagAR, FlagS, FlagChaos, FlagQ, FlagWeird}

// FlagValues holds the selectable values per flag. The leading empty entry
// means "not set".
var FlagValues = map[string][]string{
	FlagAR:    {"", "16:9", "9:16", "4:3", "3:4"},
	FlagS:     {"", "0", "10", "20", "30", "40", "50", "100", "150", "200", "250", "300", "400", "500", "600", "700", "800", "900", "1000"},
	FlagChaos: {"", "0", "10", "20", "30", "40", "50", "60", "70", "80", "90", "100"},
	FlagQ:     {"", "1", "2"},
	FlagWeird: {"", "0", "10", "20", "30", "40", "50", "100", "150", "200", "250", "500", "750", "1000", "1250", "1500", "1750", "2000", "2250", "2500", "2750", "3000"},
}

var allowedFlags = map[string]bool{
	"--ar":    true,
	"--s":     true,
	"--chaos": true,
	"--q":     true,
	"--weird": true,
}

// Options is the command-flag suffix for image tools.
type Options struct {
	Enabled map[string]bool   `json:"enabled"`
	Values  map[string]string `json:"values"`
}

func NewOptions() Options {
	return Options{Enabled: map[string]bool{}, Values: map[string]string{}}
}

// Set enables flag with value. An empty value disables the flag.
func (o *Options) Set(flag, value string) bool {
	flag = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(flag)), "--")
	if _, ok := FlagValues[flag]; !ok {
		return false
	}
	if o.Enabled == nil {
		o.Enabled = map[string]bool{}
	}
	if o.Values == nil {
		o.Values = map[string]string{}
	}
	value = strings.TrimSpace(value)
	o.Values[flag] = value
	o.Enabled[flag] = value != ""
	return true
}

// Suffix renders the enabled flags with a leading space, e.g. " --ar 16:9 --s 100".
func (o Options) Suffix() string {
	var b strings.Builder
	for _, flag := range FlagOrder {
		if !o.Enabled[flag] {
			continue
		}
		value := strings.TrimSpace(o.Values[flag])
		if value == "" {
			continue
		}
		b.WriteString(" --")
		b.WriteString(flag)
		b.WriteString(" ")
		b.WriteString(value)
	}
	return b.String()
}

// ValidFlagValue reports whether value is one of the listed values for flag.
func ValidFlagValue(flag, value string) bool {
	for _, v := range FlagValues[flag] {
		if v == value {
			return true
		}
	}
	return false
}

// SplitOptions separates a trailing run of image flags from the main text.
// The tail is returned with a leading space so that main+tail reproduces the
// normalized input.
func SplitOptions(text string) (main, tail string, found bool) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return "", "", false
	}

	for start := 0; start < len(tokens); start++ {
		if !allowedFlags[tokens[start]] {
			continue
		}
		if flagRun(tokens[start:]) {
			return strings.Join(tokens[:start], " "), " " + strings.Join(tokens[start:], " "), true
		}
	}
	return strings.TrimSpace(text), "", false
}

// flagRun reports whether tokens consist only of flags, each followed by at
// most one value that does not start with "--".
func flagRun(tokens []string) bool {
	for i := 0; i < len(tokens); {
		if !allowedFlags[tokens[i]] {
			return false
		}
		i++
		if i < len(tokens) && !strings.HasPrefix(tokens[i], "--") {
			i++
		}
	}
	return true
}

// InheritOptions keeps the flag tail of original on rewritten. When original
// had no flags, any flags the rewrite introduced are stripped.
func InheritOptions(original, rewritten string) string {
	if _, tail, ok := SplitOptions(original); ok {
		main, _, _ := SplitOptions(rewritten)
		return main + tail
	}
	return StripAllOptions(rewritten)
}

// StripAllOptions removes every known flag and its value anywhere in text.
func StripAllOptions(text string) string {
	tokens := strings.Fields(text)
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		if allowedFlags[tokens[i]] {
			if i+1 < len(tokens) && !strings.HasPrefix(tokens[i+1], "-") {
				i++
			}
			continue
		}
		out = append(out, tokens[i])
	}
	return strings.Join(out, " ")
}
