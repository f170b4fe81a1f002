package llmtask

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// AttributeHint asks for roughly Count fragments about Detail.
type AttributeHint struct {
	Name   string
	Detail string
	Count  int
}

type FragmentRequest struct {
	Total      int
	Attributes []AttributeHint
	Exclusions []string
	Chaos      int
	Language   string
}

// ChaosTemperature shifts the base temperature by chaos level: level 5
// keeps it, each side spans 0.6 over nine steps.
func ChaosTemperature(base float64, level int) float64 {
	level = clampChaos(level)
	t := base + (float64(level)-5.0)/9.0*0.6
	return max(0.1, min(1.5, t))
}

func clampChaos(level int) int {
	return max(1, min(10, level))
}

func chaosDescription(level int) string {
	switch {
	case level <= 2:
		return "very stable, low randomness"
	case level <= 4:
		return "mild variation with mostly stable structure"
	case level <= 6:
		return "noticeable creative variation without losing overall coherence"
	case level <= 8:
		return "strongly varied, experimental compositions"
	default:
		return "maximum chaos: wild, highly unexpected compositions and mixtures"
	}
}

// GenerateFragments asks for Total prompt lines in one call and returns the
// raw multi-line answer.
func (r *Runner) GenerateFragments(ctx context.Context, req FragmentRequest) (string, error) {
	total := max(1, req.Total)
	level := clampChaos(req.Chaos)
	temperature := ChaosTemperature(r.temperature, level)

	var attrLines []string
	for _, a := range req.Attributes {
		if a.Count > 0 {
			attrLines = append(attrLines, fmt.Sprintf("- %s (attribute: %s, approx %d fragments)", a.Detail, a.Name, a.Count))
		} else {
			attrLines = append(attrLines, fmt.Sprintf("- %s (attribute: %s)", a.Detail, a.Name))
		}
	}
	attrBlock := "- (no specific attribute constraints; freely mix subjects, environments, materials and styles)"
	if len(attrLines) > 0 {
		attrBlock = strings.Join(attrLines, "\n")
	}

	exclBlock := "(none)"
	if words := uniqueSorted(req.Exclusions); len(words) > 0 {
		exclBlock = strings.Join(words, ", ")
	}

	label := "English"
	sentence := "Output language: English. Return only English text in each fragment; do not append Japanese translations."
	if NormalizeLanguage(req.Language) == "ja" {
		label = "Japanese"
		sentence = "Output language: Japanese. Return only Japanese text in each fragment; do not append English translations."
	}

	system := "You generate diverse, high-quality prompt fragments for image generation models like Midjourney. " +
		"Follow the requested attribute mix and avoid forbidden words while keeping outputs concise and visual. " +
		sentence

	user := fmt.Sprintf("Generate %d distinct prompt fragments for image generation in %s.\n", total, label) +
		"Formatting rules:\n" +
		"- Output exactly one fragment per line.\n" +
		"- Do NOT prepend numbers, bullets, or labels.\n" +
		"- Each fragment should be a single concise sentence, compatible with Midjourney-style prompts.\n" +
		"- Avoid producing identical fragments.\n\n" +
		"Chaos control:\n" +
		fmt.Sprintf("- Chaos level: %d (%s).\n", level, chaosDescription(level)) +
		"- Lower levels (1-3) should keep structure and style relatively consistent across fragments.\n" +
		"- Medium levels (4-6) may change composition and style moderately, but keep subjects readable and not absurd.\n" +
		"- Higher levels (7-10) may aggressively remix subjects, environments and materials; allow unusual angles and combinations.\n" +
		"- At level 5 or above, ensure fragments feel clearly distinct and non-repetitive.\n\n" +
		"Attribute preferences (approximate distribution across the fragments):\n" +
		attrBlock + "\n\n" +
		"Words or themes to avoid (if these substrings appear, treat it as a hard prohibition): " +
		exclBlock + "\n\n" +
		"If no attributes are given, create a varied but coherent mix of subjects, environments, materials, and visual styles."

	out, err := r.call(ctx, "fragment generation", system, user, temperature, "reduce the line count or shorten the prompt and retry")
	if err != nil {
		return "", err
	}
	r.logger.Debug("fragments generated", "event", "llm_fragments_generated", "chaos_level", level, "effective_temperature", temperature)
	return out, nil
}

func uniqueSorted(words []string) []string {
	set := map[string]bool{}
	var out []string
	for _, w := range words {
		if w == "" || set[w] {
			continue
		}
		set[w] = true
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}
