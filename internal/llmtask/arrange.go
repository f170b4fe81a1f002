package llmtask

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"image-prompt-creator/internal/prompt"
)

// LengthAdjustments lists the accepted length directions in menu order.
var LengthAdjustments = []string{"half", "-20%", "same", "+20%", "double"}

var lengthMultipliers = map[string]float64{
	"half":   0.5,
	"-20%":   0.8,
	"same":   1.0,
	"+20%":   1.2,
	"double": 2.0,
	"半分":     0.5,
	"2割減":    0.8,
	"同程度":    1.0,
	"2割増":    1.2,
	"倍":      2.0,
}

// LengthMultiplier returns the factor for a length direction; unknown
// directions keep the length.
func LengthMultiplier(adjust string) float64 {
	if m, ok := lengthMultipliers[strings.TrimSpace(adjust)]; ok {
		return m
	}
	return 1.0
}

var blendWeights = map[int]int{0: 20, 1: 35, 2: 65, 3: 80}

var strengthDescriptions = map[int]string{
	0: "Apply very subtle, minimal changes. Keep almost everything the same, just minor word improvements.",
	1: "Apply gentle, tasteful variations. Improve wording and style while keeping the core concept intact.",
	2: "Apply moderate creative variations. Enhance style, add vivid descriptors, and improve composition.",
	3: "Apply bold, creative transformations. Enhance style and add dramatic descriptors while preserving the original subject and key elements.",
}

var guidanceInstructions = map[int]string{
	0: "Apply guidance very subtly if at all. Focus on minimal improvements.",
	1: "Apply guidance gently. Blend it subtly with the original content.",
	2: "Apply guidance moderately. Enhance the style while keeping core elements.",
}

type ArrangeRequest struct {
	Text         string
	PresetLabel  string
	Strength     int
	Guidance     string
	LengthAdjust string
	Limit        int
	Language     string
}

// Arrange restyles the prompt toward the preset while keeping its anchor
// terms. Strength 3 switches to a bolder system prompt.
func (r *Runner) Arrange(ctx context.Context, req ArrangeRequest) (string, error) {
	_, sentence := languageDirectives(req.Language)

	original := utf8.RuneCountInString(req.Text)
	target := int(float64(original) * LengthMultiplier(req.LengthAdjust))

	blend, ok := blendWeights[req.Strength]
	if !ok {
		blend = 55
	}
	anchors := prompt.AnchorTerms(req.Text, 8)
	cues := prompt.HybridCues(anchors, req.PresetLabel, req.Guidance, 5)
	mustKeep := 2
	if req.Strength <= 2 {
		mustKeep = 3
	}
	strength, ok := strengthDescriptions[req.Strength]
	if !ok {
		strength = strengthDescriptions[2]
	}

	limit := ""
	if req.Limit > 0 {
		limit = fmt.Sprintf("\nIMPORTANT: Strictly limit the output to under %d characters.", req.Limit)
	}

	direction := "similar"
	switch {
	case target < original:
		direction = "shorter"
	case target > original:
		direction = "longer"
	}

	var system string
	var user strings.Builder
	guidance := guidanceInstructions[req.Strength]
	if req.Strength == 3 {
		system = "You are a creative prompt artist. Transform this Midjourney prompt with " + strength + ". " +
			"If guidance is provided, it SHOULD influence style but MUST BLEND with the original content. " +
			"Do NOT eliminate original cultural/subject elements; preserve and merge them with the guidance. " +
			"Be BOLD and CREATIVE - enhance the visual style with dramatic effects and vivid cinematic language. " +
			"Output only the transformed prompt." + limit + "\n" + sentence
		fmt.Fprintf(&user, "Preset: %s, Strength: %d (MAXIMUM CREATIVITY)\n", req.PresetLabel, req.Strength)
		fmt.Fprintf(&user, "Nonce: %s\n", r.nonce())
		if req.Guidance != "" {
			fmt.Fprintf(&user, "Guidance: %s\n", req.Guidance)
		}
	} else {
		system = "Rewrite Midjourney prompts with " + strength + ". " +
			guidance + " " +
			"Keep core content. Output only the prompt." + limit + "\n" + sentence
		fmt.Fprintf(&user, "Preset: %s, Strength: %d (0=minimal, 3=bold)\n", req.PresetLabel, req.Strength)
		fmt.Fprintf(&user, "Nonce: %s\n", r.nonce())
		if req.Guidance != "" {
			fmt.Fprintf(&user, "Guidance: %s\n", req.Guidance)
		}
		fmt.Fprintf(&user, "Guidance instruction: %s\n", guidance)
	}
	fmt.Fprintf(&user, "Blend weight target: ~%d%% guidance / ~%d%% original\n", blend, 100-blend)
	if len(anchors) > 0 {
		fmt.Fprintf(&user, "Anchor terms (verbatim): %s\n", strings.Join(anchors, ", "))
	}
	fmt.Fprintf(&user, "CRITICAL: Include at least %d of the anchor terms verbatim. Keep the original subject and cultural motifs.\n", mustKeep)
	if len(cues) > 0 {
		fmt.Fprintf(&user, "Hybridization suggestions: %s\n", strings.Join(cues, "; "))
	}
	fmt.Fprintf(&user, "Length adjustment: %s (target: ~%d chars, original: %d chars)\n", req.LengthAdjust, target, original)
	fmt.Fprintf(&user, "CRITICAL: Make the output %s than the original\n", direction)
	fmt.Fprintf(&user, "%s\n", sentence)
	fmt.Fprintf(&user, "Prompt: %s%s", req.Text, limit)

	out, err := r.call(ctx, "arrange", system, user.String(), r.temperature, "shorten the text and retry")
	if err != nil {
		return "", err
	}
	return prompt.InheritOptions(req.Text, out), nil
}
