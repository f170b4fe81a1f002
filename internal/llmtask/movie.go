package llmtask

import (
	"context"
	"fmt"
	"strings"

	"image-prompt-creator/internal/prompt"
)

type WorldRequest struct {
	Summary      string
	Details      []string
	VideoStyle   string
	ContentFlags string
	Limit        int
	Language     string
}

// World condenses sentence fragments into one world description sized for
// a 10-second clip.
func (r *Runner) World(ctx context.Context, req WorldRequest) (string, error) {
	label, sentence := languageDirectives(req.Language)
	limit := summaryLimit(req.Limit)

	system := "You refine disjoint visual fragments into one coherent world description for a single 10-second cinematic clip. " +
		"Focus on the most impactful visual elements and atmosphere to fit the short duration. " +
		"Do not narrate events in sequence; describe one continuous world in natural " + label + "." +
		limit + "\n" + sentence

	user := "Convert the following fragments into a single connected world description that fits a 10-second video.\n" +
		"Omit minor details to keep it concise and impactful.\n" +
		worldStyleBlock(req) +
		"Source summary: " + req.Summary + "\n" +
		"Fragments:\n" + bulletLines(req.Details, func(s string) string { return s }) + "\n" +
		sentence + "\n" +
		"Output one concise paragraph that links every fragment into one world." + limit

	return r.call(ctx, "world description", system, user, r.temperature, "shorten the text and retry")
}

// Shot turns the fragments into one continuous 10-second storyboard beat
// without hard cuts.
func (r *Runner) Shot(ctx context.Context, req WorldRequest) (string, error) {
	label, sentence := languageDirectives(req.Language)
	limit := summaryLimit(req.Limit)

	system := "You craft a single continuous storyboard beat for a 10-second shot. " +
		"Ensure actions and camera moves are simple enough to complete within 10 seconds, even if the pace is slightly fast. " +
		"Blend all elements into a flowing moment without hard scene cuts. Write in natural " + label + "." +
		limit + "\n" + sentence

	user := "Turn the fragments into a 10-second single-shot storyboard.\n" +
		"Condense the sequence to fit the time limit, merging or simplifying transitions where necessary.\n" +
		worldStyleBlock(req) +
		"Source summary: " + req.Summary + "\n" +
		"Fragments:\n" + bulletLines(req.Details, func(s string) string { return s }) + "\n" +
		sentence + "\n" +
		"Describe a vivid, fast-paced but coherent sequence in one paragraph, focusing on visual continuity." + limit

	return r.call(ctx, "single-shot storyboard", system, user, r.temperature, "shorten the text and retry")
}

func summaryLimit(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf("\nIMPORTANT: Strictly limit the output summary to under %d characters.", n)
}

func worldStyleBlock(req WorldRequest) string {
	var style strings.Builder
	if req.VideoStyle != "" {
		style.WriteString("\n\n[Target Video Style]\n" + req.VideoStyle + "\n" +
			"IMPORTANT: Adapt the visual description (lighting, camera movement, atmosphere) " +
			"to strictly match the parameters defined in the Target Video Style above.")
	}
	if req.ContentFlags != "" {
		style.WriteString("\n\n[Content Flags]\n" + req.ContentFlags + "\n" +
			"IMPORTANT: Reflect these audio/subtitle/text overlay indicators explicitly in the rewritten description.")
	}
	if style.Len() == 0 {
		return ""
	}
	return style.String() + "\n"
}

type ChaosRequest struct {
	Text         string
	Fragments    []string
	VideoStyle   string
	ContentFlags string
	Limit        int
	Language     string
}

// ChaosMix forces every fragment into one simultaneous scene.
func (r *Runner) ChaosMix(ctx context.Context, req ChaosRequest) (string, error) {
	label, sentence := languageDirectives(req.Language)

	limit := ""
	if req.Limit > 0 {
		limit = fmt.Sprintf("\nIMPORTANT: Keep the final description under %d characters.", req.Limit)
	}

	details := bulletLines(req.Fragments, prompt.SanitizeToEnglish)
	if details == "" {
		details = "- (no sentence split detected)"
	}

	anchors := prompt.AnchorTerms(req.Text, 8)
	anchorLine := "(none)"
	if len(anchors) > 0 {
		anchorLine = strings.Join(anchors, ", ")
	}

	var style strings.Builder
	if req.VideoStyle != "" {
		style.WriteString("\n\n[Target Video Style]\n" + req.VideoStyle + "\n" +
			"IMPORTANT: Even though this is a chaotic blended scene, camera work, lighting and atmosphere\n" +
			"must still follow the Target Video Style above.")
	}
	if req.ContentFlags != "" {
		style.WriteString("\n\n[Content Flags]\n" + req.ContentFlags + "\n" +
			"IMPORTANT: Preserve these audio/subtitle/text overlay requirements within the chaotic blended scene.")
	}
	styleBlock := ""
	if style.Len() > 0 {
		styleBlock = style.String() + "\n"
	}

	system := "You are a chaotic scene blender. Force every fragment from a Midjourney prompt to coexist in the same physical location and the same moment. " +
		"Describe the result as one vivid, continuous tableau packed with overlapping motifs, lighting, and props. " +
		"Keep syntax clean, keep it in " + label + ", and never drop the essential nouns from the source." +
		limit + "\n" + sentence

	user := "Task: Smash all fragments into a single overwhelming scene. Every subject must appear simultaneously; do NOT split into multiple shots.\n" +
		"- Mention the collisions and impossible overlaps explicitly.\n" +
		"- Keep anchor terms verbatim where possible.\n" +
		"- Treat lighting/atmosphere cues as happening together.\n" +
		"- Output exactly one paragraph in " + label + ".\n" +
		"Nonce: " + r.nonce() + "\n" +
		styleBlock +
		"Original prompt body:\n" + prompt.SanitizeToEnglish(req.Text) + "\n\n" +
		"Sentence fragments:\n" + details + "\n" +
		"Anchor terms: " + anchorLine + "\n" +
		"Output:"

	return r.call(ctx, "chaos mix", system, user, r.temperature, "shorten the text and retry")
}

func bulletLines(items []string, transform func(string) string) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" {
			continue
		}
		lines = append(lines, "- "+transform(item))
	}
	return strings.Join(lines, "\n")
}
