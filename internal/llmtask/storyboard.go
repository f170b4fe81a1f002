package llmtask

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"image-prompt-creator/internal/presets"
	"image-prompt-creator/internal/storyboard"
)

type StoryboardRequest struct {
	Text         string
	Cuts         int
	TotalSec     float64
	Language     string
	Continuity   bool
	VideoStyle   json.RawMessage
	ContentFlags json.RawMessage
	Limit        int
	Auto         bool
	Bounds       storyboard.AutoBounds
	Characters   []presets.Character
}

// Storyboard asks the model to split the prompt into cuts. Fixed mode
// expects a JSON array of exactly Cuts entries; auto mode lets the model pick
// the structure and expects an object with its own durations.
func (r *Runner) Storyboard(ctx context.Context, req StoryboardRequest) (string, error) {
	system, user := storyboardPrompts(req)
	return r.call(ctx, "storyboard", system, user, r.temperature, "reduce the cut count and retry")
}

func storyboardPrompts(req StoryboardRequest) (string, string) {
	cuts := max(1, req.Cuts)
	bounds := req.Bounds
	defaults := storyboard.DefaultAutoBounds()
	if bounds.MinCuts <= 0 {
		bounds.MinCuts = defaults.MinCuts
	}
	if bounds.MaxCuts <= 0 {
		bounds.MaxCuts = defaults.MaxCuts
	}
	if bounds.MinDuration <= 0 {
		bounds.MinDuration = defaults.MinDuration
	}
	if bounds.MaxDuration <= 0 {
		bounds.MaxDuration = defaults.MaxDuration
	}
	if bounds.DefaultDuration <= 0 {
		bounds.DefaultDuration = defaults.DefaultDuration
	}

	hasStyle := len(req.VideoStyle) > 0 || len(req.ContentFlags) > 0

	continuityInstruction := ""
	continuityRule := ""
	if req.Continuity {
		continuityInstruction = "CONTINUITY ENHANCEMENT MODE: Each cut (except the first) must begin with a smooth, " +
			"natural transition from the previous scene. Do NOT use template phrases like " +
			"'Continuing from...' or 'Following...'. Instead, weave the transition INTO the " +
			"description itself. For example, if cut 1 shows 'dawn breaking over Tokyo', " +
			"cut 2 should start with something like 'As the morning light strengthens, the city awakens...' " +
			"The transition should feel organic, as if the camera naturally drifts from one scene to the next. "
		continuityRule = "- CONTINUITY: Each cut after the first MUST begin by describing a smooth, natural transition " +
			"from the previous scene. Weave the transition into the description itself, not as a prefix. " +
			"The viewer should feel the camera flowing from one scene to the next.\n"
	}

	styleInstruction := ""
	styleContext := ""
	if hasStyle {
		styleInstruction = "STYLE REFLECTION MODE: Use the provided video_style and/or content_flags as background context. " +
			"Let these guide the mood, lighting, camera preferences, and presence of characters or audio elements " +
			"in each cut description. Do NOT simply repeat this metadata; instead, subtly incorporate it into " +
			"the visual description so the generated cuts naturally align with the intended style and constraints. "
		var parts []string
		if len(req.VideoStyle) > 0 {
			parts = append(parts, "video_style: "+string(req.VideoStyle))
		}
		if len(req.ContentFlags) > 0 {
			parts = append(parts, "content_flags: "+string(req.ContentFlags))
		}
		styleContext = "Background context (use subtly, do NOT copy verbatim):\n" + strings.Join(parts, "\n") + "\n\n"
	}

	system := "You are a professional storyboard writer for video production. " +
		"Your task is to split a given image prompt into multiple cinematic cuts for a short video. " +
		"Each cut should be a vivid, visual description suitable for AI video generation. " +
		"CRITICAL: You MUST preserve the original language of the source prompt. " +
		"If the source is in Japanese, write descriptions in Japanese. " +
		"If the source is in English, write descriptions in English. " +
		"Do NOT translate or change the language. " +
		continuityInstruction +
		styleInstruction

	characterContext := characterBlock(req.Characters)

	lengthRule := ""
	if req.Limit > 0 {
		estimated := cuts
		if req.Auto {
			estimated = max(bounds.MinCuts, min(bounds.MaxCuts, (bounds.MinCuts+bounds.MaxCuts)/2))
		}
		perCut := max(30, int(float64(req.Limit-200)/float64(max(estimated, 1))))
		lengthRule = fmt.Sprintf("- LENGTH: Keep the ENTIRE JSON (including brackets/keys) under %d characters.\n", req.Limit) +
			"- If shortening is needed, reduce only the \"description\" fields; keep cut count, indices, and camera keys intact.\n" +
			fmt.Sprintf("- Aim each description to stay within ~%d characters; use concise cinematic wording.\n", perCut)
	}

	rules := "Rules:\n" +
		"- IMPORTANT: Preserve the original language of the source prompt. Do NOT translate.\n" +
		"- Each cut should be a complete, vivid visual description.\n" +
		continuityRule +
		"- Include camera movement suggestions where appropriate (zoom, pan, tracking, etc.).\n" +
		"- The first cut should establish the scene.\n" +
		"- The final cut should provide a sense of conclusion or climax.\n" +
		lengthRule + "\n"

	cameraChoices := strings.Join(storyboard.CameraWorks, "|")

	if req.Auto {
		minCuts := max(2, bounds.MinCuts)
		maxCuts := max(minCuts, bounds.MaxCuts)
		minDur := max(1.0, bounds.MinDuration)
		maxDur := max(minDur+1.0, bounds.MaxDuration)
		target := min(maxDur, max(minDur, bounds.DefaultDuration))

		user := "Analyze the following image prompt and DESIGN the storyboard structure automatically.\n" +
			fmt.Sprintf("- Decide the number of cuts between %d and %d based on complexity and pacing.\n", minCuts, maxCuts) +
			fmt.Sprintf("- Choose a total video duration between %s and %s seconds; if uncertain, stay near %s seconds.\n",
				seconds(minDur), seconds(maxDur), seconds(target)) +
			"- Allocate time unevenly if needed (openings/endings can be longer, transitions shorter).\n" +
			"- HARD CONSTRAINT: After rounding each duration_sec to 2 decimals, the SUM of all duration_sec MUST EQUAL total_duration_sec EXACTLY (no over/under).\n" +
			"- If rounding creates any mismatch, adjust ONLY the LAST cut's duration_sec so the sum becomes exact.\n" +
			"- Avoid ultra-short cuts (<0.5s) unless necessary for montage feel.\n\n" +
			styleContext +
			characterContext +
			rules +
			"Output format (JSON object):\n" +
			"{\n" +
			"  \"total_duration_sec\": <number>,\n" +
			"  \"cuts\": [\n" +
			"    {\"cut\": 1, \"duration_sec\": <number>, \"description\": \"...\", \"camera\": \"" + cameraChoices + "\"},\n" +
			"    {\"cut\": 2, \"duration_sec\": <number>, \"description\": \"...\", \"camera\": \"...\"}\n" +
			"  ]\n" +
			"}\n\n" +
			"Source prompt:\n" + req.Text
		return system, user
	}

	perCut := storyboard.Round2(req.TotalSec / float64(cuts))
	user := fmt.Sprintf("Split the following image prompt into exactly %d cinematic cuts.\n", cuts) +
		fmt.Sprintf("Total video duration: %s seconds.\n", seconds(req.TotalSec)) +
		fmt.Sprintf("Each cut should be approximately %s seconds.\n", seconds(perCut)) +
		"HARD CONSTRAINT: Keep the action density per cut realistic for its duration so the whole storyboard fits the total duration.\n\n" +
		styleContext +
		characterContext +
		rules +
		"Output format (JSON array):\n" +
		"[\n" +
		"  {\"cut\": 1, \"description\": \"...\", \"camera\": \"" + cameraChoices + "\"},\n" +
		"  {\"cut\": 2, \"description\": \"...\", \"camera\": \"...\"},\n" +
		"  ...\n" +
		"]\n\n" +
		"Source prompt:\n" + req.Text
	return system, user
}

func characterBlock(chars []presets.Character) string {
	var lines []string
	for _, c := range chars {
		if c.ID == "" {
			continue
		}
		line := "  - ID: " + c.ID
		if c.Name != "" {
			line += " (name: " + c.Name + ")"
		}
		if c.Pronoun3rd != "" {
			line += " (pronoun: " + c.Pronoun3rd + ")"
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return ""
	}
	return "CHARACTERS in this video:\n" +
		strings.Join(lines, "\n") + "\n\n" +
		"CHARACTER RULES:\n" +
		"- When a character appears in a cut, use their ID (e.g. @ex.abc) as their name in the description.\n" +
		"- CRITICAL: Always surround the ID with spaces on both sides (e.g. ' @ex.abc ').\n" +
		"- Do NOT mention a character in cuts where they do not appear.\n" +
		"- Prefer using the ID over pronouns for the first mention in each cut.\n" +
		"- After the first mention, you may use pronouns if appropriate.\n" +
		"- Example: '@ex.abc is surprised and jumps up, dropping the juice he was holding.'\n\n"
}

// seconds renders whole numbers with one decimal ("10.0") and keeps the
// shortest form otherwise.
func seconds(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
