package service

import (
	"context"
	"encoding/json"
	"strings"

	"image-prompt-creator/internal/llmtask"
	"image-prompt-creator/internal/presets"
	"image-prompt-creator/internal/prompt"
	"image-prompt-creator/internal/storyboard"
)

type StoryboardRequest struct {
	Text       string `json:"text"`
	Template   string `json:"template"`
	Duration   int    `json:"duration"`
	Cuts       int    `json:"cuts"`
	Continuity bool   `json:"continuity"`
	// ReflectStyle passes video_style and content_flags to the model as
	// background context. They are always kept in the output.
	ReflectStyle bool   `json:"reflect_style"`
	Auto         bool   `json:"auto"`
	Limit        int    `json:"limit"`
	Language     string `json:"language"`
	// Offline lays the sentences over the template without the LLM.
	Offline bool `json:"offline"`
}

type StoryboardResult struct {
	JSON              string           `json:"json"`
	Cuts              []storyboard.Cut `json:"cuts"`
	TotalSec          float64          `json:"total_duration_sec"`
	Template          string           `json:"template"`
	MissingCharacters []string         `json:"missing_characters,omitempty"`
	Offline           bool             `json:"offline"`
}

// Storyboard splits the prompt into timed cuts and renders the video_prompt
// document. The video_style and content_flags blocks of the input are
// carried into the document. Without the LLM, or when Offline is set, the
// sentences of the prompt are spread over the template cuts.
func (s *Service) Storyboard(ctx context.Context, req StoryboardRequest) (StoryboardResult, error) {
	videoStyle, contentFlags, remaining := storyboard.ExtractMetadata(req.Text)
	main, _, _ := prompt.SplitOptions(remaining)
	if strings.TrimSpace(main) == "" {
		return StoryboardResult{}, ErrEmptyPrompt
	}

	tmpl := storyboard.LookupTemplate(req.Template)
	total := float64(req.Duration)
	if total <= 0 {
		total = storyboard.DefaultDuration
	}
	count := req.Cuts
	if n := tmpl.FixedCuts(); n > 0 {
		count = n
	}
	count = max(1, count)

	characters, missing := storyboard.DetectCharacters(main, s.Characters())
	if len(missing) > 0 {
		s.logger.Warn("storyboard mentions unknown characters", "event", "storyboard_unknown_characters", "missing", missing)
	}

	offline := req.Offline || !s.llmEnabled
	var (
		cuts []storyboard.Cut
		err  error
	)
	switch {
	case offline:
		cuts = offlineCuts(storyboard.CreateCuts(tmpl.ID, total, count), prompt.SentenceDetails(main))
	case req.Auto:
		cuts, total, err = s.autoCuts(ctx, req, main, videoStyle, contentFlags, characters)
	default:
		cuts, err = s.fixedCuts(ctx, req, tmpl.ID, main, total, count, videoStyle, contentFlags, characters)
	}
	if err != nil {
		return StoryboardResult{}, err
	}

	cuts = storyboard.AssignCharacters(cuts, characters)
	templateID := tmpl.ID
	if req.Auto && !offline {
		templateID = storyboard.TemplateNone
	}
	doc, err := storyboard.BuildJSON(cuts, total, templateID, videoStyle, contentFlags, req.Continuity && !offline)
	if err != nil {
		return StoryboardResult{}, err
	}
	return StoryboardResult{
		JSON:              doc,
		Cuts:              cuts,
		TotalSec:          total,
		Template:          templateID,
		MissingCharacters: missing,
		Offline:           offline,
	}, nil
}

func (s *Service) storyboardRequest(req StoryboardRequest, main string, videoStyle, contentFlags json.RawMessage) llmtask.StoryboardRequest {
	out := llmtask.StoryboardRequest{
		Text:       main,
		Language:   req.Language,
		Continuity: req.Continuity,
		Limit:      req.Limit,
	}
	if req.ReflectStyle {
		out.VideoStyle = videoStyle
		out.ContentFlags = contentFlags
	}
	return out
}

func (s *Service) fixedCuts(ctx context.Context, req StoryboardRequest, templateID, main string, total float64, count int, videoStyle, contentFlags json.RawMessage, chars []presets.Character) ([]storyboard.Cut, error) {
	base := storyboard.CreateCuts(templateID, total, count)
	writable := 0
	for _, c := range base {
		if !c.IsImagePlaceholder {
			writable++
		}
	}

	llmReq := s.storyboardRequest(req, main, videoStyle, contentFlags)
	llmReq.Cuts = max(1, writable)
	llmReq.TotalSec = total
	llmReq.Characters = chars

	raw, err := s.runner.Storyboard(ctx, llmReq)
	if err != nil {
		return nil, err
	}
	parsed, err := storyboard.ParseLLMCuts(raw)
	if err != nil {
		return nil, err
	}
	return storyboard.MergeFixed(base, parsed.Cuts), nil
}

func (s *Service) autoCuts(ctx context.Context, req StoryboardRequest, main string, videoStyle, contentFlags json.RawMessage, chars []presets.Character) ([]storyboard.Cut, float64, error) {
	bounds := storyboard.DefaultAutoBounds()
	if req.Duration > 0 {
		bounds.DefaultDuration = float64(req.Duration)
	}

	llmReq := s.storyboardRequest(req, main, videoStyle, contentFlags)
	llmReq.Auto = true
	llmReq.Bounds = bounds
	llmReq.Characters = chars

	raw, err := s.runner.Storyboard(ctx, llmReq)
	if err != nil {
		return nil, 0, err
	}
	parsed, err := storyboard.ParseLLMCuts(raw)
	if err != nil {
		return nil, 0, err
	}
	if !parsed.Auto {
		// An array answer carries no durations; spread it over the default.
		parsed.TotalDurationSec = bounds.DefaultDuration
	}
	cuts, total := storyboard.MergeAuto(parsed, bounds)
	return cuts, total, nil
}

// offlineCuts spreads sentences over the writable cuts in order, keeping
// each chunk contiguous.
func offlineCuts(cuts []storyboard.Cut, sentences []string) []storyboard.Cut {
	var writable []int
	for i, c := range cuts {
		if !c.IsImagePlaceholder {
			writable = append(writable, i)
		}
	}
	if len(writable) == 0 {
		return cuts
	}

	llm := make([]storyboard.LLMCut, len(writable))
	for i := range llm {
		llm[i].Camera = storyboard.CameraStatic
	}
	n := len(writable)
	for i, sentence := range sentences {
		slot := i * n / len(sentences)
		if llm[slot].Description != "" {
			llm[slot].Description += " "
		}
		llm[slot].Description += prompt.NormalizeLine(sentence)
	}
	return storyboard.MergeFixed(cuts, llm)
}
