package storyboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// LLMCut is one entry of the model's storyboard answer.
type LLMCut struct {
	Cut         int     `json:"cut"`
	DurationSec float64 `json:"duration_sec"`
	Description string  `json:"description"`
	Camera      string  `json:"camera"`
}

// LLMResult is the parsed model answer. Auto is set when the model returned
// the object form that carries its own durations.
type LLMResult struct {
	TotalDurationSec float64
	Cuts             []LLMCut
	Auto             bool
}

var ErrNoCuts = errors.New("storyboard response contained no cuts")

// ParseLLMCuts accepts either a JSON array of cuts or an object with
// total_duration_sec and cuts, optionally wrapped in a code fence.
func ParseLLMCuts(text string) (LLMResult, error) {
	body := stripFence(text)
	start := strings.IndexAny(body, "[{")
	if start < 0 {
		return LLMResult{}, fmt.Errorf("parse storyboard: no JSON found")
	}
	body = body[start:]

	var res LLMResult
	if body[0] == '[' {
		end := strings.LastIndexByte(body, ']')
		if end < 0 {
			return LLMResult{}, fmt.Errorf("parse storyboard: unterminated array")
		}
		if err := json.Unmarshal([]byte(body[:end+1]), &res.Cuts); err != nil {
			return LLMResult{}, fmt.Errorf("parse storyboard: %w", err)
		}
	} else {
		end := strings.LastIndexByte(body, '}')
		if end < 0 {
			return LLMResult{}, fmt.Errorf("parse storyboard: unterminated object")
		}
		var obj struct {
			TotalDurationSec float64  `json:"total_duration_sec"`
			Cuts             []LLMCut `json:"cuts"`
		}
		if err := json.Unmarshal([]byte(body[:end+1]), &obj); err != nil {
			return LLMResult{}, fmt.Errorf("parse storyboard: %w", err)
		}
		res = LLMResult{TotalDurationSec: obj.TotalDurationSec, Cuts: obj.Cuts, Auto: true}
	}

	if len(res.Cuts) == 0 {
		return LLMResult{}, ErrNoCuts
	}
	for i := range res.Cuts {
		res.Cuts[i].Description = strings.TrimSpace(res.Cuts[i].Description)
		res.Cuts[i].Camera = normalizeCamera(res.Cuts[i].Camera)
	}
	return res, nil
}

func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	} else {
		text = strings.TrimPrefix(text, "```")
	}
	if end := strings.LastIndex(text, "```"); end >= 0 {
		text = text[:end]
	}
	return strings.TrimSpace(text)
}

func normalizeCamera(camera string) string {
	camera = strings.ToLower(strings.TrimSpace(camera))
	camera = strings.ReplaceAll(camera, "-", "_")
	camera = strings.ReplaceAll(camera, " ", "_")
	if validCamera(camera) {
		return camera
	}
	return CameraStatic
}

// MergeFixed lays the model's descriptions over template cuts in order.
// Image placeholder cuts keep their text; a template cut that already has
// text keeps it as a lead-in.
func MergeFixed(cuts []Cut, llm []LLMCut) []Cut {
	out := append([]Cut(nil), cuts...)
	next := 0
	for i := range out {
		if out[i].IsImagePlaceholder {
			continue
		}
		if next >= len(llm) {
			break
		}
		src := llm[next]
		next++
		switch {
		case src.Description == "":
		case out[i].Description == "":
			out[i].Description = src.Description
		default:
			out[i].Description = out[i].Description + " " + src.Description
		}
		out[i].CameraWork = src.Camera
	}
	return out
}

// MergeAuto builds cuts from the durations the model chose. Missing or
// invalid totals fall back to the bounds default; invalid cut durations fall
// back to an even split.
func MergeAuto(res LLMResult, bounds AutoBounds) ([]Cut, float64) {
	total := res.TotalDurationSec
	if total <= 0 {
		total = bounds.DefaultDuration
	}
	if total <= 0 {
		total = DefaultDuration
	}

	even := false
	for _, c := range res.Cuts {
		if c.DurationSec <= 0 {
			even = true
			break
		}
	}

	cuts := make([]Cut, len(res.Cuts))
	var current float64
	for i, c := range res.Cuts {
		d := c.DurationSec
		if even {
			d = total / float64(len(res.Cuts))
		}
		cuts[i] = Cut{
			Index:       i,
			StartSec:    Round2(current),
			DurationSec: Round2(d),
			Description: c.Description,
			CameraWork:  c.Camera,
		}
		current += d
	}
	return AdjustLastCut(cuts, total), total
}
