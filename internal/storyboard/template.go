// Package storyboard splits a prompt into timed cuts and renders the
// video_prompt JSON that video tools accept.
package storyboard

import (
	"math"
)

var Durations = []int{10, 15, 20, 25, 30}

const (
	DefaultDuration = 10

	// SafePromptChars is the prompt length video tools accept without
	// truncating the storyboard JSON.
	SafePromptChars = 1800

	CameraStatic = "static"

	TemplateNone         = "none"
	TemplateImageUnbind  = "image_unbind"
	TemplateOpeningHeavy = "opening_heavy"
	TemplateClimaxHeavy  = "climax_heavy"
	ImagePlaceholderText = "[Attached image]"
	imageUnbindJumpText  = "Jump into the world where this image was taken. The scene begins to move and unfold naturally."
	imagePlaceholderSecs = 0.3
)

var CameraWorks = []string{"static", "pan", "zoom_in", "zoom_out", "tracking", "dolly", "handheld", "drone"}

// AutoBounds limits what the model may choose when it designs the structure.
type AutoBounds struct {
	MinCuts         int
	MaxCuts         int
	MinDuration     float64
	MaxDuration     float64
	DefaultDuration float64
}

func DefaultAutoBounds() AutoBounds {
	return AutoBounds{MinCuts: 2, MaxCuts: 6, MinDuration: 5, MaxDuration: 30, DefaultDuration: DefaultDuration}
}

// Cut is one shot of the storyboard.
type Cut struct {
	Index              int      `json:"index"`
	StartSec           float64  `json:"start_sec"`
	DurationSec        float64  `json:"duration_sec"`
	Description        string   `json:"description"`
	CameraWork         string   `json:"camera_work,omitempty"`
	Characters         []string `json:"characters,omitempty"`
	IsImagePlaceholder bool     `json:"is_image_placeholder,omitempty"`
}

type presetCut struct {
	duration    float64 // 0 takes a share of the remaining time
	description string
	placeholder bool
}

type Template struct {
	ID          string
	Label       string
	Description string
	presetCuts  []presetCut
	weights     []float64
}

// FixedCuts reports how many cuts the template always produces, or 0 when
// the count is up to the caller.
func (t Template) FixedCuts() int {
	if len(t.presetCuts) > 0 {
		return len(t.presetCuts)
	}
	return len(t.weights)
}

var Templates = []Template{
	{ID: TemplateNone, Label: "No template", Description: "Split the duration evenly"},
	{
		ID:          TemplateImageUnbind,
		Label:       "Start from image (unbind)",
		Description: "Open on the attached image, then jump into the scene after 0.3s",
		presetCuts: []presetCut{
			{duration: imagePlaceholderSecs, description: ImagePlaceholderText, placeholder: true},
			{description: imageUnbindJumpText},
		},
	},
	{ID: TemplateOpeningHeavy, Label: "Opening heavy", Description: "First cut takes 40% of the duration", weights: []float64{0.4, 0.3, 0.3}},
	{ID: TemplateClimaxHeavy, Label: "Climax heavy", Description: "Last cut takes 40% of the duration", weights: []float64{0.3, 0.3, 0.4}},
}

// LookupTemplate returns the template for id, falling back to "none".
func LookupTemplate(id string) Template {
	for _, t := range Templates {
		if t.ID == id {
			return t
		}
	}
	return Templates[0]
}

// CreateCuts lays out empty cuts for the template. count only matters for
// templates without a fixed structure.
func CreateCuts(templateID string, total float64, count int) []Cut {
	t := LookupTemplate(templateID)

	var durations []float64
	switch {
	case len(t.presetCuts) > 0:
		var fixed float64
		variable := 0
		for _, p := range t.presetCuts {
			if p.duration > 0 {
				fixed += p.duration
			} else {
				variable++
			}
		}
		share := 0.0
		if variable > 0 {
			share = math.Max(0, total-fixed) / float64(variable)
		}
		for _, p := range t.presetCuts {
			d := p.duration
			if d <= 0 {
				d = share
			}
			durations = append(durations, d)
		}
	case len(t.weights) > 0:
		for _, w := range t.weights {
			durations = append(durations, total*w)
		}
	default:
		if count < 1 {
			count = 1
		}
		for i := 0; i < count; i++ {
			durations = append(durations, total/float64(count))
		}
	}

	cuts := make([]Cut, len(durations))
	var current float64
	for i, d := range durations {
		cuts[i] = Cut{
			Index:       i,
			StartSec:    Round2(current),
			DurationSec: Round2(d),
			CameraWork:  CameraStatic,
		}
		if i < len(t.presetCuts) {
			cuts[i].Description = t.presetCuts[i].description
			cuts[i].IsImagePlaceholder = t.presetCuts[i].placeholder
		}
		current += d
	}
	return AdjustLastCut(cuts, total)
}

// AdjustLastCut lets the last cut absorb any rounding gap of 0.01s or more
// so the cuts end exactly at total.
func AdjustLastCut(cuts []Cut, total float64) []Cut {
	if len(cuts) == 0 {
		return cuts
	}
	last := &cuts[len(cuts)-1]
	delta := Round2(total - (last.StartSec + last.DurationSec))
	if math.Abs(delta) >= 0.01 {
		last.DurationSec = Round2(last.DurationSec + delta)
	}
	return cuts
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func validCamera(camera string) bool {
	for _, c := range CameraWorks {
		if c == camera {
			return true
		}
	}
	return false
}
