package llmtask

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"image-prompt-creator/internal/openai"
	"image-prompt-creator/internal/presets"
	"image-prompt-creator/internal/storyboard"
)

type fakeCompleter struct {
	resp openai.Response
	err  error
	reqs []openai.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req openai.Request) (openai.Response, error) {
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

func newRunner(c Completer) *Runner {
	return New(Options{
		Client:      c,
		Model:       "gpt-4o-mini",
		MaxTokens:   500,
		Temperature: 0.7,
		Nonce:       func() string { return "abcd1234" },
	})
}

func TestLengthAdjustKeepsOptions(t *testing.T) {
	fake := &fakeCompleter{resp: openai.Response{Text: "A short cat --ar 1:1", FinishReason: "stop"}}
	r := newRunner(fake)

	out, err := r.LengthAdjust(context.Background(), LengthRequest{Text: "A long cat story --ar 16:9", Hint: "half", Limit: 120, Language: "ja"})
	if err != nil {
		t.Fatalf("LengthAdjust: %v", err)
	}
	if out != "A short cat --ar 16:9" {
		t.Fatalf("out = %q", out)
	}

	req := fake.reqs[0]
	if !strings.HasSuffix(req.SystemPrompt, "under 120 characters.\nRespond strictly in Japanese.") {
		t.Fatalf("system prompt = %q", req.SystemPrompt)
	}
	if !strings.HasPrefix(req.UserPrompt, "Length adjustment request (target: half)\n") {
		t.Fatalf("user prompt = %q", req.UserPrompt)
	}
	if req.Temperature == nil || *req.Temperature != 0.7 || req.MaxTokens != 500 {
		t.Fatalf("request = %+v", req)
	}
}

func TestCallErrors(t *testing.T) {
	t.Run("token limit", func(t *testing.T) {
		r := newRunner(&fakeCompleter{resp: openai.Response{Text: "cut off", FinishReason: "max_output_tokens"}})
		_, err := r.World(context.Background(), WorldRequest{Summary: "s"})
		if !errors.Is(err, ErrTokenLimit) {
			t.Fatalf("err = %v, want ErrTokenLimit", err)
		}
	})

	t.Run("api error carries retries and status", func(t *testing.T) {
		apiErr := &openai.APIError{Status: 503, Summary: "busy", Retries: 2}
		r := newRunner(&fakeCompleter{err: apiErr})
		_, err := r.ChaosMix(context.Background(), ChaosRequest{Text: "x"})
		if !errors.As(err, &apiErr) {
			t.Fatalf("err = %v, want APIError", err)
		}
		if !strings.Contains(err.Error(), "(retries: 2, status: 503)") {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("empty response", func(t *testing.T) {
		r := newRunner(&fakeCompleter{resp: openai.Response{Text: "  "}})
		if _, err := r.Storyboard(context.Background(), StoryboardRequest{Text: "x", Cuts: 2, TotalSec: 10}); !errors.Is(err, ErrEmptyResponse) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestWorldPrompt(t *testing.T) {
	fake := &fakeCompleter{resp: openai.Response{Text: "one world"}}
	r := newRunner(fake)
	_, err := r.World(context.Background(), WorldRequest{
		Summary:    "A fox. A moon.",
		Details:    []string{"A fox", "A moon"},
		VideoStyle: `{"video_style":{"look":"noir"}}`,
		Limit:      300,
	})
	if err != nil {
		t.Fatalf("World: %v", err)
	}
	user := fake.reqs[0].UserPrompt
	for _, want := range []string{
		"[Target Video Style]\n{\"video_style\":{\"look\":\"noir\"}}",
		"Source summary: A fox. A moon.\nFragments:\n- A fox\n- A moon\n",
		"links every fragment into one world.\nIMPORTANT: Strictly limit the output summary to under 300 characters.",
	} {
		if !strings.Contains(user, want) {
			t.Fatalf("user prompt missing %q:\n%s", want, user)
		}
	}
	if strings.Contains(user, "[Content Flags]") {
		t.Fatalf("unexpected content flags block")
	}
}

func TestShotPrompt(t *testing.T) {
	fake := &fakeCompleter{resp: openai.Response{Text: "one beat"}}
	r := newRunner(fake)
	out, err := r.Shot(context.Background(), WorldRequest{
		Summary:      "A fox runs. The moon rises.",
		Details:      []string{"A fox runs", "The moon rises"},
		ContentFlags: `{"content_flags":{"bgm":true}}`,
	})
	if err != nil || out != "one beat" {
		t.Fatalf("Shot = %q, %v", out, err)
	}
	req := fake.reqs[0]
	if !strings.HasPrefix(req.SystemPrompt, "You craft a single continuous storyboard beat for a 10-second shot.") {
		t.Fatalf("system prompt = %q", req.SystemPrompt)
	}
	for _, want := range []string{
		"Turn the fragments into a 10-second single-shot storyboard.\n",
		"[Content Flags]\n{\"content_flags\":{\"bgm\":true}}",
		"Fragments:\n- A fox runs\n- The moon rises\n",
	} {
		if !strings.Contains(req.UserPrompt, want) {
			t.Fatalf("user prompt missing %q:\n%s", want, req.UserPrompt)
		}
	}
	if strings.Contains(req.UserPrompt, "[Target Video Style]") || strings.Contains(req.UserPrompt, "Strictly limit") {
		t.Fatalf("unexpected blocks:\n%s", req.UserPrompt)
	}
}

func TestChaosMixPrompt(t *testing.T) {
	fake := &fakeCompleter{resp: openai.Response{Text: "chaos"}}
	r := newRunner(fake)
	if _, err := r.ChaosMix(context.Background(), ChaosRequest{Text: "A red lantern", Language: "en"}); err != nil {
		t.Fatalf("ChaosMix: %v", err)
	}
	user := fake.reqs[0].UserPrompt
	if !strings.Contains(user, "Nonce: abcd1234\n") || !strings.Contains(user, "- (no sentence split detected)") {
		t.Fatalf("user prompt = %s", user)
	}
	if !strings.HasSuffix(user, "Output:") {
		t.Fatalf("user prompt should end with Output:")
	}
}

func TestArrangePrompt(t *testing.T) {
	tests := []struct {
		name     string
		strength int
		adjust   string
		want     []string
		notWant  string
	}{
		{
			name:     "gentle",
			strength: 1,
			adjust:   "half",
			want: []string{
				"Strength: 1 (0=minimal, 3=bold)",
				"Guidance instruction: Apply guidance gently.",
				"Blend weight target: ~35% guidance / ~65% original",
				"Include at least 3 of the anchor terms",
				"CRITICAL: Make the output shorter than the original",
			},
		},
		{
			name:     "bold",
			strength: 3,
			adjust:   "倍",
			want: []string{
				"Strength: 3 (MAXIMUM CREATIVITY)",
				"Blend weight target: ~80% guidance / ~20% original",
				"Include at least 2 of the anchor terms",
				"CRITICAL: Make the output longer than the original",
			},
			notWant: "Guidance instruction:",
		},
		{
			name:     "unknown adjust keeps length",
			strength: 2,
			adjust:   "whatever",
			want:     []string{"CRITICAL: Make the output similar than the original"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeCompleter{resp: openai.Response{Text: "restyled"}}
			r := newRunner(fake)
			_, err := r.Arrange(context.Background(), ArrangeRequest{
				Text:         "Ancient temple under cherry blossoms",
				PresetLabel:  "Noir",
				Strength:     tt.strength,
				Guidance:     "high contrast",
				LengthAdjust: tt.adjust,
			})
			if err != nil {
				t.Fatalf("Arrange: %v", err)
			}
			user := fake.reqs[0].UserPrompt
			for _, w := range tt.want {
				if !strings.Contains(user, w) {
					t.Fatalf("user prompt missing %q:\n%s", w, user)
				}
			}
			if tt.notWant != "" && strings.Contains(user, tt.notWant) {
				t.Fatalf("user prompt should not contain %q", tt.notWant)
			}
		})
	}
}

func TestChaosTemperature(t *testing.T) {
	tests := []struct {
		base  float64
		level int
		want  float64
	}{
		{0.7, 5, 0.7},
		{0.7, 10, 0.7 + 5.0/9.0*0.6},
		{0.7, 0, 0.7 - 4.0/9.0*0.6},
		{0.1, 1, 0.1},
		{1.4, 10, 1.5},
	}
	for _, tt := range tests {
		if got := ChaosTemperature(tt.base, tt.level); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ChaosTemperature(%v, %d) = %v, want %v", tt.base, tt.level, got, tt.want)
		}
	}
}

func TestGenerateFragmentsPrompt(t *testing.T) {
	fake := &fakeCompleter{resp: openai.Response{Text: "line one\nline two"}}
	r := newRunner(fake)
	out, err := r.GenerateFragments(context.Background(), FragmentRequest{
		Total:      2,
		Attributes: []AttributeHint{{Name: "style", Detail: "ukiyo-e", Count: 1}, {Name: "place", Detail: "harbor"}},
		Exclusions: []string{"zebra", "", "apple", "zebra"},
		Chaos:      9,
		Language:   "ja",
	})
	if err != nil || out != "line one\nline two" {
		t.Fatalf("GenerateFragments = %q, %v", out, err)
	}

	req := fake.reqs[0]
	for _, want := range []string{
		"Generate 2 distinct prompt fragments for image generation in Japanese.",
		"- Chaos level: 9 (maximum chaos: wild, highly unexpected compositions and mixtures).",
		"- ukiyo-e (attribute: style, approx 1 fragments)\n- harbor (attribute: place)",
		"hard prohibition): apple, zebra",
	} {
		if !strings.Contains(req.UserPrompt, want) {
			t.Fatalf("user prompt missing %q:\n%s", want, req.UserPrompt)
		}
	}
	if !strings.HasSuffix(req.SystemPrompt, "do not append English translations.") {
		t.Fatalf("system prompt = %q", req.SystemPrompt)
	}
	if want := 0.7 + 4.0/9.0*0.6; math.Abs(*req.Temperature-want) > 1e-9 {
		t.Fatalf("temperature = %v, want %v", *req.Temperature, want)
	}
}

func TestStoryboardPrompts(t *testing.T) {
	t.Run("fixed", func(t *testing.T) {
		system, user := storyboardPrompts(StoryboardRequest{
			Text:       "A harbor at dawn",
			Cuts:       3,
			TotalSec:   10,
			Continuity: true,
			Limit:      storyboard.SafePromptChars,
			VideoStyle: json.RawMessage(`{"look":"noir"}`),
			Characters: []presets.Character{{ID: "@kai", Name: "Kai", Pronoun3rd: "he"}},
		})
		for _, want := range []string{"CONTINUITY ENHANCEMENT MODE", "STYLE REFLECTION MODE"} {
			if !strings.Contains(system, want) {
				t.Fatalf("system prompt missing %q", want)
			}
		}
		for _, want := range []string{
			"Split the following image prompt into exactly 3 cinematic cuts.\nTotal video duration: 10.0 seconds.\nEach cut should be approximately 3.33 seconds.",
			"video_style: {\"look\":\"noir\"}\n\n",
			"  - ID: @kai (name: Kai) (pronoun: he)",
			"- CONTINUITY: Each cut after the first",
			"~533 characters",
			"Output format (JSON array):",
			"Source prompt:\nA harbor at dawn",
		} {
			if !strings.Contains(user, want) {
				t.Fatalf("user prompt missing %q:\n%s", want, user)
			}
		}
	})

	t.Run("auto", func(t *testing.T) {
		_, user := storyboardPrompts(StoryboardRequest{Text: "x", Auto: true, Limit: 1000})
		for _, want := range []string{
			"between 2 and 6 based on complexity",
			"between 5.0 and 30.0 seconds; if uncertain, stay near 10.0 seconds.",
			"~200 characters",
			"Output format (JSON object):",
		} {
			if !strings.Contains(user, want) {
				t.Fatalf("user prompt missing %q:\n%s", want, user)
			}
		}
		if strings.Contains(user, "CHARACTERS in this video") {
			t.Fatalf("unexpected character block")
		}
	})
}

func TestRunnerOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Bright harbor."},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	client := openai.New(openai.Options{APIKey: "sk-test", BaseURL: srv.URL, HTTPClient: srv.Client(), Backoff: time.Millisecond})
	r := New(Options{Client: client, Model: "gpt-4o-mini", Timeout: time.Second})

	out, err := r.World(context.Background(), WorldRequest{Summary: "harbor", Details: []string{"harbor"}})
	if err != nil || out != "Bright harbor." {
		t.Fatalf("World = %q, %v", out, err)
	}
}
