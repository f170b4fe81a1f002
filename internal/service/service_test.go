package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"image-prompt-creator/internal/llmtask"
	"image-prompt-creator/internal/openai"
	"image-prompt-creator/internal/presets"
	"image-prompt-creator/internal/prompt"
)

type fakeCompleter struct {
	text string
	reqs []openai.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req openai.Request) (openai.Response, error) {
	f.reqs = append(f.reqs, req)
	return openai.Response{Text: f.text, FinishReason: "stop"}, nil
}

func (f *fakeCompleter) lastUser() string {
	if len(f.reqs) == 0 {
		return ""
	}
	return f.reqs[len(f.reqs)-1].UserPrompt
}

func newRegistry(t *testing.T) *presets.Registry {
	t.Helper()
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return path
	}
	return presets.NewRegistry(presets.Paths{
		Tails:      filepath.Join(dir, "missing_tails.yaml"),
		Arrange:    write("arrange.yaml", "presets:\n  - id: noir\n    label: Film noir\n    guidance: Deep shadows\n"),
		Characters: write("chars.yaml", "characters:\n  - id: hero\n    name: Hero\n"),
	}, nil)
}

func newTestService(t *testing.T, fake *fakeCompleter, llm bool) *Service {
	t.Helper()
	return New(Options{
		Presets: newRegistry(t),
		Runner: llmtask.New(llmtask.Options{
			Client: fake,
			Model:  "gpt-4o-mini",
			Nonce:  func() string { return "abcd1234" },
		}),
		LLMEnabled: llm,
	})
}

const movieStyle = `{"video_style":{"scope":"full_movie","description":"drone"}}`

func TestLLMPassesKeepSuffix(t *testing.T) {
	ctx := context.Background()
	input := "A fox. A moon. " + movieStyle + " --ar 16:9"

	t.Run("length", func(t *testing.T) {
		fake := &fakeCompleter{text: "A fox under the moon --s 50"}
		s := newTestService(t, fake, true)
		out, err := s.LengthAdjust(ctx, LengthRequest{Text: input, Hint: "half"})
		if err != nil {
			t.Fatalf("LengthAdjust: %v", err)
		}
		want := "A fox under the moon " + movieStyle + " --ar 16:9"
		if out != want {
			t.Fatalf("out = %q\nwant %q", out, want)
		}
		if strings.Contains(fake.lastUser(), "video_style") {
			t.Fatal("suffix blocks must not reach the model")
		}
	})

	t.Run("world", func(t *testing.T) {
		fake := &fakeCompleter{text: "One moonlit world"}
		s := newTestService(t, fake, true)
		out, err := s.World(ctx, MovieRequest{Text: input, UseVideoStyle: true})
		if err != nil {
			t.Fatalf("World: %v", err)
		}
		want := `{"world_description":{"scope":"single_continuous_world","summary":"One moonlit world"}} ` + movieStyle + " --ar 16:9"
		if out != want {
			t.Fatalf("out = %q", out)
		}
		if !strings.Contains(fake.lastUser(), "[Target Video Style]\n"+movieStyle) {
			t.Fatalf("style context missing:\n%s", fake.lastUser())
		}
	})

	t.Run("single shot", func(t *testing.T) {
		fake := &fakeCompleter{text: "The fox leaps as the moon rises"}
		s := newTestService(t, fake, true)
		out, err := s.Shot(ctx, MovieRequest{Text: input, Limit: 250})
		if err != nil {
			t.Fatalf("Shot: %v", err)
		}
		want := `{"storyboard":{"scope":"single_shot_storyboard","summary":"The fox leaps as the moon rises"}} ` + movieStyle + " --ar 16:9"
		if out != want {
			t.Fatalf("out = %q", out)
		}
		if !strings.Contains(fake.lastUser(), "under 250 characters") {
			t.Fatalf("limit missing:\n%s", fake.lastUser())
		}
	})

	t.Run("chaos without style", func(t *testing.T) {
		fake := &fakeCompleter{text: "Fox and moon collide"}
		s := newTestService(t, fake, true)
		out, err := s.ChaosMix(ctx, MovieRequest{Text: input})
		if err != nil {
			t.Fatalf("ChaosMix: %v", err)
		}
		if !strings.HasSuffix(out, movieStyle+" --ar 16:9") || !strings.Contains(out, `"summary":"Fox and moon collide"`) {
			t.Fatalf("out = %q", out)
		}
		if strings.Contains(fake.lastUser(), "[Target Video Style]") {
			t.Fatal("style context should be off")
		}
	})
}

func TestArrangeUsesPreset(t *testing.T) {
	fake := &fakeCompleter{text: "A noir fox"}
	s := newTestService(t, fake, true)

	out, err := s.Arrange(context.Background(), ArrangeRequest{Text: "A fox --q 2", Preset: "NOIR", Strength: 1, Guidance: "rain"})
	if err != nil {
		t.Fatalf("Arrange: %v", err)
	}
	if out != "A noir fox --q 2" {
		t.Fatalf("out = %q", out)
	}
	user := fake.lastUser()
	for _, want := range []string{"Preset: Film noir, Strength: 1", "Guidance: Deep shadows rain"} {
		if !strings.Contains(user, want) {
			t.Fatalf("user prompt missing %q:\n%s", want, user)
		}
	}
}

func TestLLMGuards(t *testing.T) {
	ctx := context.Background()
	fake := &fakeCompleter{text: "unused"}

	off := newTestService(t, fake, false)
	if _, err := off.World(ctx, MovieRequest{Text: "A fox"}); !errors.Is(err, ErrLLMDisabled) {
		t.Fatalf("World disabled err = %v", err)
	}
	if _, err := off.Shot(ctx, MovieRequest{Text: "A fox"}); !errors.Is(err, ErrLLMDisabled) {
		t.Fatalf("Shot disabled err = %v", err)
	}
	if _, err := off.Generate(ctx, GenerateRequest{UseLLM: true}); err == nil {
		t.Fatal("Generate without generator should fail")
	}

	on := newTestService(t, fake, true)
	if _, err := on.LengthAdjust(ctx, LengthRequest{Text: movieStyle + " --ar 16:9"}); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("suffix-only err = %v", err)
	}
	if len(fake.reqs) != 0 {
		t.Fatalf("model called %d times", len(fake.reqs))
	}
}

func TestMovieJSONOffline(t *testing.T) {
	s := newTestService(t, &fakeCompleter{}, false)
	out, err := s.MovieJSON("  A fox.  --ar 4:3")
	if err != nil {
		t.Fatalf("MovieJSON: %v", err)
	}
	want := `{"world_description":{"scope":"single_continuous_world","summary":"A fox."}} --ar 4:3`
	if out != want {
		t.Fatalf("out = %q", out)
	}
}

func TestDecorate(t *testing.T) {
	s := newTestService(t, &fakeCompleter{}, false)
	opts := prompt.NewOptions()
	opts.Set("ar", "16:9")

	image := s.Decorate(DecorateRequest{Main: "A fox.", Media: presets.MediaImage, TailEnabled: true, TailIndex: 3, Options: opts})
	if image != "A fox. a Medieval European painting. --ar 16:9" {
		t.Fatalf("image = %q", image)
	}

	movie := s.Decorate(DecorateRequest{
		Main:         "A fox.",
		Media:        presets.MediaMovie,
		ContentFlags: prompt.ContentFlags{Enabled: true, BGM: true},
		Options:      opts,
	})
	want := `A fox. {"content_flags":{"narration":false,"bgm":true,"ambient_sound":false,"dialogue":false,"dialogue_subtitle":false,"telop":false}}`
	if movie != want {
		t.Fatalf("movie = %q", movie)
	}
}

func TestStoryboardOffline(t *testing.T) {
	s := newTestService(t, &fakeCompleter{}, false)

	res, err := s.Storyboard(context.Background(), StoryboardRequest{
		Text:     "Dawn breaks over the bay. @hero runs along the pier. Night falls. @ghost waits.",
		Duration: 10,
		Cuts:     2,
	})
	if err != nil {
		t.Fatalf("Storyboard: %v", err)
	}
	if !res.Offline || len(res.Cuts) != 2 {
		t.Fatalf("result = %+v", res)
	}
	if res.Cuts[0].Description != "Dawn breaks over the bay. @hero runs along the pier." {
		t.Fatalf("cut 0 = %q", res.Cuts[0].Description)
	}
	if !reflect.DeepEqual(res.Cuts[0].Characters, []string{"hero"}) || res.Cuts[1].Characters != nil {
		t.Fatalf("characters = %v / %v", res.Cuts[0].Characters, res.Cuts[1].Characters)
	}
	if !reflect.DeepEqual(res.MissingCharacters, []string{"ghost"}) {
		t.Fatalf("missing = %v", res.MissingCharacters)
	}
	if !strings.Contains(res.JSON, `"video_prompt"`) || strings.Contains(res.JSON, "continuity_enhanced") {
		t.Fatalf("json = %s", res.JSON)
	}
}

func TestStoryboardFixed(t *testing.T) {
	fake := &fakeCompleter{text: "```json\n[{\"cut\":1,\"description\":\"Dawn.\",\"camera\":\"pan\"},{\"cut\":2,\"description\":\"Night.\",\"camera\":\"warp\"}]\n```"}
	s := newTestService(t, fake, true)

	res, err := s.Storyboard(context.Background(), StoryboardRequest{
		Text:     "Dawn over the bay. " + movieStyle,
		Duration: 10,
		Cuts:     2,
	})
	if err != nil {
		t.Fatalf("Storyboard: %v", err)
	}
	if res.Offline || len(res.Cuts) != 2 {
		t.Fatalf("result = %+v", res)
	}
	if res.Cuts[0].CameraWork != "pan" || res.Cuts[1].CameraWork != "static" {
		t.Fatalf("cameras = %q, %q", res.Cuts[0].CameraWork, res.Cuts[1].CameraWork)
	}
	for _, want := range []string{`"camera_work": "pan"`, `"description": "drone"`, `"template": "none"`} {
		if !strings.Contains(res.JSON, want) {
			t.Fatalf("json missing %q:\n%s", want, res.JSON)
		}
	}
	user := fake.lastUser()
	if !strings.Contains(user, "exactly 2 cinematic cuts") || strings.Contains(user, "video_style:") {
		t.Fatalf("user prompt:\n%s", user)
	}
}
