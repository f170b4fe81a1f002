package generator

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"

	"image-prompt-creator/internal/llmtask"
	"image-prompt-creator/internal/store"
)

type fakeSource struct {
	catalog  store.Catalog
	byDetail map[int64][]store.Prompt
	all      []store.Prompt
	lastExcl []string
}

func (f *fakeSource) Catalog(context.Context) (store.Catalog, error) {
	return f.catalog, nil
}

func (f *fakeSource) PromptsForDetail(_ context.Context, id int64, excl []string) ([]store.Prompt, error) {
	f.lastExcl = excl
	return filter(f.byDetail[id], excl), nil
}

func (f *fakeSource) AllPrompts(_ context.Context, excl []string) ([]store.Prompt, error) {
	f.lastExcl = excl
	return filter(f.all, excl), nil
}

func filter(in []store.Prompt, excl []string) []store.Prompt {
	var out []store.Prompt
next:
	for _, p := range in {
		for _, w := range excl {
			if strings.Contains(p.Content, w) {
				continue next
			}
		}
		out = append(out, p)
	}
	return out
}

func newFakeSource() *fakeSource {
	first := store.Prompt{ID: 1, Content: "First prompt"}
	second := store.Prompt{ID: 2, Content: "Second prompt,"}
	third := store.Prompt{ID: 3, Content: "Third prompt"}
	return &fakeSource{
		catalog: store.Catalog{
			Types: []store.AttributeType{{ID: 1, AttributeName: "style"}},
			Details: []store.AttributeDetail{
				{ID: 1, AttributeTypeID: 1, Description: "印象派", ContentCount: 1},
				{ID: 2, AttributeTypeID: 1, Description: "印象派", ContentCount: 2},
			},
		},
		byDetail: map[int64][]store.Prompt{1: {first}, 2: {second, third}},
		all:      []store.Prompt{first, second, third},
	}
}

func newTestGenerator(src Source, frag FragmentWriter, exclusionPath string) *Generator {
	return New(Options{
		Source:        src,
		Fragments:     frag,
		ExclusionPath: exclusionPath,
		Rand:          rand.New(rand.NewSource(1)),
	})
}

func TestGenerateSelection(t *testing.T) {
	src := newFakeSource()
	src.byDetail[2] = src.byDetail[2][:1]
	g := newTestGenerator(src, nil, "")

	res, err := g.Generate(context.Background(), Request{
		TotalLines: 1,
		Selections: []Selection{{AttributeTypeID: 1, DetailID: 2, Count: 1}},
		Dedup:      true,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Text != "Second prompt." {
		t.Fatalf("Text = %q", res.Text)
	}
	want := []Condition{{AttributeID: 1, AttributeName: "style", Detail: "印象派", DetailID: 2, RequestedCount: 1, MatchedCandidates: 1}}
	if !reflect.DeepEqual(res.Conditions, want) {
		t.Fatalf("Conditions = %+v", res.Conditions)
	}
	if res.Shortage {
		t.Fatal("unexpected shortage")
	}
}

func TestGenerateFillsAndDedups(t *testing.T) {
	g := newTestGenerator(newFakeSource(), nil, "")

	res, err := g.Generate(context.Background(), Request{
		TotalLines: 5,
		Selections: []Selection{{DetailID: 1, Count: 1}, {DetailID: 99, Count: 2}},
		Dedup:      true,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	got := append([]string(nil), res.Lines...)
	sort.Strings(got)
	want := []string{"First prompt.", "Second prompt.", "Third prompt."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Lines = %#v", res.Lines)
	}
	if !res.Shortage {
		t.Fatal("expected shortage for 5 requested lines")
	}
	if res.DedupRemoved != 1 {
		t.Fatalf("DedupRemoved = %d, want 1", res.DedupRemoved)
	}
	if len(res.Conditions) != 1 {
		t.Fatalf("unknown detail should be skipped: %+v", res.Conditions)
	}
}

func TestGenerateNoResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exclusion.csv")
	src := newFakeSource()
	g := newTestGenerator(src, nil, path)

	_, err := g.Generate(context.Background(), Request{
		TotalLines:       2,
		Selections:       []Selection{{DetailID: 1, Count: 1}},
		ExclusionEnabled: true,
		ExclusionWords:   []string{"prompt", " "},
	})
	var noRes *NoResultsError
	if !errors.As(err, &noRes) {
		t.Fatalf("err = %v, want *NoResultsError", err)
	}
	for _, part := range []string{"style / 印象派 x1 (candidates 0)", "exclusions: prompt"} {
		if !strings.Contains(err.Error(), part) {
			t.Fatalf("error %q missing %q", err.Error(), part)
		}
	}
	if !reflect.DeepEqual(src.lastExcl, []string{"prompt"}) {
		t.Fatalf("exclusions passed = %#v", src.lastExcl)
	}
	raw, err := os.ReadFile(path)
	if err != nil || strings.TrimSpace(string(raw)) != `"prompt"` {
		t.Fatalf("exclusion file = %q, %v", raw, err)
	}
}

func TestGenerateExclusionDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exclusion.csv")
	src := newFakeSource()
	g := newTestGenerator(src, nil, path)

	if _, err := g.Generate(context.Background(), Request{TotalLines: 1, ExclusionWords: []string{"First"}}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if src.lastExcl != nil {
		t.Fatalf("exclusions should be ignored when disabled: %#v", src.lastExcl)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("exclusion file should not exist: %v", err)
	}
}

func TestNoResultsErrorWithoutConditions(t *testing.T) {
	err := &NoResultsError{Requested: 3}
	want := "no prompt lines matched the conditions (attributes: none; exclusions: none)"
	if err.Error() != want {
		t.Fatalf("Error() = %q", err.Error())
	}
}

type fakeFragments struct {
	text string
	req  llmtask.FragmentRequest
}

func (f *fakeFragments) GenerateFragments(_ context.Context, req llmtask.FragmentRequest) (string, error) {
	f.req = req
	return f.text, nil
}

func TestGenerateWithLLM(t *testing.T) {
	frag := &fakeFragments{text: "1. A red fox\n\n- Misty pines,\n• A red fox.\n(4) Old bridge"}
	g := newTestGenerator(newFakeSource(), frag, "")

	res, err := g.GenerateWithLLM(context.Background(), Request{
		TotalLines: 4,
		Selections: []Selection{{DetailID: 2, Count: 2}},
		Dedup:      true,
		Chaos:      7,
		Language:   "en",
	})
	if err != nil {
		t.Fatalf("GenerateWithLLM: %v", err)
	}
	if res.Text != "A red fox. Misty pines. Old bridge." {
		t.Fatalf("Text = %q", res.Text)
	}
	if res.DedupRemoved != 1 || !res.Shortage {
		t.Fatalf("DedupRemoved = %d, Shortage = %v", res.DedupRemoved, res.Shortage)
	}
	wantHints := []llmtask.AttributeHint{{Name: "style", Detail: "印象派", Count: 2}}
	if !reflect.DeepEqual(frag.req.Attributes, wantHints) || frag.req.Total != 4 || frag.req.Chaos != 7 {
		t.Fatalf("fragment request = %+v", frag.req)
	}
}

func TestGenerateWithLLMEmpty(t *testing.T) {
	g := newTestGenerator(nil, &fakeFragments{text: "\n - \n"}, "")
	_, err := g.GenerateWithLLM(context.Background(), Request{TotalLines: 2})
	var noRes *NoResultsError
	if !errors.As(err, &noRes) {
		t.Fatalf("err = %v", err)
	}
}
