// Package generator assembles the main prompt text, either by sampling
// stored prompt lines or by asking the LLM for fresh ones.
package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"image-prompt-creator/internal/exclusion"
	"image-prompt-creator/internal/llmtask"
	"image-prompt-creator/internal/prompt"
	"image-prompt-creator/internal/store"
)

type Source interface {
	Catalog(ctx context.Context) (store.Catalog, error)
	PromptsForDetail(ctx context.Context, detailID int64, exclusions []string) ([]store.Prompt, error)
	AllPrompts(ctx context.Context, exclusions []string) ([]store.Prompt, error)
}

type FragmentWriter interface {
	GenerateFragments(ctx context.Context, req llmtask.FragmentRequest) (string, error)
}

// Selection asks for Count lines tagged with DetailID.
type Selection struct {
	AttributeTypeID int64 `json:"attribute_type_id"`
	DetailID        int64 `json:"detail_id"`
	Count           int   `json:"count"`
}

type Request struct {
	TotalLines       int         `json:"total_lines"`
	Selections       []Selection `json:"selections"`
	ExclusionEnabled bool        `json:"exclusion_enabled"`
	ExclusionWords   []string    `json:"exclusion_words"`
	Dedup            bool        `json:"dedup"`
	Chaos            int         `json:"chaos,omitempty"`
	Language         string      `json:"language,omitempty"`
}

func (r Request) exclusions() []string {
	if !r.ExclusionEnabled {
		return nil
	}
	var out []string
	for _, w := range r.ExclusionWords {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// Condition records how one selection was resolved.
type Condition struct {
	AttributeID       int64  `json:"attribute_id"`
	AttributeName     string `json:"attribute_name"`
	Detail            string `json:"detail"`
	DetailID          int64  `json:"detail_id"`
	RequestedCount    int    `json:"requested_count"`
	MatchedCandidates int    `json:"matched_candidates"`
}

type Result struct {
	Text         string      `json:"text"`
	Lines        []string    `json:"lines"`
	Conditions   []Condition `json:"conditions"`
	DedupRemoved int         `json:"dedup_removed"`
	Shortage     bool        `json:"shortage"`
}

// NoResultsError is returned when nothing matched the request.
type NoResultsError struct {
	Requested  int
	Conditions []Condition
	Exclusions []string
}

func (e *NoResultsError) Error() string {
	attrs := "none"
	if len(e.Conditions) > 0 {
		parts := make([]string, len(e.Conditions))
		for i, c := range e.Conditions {
			parts[i] = fmt.Sprintf("%s / %s x%d (candidates %d)", c.AttributeName, c.Detail, c.RequestedCount, c.MatchedCandidates)
		}
		attrs = strings.Join(parts, ", ")
	}
	excl := "none"
	if len(e.Exclusions) > 0 {
		excl = strings.Join(e.Exclusions, ", ")
	}
	return fmt.Sprintf("no prompt lines matched the conditions (attributes: %s; exclusions: %s)", attrs, excl)
}

type Options struct {
	Source        Source
	Fragments     FragmentWriter
	ExclusionPath string
	Logger        *slog.Logger
	Rand          *rand.Rand
}

type Generator struct {
	source        Source
	fragments     FragmentWriter
	exclusionPath string
	logger        *slog.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

func New(opts Options) *Generator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	rnd := opts.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{
		source:        opts.Source,
		fragments:     opts.Fragments,
		exclusionPath: opts.ExclusionPath,
		logger:        logger,
		rnd:           rnd,
	}
}

// Generate samples stored prompt lines. Selections are served first; the
// rest of TotalLines comes from the whole table.
func (g *Generator) Generate(ctx context.Context, req Request) (Result, error) {
	if g.source == nil {
		return Result{}, errors.New("prompt store is not configured")
	}
	total := max(1, req.TotalLines)
	exclusions := req.exclusions()
	g.rememberExclusions(exclusions)

	catalog, err := g.source.Catalog(ctx)
	if err != nil {
		return Result{}, err
	}

	var (
		res      Result
		selected []store.Prompt
		seen     = map[int64]bool{}
	)

	for _, sel := range req.Selections {
		if sel.Count <= 0 || sel.DetailID == 0 {
			continue
		}
		detail, ok := catalog.Detail(sel.DetailID)
		if !ok {
			g.logger.Warn("selected detail not in catalog",
				"event", "attribute_detail_missing_in_state",
				"attribute_id", sel.AttributeTypeID,
				"selected_detail_id", sel.DetailID,
			)
			continue
		}
		attrName := ""
		if t, ok := catalog.Type(detail.AttributeTypeID); ok {
			attrName = t.AttributeName
		}

		candidates, err := g.source.PromptsForDetail(ctx, sel.DetailID, exclusions)
		if err != nil {
			return Result{}, err
		}
		res.Conditions = append(res.Conditions, Condition{
			AttributeID:       detail.AttributeTypeID,
			AttributeName:     attrName,
			Detail:            detail.Description,
			DetailID:          sel.DetailID,
			RequestedCount:    sel.Count,
			MatchedCandidates: len(candidates),
		})

		for _, p := range g.sample(candidates, sel.Count) {
			if req.Dedup && seen[p.ID] {
				res.DedupRemoved++
				continue
			}
			selected = append(selected, p)
			seen[p.ID] = true
		}
	}

	if remaining := total - len(selected); remaining > 0 {
		all, err := g.source.AllPrompts(ctx, exclusions)
		if err != nil {
			return Result{}, err
		}
		pool := all
		if req.Dedup {
			pool = make([]store.Prompt, 0, len(all))
			for _, p := range all {
				if !seen[p.ID] {
					pool = append(pool, p)
				}
			}
			res.DedupRemoved += len(all) - len(pool)
		}
		for _, p := range g.sample(pool, remaining) {
			selected = append(selected, p)
			seen[p.ID] = true
		}
	}

	if len(selected) < total {
		res.Shortage = true
		g.logger.Warn("fewer lines than requested",
			"event", "prompt_generation_shortage",
			"requested_total_lines", total,
			"selected_lines", len(selected),
			"deduplication_enabled", req.Dedup,
			"deduplicated_rows", res.DedupRemoved,
			"exclusion_words", exclusions,
			"attribute_conditions", res.Conditions,
		)
	}

	if len(selected) == 0 {
		g.logger.Warn("no prompt lines matched",
			"event", "prompt_generation_no_results",
			"requested_total_lines", total,
			"deduplication_enabled", req.Dedup,
			"deduplicated_rows", res.DedupRemoved,
			"exclusion_words", exclusions,
			"attribute_conditions", res.Conditions,
		)
		return Result{}, &NoResultsError{Requested: total, Conditions: res.Conditions, Exclusions: exclusions}
	}

	g.mu.Lock()
	g.rnd.Shuffle(len(selected), func(i, j int) { selected[i], selected[j] = selected[j], selected[i] })
	g.mu.Unlock()

	for _, p := range selected {
		if line := prompt.NormalizeLine(p.Content); line != "" {
			res.Lines = append(res.Lines, line)
		}
	}
	res.Text = strings.Join(res.Lines, " ")
	return res, nil
}

var listMarker = regexp.MustCompile(`^\s*(?:[-*•・]+|\d+[.)、:]|\(\d+\))\s*`)

// GenerateWithLLM asks the model for TotalLines fragments shaped by the
// same selections, without touching the stored lines.
func (g *Generator) GenerateWithLLM(ctx context.Context, req Request) (Result, error) {
	if g.fragments == nil {
		return Result{}, errors.New("LLM generation is not configured")
	}
	total := max(1, req.TotalLines)
	exclusions := req.exclusions()
	g.rememberExclusions(exclusions)

	var res Result
	var hints []llmtask.AttributeHint
	if g.source != nil {
		catalog, err := g.source.Catalog(ctx)
		if err != nil {
			return Result{}, err
		}
		for _, sel := range req.Selections {
			if sel.Count <= 0 || sel.DetailID == 0 {
				continue
			}
			detail, ok := catalog.Detail(sel.DetailID)
			if !ok {
				continue
			}
			name := ""
			if t, ok := catalog.Type(detail.AttributeTypeID); ok {
				name = t.AttributeName
			}
			res.Conditions = append(res.Conditions, Condition{
				AttributeID:    detail.AttributeTypeID,
				AttributeName:  name,
				Detail:         detail.Description,
				DetailID:       sel.DetailID,
				RequestedCount: sel.Count,
			})
			hints = append(hints, llmtask.AttributeHint{Name: name, Detail: detail.Description, Count: sel.Count})
		}
	}

	raw, err := g.fragments.GenerateFragments(ctx, llmtask.FragmentRequest{
		Total:      total,
		Attributes: hints,
		Exclusions: exclusions,
		Chaos:      req.Chaos,
		Language:   req.Language,
	})
	if err != nil {
		return Result{}, err
	}

	seen := map[string]bool{}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if line == "" {
			continue
		}
		line = prompt.NormalizeLine(line)
		if req.Dedup && seen[line] {
			res.DedupRemoved++
			continue
		}
		seen[line] = true
		res.Lines = append(res.Lines, line)
	}
	if len(res.Lines) == 0 {
		return Result{}, &NoResultsError{Requested: total, Conditions: res.Conditions, Exclusions: exclusions}
	}
	res.Shortage = len(res.Lines) < total
	res.Text = strings.Join(res.Lines, " ")
	return res, nil
}

// sample picks min(n, len(items)) distinct items at random.
func (g *Generator) sample(items []store.Prompt, n int) []store.Prompt {
	n = min(n, len(items))
	if n <= 0 {
		return nil
	}
	g.mu.Lock()
	perm := g.rnd.Perm(len(items))
	g.mu.Unlock()

	out := make([]store.Prompt, n)
	for i := 0; i < n; i++ {
		out[i] = items[perm[i]]
	}
	return out
}

func (g *Generator) rememberExclusions(words []string) {
	if g.exclusionPath == "" || len(words) == 0 {
		return
	}
	if _, err := exclusion.Remember(g.exclusionPath, words); err != nil {
		g.logger.Warn("exclusion phrase not saved", "event", "exclusion_save_failed", "path", g.exclusionPath, "error", err)
	}
}
