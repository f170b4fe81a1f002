// Package service runs the prompt pipeline shared by the bot, the HTTP API
// and the CLI: generation, suffix decoration and the LLM passes that must
// carry the suffix blocks through unchanged.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"image-prompt-creator/internal/exclusion"
	"image-prompt-creator/internal/generator"
	"image-prompt-creator/internal/llmtask"
	"image-prompt-creator/internal/presets"
	"image-prompt-creator/internal/prompt"
	"image-prompt-creator/internal/store"
)

var (
	ErrLLMDisabled = errors.New("LLM is disabled; set LLM_ENABLED to true in the settings file")
	ErrEmptyPrompt = errors.New("prompt text is empty; generate a prompt first")
)

type Options struct {
	Store         *store.Store
	Presets       *presets.Registry
	Generator     *generator.Generator
	Runner        *llmtask.Runner
	LLMEnabled    bool
	ExclusionPath string
	FailedDir     string
	Logger        *slog.Logger
}

type Service struct {
	store         *store.Store
	presets       *presets.Registry
	generator     *generator.Generator
	runner        *llmtask.Runner
	llmEnabled    bool
	exclusionPath string
	failedDir     string
	logger        *slog.Logger
}

func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		store:         opts.Store,
		presets:       opts.Presets,
		generator:     opts.Generator,
		runner:        opts.Runner,
		llmEnabled:    opts.LLMEnabled && opts.Runner != nil,
		exclusionPath: opts.ExclusionPath,
		failedDir:     opts.FailedDir,
		logger:        logger,
	}
}

func (s *Service) LLMEnabled() bool {
	return s.llmEnabled
}

// Model returns the configured LLM model, or "" when LLM passes are off.
func (s *Service) Model() string {
	if !s.llmEnabled {
		return ""
	}
	return s.runner.Model()
}

func (s *Service) requireLLM() error {
	if !s.llmEnabled {
		return ErrLLMDisabled
	}
	return nil
}

func (s *Service) Catalog(ctx context.Context) (store.Catalog, error) {
	if s.store == nil {
		return store.Catalog{}, errors.New("prompt store is not configured")
	}
	return s.store.Catalog(ctx)
}

// Overview is everything a settings screen needs in one value.
type Overview struct {
	Catalog    store.Catalog             `json:"catalog"`
	Tails      map[string][]presets.Tail `json:"tails"`
	Arrange    []presets.Arrange         `json:"arrange"`
	Characters []presets.Character       `json:"characters"`
	Exclusions []string                  `json:"exclusions"`
	LLMEnabled bool                      `json:"llm_enabled"`
	Model      string                    `json:"model"`
}

// Overview loads the catalog and the exclusion history concurrently.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	out := Overview{LLMEnabled: s.llmEnabled, Model: s.Model()}
	if s.presets != nil {
		out.Tails = map[string][]presets.Tail{
			presets.MediaImage: s.presets.Tails(presets.MediaImage),
			presets.MediaMovie: s.presets.Tails(presets.MediaMovie),
		}
		out.Arrange = s.presets.ArrangeList()
		out.Characters = s.presets.Characters()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.Catalog(gctx)
		if err != nil {
			return err
		}
		out.Catalog = c
		return nil
	})
	g.Go(func() error {
		if s.exclusionPath == "" {
			out.Exclusions = []string{""}
			return nil
		}
		words, err := exclusion.Load(s.exclusionPath)
		if err != nil {
			s.logger.Warn("exclusion list not readable", "event", "exclusion_load_failed", "path", s.exclusionPath, "error", err)
		}
		out.Exclusions = words
		return nil
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	return out, nil
}

type GenerateRequest struct {
	generator.Request
	UseLLM bool `json:"use_llm"`
}

// Generate produces the main text, from the store or from the LLM.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (generator.Result, error) {
	if s.generator == nil {
		return generator.Result{}, errors.New("generator is not configured")
	}
	if req.UseLLM {
		if err := s.requireLLM(); err != nil {
			return generator.Result{}, err
		}
		return s.generator.GenerateWithLLM(ctx, req.Request)
	}
	return s.generator.Generate(ctx, req.Request)
}

type DecorateRequest struct {
	Main         string              `json:"main"`
	Media        string              `json:"media"`
	TailEnabled  bool                `json:"tail_enabled"`
	TailIndex    int                 `json:"tail_index"`
	ContentFlags prompt.ContentFlags `json:"content_flags"`
	Options      prompt.Options      `json:"options"`
}

// Decorate appends the suffix blocks for the media type: the tail preset for
// both, the content_flags block for movies and the command flags for images.
func (s *Service) Decorate(req DecorateRequest) string {
	tail := ""
	if req.TailEnabled && s.presets != nil {
		tail = s.presets.TailPrompt(req.Media, req.TailIndex)
	}
	if req.Media == presets.MediaMovie {
		return prompt.Assemble(req.Main, tail, req.ContentFlags.JSON(), prompt.Options{})
	}
	return prompt.Assemble(req.Main, tail, "", req.Options)
}

// split peels the suffix blocks off text and fails on an empty body.
func split(text string) (prompt.Parts, error) {
	parts := prompt.SplitParts(text)
	if strings.TrimSpace(parts.Main) == "" {
		return prompt.Parts{}, ErrEmptyPrompt
	}
	return parts, nil
}

type LengthRequest struct {
	Text     string `json:"text"`
	Hint     string `json:"hint"`
	Limit    int    `json:"limit"`
	Language string `json:"language"`
}

func (s *Service) LengthAdjust(ctx context.Context, req LengthRequest) (string, error) {
	if err := s.requireLLM(); err != nil {
		return "", err
	}
	parts, err := split(req.Text)
	if err != nil {
		return "", err
	}
	out, err := s.runner.LengthAdjust(ctx, llmtask.LengthRequest{
		Text:     parts.Main,
		Hint:     req.Hint,
		Limit:    req.Limit,
		Language: req.Language,
	})
	if err != nil {
		return "", err
	}
	return parts.Compose(out), nil
}

type ArrangeRequest struct {
	Text         string `json:"text"`
	Preset       string `json:"preset"`
	Strength     int    `json:"strength"`
	Guidance     string `json:"guidance"`
	LengthAdjust string `json:"length_adjust"`
	Limit        int    `json:"limit"`
	Language     string `json:"language"`
}

// Arrange restyles the main text toward a preset. Extra guidance from the
// request follows the preset's own guidance.
func (s *Service) Arrange(ctx context.Context, req ArrangeRequest) (string, error) {
	if err := s.requireLLM(); err != nil {
		return "", err
	}
	parts, err := split(req.Text)
	if err != nil {
		return "", err
	}

	label := strings.TrimSpace(req.Preset)
	var guidance []string
	if s.presets != nil {
		if p, ok := s.presets.Arrange(label); ok {
			label = p.Label
			if p.Guidance != "" {
				guidance = append(guidance, p.Guidance)
			}
		}
	}
	if label == "" {
		label = "auto"
	}
	if g := strings.TrimSpace(req.Guidance); g != "" {
		guidance = append(guidance, g)
	}

	out, err := s.runner.Arrange(ctx, llmtask.ArrangeRequest{
		Text:         parts.Main,
		PresetLabel:  label,
		Strength:     req.Strength,
		Guidance:     strings.Join(guidance, " "),
		LengthAdjust: req.LengthAdjust,
		Limit:        req.Limit,
		Language:     req.Language,
	})
	if err != nil {
		return "", err
	}
	return parts.Compose(out), nil
}

// MovieJSON wraps the main text as a world_description block without
// calling the LLM.
func (s *Service) MovieJSON(text string) (string, error) {
	parts, err := split(text)
	if err != nil {
		return "", err
	}
	return parts.Compose(prompt.MovieJSON(parts.Main, prompt.ScopeWorld, prompt.KeyWorldDescription)), nil
}

type MovieRequest struct {
	Text          string `json:"text"`
	UseVideoStyle bool   `json:"use_video_style"`
	Limit         int    `json:"limit"`
	Language      string `json:"language"`
}

func (r MovieRequest) styleContext(parts prompt.Parts) (style, flags string) {
	if !r.UseVideoStyle {
		return "", ""
	}
	return parts.MovieTail, parts.FlagsTail
}

// World condenses the main text into one world description.
func (s *Service) World(ctx context.Context, req MovieRequest) (string, error) {
	return s.condense(ctx, req, s.runner.World, prompt.ScopeWorld, prompt.KeyWorldDescription)
}

// Shot condenses the main text into one single-shot storyboard beat and
// wraps it as a storyboard block.
func (s *Service) Shot(ctx context.Context, req MovieRequest) (string, error) {
	return s.condense(ctx, req, s.runner.Shot, prompt.ScopeStoryboard, prompt.KeyStoryboard)
}

func (s *Service) condense(ctx context.Context, req MovieRequest, pass func(context.Context, llmtask.WorldRequest) (string, error), scope, key string) (string, error) {
	if err := s.requireLLM(); err != nil {
		return "", err
	}
	parts, err := split(req.Text)
	if err != nil {
		return "", err
	}
	style, flags := req.styleContext(parts)
	out, err := pass(ctx, llmtask.WorldRequest{
		Summary:      parts.Main,
		Details:      prompt.SentenceDetails(parts.Main),
		VideoStyle:   style,
		ContentFlags: flags,
		Limit:        req.Limit,
		Language:     req.Language,
	})
	if err != nil {
		return "", err
	}
	return parts.Compose(prompt.MovieJSON(out, scope, key)), nil
}

// ChaosMix forces every sentence of the main text into one scene and wraps
// the result the same way World does.
func (s *Service) ChaosMix(ctx context.Context, req MovieRequest) (string, error) {
	if err := s.requireLLM(); err != nil {
		return "", err
	}
	parts, err := split(req.Text)
	if err != nil {
		return "", err
	}
	style, flags := req.styleContext(parts)
	out, err := s.runner.ChaosMix(ctx, llmtask.ChaosRequest{
		Text:         parts.Main,
		Fragments:    prompt.SentenceDetails(parts.Main),
		VideoStyle:   style,
		ContentFlags: flags,
		Limit:        req.Limit,
		Language:     req.Language,
	})
	if err != nil {
		return "", err
	}
	return parts.Compose(prompt.MovieJSON(out, prompt.ScopeWorld, prompt.KeyWorldDescription)), nil
}

type ImportResult = store.ImportResult

func (s *Service) ImportCSV(ctx context.Context, content string) (ImportResult, error) {
	if s.store == nil {
		return ImportResult{}, errors.New("prompt store is not configured")
	}
	return s.store.ImportCSV(ctx, content, s.failedDir)
}

func (s *Service) ExportCSV(ctx context.Context, w io.Writer) (int, error) {
	if s.store == nil {
		return 0, errors.New("prompt store is not configured")
	}
	return s.store.ExportCSV(ctx, w)
}

func (s *Service) ExportFile(ctx context.Context, dir string) (string, error) {
	if s.store == nil {
		return "", errors.New("prompt store is not configured")
	}
	return s.store.ExportFile(ctx, dir)
}

type Presets struct {
	Tails   map[string][]presets.Tail `json:"tails"`
	Arrange []presets.Arrange         `json:"arrange"`
}

func (s *Service) Presets() Presets {
	if s.presets == nil {
		return Presets{Tails: presets.DefaultTails(), Arrange: presets.DefaultArrange()}
	}
	return Presets{
		Tails: map[string][]presets.Tail{
			presets.MediaImage: s.presets.Tails(presets.MediaImage),
			presets.MediaMovie: s.presets.Tails(presets.MediaMovie),
		},
		Arrange: s.presets.ArrangeList(),
	}
}

func (s *Service) Characters() []presets.Character {
	if s.presets == nil {
		return nil
	}
	return s.presets.Characters()
}

func (s *Service) RegisterCharacters(entries []presets.Character) ([]presets.Character, error) {
	if s.presets == nil {
		return nil, errors.New("presets are not configured")
	}
	if err := s.presets.Register(entries); err != nil {
		return nil, fmt.Errorf("register characters: %w", err)
	}
	return s.presets.Characters(), nil
}
