// Package state holds the per-chat settings the bot menu edits between
// commands.
package state

import (
	"sync"
	"time"

	"image-prompt-creator/internal/exclusion"
	"image-prompt-creator/internal/generator"
	"image-prompt-creator/internal/llmtask"
	"image-prompt-creator/internal/presets"
	"image-prompt-creator/internal/prompt"
	"image-prompt-creator/internal/storyboard"
)

const (
	ModeDB  = "db"
	ModeLLM = "llm"

	MaxRows = 100
)

// Menus of the inline wizard.
const (
	MenuMain       = "main"
	MenuOptions    = "options"
	MenuTail       = "tail"
	MenuFlags      = "flags"
	MenuArrange    = "arrange"
	MenuStoryboard = "storyboard"
)

type UIState struct {
	Media      string // presets.MediaImage | presets.MediaMovie
	Mode       string // ModeDB | ModeLLM
	ChaosLevel int

	Rows             int
	Dedup            bool
	ExclusionEnabled bool
	ExclusionPhrase  string
	Selections       []generator.Selection

	Options      prompt.Options
	TailEnabled  bool
	TailIndex    int
	ContentFlags prompt.ContentFlags

	OutputLanguage string

	ArrangePreset   string
	ArrangeStrength int
	ArrangeLength   string
	LengthLimit     int

	StoryboardTemplate   string
	StoryboardDuration   int
	StoryboardCuts       int
	StoryboardContinuity bool
	StoryboardStyle      bool
	StoryboardAuto       bool

	MovieLimit int

	LastMain string
	LastText string

	Menu          string
	MessageID     int
	AwaitingInput string // "" | "import"

	UpdatedAt time.Time
}

// Sync clamps values that depend on each other. It runs after every update.
func (s *UIState) Sync() {
	if s.Media != presets.MediaMovie {
		s.Media = presets.MediaImage
	}
	if s.Mode != ModeLLM {
		s.Mode = ModeDB
	}
	s.ChaosLevel = clamp(s.ChaosLevel, 1, 10)
	s.Rows = clamp(s.Rows, 1, MaxRows)
	s.ArrangeStrength = clamp(s.ArrangeStrength, 0, 3)
	if llmtask.LengthMultiplier(s.ArrangeLength) == 1 {
		s.ArrangeLength = "same"
	}
	if s.TailIndex < 0 {
		s.TailIndex = 0
	}
	if s.LengthLimit < 0 {
		s.LengthLimit = 0
	}
	if s.MovieLimit < 0 {
		s.MovieLimit = 0
	}

	s.StoryboardTemplate = storyboard.LookupTemplate(s.StoryboardTemplate).ID
	if !validDuration(s.StoryboardDuration) {
		s.StoryboardDuration = storyboard.DefaultDuration
	}
	s.StoryboardCuts = clamp(s.StoryboardCuts, 1, 10)

	if s.Menu == "" {
		s.Menu = MenuMain
	}

	var kept []generator.Selection
	for _, sel := range s.Selections {
		if sel.DetailID != 0 && sel.Count > 0 {
			kept = append(kept, sel)
		}
	}
	s.Selections = kept
}

// SetMedia switches the media type and resets the tail choice, since tail
// lists differ per media.
func (s *UIState) SetMedia(media string) {
	if media == s.Media {
		return
	}
	s.Media = media
	s.TailIndex = 0
	s.TailEnabled = false
}

// Pick sets the count for detailID, replacing any earlier pick of the same
// attribute type. A count of zero removes it.
func (s *UIState) Pick(typeID, detailID int64, count int) {
	var out []generator.Selection
	for _, sel := range s.Selections {
		if sel.DetailID == detailID || (typeID != 0 && sel.AttributeTypeID == typeID) {
			continue
		}
		out = append(out, sel)
	}
	if count > 0 {
		out = append(out, generator.Selection{AttributeTypeID: typeID, DetailID: detailID, Count: count})
	}
	s.Selections = out
}

// Request builds the generator request for the current settings.
func (s UIState) Request() generator.Request {
	return generator.Request{
		TotalLines:       s.Rows,
		Selections:       append([]generator.Selection(nil), s.Selections...),
		ExclusionEnabled: s.ExclusionEnabled,
		ExclusionWords:   exclusion.ParseWords(s.ExclusionPhrase),
		Dedup:            s.Dedup,
		Chaos:            s.ChaosLevel,
		Language:         s.OutputLanguage,
	}
}

type Store struct {
	mu       sync.Mutex
	m        map[stateKey]*UIState
	defaults UIState
}

type stateKey struct {
	ChatID int64
	UserID int64
}

type Options struct {
	Rows  int
	Dedup bool
}

func NewStore(opts Options) *Store {
	def := defaultState()
	if opts.Rows > 0 {
		def.Rows = opts.Rows
	}
	def.Dedup = opts.Dedup
	def.Sync()
	return &Store{m: make(map[stateKey]*UIState), defaults: def}
}

func (s *Store) Get(chatID, userID int64) UIState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return clone(*s.getOrCreateLocked(chatID, userID))
}

func (s *Store) Update(chatID, userID int64, fn func(*UIState)) UIState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreateLocked(chatID, userID)
	if fn != nil {
		fn(st)
	}
	st.Sync()
	st.UpdatedAt = time.Now()
	return clone(*st)
}

func (s *Store) Reset(chatID, userID int64) UIState {
	return s.Update(chatID, userID, func(st *UIState) {
		*st = clone(s.defaults)
	})
}

func (s *Store) getOrCreateLocked(chatID, userID int64) *UIState {
	key := stateKey{ChatID: chatID, UserID: userID}
	if st, ok := s.m[key]; ok {
		return st
	}
	st := clone(s.defaults)
	st.UpdatedAt = time.Now()
	s.m[key] = &st
	return &st
}

func defaultState() UIState {
	return UIState{
		Media:              presets.MediaImage,
		Mode:               ModeDB,
		ChaosLevel:         5,
		Rows:               10,
		Dedup:              true,
		Options:            prompt.NewOptions(),
		OutputLanguage:     "en",
		ArrangePreset:      "auto",
		ArrangeStrength:    2,
		ArrangeLength:      "same",
		StoryboardTemplate: storyboard.TemplateNone,
		StoryboardDuration: storyboard.DefaultDuration,
		StoryboardCuts:     3,
		StoryboardStyle:    true,
		Menu:               MenuMain,
	}
}

// clone copies the maps and slices so callers never share them with the store.
func clone(st UIState) UIState {
	out := st
	out.Selections = append([]generator.Selection(nil), st.Selections...)
	out.Options = prompt.NewOptions()
	for k, v := range st.Options.Enabled {
		out.Options.Enabled[k] = v
	}
	for k, v := range st.Options.Values {
		out.Options.Values[k] = v
	}
	return out
}

func validDuration(d int) bool {
	for _, v := range storyboard.Durations {
		if v == d {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
