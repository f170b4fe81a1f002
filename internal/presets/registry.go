package presets

import (
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
)

type Kind string

const (
	KindTails      Kind = "tails"
	KindArrange    Kind = "arrange"
	KindCharacters Kind = "characters"
)

type Paths struct {
	Tails      string
	Arrange    string
	Characters string
}

// Registry holds the current preset lists and swaps them in place when
// their files change.
type Registry struct {
	paths  Paths
	logger *slog.Logger

	mu         sync.RWMutex
	tails      map[string][]Tail
	arrange    []Arrange
	characters []Character
}

func NewRegistry(paths Paths, logger *slog.Logger) *Registry {
	paths = Paths{Tails: clean(paths.Tails), Arrange: clean(paths.Arrange), Characters: clean(paths.Characters)}
	r := &Registry{paths: paths, logger: orDiscard(logger)}
	r.Reload(KindTails)
	r.Reload(KindArrange)
	r.Reload(KindCharacters)
	return r
}

func (r *Registry) Paths() Paths {
	return r.paths
}

func (r *Registry) Reload(kind Kind) {
	switch kind {
	case KindTails:
		tails := LoadTails(r.paths.Tails, r.logger)
		r.mu.Lock()
		r.tails = tails
		r.mu.Unlock()
	case KindArrange:
		arrange := LoadArrange(r.paths.Arrange, r.logger)
		r.mu.Lock()
		r.arrange = arrange
		r.mu.Unlock()
	case KindCharacters:
		chars := LoadCharacters(r.paths.Characters, r.logger)
		r.mu.Lock()
		r.characters = chars
		r.mu.Unlock()
	}
}

// KindForPath maps a changed file back to the preset list it feeds.
func (r *Registry) KindForPath(path string) (Kind, bool) {
	switch path {
	case r.paths.Tails:
		return KindTails, true
	case r.paths.Arrange:
		return KindArrange, true
	case r.paths.Characters:
		return KindCharacters, true
	}
	return "", false
}

// Tails returns the presets for media, falling back to the image list.
func (r *Registry) Tails(media string) []Tail {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list, ok := r.tails[media]
	if !ok {
		list = r.tails[MediaImage]
	}
	return append([]Tail(nil), list...)
}

// TailPrompt returns the prompt text of tails[media][index], or "" when out of range.
func (r *Registry) TailPrompt(media string, index int) string {
	list := r.Tails(media)
	if index < 0 || index >= len(list) {
		return ""
	}
	return list[index].Prompt
}

func (r *Registry) ArrangeList() []Arrange {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Arrange(nil), r.arrange...)
}

// Arrange looks up a preset by id or label, case-insensitively.
func (r *Registry) Arrange(id string) (Arrange, bool) {
	id = strings.TrimSpace(id)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.arrange {
		if strings.EqualFold(p.ID, id) || strings.EqualFold(p.Label, id) {
			return p, true
		}
	}
	return Arrange{}, false
}

func (r *Registry) Characters() []Character {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Character(nil), r.characters...)
}

// Register persists new characters and refreshes the in-memory list.
func (r *Registry) Register(entries []Character) error {
	chars, err := RegisterCharacters(r.paths.Characters, entries)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.characters = chars
	r.mu.Unlock()
	r.logger.Info("characters registered", "event", "sora_characters_registered", "count", len(entries))
	return nil
}

func clean(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Clean(path)
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return logger
}
