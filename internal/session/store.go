// Package session keeps a bounded, per-user history of the prompts a user
// has produced.
package session

import (
	"sync"
	"time"
)

// Entry kinds.
const (
	KindGenerate   = "generate"
	KindDecorate   = "decorate"
	KindLength     = "length"
	KindArrange    = "arrange"
	KindMovieJSON  = "movie_json"
	KindWorld      = "world"
	KindChaos      = "chaos"
	KindShot       = "shot"
	KindStoryboard = "storyboard"
)

type Entry struct {
	Kind      string
	Text      string
	CreatedAt time.Time
}

type History struct {
	UserID       int64
	Username     string
	Entries      []Entry
	LastActivity time.Time
}

type Options struct {
	MaxEntries int
	Now        func() time.Time
}

type Store struct {
	mu         sync.Mutex
	histories  map[int64]*History
	maxEntries int
	now        func() time.Time
}

func NewStore(opts Options) *Store {
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 20
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		histories:  make(map[int64]*History),
		maxEntries: maxEntries,
		now:        now,
	}
}

func (s *Store) Clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.histories[userID]; ok {
		h.Entries = nil
		h.LastActivity = s.now()
	}
}

// Snapshot returns a copy of the user's entries, oldest first.
func (s *Store) Snapshot(userID int64, username string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.getOrCreateLocked(userID, username)
	h.LastActivity = s.now()

	out := make([]Entry, len(h.Entries))
	copy(out, h.Entries)
	return out
}

// Last returns the most recent entry, optionally restricted to kind.
func (s *Store) Last(userID int64, kind string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.histories[userID]
	if !ok {
		return Entry{}, false
	}
	for i := len(h.Entries) - 1; i >= 0; i-- {
		if kind == "" || h.Entries[i].Kind == kind {
			return h.Entries[i], true
		}
	}
	return Entry{}, false
}

// Record appends one entry. Blank text is ignored.
func (s *Store) Record(userID int64, username, kind, text string) {
	if text == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.getOrCreateLocked(userID, username)
	now := s.now()
	h.LastActivity = now

	h.Entries = append(h.Entries, Entry{Kind: kind, Text: text, CreatedAt: now})
	if len(h.Entries) > s.maxEntries {
		h.Entries = h.Entries[len(h.Entries)-s.maxEntries:]
	}
}

func (s *Store) getOrCreateLocked(userID int64, username string) *History {
	if h, ok := s.histories[userID]; ok {
		if h.Username == "" && username != "" {
			h.Username = username
		}
		return h
	}

	h := &History{
		UserID:       userID,
		Username:     username,
		LastActivity: s.now(),
	}
	s.histories[userID] = h
	return h
}
