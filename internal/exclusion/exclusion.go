// Package exclusion keeps the list of remembered exclusion phrases, one
// quoted CSV row per phrase.
package exclusion

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var mu sync.Mutex

// Load returns the remembered phrases prefixed with an empty "no exclusion"
// choice. A missing file yields just that choice.
func Load(path string) ([]string, error) {
	mu.Lock()
	defer mu.Unlock()
	rows, err := readRows(path)
	if err != nil {
		return []string{""}, err
	}
	return append([]string{""}, rows...), nil
}

// ParseWords splits a comma separated phrase into trimmed, non-empty words.
func ParseWords(phrase string) []string {
	var out []string
	for _, part := range strings.Split(phrase, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Phrase renders words the way Remember stores them: sorted, unique and
// joined with ", ".
func Phrase(words []string) string {
	set := map[string]bool{}
	var uniq []string
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" || set[w] {
			continue
		}
		set[w] = true
		uniq = append(uniq, w)
	}
	sort.Strings(uniq)
	return strings.Join(uniq, ", ")
}

// Remember appends the phrase for words unless it is already stored.
func Remember(path string, words []string) (bool, error) {
	phrase := Phrase(words)
	if phrase == "" {
		return false, nil
	}

	mu.Lock()
	defer mu.Unlock()

	rows, err := readRows(path)
	if err != nil {
		return false, err
	}
	for _, r := range rows {
		if r == phrase {
			return false, nil
		}
	}
	rows = append(rows, phrase)

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("create dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return false, fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	for _, r := range rows {
		if _, err := f.WriteString(quoteAll(r) + "\n"); err != nil {
			return false, fmt.Errorf("write %s: %w", path, err)
		}
	}
	return true, nil
}

func readRows(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var out []string
	for _, rec := range records {
		if len(rec) == 0 || strings.TrimSpace(rec[0]) == "" {
			continue
		}
		out = append(out, rec[0])
	}
	return out, nil
}

// quoteAll mirrors the always-quoted row style the file has always used;
// encoding/csv only quotes when needed.
func quoteAll(field string) string {
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}
