package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

var ErrNoValidLines = errors.New("no valid CSV lines found; remove blank lines and chat markup and try again")

type FailedRow struct {
	Line     int    `json:"line"`
	Original string `json:"original"`
	Reason   string `json:"reason"`
}

type ImportResult struct {
	Inserted   int         `json:"inserted"`
	Failed     []FailedRow `json:"failed,omitempty"`
	FailedPath string      `json:"failed_path,omitempty"`
}

type importLine struct {
	number int
	raw    string
}

// ImportCSV inserts rows of the form "content","id1,id2". Rows that fail
// validation are skipped and, when failedDir is set, written to a
// failed_csv_rows_<timestamp>.csv report there.
func (s *Store) ImportCSV(ctx context.Context, content, failedDir string) (ImportResult, error) {
	lines := cleanImportLines(content)
	if len(lines) == 0 {
		return ImportResult{}, ErrNoValidLines
	}

	if err := s.CreateSchema(ctx); err != nil {
		return ImportResult{}, err
	}

	var res ImportResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, line := range lines {
			content, ids, reason := parseImportLine(line.raw)
			if reason == "" {
				missing, err := missingDetailIDs(tx, ids)
				if err != nil {
					return err
				}
				if len(missing) > 0 {
					s.logger.Warn("csv row references unknown attribute details",
						"event", "csv_row_missing_attribute_detail",
						"line_number", line.number,
						"missing_attribute_detail_ids", missing,
					)
					reason = "unknown attribute_detail_id: " + joinIDs(missing)
				}
			}
			if reason != "" {
				res.Failed = append(res.Failed, FailedRow{Line: line.number, Original: line.raw, Reason: reason})
				continue
			}

			p := Prompt{Content: content}
			if err := tx.Create(&p).Error; err != nil {
				return fmt.Errorf("insert prompt: %w", err)
			}
			for _, id := range ids {
				link := PromptAttributeDetail{PromptID: p.ID, AttributeDetailID: id}
				if err := tx.Create(&link).Error; err != nil {
					return fmt.Errorf("insert link: %w", err)
				}
			}
			res.Inserted++
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, s.dbError("ImportCSV", err)
	}
	s.InvalidateCatalog()

	if len(res.Failed) > 0 {
		if failedDir != "" {
			path, err := writeFailedRows(failedDir, res.Failed, time.Now())
			if err != nil {
				s.logger.Error("failed rows export failed", "event", "csv_failed_rows_export_error", "error", err)
			} else {
				res.FailedPath = path
			}
		}
		s.logger.Warn("csv rows failed to parse",
			"event", "csv_rows_failed_to_parse",
			"db_path", s.path,
			"failed_count", len(res.Failed),
			"export_path", res.FailedPath,
		)
	}
	s.logger.Info("csv import finished", "event", "csv_import_finished", "inserted", res.Inserted, "failed", len(res.Failed))
	return res, nil
}

func cleanImportLines(content string) []importLine {
	var out []importLine
	for i, raw := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n") {
		if strings.Contains(raw, "citation[oaicite") || strings.Contains(raw, "```") {
			continue
		}
		normalized := strings.TrimSpace(strings.ReplaceAll(raw, `"""`, `"`))
		if normalized == "" {
			continue
		}
		out = append(out, importLine{number: i + 1, raw: normalized})
	}
	return out
}

// parseImportLine returns a non-empty reason when the line is unusable.
func parseImportLine(line string) (string, []int64, string) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	record, err := r.Read()
	if err != nil {
		return "", nil, "malformed CSV: " + err.Error()
	}
	if len(record) != 2 {
		return "", nil, "expected exactly 2 columns"
	}

	content := strings.TrimSpace(record[0])
	if content == "" {
		return "", nil, "content is empty"
	}

	var tokens []string
	for _, tok := range strings.Split(record[1], ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			tokens = append(tokens, tok)
		}
	}
	if len(tokens) == 0 {
		return "", nil, "attribute_detail_id is empty"
	}

	ids := make([]int64, 0, len(tokens))
	for _, tok := range tokens {
		id, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return "", nil, "attribute_detail_id must be numeric"
		}
		ids = append(ids, id)
	}
	return content, ids, ""
}

func missingDetailIDs(tx *gorm.DB, ids []int64) ([]int64, error) {
	var found []int64
	if err := tx.Model(&AttributeDetail{}).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return nil, fmt.Errorf("lookup attribute details: %w", err)
	}
	known := make(map[int64]bool, len(found))
	for _, id := range found {
		known[id] = true
	}
	var missing []int64
	for _, id := range ids {
		if !known[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}

func writeFailedRows(dir string, rows []FailedRow, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create dir: %w", err)
	}
	path := filepath.Join(dir, "failed_csv_rows_"+now.Format("20060102_150405")+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	_ = w.Write([]string{"line_number", "original", "error"})
	for _, r := range rows {
		_ = w.Write([]string{strconv.Itoa(r.Line), r.Original, r.Reason})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// ExportRow is one prompt with its linked attribute details joined by "|".
type ExportRow struct {
	PromptID              int64  `gorm:"column:prompt_id"`
	Content               string `gorm:"column:content"`
	AttributeDetailIDs    string `gorm:"column:attribute_detail_ids"`
	AttributeDescriptions string `gorm:"column:attribute_descriptions"`
}

func (s *Store) ExportRows(ctx context.Context) ([]ExportRow, error) {
	var rows []ExportRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT
			p.id AS prompt_id,
			p.content AS content,
			COALESCE(GROUP_CONCAT(ad.id, '|'), '') AS attribute_detail_ids,
			COALESCE(GROUP_CONCAT(ad.description, '|'), '') AS attribute_descriptions
		FROM prompts p
		LEFT JOIN prompt_attribute_details pad ON p.id = pad.prompt_id
		LEFT JOIN attribute_details ad ON pad.attribute_detail_id = ad.id
		GROUP BY p.id, p.content
		ORDER BY p.id`).Scan(&rows).Error
	if err != nil {
		return nil, s.dbError("ExportRows", err)
	}
	return rows, nil
}

// ExportCSV writes every prompt with its attribute ids and descriptions.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer) (int, error) {
	rows, err := s.ExportRows(ctx)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"prompt_id", "content", "attribute_detail_ids", "attribute_descriptions"}); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	for _, r := range rows {
		rec := []string{strconv.FormatInt(r.PromptID, 10), r.Content, r.AttributeDetailIDs, r.AttributeDescriptions}
		if err := cw.Write(rec); err != nil {
			return 0, fmt.Errorf("write row %d: %w", r.PromptID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush: %w", err)
	}
	return len(rows), nil
}

// ExportFile writes prompts_export_<timestamp>.csv into dir and returns its path.
func (s *Store) ExportFile(ctx context.Context, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create dir: %w", err)
	}
	path := filepath.Join(dir, "prompts_export_"+time.Now().Format("20060102_150405")+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	n, err := s.ExportCSV(ctx, f)
	if err != nil {
		return "", err
	}
	s.logger.Info("prompts exported", "event", "prompts_exported", "path", path, "rows", n)
	return path, nil
}
