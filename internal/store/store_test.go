package store

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// newTestStore returns a store holding two details that share the
// description "印象派", each linked to one prompt.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	if err := s.CreateSchema(ctx); err != nil {
		t.Fatalf("CreateSchema: %v", err)
	}
	seed := []string{
		`INSERT INTO attribute_types (id, attribute_name, description) VALUES (1, 'style', '画風')`,
		`INSERT INTO attribute_details (id, attribute_type_id, description, value) VALUES (1, 1, '印象派', 'impressionist')`,
		`INSERT INTO attribute_details (id, attribute_type_id, description, value) VALUES (2, 1, '印象派', 'neo_impressionist')`,
		`INSERT INTO attribute_details (id, attribute_type_id, description, value) VALUES (3, 1, '空', 'empty')`,
		`INSERT INTO prompts (id, content) VALUES (1, 'First prompt')`,
		`INSERT INTO prompts (id, content) VALUES (2, 'Second prompt')`,
		`INSERT INTO prompt_attribute_details (prompt_id, attribute_detail_id) VALUES (1, 1)`,
		`INSERT INTO prompt_attribute_details (prompt_id, attribute_detail_id) VALUES (2, 2)`,
	}
	for _, stmt := range seed {
		if err := s.db.Exec(stmt).Error; err != nil {
			t.Fatalf("seed %q: %v", stmt, err)
		}
	}
	return s
}

func TestCatalog(t *testing.T) {
	s := newTestStore(t)
	c, err := s.Catalog(context.Background())
	if err != nil {
		t.Fatalf("Catalog: %v", err)
	}
	if len(c.Types) != 1 || len(c.Details) != 3 {
		t.Fatalf("catalog sizes = %d types, %d details", len(c.Types), len(c.Details))
	}
	d, ok := c.Detail(2)
	if !ok || d.ContentCount != 1 || d.Value != "neo_impressionist" {
		t.Fatalf("Detail(2) = %+v, %v", d, ok)
	}
	if got := c.Selectable(1); len(got) != 2 {
		t.Fatalf("Selectable = %+v, want the two details with prompts", got)
	}
}

func TestPromptQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("by detail", func(t *testing.T) {
		got, err := s.PromptsForDetail(ctx, 2, nil)
		if err != nil {
			t.Fatalf("PromptsForDetail: %v", err)
		}
		if len(got) != 1 || got[0].Content != "Second prompt" {
			t.Fatalf("got %+v", got)
		}
	})

	t.Run("exclusions", func(t *testing.T) {
		got, err := s.AllPrompts(ctx, []string{"First", " "})
		if err != nil {
			t.Fatalf("AllPrompts: %v", err)
		}
		if len(got) != 1 || got[0].ID != 2 {
			t.Fatalf("got %+v", got)
		}
		none, err := s.PromptsForDetail(ctx, 1, []string{"prompt"})
		if err != nil || len(none) != 0 {
			t.Fatalf("PromptsForDetail with exclusion = %+v, %v", none, err)
		}
	})
}

func TestImportCSVLogsFailuresWithoutFailedDir(t *testing.T) {
	s := newTestStore(t)
	var logs bytes.Buffer
	s.logger = slog.New(slog.NewJSONHandler(&logs, nil))

	res, err := s.ImportCSV(context.Background(), "\"Calm sea\",\"1\"\n\"Bad row\",\"x\"", "")
	if err != nil {
		t.Fatalf("ImportCSV: %v", err)
	}
	if res.Inserted != 1 || len(res.Failed) != 1 || res.FailedPath != "" {
		t.Fatalf("result = %+v", res)
	}
	out := logs.String()
	if !strings.Contains(out, `"event":"csv_rows_failed_to_parse"`) || !strings.Contains(out, `"failed_count":1`) {
		t.Fatalf("failure count not logged:\n%s", out)
	}
}

func TestImportCSV(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	failedDir := t.TempDir()

	if _, err := s.Catalog(ctx); err != nil {
		t.Fatalf("Catalog: %v", err)
	}

	content := strings.Join([]string{
		"```csv",
		`"A misty harbor at dawn","1,2"`,
		"",
		`"only one column"`,
		`"","1"`,
		`"no ids",""`,
		`"bad ids","x"`,
		`"unknown ids","1,99"`,
		`see citation[oaicite:1]`,
	}, "\n")

	res, err := s.ImportCSV(ctx, content, failedDir)
	if err != nil {
		t.Fatalf("ImportCSV: %v", err)
	}
	if res.Inserted != 1 {
		t.Fatalf("Inserted = %d, want 1", res.Inserted)
	}
	if len(res.Failed) != 5 {
		t.Fatalf("Failed = %+v, want 5 rows", res.Failed)
	}
	last := res.Failed[len(res.Failed)-1]
	if last.Line != 8 || last.Reason != "unknown attribute_detail_id: 99" {
		t.Fatalf("last failure = %+v", last)
	}
	if res.FailedPath == "" {
		t.Fatalf("failed rows were not exported")
	}
	raw, err := os.ReadFile(res.FailedPath)
	if err != nil || !strings.HasPrefix(string(raw), "line_number,original,error\n") {
		t.Fatalf("failed export = %q, %v", raw, err)
	}

	c, err := s.Catalog(ctx)
	if err != nil {
		t.Fatalf("Catalog: %v", err)
	}
	if d, _ := c.Detail(1); d.ContentCount != 2 {
		t.Fatalf("catalog not invalidated after import; detail 1 count = %d", d.ContentCount)
	}

	if _, err := s.ImportCSV(ctx, "\n```\n", ""); !errors.Is(err, ErrNoValidLines) {
		t.Fatalf("empty import err = %v", err)
	}
}

func TestExportCSV(t *testing.T) {
	s := newTestStore(t)
	var buf bytes.Buffer
	n, err := s.ExportCSV(context.Background(), &buf)
	if err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}
	if n != 2 {
		t.Fatalf("rows = %d", n)
	}
	want := "prompt_id,content,attribute_detail_ids,attribute_descriptions\n" +
		"1,First prompt,1,印象派\n" +
		"2,Second prompt,2,印象派\n"
	if buf.String() != want {
		t.Fatalf("export =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestSampleRows(t *testing.T) {
	s := newTestStore(t)
	lines, err := s.SampleRows(context.Background())
	if err != nil {
		t.Fatalf("SampleRows: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("lines = %#v", lines)
	}
	if lines[1] != `"Layered mix: 印象派 + 印象派","1,2"` {
		t.Fatalf("second line = %q", lines[1])
	}
}
