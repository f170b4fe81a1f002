package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"image-prompt-creator/internal/generator"
	"image-prompt-creator/internal/llmtask"
	"image-prompt-creator/internal/openai"
	"image-prompt-creator/internal/presets"
	"image-prompt-creator/internal/service"
	"image-prompt-creator/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "web.db")

	st, err := store.Open(store.Options{Path: dbPath})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.CreateSchema(context.Background()); err != nil {
		t.Fatalf("CreateSchema: %v", err)
	}
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	for _, stmt := range []string{
		`INSERT INTO attribute_types (id, attribute_name, description) VALUES (1, 'scene', 'scene')`,
		`INSERT INTO attribute_details (id, attribute_type_id, description, value) VALUES (1, 1, 'forest', 'forest')`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	exclusions := filepath.Join(dir, "exclusions.csv")
	svc := service.New(service.Options{
		Store: st,
		Presets: presets.NewRegistry(presets.Paths{
			Tails:      filepath.Join(dir, "tails.yaml"),
			Arrange:    filepath.Join(dir, "arrange.yaml"),
			Characters: filepath.Join(dir, "chars.yaml"),
		}, nil),
		Generator:     generator.New(generator.Options{Source: st, ExclusionPath: exclusions}),
		ExclusionPath: exclusions,
	})
	srv := httptest.NewServer(newServer(svc, nil, 0).routes())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestImportGenerateExport(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/import", "text/csv", strings.NewReader("\"Tall pines in fog\",\"1\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("import status = %d", resp.StatusCode)
	}

	resp, out := postJSON(t, srv.URL+"/api/generate", `{"total_lines":1,"selections":[{"attribute_type_id":1,"detail_id":1,"count":1}],"dedup":true}`)
	if resp.StatusCode != http.StatusOK || out["text"] != "Tall pines in fog." {
		t.Fatalf("generate = %d %v", resp.StatusCode, out)
	}

	resp, err = http.Get(srv.URL + "/api/export")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("x-prompt-count") != "1" {
		t.Fatalf("export = %d count %q", resp.StatusCode, resp.Header.Get("x-prompt-count"))
	}
}

func TestAttributes(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/attributes")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var ov service.Overview
	if err := json.NewDecoder(resp.Body).Decode(&ov); err != nil {
		t.Fatal(err)
	}
	if len(ov.Catalog.Types) != 1 || len(ov.Tails[presets.MediaImage]) == 0 {
		t.Fatalf("overview = %+v", ov)
	}
}

func TestErrorStatuses(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"movie json", "/api/movie-json", `{"text":"A bay at noon --ar 16:9"}`, http.StatusOK},
		{"empty prompt", "/api/movie-json", `{"text":"  --ar 16:9"}`, http.StatusBadRequest},
		{"llm disabled", "/api/length", `{"text":"A bay","hint":"half"}`, http.StatusConflict},
		{"shot llm disabled", "/api/shot", `{"text":"A bay at noon"}`, http.StatusConflict},
		{"no results", "/api/generate", `{"total_lines":3}`, http.StatusUnprocessableEntity},
		{"bad json", "/api/arrange", `{"text":`, http.StatusBadRequest},
		{"unknown field", "/api/decorate", `{"mian":"x"}`, http.StatusBadRequest},
		{"bad import", "/api/import", "\n\n", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := postJSON(t, srv.URL+tt.path, tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d (%v)", resp.StatusCode, tt.status, out)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/generate")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", openai.ErrMissingAPIKey), http.StatusServiceUnavailable},
		{&openai.APIError{Status: 500}, http.StatusBadGateway},
		{llmtask.ErrTokenLimit, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
