package main

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"image-prompt-creator/internal/generator"
	"image-prompt-creator/internal/llmtask"
	"image-prompt-creator/internal/openai"
	"image-prompt-creator/internal/presets"
	"image-prompt-creator/internal/service"
	"image-prompt-creator/internal/store"
)

//go:embed static/*
var staticFS embed.FS

const maxBodyBytes = 5 << 20

type server struct {
	svc     *service.Service
	logger  *slog.Logger
	timeout time.Duration
}

type apiError struct {
	Error string `json:"error"`
}

type textRequest struct {
	Text string `json:"text"`
}

type textResponse struct {
	Text string `json:"text"`
}

func newServer(svc *service.Service, logger *slog.Logger, timeout time.Duration) *server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &server{svc: svc, logger: logger, timeout: timeout}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/attributes", s.get(s.handleAttributes))
	mux.HandleFunc("/api/presets", s.get(s.handlePresets))
	mux.HandleFunc("/api/characters", s.handleCharacters)
	mux.HandleFunc("/api/export", s.get(s.handleExport))
	mux.HandleFunc("/api/import", s.post(s.handleImport))
	mux.HandleFunc("/api/generate", s.post(s.handleGenerate))
	mux.HandleFunc("/api/decorate", s.post(s.handleDecorate))
	mux.HandleFunc("/api/length", s.post(s.handleLength))
	mux.HandleFunc("/api/arrange", s.post(s.handleArrange))
	mux.HandleFunc("/api/movie-json", s.post(s.handleMovieJSON))
	mux.HandleFunc("/api/world", s.post(s.handleWorld(false)))
	mux.HandleFunc("/api/chaos", s.post(s.handleWorld(true)))
	mux.HandleFunc("/api/shot", s.post(s.handleShot))
	mux.HandleFunc("/api/storyboard", s.post(s.handleStoryboard))

	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	mux.Handle("/", http.FileServer(http.FS(staticSub)))

	return withLogging(mux, s.logger)
}

func (s *server) get(next http.HandlerFunc) http.HandlerFunc {
	return methodOnly(http.MethodGet, next)
}

func (s *server) post(next http.HandlerFunc) http.HandlerFunc {
	return methodOnly(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		next(w, r.WithContext(ctx))
	})
}

func methodOnly(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
			return
		}
		next(w, r)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "llm_enabled": s.svc.LLMEnabled()})
}

func (s *server) handleAttributes(w http.ResponseWriter, r *http.Request) {
	ov, err := s.svc.Overview(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (s *server) handlePresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Presets())
}

// handleCharacters lists characters on GET and registers new ones on POST.
func (s *server) handleCharacters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.svc.Characters())
	case http.MethodPost:
		var body struct {
			Characters []presets.Character `json:"characters"`
		}
		if !decode(w, r, &body) {
			return
		}
		out, err := s.svc.RegisterCharacters(body.Characters)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, out)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
	}
}

func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	n, err := s.svc.ExportCSV(r.Context(), &buf)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("content-type", "text/csv; charset=utf-8")
	w.Header().Set("content-disposition", `attachment; filename="prompts_export.csv"`)
	w.Header().Set("x-prompt-count", fmt.Sprint(n))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *server) handleImport(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "failed to read body"})
		return
	}
	res, err := s.svc.ImportCSV(r.Context(), string(raw))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req service.GenerateRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.svc.Generate(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleDecorate(w http.ResponseWriter, r *http.Request) {
	var req service.DecorateRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, textResponse{Text: s.svc.Decorate(req)})
}

func (s *server) handleLength(w http.ResponseWriter, r *http.Request) {
	var req service.LengthRequest
	if !decode(w, r, &req) {
		return
	}
	s.respondText(w, r)(s.svc.LengthAdjust(r.Context(), req))
}

func (s *server) handleArrange(w http.ResponseWriter, r *http.Request) {
	var req service.ArrangeRequest
	if !decode(w, r, &req) {
		return
	}
	s.respondText(w, r)(s.svc.Arrange(r.Context(), req))
}

func (s *server) handleMovieJSON(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decode(w, r, &req) {
		return
	}
	s.respondText(w, r)(s.svc.MovieJSON(req.Text))
}

func (s *server) handleWorld(chaos bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.MovieRequest
		if !decode(w, r, &req) {
			return
		}
		if chaos {
			s.respondText(w, r)(s.svc.ChaosMix(r.Context(), req))
			return
		}
		s.respondText(w, r)(s.svc.World(r.Context(), req))
	}
}

func (s *server) handleShot(w http.ResponseWriter, r *http.Request) {
	var req service.MovieRequest
	if !decode(w, r, &req) {
		return
	}
	s.respondText(w, r)(s.svc.Shot(r.Context(), req))
}

func (s *server) handleStoryboard(w http.ResponseWriter, r *http.Request) {
	var req service.StoryboardRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.svc.Storyboard(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) respondText(w http.ResponseWriter, r *http.Request) func(string, error) {
	return func(text string, err error) {
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, textResponse{Text: text})
	}
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "event", "http_request_failed", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, apiError{Error: err.Error()})
}

// statusFor maps service errors to HTTP statuses.
func statusFor(err error) int {
	var noRes *generator.NoResultsError
	var apiErr *openai.APIError
	switch {
	case errors.Is(err, service.ErrEmptyPrompt), errors.Is(err, store.ErrNoValidLines):
		return http.StatusBadRequest
	case errors.As(err, &noRes):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrLLMDisabled):
		return http.StatusConflict
	case errors.Is(err, openai.ErrMissingAPIKey), errors.Is(err, store.ErrNoAttributeDetails):
		return http.StatusServiceUnavailable
	case errors.Is(err, llmtask.ErrTokenLimit), errors.Is(err, llmtask.ErrEmptyResponse), errors.As(err, &apiErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func withLogging(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("http", "event", "http_request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "dur_ms", time.Since(start).Milliseconds())
	})
}
