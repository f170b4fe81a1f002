package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultMaxRetries = 2
	defaultBackoff    = time.Second
	maxSummaryChars   = 600
)

var ErrMissingAPIKey = errors.New("OpenAI API key is not set")

type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
	MaxRetries int
	Backoff    time.Duration
}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	maxRetries int
	backoff    time.Duration
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}

	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// UsesResponsesAPI reports whether model is served by the Responses endpoint.
func UsesResponsesAPI(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "gpt-5")
}

// Complete sends one system/user exchange and returns the model text.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	if c.apiKey == "" {
		return Response{}, ErrMissingAPIKey
	}

	resp, err := c.complete(ctx, req)
	if err != nil && req.IncludeTemperature && req.Temperature != nil && !UsesResponsesAPI(req.Model) && isTemperatureRejected(err) {
		c.logger.Warn("llm temperature rejected; retrying without it",
			"event", "llm_temperature_fallback",
			"model", req.Model,
		)
		req.IncludeTemperature = false
		return c.complete(ctx, req)
	}
	return resp, err
}

func (c *Client) complete(ctx context.Context, req Request) (Response, error) {
	endpoint := c.baseURL + "/chat/completions"
	var payload any
	if UsesResponsesAPI(req.Model) {
		endpoint = c.baseURL + "/responses"
		payload = buildResponsesPayload(req)
	} else {
		payload = buildChatPayload(req)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	var (
		retries  int
		delay    = c.backoff
		lastErr  error
		result   httpResult
		finished bool
	)

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			retries = attempt
			if err := sleep(ctx, delay); err != nil {
				return Response{}, err
			}
			delay *= 2
		}

		result, err = c.post(ctx, endpoint, body)
		if err != nil {
			if ctx.Err() != nil {
				return Response{}, fmt.Errorf("request: %w", ctx.Err())
			}
			lastErr = &APIError{Endpoint: endpoint, Summary: err.Error(), Retries: retries, Err: err}
			c.logFailure(req.Model, endpoint, 0, retries, err.Error())
			continue
		}

		if result.status >= 400 {
			apiErr := &APIError{
				Status:   result.status,
				Endpoint: endpoint,
				Summary:  summarizeError(result.body, result.requestID),
				Retries:  retries,
			}
			lastErr = apiErr
			c.logFailure(req.Model, endpoint, result.status, retries, apiErr.Summary)
			if result.status == http.StatusTooManyRequests || result.status >= 500 {
				continue
			}
			return Response{}, apiErr
		}

		finished = true
		break
	}

	if !finished {
		return Response{}, lastErr
	}

	var out Response
	if UsesResponsesAPI(req.Model) {
		out, err = parseResponses(result.body)
	} else {
		out, err = parseChat(result.body)
	}
	if err != nil {
		return Response{}, err
	}
	out.Retries = retries
	out.Status = result.status
	return out, nil
}

type httpResult struct {
	status    int
	body      []byte
	requestID string
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) (httpResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return httpResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return httpResult{}, fmt.Errorf("request: %w", err)
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return httpResult{}, fmt.Errorf("read response: %w", err)
	}

	return httpResult{
		status:    httpResp.StatusCode,
		body:      rawBody,
		requestID: requestID(httpResp.Header),
	}, nil
}

func (c *Client) logFailure(model, endpoint string, status, retries int, message string) {
	c.logger.Warn("llm request failed",
		"event", "llm_request_failed",
		"model", model,
		"endpoint", endpoint,
		"status", status,
		"retries", retries,
		"message", message,
	)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("request: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func buildChatPayload(req Request) chatRequest {
	payload := chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		MaxCompletionTokens: req.MaxTokens,
	}
	if req.IncludeTemperature && req.Temperature != nil {
		t := *req.Temperature
		payload.Temperature = &t
	}
	return payload
}

func buildResponsesPayload(req Request) responsesRequest {
	system := req.SystemPrompt
	if req.Temperature != nil {
		system += TemperatureHint(*req.Temperature)
	}

	var input []inputBlock
	if strings.TrimSpace(system) != "" {
		input = append(input, inputBlock{
			Role:    "system",
			Content: []inputContent{{Type: "input_text", Text: system}},
		})
	}
	input = append(input, inputBlock{
		Role:    "user",
		Content: []inputContent{{Type: "input_text", Text: req.UserPrompt}},
	})

	return responsesRequest{
		Model:           req.Model,
		Input:           input,
		MaxOutputTokens: req.MaxTokens,
	}
}

// TemperatureHint describes the requested creativity in words for models
// that ignore the temperature parameter.
func TemperatureHint(temperature float64) string {
	level := "balanced"
	switch {
	case temperature <= 0.35:
		level = "precision / low randomness"
	case temperature >= 0.75:
		level = "bold / high creativity"
	}
	return fmt.Sprintf("\n\n[Legacy temperature emulation]\n"+
		"- Treat creativity strength as %s (legacy temperature %.2f).\n"+
		"- Mirror the randomness level implied above even though the API ignores `temperature`.\n"+
		"- Lower values mean deterministic phrasing; higher values allow freer rewording and bolder stylistic exploration.",
		level, temperature)
}

func parseChat(raw []byte) (Response, error) {
	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return Response{}, errors.New("decode response: no choices returned")
	}
	choice := decoded.Choices[0]
	return Response{
		Text:         strings.TrimSpace(choice.Message.Content),
		FinishReason: choice.FinishReason,
	}, nil
}

func parseResponses(raw []byte) (Response, error) {
	var decoded responsesResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}

	var (
		text   strings.Builder
		finish string
	)
	for _, item := range decoded.Output {
		if finish == "" && item.StopReason != "" {
			finish = item.StopReason
		}
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "text" || c.Type == "output_text" {
				text.WriteString(c.Text)
			}
		}
	}

	out := strings.TrimSpace(text.String())
	if out == "" {
		out = strings.TrimSpace(decodeOutputText(decoded.OutputText))
	}
	if finish == "" && decoded.IncompleteDetails != nil {
		finish = decoded.IncompleteDetails.Reason
	}
	if finish == "" {
		finish = decoded.Status
	}
	return Response{Text: out, FinishReason: finish}, nil
}

func decodeOutputText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "")
	}
	return ""
}

// summarizeError condenses an error body into message/code/type, or a
// truncated copy of the raw text when it is not the usual JSON shape.
func summarizeError(body []byte, requestID string) string {
	var summary string
	var decoded errorEnvelope
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Error != nil {
		var parts []string
		if decoded.Error.Message != "" {
			parts = append(parts, fmt.Sprintf("message='%s'", decoded.Error.Message))
		}
		if code := rawScalar(decoded.Error.Code); code != "" {
			parts = append(parts, "code="+code)
		}
		if decoded.Error.Type != "" {
			parts = append(parts, "type="+decoded.Error.Type)
		}
		summary = strings.Join(parts, ", ")
	}
	if summary == "" {
		text := strings.TrimSpace(string(body))
		if runes := []rune(text); len(runes) > maxSummaryChars {
			text = string(runes[:maxSummaryChars]) + "...(truncated)"
		}
		summary = text
	}
	if summary == "" {
		summary = "empty response body"
	}
	if requestID != "" {
		summary += fmt.Sprintf(" (request_id=%s)", requestID)
	}
	return summary
}

func rawScalar(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func requestID(h http.Header) string {
	if id := strings.TrimSpace(h.Get("x-request-id")); id != "" {
		return id
	}
	return strings.TrimSpace(h.Get("x-requestid"))
}

func isTemperatureRejected(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Summary), "temperature")
}
