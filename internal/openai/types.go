package openai

import (
	"encoding/json"
	"fmt"
)

type Request struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	// Temperature is sent to chat models only when IncludeTemperature is set.
	// Responses models get a wording hint in the system prompt instead.
	Temperature        *float64
	IncludeTemperature bool
}

type Response struct {
	Text         string
	FinishReason string
	Retries      int
	Status       int
}

// APIError is returned once retries are exhausted or the failure is not
// retryable. Status is zero for transport failures.
type APIError struct {
	Status   int
	Endpoint string
	Summary  string
	Retries  int
	Err      error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("LLM request failed: %s", e.Summary)
	}
	return fmt.Sprintf("LLM request failed (status %d): %s", e.Status, e.Summary)
}

func (e *APIError) Unwrap() error { return e.Err }

type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
	Temperature         *float64      `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type responsesRequest struct {
	Model           string       `json:"model"`
	Input           []inputBlock `json:"input"`
	MaxOutputTokens int          `json:"max_output_tokens,omitempty"`
}

type inputBlock struct {
	Role    string         `json:"role"`
	Content []inputContent `json:"content"`
}

type inputContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesResponse struct {
	Status            string `json:"status"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
	Output []struct {
		Type       string `json:"type"`
		StopReason string `json:"stop_reason"`
		Content    []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	OutputText json.RawMessage `json:"output_text"`
}

type errorEnvelope struct {
	Error *struct {
		Message string          `json:"message"`
		Code    json.RawMessage `json:"code"`
		Type    string          `json:"type"`
	} `json:"error"`
}
