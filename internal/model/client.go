// Package model holds the clients that send a single prompt to an LLM
// backend and turn the provider's native response into a Completion.
package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/signalnine/judgebench/internal/logging"
)

// DeterministicTemperature is the only sampling temperature used for
// generation. Scoring assumes reproducible generations.
const DeterministicTemperature = 0.0

type Kind string

const (
	KindOpenAI Kind = "openai"
	KindGemini Kind = "gemini"
)

// ParseKind validates a --model-type value.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindOpenAI, KindGemini:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown model type %q (want gemini or openai)", s)
}

// KindForModel guesses the backend that serves modelID.
func KindForModel(modelID string) Kind {
	id := strings.ToLower(modelID)
	for _, p := range []string{"gpt-", "o1", "o3", "o4", "chatgpt"} {
		if strings.HasPrefix(id, p) {
			return KindOpenAI
		}
	}
	return KindGemini
}

// Selection identifies the model a run talks to.
type Selection struct {
	Kind    Kind   `json:"kind"`
	ModelID string `json:"model_id"`
	APIKey  string `json:"-"`
}

// Tool is a function declaration offered to the model.
type Tool struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	Name      string         `json:"name" yaml:"name"`
	Arguments map[string]any `json:"arguments" yaml:"arguments"`
}

type Request struct {
	SystemPrompt string
	Prompt       string
	Tools        []Tool
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is what a backend returned for one request. Raw is the provider's
// body, kept verbatim.
type Response struct {
	Raw     json.RawMessage
	Usage   Usage
	Latency time.Duration
}

// Completion is the provider-independent view of a response.
type Completion struct {
	Text          string         `json:"text"`
	FunctionCalls []FunctionCall `json:"function_calls,omitempty"`
	FinishReason  string         `json:"finish_reason,omitempty"`
}

// Client generates completions from one model.
type Client interface {
	Kind() Kind
	ModelID() string
	Generate(ctx context.Context, req *Request) (*Response, error)
	// Extract parses a body previously returned in Response.Raw.
	Extract(raw json.RawMessage) (*Completion, error)
}

// ErrAuthentication marks failures no retry or later case can recover from.
var ErrAuthentication = errors.New("authentication failed")

// APIError is a non-2xx answer from a backend.
type APIError struct {
	Provider   Kind
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API returned %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrAuthentication
	}
	return nil
}

// Options carries construction settings shared by all clients.
type Options struct {
	Temperature float64
	BaseURL     string
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// New builds the client for sel.
func New(sel Selection, opts Options) (Client, error) {
	if sel.ModelID == "" {
		return nil, fmt.Errorf("model id is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	switch sel.Kind {
	case KindOpenAI:
		if sel.APIKey == "" {
			return nil, fmt.Errorf("openai: %w: api key is required", ErrAuthentication)
		}
		return newOpenAI(sel, opts), nil
	case KindGemini:
		return newGemini(sel, opts), nil
	}
	return nil, fmt.Errorf("unknown model type %q", sel.Kind)
}

func clientLogger(l *slog.Logger, kind Kind) *slog.Logger {
	return logging.Named(l, "model.http."+string(kind))
}

func errorMessage(body []byte) string {
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}
