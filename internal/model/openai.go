package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type openAIClient struct {
	sel    Selection
	opts   Options
	logger *slog.Logger
}

func newOpenAI(sel Selection, opts Options) *openAIClient {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultOpenAIBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &openAIClient{sel: sel, opts: opts, logger: clientLogger(opts.Logger, KindOpenAI)}
}

func (c *openAIClient) Kind() Kind      { return KindOpenAI }
func (c *openAIClient) ModelID() string { return c.sel.ModelID }

func (c *openAIClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	var messages []map[string]any
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.SystemPrompt})
	}
	messages = append(messages, map[string]any{"role": "user", "content": req.Prompt})

	body := map[string]any{
		"model":       c.sel.ModelID,
		"messages":    messages,
		"temperature": c.opts.Temperature,
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			fn := map[string]any{"name": t.Name}
			if t.Description != "" {
				fn["description"] = t.Description
			}
			if t.Parameters != nil {
				fn["parameters"] = t.Parameters
			}
			tools = append(tools, map[string]any{"type": "function", "function": fn})
		}
		body["tools"] = tools
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.sel.APIKey)
	httpReq.Header.Set("X-Client-Request-Id", requestID)

	start := time.Now()
	resp, err := c.opts.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading openai response: %w", err)
	}
	latency := time.Since(start)
	c.logger.Debug("completion", "request_id", requestID, "model", c.sel.ModelID, "status", resp.StatusCode, "latency", latency)

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: KindOpenAI, StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}

	var usage struct {
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &usage); err != nil {
		return nil, fmt.Errorf("parsing openai response: %w", err)
	}
	return &Response{
		Raw:     json.RawMessage(raw),
		Usage:   Usage{InputTokens: usage.Usage.PromptTokens, OutputTokens: usage.Usage.CompletionTokens},
		Latency: latency,
	}, nil
}

func (c *openAIClient) Extract(raw json.RawMessage) (*Completion, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content   *string `json:"content"`
				ToolCalls []struct {
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parsing openai response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	choice := resp.Choices[0]
	out := &Completion{FinishReason: choice.FinishReason}
	if choice.Message.Content != nil {
		out.Text = *choice.Message.Content
	}
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if s := strings.TrimSpace(tc.Function.Arguments); s != "" {
			if err := json.Unmarshal([]byte(s), &args); err != nil {
				return nil, fmt.Errorf("parsing arguments of %s: %w", tc.Function.Name, err)
			}
		}
		out.FunctionCalls = append(out.FunctionCalls, FunctionCall{Name: tc.Function.Name, Arguments: args})
	}
	return out, nil
}
