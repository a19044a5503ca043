package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type geminiClient struct {
	sel    Selection
	opts   Options
	logger *slog.Logger
}

func newGemini(sel Selection, opts Options) *geminiClient {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultGeminiBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &geminiClient{sel: sel, opts: opts, logger: clientLogger(opts.Logger, KindGemini)}
}

func (c *geminiClient) Kind() Kind      { return KindGemini }
func (c *geminiClient) ModelID() string { return c.sel.ModelID }

func (c *geminiClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	if c.sel.APIKey == "" {
		return nil, fmt.Errorf("gemini: %w: GEMINI_API_KEY not set", ErrAuthentication)
	}

	body := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": []map[string]any{{"text": req.Prompt}}},
		},
		"generationConfig": map[string]any{"temperature": c.opts.Temperature},
	}
	if req.SystemPrompt != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": req.SystemPrompt}},
		}
	}
	if len(req.Tools) > 0 {
		decls := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			d := map[string]any{"name": t.Name}
			if t.Description != "" {
				d["description"] = t.Description
			}
			if t.Parameters != nil {
				d["parameters"] = t.Parameters
			}
			decls = append(decls, d)
		}
		body["tools"] = []map[string]any{{"functionDeclarations": decls}}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.opts.BaseURL, url.PathEscape(c.sel.ModelID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.sel.APIKey)

	start := time.Now()
	resp, err := c.opts.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading gemini response: %w", err)
	}
	latency := time.Since(start)
	c.logger.Debug("generate content", "request_id", requestID, "model", c.sel.ModelID, "status", resp.StatusCode, "latency", latency)

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: KindGemini, StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}

	var usage struct {
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(raw, &usage); err != nil {
		return nil, fmt.Errorf("parsing gemini response: %w", err)
	}
	return &Response{
		Raw: json.RawMessage(raw),
		Usage: Usage{
			InputTokens:  usage.UsageMetadata.PromptTokenCount,
			OutputTokens: usage.UsageMetadata.CandidatesTokenCount,
		},
		Latency: latency,
	}, nil
}

func (c *geminiClient) Extract(raw json.RawMessage) (*Completion, error) {
	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text         string `json:"text"`
					FunctionCall *struct {
						Name string         `json:"name"`
						Args map[string]any `json:"args"`
					} `json:"functionCall"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		PromptFeedback *struct {
			BlockReason string `json:"blockReason"`
		} `json:"promptFeedback"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parsing gemini response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return nil, fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return nil, fmt.Errorf("no candidates in response")
	}
	cand := resp.Candidates[0]
	out := &Completion{FinishReason: strings.ToLower(cand.FinishReason)}
	var text strings.Builder
	for _, p := range cand.Content.Parts {
		if p.FunctionCall != nil {
			args := p.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			out.FunctionCalls = append(out.FunctionCalls, FunctionCall{Name: p.FunctionCall.Name, Arguments: args})
			continue
		}
		text.WriteString(p.Text)
	}
	out.Text = text.String()
	return out, nil
}
