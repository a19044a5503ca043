// Package normalize turns raw per-case model output into the standardized
// response schema the evaluator reads.
package normalize

import (
	"context"
	"fmt"

	"github.com/signalnine/judgebench/internal/model"
	"github.com/signalnine/judgebench/internal/result"
	"github.com/signalnine/judgebench/internal/runner"
)

// Record statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Processed is the standardized artifact both run modes converge on.
type Processed struct {
	Metadata  Metadata `json:"metadata"`
	Responses []Record `json:"responses"`
}

type Metadata struct {
	ModelType   string `json:"model_type"`
	ModelID     string `json:"model_id"`
	RecordCount int    `json:"record_count"`
	ErrorCount  int    `json:"error_count"`
}

// Record is one standardized response.
type Record struct {
	ID                   string               `json:"id"`
	Prompt               string               `json:"prompt"`
	ExpectedResponse     string               `json:"expected_response,omitempty"`
	ExpectedFunctionCall *model.FunctionCall  `json:"expected_function_call,omitempty"`
	ResponseText         string               `json:"response_text"`
	FunctionCalls        []model.FunctionCall `json:"function_calls,omitempty"`
	FinishReason         string               `json:"finish_reason,omitempty"`
	Status               string               `json:"status"`
	Error                string               `json:"error,omitempty"`
	Usage                model.Usage          `json:"usage"`
	LatencyMS            int64                `json:"latency_ms"`
}

// ProcessRawResponses reads the raw results artifact at rawPath and
// standardizes each case with client's response parser. Cases whose response
// cannot be parsed become error records; only an unreadable artifact fails.
func ProcessRawResponses(ctx context.Context, rawPath string, client model.Client) (*Processed, error) {
	var env runner.RawEnvelope
	if err := result.ReadJSON(rawPath, &env); err != nil {
		return nil, err
	}
	if env.TestResults == nil {
		return nil, &result.ResourceError{Path: rawPath, Op: "parsing", Err: fmt.Errorf("missing test_results")}
	}

	out := &Processed{
		Metadata: Metadata{ModelType: string(client.Kind()), ModelID: client.ModelID()},
	}
	for _, cr := range env.TestResults.Ordered() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec := Record{
			ID:                   cr.TestCase.ID,
			Prompt:               cr.TestCase.Prompt,
			ExpectedResponse:     cr.TestCase.ExpectedResponse,
			ExpectedFunctionCall: cr.TestCase.ExpectedFunctionCall,
			Usage:                cr.Usage,
			LatencyMS:            cr.LatencyMS,
			Status:               StatusOK,
		}
		switch {
		case cr.Error != "":
			rec.Status = StatusError
			rec.Error = cr.Error
		case len(cr.Response) == 0:
			rec.Status = StatusError
			rec.Error = "empty response"
		default:
			comp, err := client.Extract(cr.Response)
			if err != nil {
				rec.Status = StatusError
				rec.Error = err.Error()
				break
			}
			rec.ResponseText = comp.Text
			rec.FunctionCalls = comp.FunctionCalls
			rec.FinishReason = comp.FinishReason
		}
		if rec.Status == StatusError {
			out.Metadata.ErrorCount++
		}
		out.Responses = append(out.Responses, rec)
	}
	out.Metadata.RecordCount = len(out.Responses)
	return out, nil
}
