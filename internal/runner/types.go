package runner

import (
	"encoding/json"
	"sort"

	"github.com/signalnine/judgebench/internal/dataset"
	"github.com/signalnine/judgebench/internal/model"
)

// CaseResult is the unprocessed outcome of one test case.
type CaseResult struct {
	Index     int              `json:"index"`
	TestCase  dataset.TestCase `json:"test_case"`
	Response  json.RawMessage  `json:"response,omitempty"`
	Error     string           `json:"error,omitempty"`
	LatencyMS int64            `json:"latency_ms"`
	Usage     model.Usage      `json:"usage"`
}

// RawResult maps test case id to its outcome.
type RawResult map[string]*CaseResult

// RawEnvelope is the on-disk shape of raw_responses.json.
type RawEnvelope struct {
	TestResults RawResult `json:"test_results"`
}

// Ordered returns the cases in dataset order.
func (r RawResult) Ordered() []*CaseResult {
	out := make([]*CaseResult, 0, len(r))
	for _, cr := range r {
		out = append(out, cr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// TotalUsage sums token usage across cases.
func (r RawResult) TotalUsage() model.Usage {
	var u model.Usage
	for _, cr := range r {
		u.InputTokens += cr.Usage.InputTokens
		u.OutputTokens += cr.Usage.OutputTokens
	}
	return u
}

// Failed counts cases whose model call errored.
func (r RawResult) Failed() int {
	n := 0
	for _, cr := range r {
		if cr.Error != "" {
			n++
		}
	}
	return n
}
