// Package dataset loads the test cases a run drives through a model.
package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/signalnine/judgebench/internal/model"
	"github.com/signalnine/judgebench/internal/result"
)

// TestCase is one prompt of the dataset together with what a correct answer
// looks like.
type TestCase struct {
	ID                   string              `json:"id" yaml:"id"`
	Prompt               string              `json:"prompt" yaml:"prompt"`
	SystemPrompt         string              `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Tools                []model.Tool        `json:"tools,omitempty" yaml:"tools,omitempty"`
	ExpectedResponse     string              `json:"expected_response,omitempty" yaml:"expected_response,omitempty"`
	ExpectedFunctionCall *model.FunctionCall `json:"expected_function_call,omitempty" yaml:"expected_function_call,omitempty"`
	Metadata             map[string]any      `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Request is the model request for the case.
func (tc *TestCase) Request() *model.Request {
	return &model.Request{SystemPrompt: tc.SystemPrompt, Prompt: tc.Prompt, Tools: tc.Tools}
}

// Load reads the dataset at path. The file holds either a list of cases or
// an object with a "test_cases" list, as JSON or (.yaml/.yml) YAML. Cases
// without an id get "case-NNN" from their position.
func Load(path string) ([]TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &result.ResourceError{Path: path, Op: "reading dataset", Err: err}
	}
	cases, err := decode(path, data)
	if err != nil {
		return nil, &result.ResourceError{Path: path, Op: "parsing dataset", Err: err}
	}

	seen := make(map[string]int, len(cases))
	for i := range cases {
		if cases[i].ID == "" {
			cases[i].ID = fmt.Sprintf("case-%03d", i+1)
		}
		if j, dup := seen[cases[i].ID]; dup {
			return nil, &result.ResourceError{
				Path: path,
				Op:   "parsing dataset",
				Err:  fmt.Errorf("cases %d and %d share id %q", j+1, i+1, cases[i].ID),
			}
		}
		seen[cases[i].ID] = i
	}
	return cases, nil
}

type wrapped struct {
	TestCases []TestCase `json:"test_cases" yaml:"test_cases"`
}

func decode(path string, data []byte) ([]TestCase, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return nil, err
		}
		if len(node.Content) > 0 && node.Content[0].Kind == yaml.MappingNode {
			var w wrapped
			if err := node.Decode(&w); err != nil {
				return nil, err
			}
			return w.TestCases, nil
		}
		var cases []TestCase
		if err := node.Decode(&cases); err != nil {
			return nil, err
		}
		return cases, nil
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var w wrapped
		if err := json.Unmarshal(trimmed, &w); err != nil {
			return nil, err
		}
		return w.TestCases, nil
	}
	var cases []TestCase
	if err := json.Unmarshal(trimmed, &cases); err != nil {
		return nil, err
	}
	return cases, nil
}
