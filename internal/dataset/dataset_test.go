package dataset_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/judgebench/internal/dataset"
	"github.com/signalnine/judgebench/internal/result"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadJSONList(t *testing.T) {
	path := writeFile(t, "d.json", `[
		{"id": "weather", "prompt": "Weather in Oslo?", "tools": [{"name": "get_weather"}],
		 "expected_function_call": {"name": "get_weather", "arguments": {"city": "Oslo"}}},
		{"prompt": "Capital of France?", "expected_response": "Paris"},
		{"prompt": "2+2?", "expected_response": "4"}
	]`)
	cases, err := dataset.Load(path)
	require.NoError(t, err)
	require.Len(t, cases, 3)

	assert.Equal(t, "weather", cases[0].ID)
	require.NotNil(t, cases[0].ExpectedFunctionCall)
	assert.Equal(t, "Oslo", cases[0].ExpectedFunctionCall.Arguments["city"])
	assert.Equal(t, "case-002", cases[1].ID)
	assert.Equal(t, "case-003", cases[2].ID)

	req := cases[0].Request()
	assert.Equal(t, "Weather in Oslo?", req.Prompt)
	assert.Len(t, req.Tools, 1)
}

func TestLoadJSONWrapped(t *testing.T) {
	path := writeFile(t, "d.json", `{"test_cases": [{"id": "a", "prompt": "hi"}]}`)
	cases, err := dataset.Load(path)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "a", cases[0].ID)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "d.yaml", `
test_cases:
  - id: capital
    prompt: Capital of France?
    expected_response: Paris
  - prompt: Weather in Oslo?
    expected_function_call:
      name: get_weather
      arguments:
        city: Oslo
`)
	cases, err := dataset.Load(path)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, "Paris", cases[0].ExpectedResponse)
	assert.Equal(t, "case-002", cases[1].ID)
	assert.Equal(t, "get_weather", cases[1].ExpectedFunctionCall.Name)
}

func TestLoadYAMLList(t *testing.T) {
	path := writeFile(t, "d.yml", "- prompt: one\n- prompt: two\n")
	cases, err := dataset.Load(path)
	require.NoError(t, err)
	assert.Len(t, cases, 2)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.json") }},
		{"unparseable json", func(t *testing.T) string { return writeFile(t, "d.json", `[{"prompt": `) }},
		{"unparseable yaml", func(t *testing.T) string { return writeFile(t, "d.yaml", "- prompt: [unclosed\n") }},
		{"duplicate ids", func(t *testing.T) string {
			return writeFile(t, "d.json", `[{"id": "a", "prompt": "x"}, {"id": "a", "prompt": "y"}]`)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dataset.Load(tt.path(t))
			require.Error(t, err)
			var re *result.ResourceError
			assert.True(t, errors.As(err, &re), "expected ResourceError, got %T", err)
		})
	}
}
