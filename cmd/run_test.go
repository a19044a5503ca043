package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/judgebench/internal/config"
	"github.com/signalnine/judgebench/internal/evaluator"
	"github.com/signalnine/judgebench/internal/model"
	"github.com/signalnine/judgebench/internal/normalize"
	"github.com/signalnine/judgebench/internal/report"
	"github.com/signalnine/judgebench/internal/result"
)

const judgeModel = "gpt-4o"

// fakeOpenAI answers chat completions for the key sk-test. The judge model
// gets scores, requests with tools get a get_weather call and everything
// else gets "Paris".
type fakeOpenAI struct {
	*httptest.Server
	generations atomic.Int32
	judgments   atomic.Int32
}

func newFakeOpenAI(t *testing.T) *fakeOpenAI {
	f := &fakeOpenAI{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string           `json:"model"`
			Tools []map[string]any `json:"tools"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": {"message": "Incorrect API key provided"}}`))
			return
		}

		var message string
		switch {
		case body.Model == judgeModel:
			f.judgments.Add(1)
			message = `{"content": "{\"semantic_equivalence\": 1.0, \"completeness\": 0.9}"}`
		case len(body.Tools) > 0:
			f.generations.Add(1)
			message = `{"content": null, "tool_calls": [{"type": "function", "function": {"name": "get_weather", "arguments": "{\"city\": \"Oslo\"}"}}]}`
		default:
			f.generations.Add(1)
			message = `{"content": "Paris"}`
		}
		fmt.Fprintf(w, `{"choices": [{"message": %s, "finish_reason": "stop"}], "usage": {"prompt_tokens": 10, "completion_tokens": 2}}`, message)
	}))
	t.Cleanup(f.Close)
	return f
}

type env struct {
	t          *testing.T
	dir        string
	resultsDir string
	configPath string
	dataset    string
	server     *fakeOpenAI
}

func newEnv(t *testing.T) *env {
	for _, k := range []string{"OPENAI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY", "OPENAI_BASE_URL", "GEMINI_BASE_URL"} {
		t.Setenv(k, "")
	}
	e := &env{t: t, dir: t.TempDir(), server: newFakeOpenAI(t)}
	e.resultsDir = filepath.Join(e.dir, "results")
	e.dataset = filepath.Join(e.dir, "dataset.json")
	e.configPath = filepath.Join(e.dir, "judgebench.yaml")

	require.NoError(t, os.WriteFile(e.dataset, []byte(`[
  {"id": "capital", "prompt": "Capital of France?", "expected_response": "Paris"},
  {"id": "weather", "prompt": "Weather in Oslo?",
   "tools": [{"name": "get_weather", "parameters": {"type": "object"}}],
   "expected_function_call": {"name": "get_weather", "arguments": {"city": "Oslo"}}}
]`), 0o644))
	require.NoError(t, os.WriteFile(e.configPath, []byte(fmt.Sprintf(`
results:
  dir: %s
logging:
  level: debug
  destination: %s
judge:
  samples: 1
endpoints:
  openai_base_url: %s
`, e.resultsDir, filepath.Join(e.dir, "judgebench.log"), e.server.URL)), 0o644))
	return e
}

func (e *env) run(args ...string) (code int, stdout, stderr string) {
	var out, errOut bytes.Buffer
	code = execute(append([]string{"--config", e.configPath}, args...), &out, &errOut)
	return code, out.String(), errOut.String()
}

func (e *env) onlyRunDir() string {
	e.t.Helper()
	dirs, err := result.ListRunDirs(e.resultsDir)
	require.NoError(e.t, err)
	require.Len(e.t, dirs, 1)
	return dirs[0]
}

func TestRunFullWithEvaluation(t *testing.T) {
	e := newEnv(t)
	code, stdout, stderr := e.run("run", "--model-type", "openai", "--dataset", e.dataset,
		"--openai-api-key", "sk-test", "--semantic-judge-model", judgeModel)
	require.Equal(t, exitOK, code, stderr)

	runDir := e.onlyRunDir()
	for _, name := range []string{result.RawResponsesFile, result.ProcessedResponsesFile, result.ParametersFile, evaluator.ResultsFile, evaluator.SummaryFile} {
		assert.FileExists(t, filepath.Join(runDir, name))
	}
	assert.Contains(t, stdout, "Run directory: "+runDir)
	assert.Contains(t, stdout, "with_tool")
	assert.Contains(t, stdout, "without_tool")
	assert.Equal(t, int32(2), e.server.generations.Load())
	assert.Equal(t, int32(1), e.server.judgments.Load())

	var summary evaluator.Summary
	require.NoError(t, result.ReadJSON(filepath.Join(runDir, evaluator.SummaryFile), &summary))
	assert.Equal(t, 2, summary.Passed)
	assert.Equal(t, judgeModel, summary.JudgeModel)
}

func TestRunSkipEvaluation(t *testing.T) {
	e := newEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	code, stdout, stderr := e.run("run", "--model-type", "openai", "--dataset", e.dataset, "--skip-evaluation")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "Evaluation skipped")

	runDir := e.onlyRunDir()
	assert.NoFileExists(t, filepath.Join(runDir, evaluator.SummaryFile))
	assert.Zero(t, e.server.judgments.Load())

	params, err := result.ReadParameters(filepath.Join(runDir, result.ParametersFile))
	require.NoError(t, err)
	assert.Nil(t, params.SemanticJudgeModel)
	assert.Equal(t, config.DefaultOpenAIModel, params.ModelID)

	var processed normalize.Processed
	require.NoError(t, result.ReadJSON(filepath.Join(runDir, result.ProcessedResponsesFile), &processed))
	require.Len(t, processed.Responses, 2)
	assert.Equal(t, "Paris", processed.Responses[0].ResponseText)
	require.Len(t, processed.Responses[1].FunctionCalls, 1)
}

func TestRunSecretsFile(t *testing.T) {
	e := newEnv(t)
	secrets := filepath.Join(e.dir, ".env")
	require.NoError(t, os.WriteFile(secrets, []byte("export OPENAI_API_KEY=\"sk-test\"\n"), 0o600))
	os.Unsetenv("OPENAI_API_KEY")
	cfg, err := os.ReadFile(e.configPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(e.configPath, append(cfg, []byte("secrets:\n  env_file: "+secrets+"\n")...), 0o644))

	code, _, stderr := e.run("run", "--model-type", "openai", "--dataset", e.dataset, "--skip-evaluation")
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, int32(2), e.server.generations.Load())
}

func TestRunMissingOpenAIKey(t *testing.T) {
	e := newEnv(t)
	code, _, stderr := e.run("run", "--model-type", "openai", "--dataset", e.dataset)

	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "OPENAI_API_KEY")
	assert.NoDirExists(t, e.resultsDir)
	assert.Zero(t, e.server.generations.Load())
	assert.Contains(t, readFile(t, filepath.Join(e.dir, "judgebench.log")), "invalid run configuration")
}

func writeProcessedFile(t *testing.T, dir string) string {
	t.Helper()
	path, err := result.WriteJSON(dir, "p.json", normalize.Processed{
		Metadata: normalize.Metadata{ModelType: "gemini", ModelID: "gemini-1.5-flash-002", RecordCount: 2},
		Responses: []normalize.Record{
			{ID: "capital", Prompt: "Capital of France?", ExpectedResponse: "Paris", ResponseText: "Paris", Status: normalize.StatusOK},
			{ID: "city", Prompt: "Largest city in Norway?", ExpectedResponse: "Oslo", ResponseText: "Oslo", Status: normalize.StatusOK},
		},
	})
	require.NoError(t, err)
	return path
}

func TestRunEvalOnly(t *testing.T) {
	e := newEnv(t)
	processed := writeProcessedFile(t, e.dir)

	code, stdout, stderr := e.run("run", "--eval-only", "--processed-responses", processed,
		"--semantic-judge-model", judgeModel, "--openai-api-key", "sk-test", "--mode", config.ModeNoFunction)
	require.Equal(t, exitOK, code, stderr)

	runDir := e.onlyRunDir()
	assert.FileExists(t, filepath.Join(runDir, evaluator.SummaryFile))
	assert.NoFileExists(t, filepath.Join(runDir, result.RawResponsesFile))
	assert.NoFileExists(t, filepath.Join(runDir, result.ProcessedResponsesFile))
	assert.Zero(t, e.server.generations.Load())
	assert.Equal(t, int32(2), e.server.judgments.Load())
	assert.Contains(t, stdout, "gemini/gemini-1.5-flash-002")
}

func TestRunEvalOnlyEvaluationFailureExitsZero(t *testing.T) {
	e := newEnv(t)
	processed := writeProcessedFile(t, e.dir)
	before := readFile(t, processed)

	// The default judge is a Gemini model and no Gemini key is set.
	code, stdout, stderr := e.run("run", "--eval-only", "--processed-responses", processed)
	assert.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "Evaluation failed")
	assert.Equal(t, before, readFile(t, processed))
	assert.NoFileExists(t, filepath.Join(e.onlyRunDir(), evaluator.SummaryFile))
}

func TestRunFatalErrors(t *testing.T) {
	t.Run("missing processed file", func(t *testing.T) {
		e := newEnv(t)
		code, _, stderr := e.run("run", "--eval-only", "--processed-responses", filepath.Join(e.dir, "nope.json"))
		assert.Equal(t, exitFatal, code)
		assert.Contains(t, stderr, "nope.json")
	})
	t.Run("missing dataset", func(t *testing.T) {
		e := newEnv(t)
		code, _, _ := e.run("run", "--model-type", "openai", "--openai-api-key", "sk-test", "--dataset", filepath.Join(e.dir, "nope.json"))
		assert.Equal(t, exitFatal, code)
		assert.NoFileExists(t, filepath.Join(e.onlyRunDir(), result.RawResponsesFile))
	})
	t.Run("rejected credentials", func(t *testing.T) {
		e := newEnv(t)
		code, _, stderr := e.run("run", "--model-type", "openai", "--openai-api-key", "sk-wrong", "--dataset", e.dataset)
		assert.Equal(t, exitFatal, code)
		assert.Contains(t, stderr, "generation")
		assert.NoFileExists(t, filepath.Join(e.onlyRunDir(), result.RawResponsesFile))
	})
}

func TestRunUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no mode inputs", []string{"run"}},
		{"eval-only without file", []string{"run", "--eval-only"}},
		{"eval-only with skip", []string{"run", "--eval-only", "--processed-responses", "p.json", "--skip-evaluation"}},
		{"unknown model type", []string{"run", "--model-type", "claude", "--dataset", "d.json"}},
		{"unknown flag", []string{"run", "--bogus"}},
		{"positional argument", []string{"run", "extra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			code, _, stderr := e.run(tt.args...)
			assert.Equal(t, exitUsage, code)
			assert.Contains(t, stderr, "Error:")
			assert.NoDirExists(t, e.resultsDir)
		})
	}
}

func TestReportAndList(t *testing.T) {
	e := newEnv(t)
	code, _, stderr := e.run("run", "--model-type", "openai", "--openai-api-key", "sk-test", "--dataset", e.dataset, "--skip-evaluation")
	require.Equal(t, exitOK, code, stderr)
	runDir := e.onlyRunDir()

	code, stdout, stderr := e.run("list")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, filepath.Base(runDir)+" [raw, processed, parameters]")

	code, stdout, stderr = e.run("report", "--format", "json")
	require.Equal(t, exitOK, code, stderr)
	var s report.RunSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &s))
	assert.Equal(t, runDir, s.RunDir)
	assert.Equal(t, 2, s.Cases)
	assert.Equal(t, 20, s.InputTokens)
	assert.Greater(t, s.CostUSD, 0.0)

	code, stdout, _ = e.run("report", runDir, "--format", "markdown")
	require.Equal(t, exitOK, code)
	assert.True(t, strings.HasPrefix(stdout, "## "+filepath.Base(runDir)))
}

func TestListWithoutRuns(t *testing.T) {
	e := newEnv(t)
	code, stdout, _ := e.run("list")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "No runs")
}

func TestExplicitConfigMustExist(t *testing.T) {
	var out, errOut bytes.Buffer
	code := execute([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "list"}, &out, &errOut)
	assert.Equal(t, exitFatal, code)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{&usageError{err: errors.New("unknown flag")}, exitUsage},
		{&config.ConfigurationError{Field: "--dataset", Reason: "required"}, exitUsage},
		{fmt.Errorf("resolving: %w", &config.CredentialError{Provider: model.KindOpenAI}), exitUsage},
		{&result.ResourceError{Path: "d.json", Op: "reading", Err: os.ErrNotExist}, exitFatal},
		{errors.New("boom"), exitFatal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), "%v", tt.err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
