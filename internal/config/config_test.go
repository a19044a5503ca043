package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalnine/judgebench/internal/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFull(t *testing.T) {
	path := writeFile(t, "judgebench.yaml", `
results:
  dir: out
logging:
  level: debug
  format: json
  suppress: [tester]
secrets:
  env_file: .env
tester:
  concurrency: 8
  requests_per_second: 2.5
judge:
  samples: 5
pricing:
  file: pricing.yaml
endpoints:
  openai_base_url: http://localhost:9000/v1
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Results.Dir != "out" {
		t.Errorf("expected results dir 'out', got %q", cfg.Results.Dir)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging options %+v", cfg.Logging)
	}
	if cfg.Logging.Destination != "stderr" {
		t.Errorf("expected default destination to survive, got %q", cfg.Logging.Destination)
	}
	if cfg.Tester.Concurrency != 8 || cfg.Tester.RequestsPerSecond != 2.5 {
		t.Errorf("unexpected tester options %+v", cfg.Tester)
	}
	if cfg.Judge.Samples != 5 || cfg.Judge.Concurrency != 4 {
		t.Errorf("unexpected judge options %+v", cfg.Judge)
	}
	if cfg.Secrets.EnvFile != ".env" || cfg.Pricing.File != "pricing.yaml" {
		t.Errorf("unexpected secrets/pricing %+v %+v", cfg.Secrets, cfg.Pricing)
	}
	if cfg.Endpoints.OpenAIBaseURL != "http://localhost:9000/v1" {
		t.Errorf("unexpected endpoints %+v", cfg.Endpoints)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := config.Load("nonexistent.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadOptional(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "judgebench.yaml")

	cfg, err := config.LoadOptional(missing, false)
	if err != nil {
		t.Fatalf("implicit missing config should fall back to defaults: %v", err)
	}
	if cfg.Results.Dir != "results" {
		t.Errorf("expected default results dir, got %q", cfg.Results.Dir)
	}

	if _, err := config.LoadOptional(missing, true); err == nil {
		t.Error("expected error for explicitly requested missing config")
	}
}

func TestLoadInvalid(t *testing.T) {
	cases := map[string]string{
		"bad yaml":         "results: [",
		"empty dir":        "results:\n  dir: \"\"\n",
		"bad level":        "logging:\n  level: loud\n",
		"bad format":       "logging:\n  format: xml\n",
		"zero concurrency": "tester:\n  concurrency: 0\n",
		"negative rps":     "tester:\n  requests_per_second: -1\n",
		"zero samples":     "judge:\n  samples: 0\n",
		"bad endpoint":     "endpoints:\n  openai_base_url: not a url\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := config.Load(writeFile(t, "c.yaml", content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadInvalidNamesField(t *testing.T) {
	_, err := config.Load(writeFile(t, "c.yaml", "tester:\n  concurrency: 0\njudge:\n  samples: 0\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"tester.concurrency", "judge.samples"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestWithEnvironment(t *testing.T) {
	cfg := config.Default()
	cfg.Endpoints.GeminiBaseURL = "http://from-file"
	got := cfg.WithEnvironment(config.MapLookup(map[string]string{
		"OPENAI_BASE_URL": "http://from-env",
		"GEMINI_BASE_URL": "http://ignored",
	}))
	if got.Endpoints.OpenAIBaseURL != "http://from-env" {
		t.Errorf("expected env openai endpoint, got %q", got.Endpoints.OpenAIBaseURL)
	}
	if got.Endpoints.GeminiBaseURL != "http://from-file" {
		t.Errorf("file endpoint should win, got %q", got.Endpoints.GeminiBaseURL)
	}
	if cfg.Endpoints.OpenAIBaseURL != "" {
		t.Error("WithEnvironment must not modify the receiver")
	}
}

func TestParseEnvFile(t *testing.T) {
	path := writeFile(t, ".env", `# comment
OPENAI_API_KEY=sk-plain
export GEMINI_API_KEY="quoted"
GOOGLE_API_KEY='single'

not a pair
EMPTY=
`)
	vars, err := config.ParseEnvFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"OPENAI_API_KEY": "sk-plain",
		"GEMINI_API_KEY": "quoted",
		"GOOGLE_API_KEY": "single",
		"EMPTY":          "",
	}
	if len(vars) != len(want) {
		t.Fatalf("expected %d vars, got %v", len(want), vars)
	}
	for k, v := range want {
		if vars[k] != v {
			t.Errorf("%s: expected %q, got %q", k, v, vars[k])
		}
	}
}

func TestEnvLookup(t *testing.T) {
	path := writeFile(t, ".env", "JUDGEBENCH_TEST_FROM_FILE=file\nJUDGEBENCH_TEST_BOTH=file\n")
	t.Setenv("JUDGEBENCH_TEST_BOTH", "env")

	lookup, err := config.EnvLookup(path)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := lookup("JUDGEBENCH_TEST_FROM_FILE"); v != "file" {
		t.Errorf("expected value from file, got %q", v)
	}
	if v, _ := lookup("JUDGEBENCH_TEST_BOTH"); v != "env" {
		t.Errorf("environment should win, got %q", v)
	}
	if _, ok := lookup("JUDGEBENCH_TEST_NOWHERE"); ok {
		t.Error("expected unknown key to be absent")
	}

	if _, err := config.EnvLookup(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected error for missing secrets file")
	}
}
