package config

import (
	"fmt"
	"strings"

	"github.com/signalnine/judgebench/internal/model"
)

// Built-in model defaults.
const (
	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultGeminiModel = "gemini-1.5-flash-002"
	DefaultJudgeModel  = "gemini-1.5-pro-002"
)

// Eval-only test modes.
const (
	ModeFunctionCall = "function_call"
	ModeNoFunction   = "no_function"
)

// Flags is the raw command line of a run.
type Flags struct {
	EvalOnly           bool
	ProcessedResponses string
	ModelType          string
	Dataset            string
	OpenAIModelName    string
	GeminiModelID      string
	OpenAIAPIKey       string
	SemanticJudgeModel string
	SkipEvaluation     bool
	Mode               string
	RunBothToolModes   bool
}

// DefaultFlags holds the flag defaults.
func DefaultFlags() Flags {
	return Flags{
		OpenAIModelName:    DefaultOpenAIModel,
		GeminiModelID:      DefaultGeminiModel,
		SemanticJudgeModel: DefaultJudgeModel,
	}
}

// RunConfig is a validated run request. Plan is either *FullRun or
// *EvalOnlyRun.
type RunConfig struct {
	Plan            Plan
	JudgeModel      string
	JudgeCredential string
}

// Plan is the mode-specific half of a RunConfig.
type Plan interface {
	plan()
}

// FullRun generates, normalizes and (unless skipped) evaluates a dataset.
type FullRun struct {
	Model          model.Selection
	DatasetPath    string
	SkipEvaluation bool
}

// EvalOnlyRun scores an existing processed-responses file.
type EvalOnlyRun struct {
	ProcessedResponsesPath string
	TestMode               string
	RunBothToolModes       bool
}

func (*FullRun) plan()     {}
func (*EvalOnlyRun) plan() {}

// ConfigurationError reports an invalid or incomplete combination of flags.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// CredentialError reports a backend whose API key was found nowhere.
type CredentialError struct {
	Provider model.Kind
	Sources  []string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("%s API key is required (set %s)", e.Provider, strings.Join(e.Sources, ", "))
}

var openAIKeySources = []string{"--openai-api-key", "OPENAI_API_KEY", "secrets.env_file"}

// Resolve validates flags and resolves credentials through lookup. It does
// no I/O of its own.
func Resolve(f Flags, lookup LookupFunc) (*RunConfig, error) {
	judge := f.SemanticJudgeModel
	if judge == "" {
		judge = DefaultJudgeModel
	}
	rc := &RunConfig{JudgeModel: judge}

	if f.EvalOnly {
		if f.ProcessedResponses == "" {
			return nil, &ConfigurationError{Field: "--processed-responses", Reason: "required with --eval-only"}
		}
		if f.SkipEvaluation {
			return nil, &ConfigurationError{Field: "--skip-evaluation", Reason: "cannot be combined with --eval-only"}
		}
		switch f.Mode {
		case "", ModeFunctionCall, ModeNoFunction:
		default:
			return nil, &ConfigurationError{Field: "--mode", Reason: fmt.Sprintf("unknown mode %q (want %s or %s)", f.Mode, ModeFunctionCall, ModeNoFunction)}
		}
		rc.Plan = &EvalOnlyRun{
			ProcessedResponsesPath: f.ProcessedResponses,
			TestMode:               f.Mode,
			RunBothToolModes:       f.RunBothToolModes,
		}
		rc.JudgeCredential = judgeCredential(judge, f.OpenAIAPIKey, lookup)
		return rc, nil
	}

	if f.Mode != "" {
		return nil, &ConfigurationError{Field: "--mode", Reason: "only applies with --eval-only"}
	}
	if f.RunBothToolModes {
		return nil, &ConfigurationError{Field: "--run-both-tool-modes", Reason: "only applies with --eval-only"}
	}
	if f.ModelType == "" {
		return nil, &ConfigurationError{Field: "--model-type", Reason: "required unless --eval-only is set"}
	}
	kind, err := model.ParseKind(f.ModelType)
	if err != nil {
		return nil, &ConfigurationError{Field: "--model-type", Reason: err.Error()}
	}
	if f.Dataset == "" {
		return nil, &ConfigurationError{Field: "--dataset", Reason: "required unless --eval-only is set"}
	}

	sel := model.Selection{Kind: kind}
	switch kind {
	case model.KindOpenAI:
		sel.ModelID = orDefault(f.OpenAIModelName, DefaultOpenAIModel)
		sel.APIKey = openAIKey(f.OpenAIAPIKey, lookup)
		if sel.APIKey == "" {
			return nil, &CredentialError{Provider: model.KindOpenAI, Sources: openAIKeySources}
		}
	case model.KindGemini:
		sel.ModelID = orDefault(f.GeminiModelID, DefaultGeminiModel)
		sel.APIKey = geminiKey(lookup)
	}

	rc.Plan = &FullRun{Model: sel, DatasetPath: f.Dataset, SkipEvaluation: f.SkipEvaluation}
	if !f.SkipEvaluation {
		rc.JudgeCredential = judgeCredential(judge, f.OpenAIAPIKey, lookup)
	}
	return rc, nil
}

// EvaluationEnabled reports whether the run ends with an evaluation stage.
func (rc *RunConfig) EvaluationEnabled() bool {
	if full, ok := rc.Plan.(*FullRun); ok {
		return !full.SkipEvaluation
	}
	return true
}

func judgeCredential(judge, flagKey string, lookup LookupFunc) string {
	if model.KindForModel(judge) == model.KindOpenAI {
		return openAIKey(flagKey, lookup)
	}
	return geminiKey(lookup)
}

func openAIKey(flagKey string, lookup LookupFunc) string {
	if flagKey != "" {
		return flagKey
	}
	v, _ := lookup("OPENAI_API_KEY")
	return v
}

func geminiKey(lookup LookupFunc) string {
	for _, k := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		if v, ok := lookup(k); ok && v != "" {
			return v
		}
	}
	return ""
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
