// Package pipeline sequences the stages of a test run: run directory,
// dataset, generation, normalization, parameters snapshot and evaluation.
// Every stage reads its input from the previous stage's artifact on disk, so
// an evaluation can be re-run later against the same processed file.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/signalnine/judgebench/internal/config"
	"github.com/signalnine/judgebench/internal/dataset"
	"github.com/signalnine/judgebench/internal/evaluator"
	"github.com/signalnine/judgebench/internal/logging"
	"github.com/signalnine/judgebench/internal/model"
	"github.com/signalnine/judgebench/internal/normalize"
	"github.com/signalnine/judgebench/internal/result"
	"github.com/signalnine/judgebench/internal/runner"
)

// Stage names used in StageError.
const (
	StageRunDir        = "run directory"
	StageDataset       = "dataset"
	StageGeneration    = "generation"
	StageNormalization = "normalization"
	StageEvaluation    = "evaluation"
)

// StageError is a fatal failure of one stage. Artifacts written by earlier
// stages stay on disk.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

type Status string

const (
	StatusCompleted         Status = "completed"
	StatusEvaluationSkipped Status = "evaluation_skipped"
	StatusEvaluationFailed  Status = "evaluation_failed"
)

// Outcome describes a run that did not fail fatally.
type Outcome struct {
	RunDir                 string
	Status                 Status
	RawResponsesPath       string
	ProcessedResponsesPath string
	ParametersPath         string
	Evaluation             *evaluator.Report
	// EvaluationErr is set when Status is StatusEvaluationFailed.
	EvaluationErr error
}

// Tester produces the raw results of a dataset.
type Tester interface {
	RunTests(ctx context.Context) (runner.RawResult, error)
}

// Evaluator scores a processed-responses file and persists its report.
type Evaluator interface {
	EvaluateResults(ctx context.Context, path string) (*evaluator.Report, error)
	SaveResults(dir string) error
}

// Opts wires the collaborators of an Orchestrator. Nil fields get the
// production implementation.
type Opts struct {
	ResultsDir string
	Logger     *slog.Logger
	Now        func() time.Time

	LoadDataset  func(path string) ([]dataset.TestCase, error)
	NewModel     func(sel model.Selection) (model.Client, error)
	NewTester    func(client model.Client, cases []dataset.TestCase) Tester
	Normalize    func(ctx context.Context, rawPath string, client model.Client) (*normalize.Processed, error)
	NewEvaluator func(rc *config.RunConfig) Evaluator
}

type Orchestrator struct {
	opts   Opts
	logger *slog.Logger
}

func NewOrchestrator(opts *Opts) *Orchestrator {
	o := Opts{}
	if opts != nil {
		o = *opts
	}
	if o.ResultsDir == "" {
		o.ResultsDir = "results"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.LoadDataset == nil {
		o.LoadDataset = dataset.Load
	}
	if o.NewModel == nil {
		logger := o.Logger
		o.NewModel = func(sel model.Selection) (model.Client, error) {
			return model.New(sel, model.Options{Temperature: model.DeterministicTemperature, Logger: logger})
		}
	}
	if o.NewTester == nil {
		logger := o.Logger
		o.NewTester = func(c model.Client, cases []dataset.TestCase) Tester {
			return runner.NewModelTester(c, cases, &runner.TesterOpts{Logger: logger})
		}
	}
	if o.Normalize == nil {
		o.Normalize = normalize.ProcessRawResponses
	}
	if o.NewEvaluator == nil {
		o.NewEvaluator = DefaultEvaluator(EvaluatorSettings{Logger: o.Logger})
	}
	return &Orchestrator{opts: o, logger: logging.Named(o.Logger, "pipeline")}
}

// Run executes rc. A nil error means every fatal stage succeeded; a failed
// evaluation is reported through Outcome.Status, never as an error.
func (o *Orchestrator) Run(ctx context.Context, rc *config.RunConfig) (*Outcome, error) {
	switch rc.Plan.(type) {
	case *config.FullRun, *config.EvalOnlyRun:
	default:
		return nil, fmt.Errorf("unsupported run plan %T", rc.Plan)
	}

	start := o.opts.Now()
	runDir, err := result.CreateRunDir(o.opts.ResultsDir, start)
	if err != nil {
		return nil, &StageError{Stage: StageRunDir, Err: err}
	}
	o.logger.Info("run directory ready", "path", runDir)
	out := &Outcome{RunDir: runDir}

	switch plan := rc.Plan.(type) {
	case *config.FullRun:
		err = o.runFull(ctx, rc, plan, start, out)
	case *config.EvalOnlyRun:
		o.logger.Info("starting evaluation-only run", "processed_responses", plan.ProcessedResponsesPath)
		out.ProcessedResponsesPath = plan.ProcessedResponsesPath
		err = o.evaluate(ctx, rc, plan.ProcessedResponsesPath, out)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (o *Orchestrator) runFull(ctx context.Context, rc *config.RunConfig, plan *config.FullRun, start time.Time, out *Outcome) error {
	o.logger.Info("starting test run", "model_type", plan.Model.Kind, "model_id", plan.Model.ModelID, "dataset", plan.DatasetPath)

	cases, err := o.opts.LoadDataset(plan.DatasetPath)
	if err != nil {
		return &StageError{Stage: StageDataset, Err: err}
	}
	o.logger.Info("dataset loaded", "cases", len(cases))

	client, err := o.opts.NewModel(plan.Model)
	if err != nil {
		return &StageError{Stage: StageGeneration, Err: err}
	}

	raw, err := o.opts.NewTester(client, cases).RunTests(ctx)
	if err != nil {
		return &StageError{Stage: StageGeneration, Err: err}
	}
	out.RawResponsesPath, err = result.WriteJSON(out.RunDir, result.RawResponsesFile, runner.RawEnvelope{TestResults: raw})
	if err != nil {
		return &StageError{Stage: StageGeneration, Err: err}
	}
	o.logger.Info("raw responses saved", "path", out.RawResponsesPath, "cases", len(raw), "failed", raw.Failed())

	processed, err := o.opts.Normalize(ctx, out.RawResponsesPath, client)
	if err != nil {
		return &StageError{Stage: StageNormalization, Err: err}
	}
	out.ProcessedResponsesPath, err = result.WriteJSON(out.RunDir, result.ProcessedResponsesFile, processed)
	if err != nil {
		return &StageError{Stage: StageNormalization, Err: err}
	}
	o.logger.Info("processed responses saved", "path", out.ProcessedResponsesPath)

	params := &result.RunParameters{
		RunID:            uuid.NewString(),
		Timestamp:        result.Stamp(start),
		ModelType:        string(plan.Model.Kind),
		DatasetPath:      plan.DatasetPath,
		ModelID:          plan.Model.ModelID,
		GenerationConfig: result.GenerationConfig{Temperature: model.DeterministicTemperature},
	}
	if !plan.SkipEvaluation {
		judge := rc.JudgeModel
		params.SemanticJudgeModel = &judge
	}
	if path, err := result.WriteParameters(out.RunDir, params); err != nil {
		o.logger.Warn("could not save test parameters", "err", err)
	} else {
		out.ParametersPath = path
	}

	if plan.SkipEvaluation {
		o.logger.Info("evaluation skipped")
		out.Status = StatusEvaluationSkipped
		return nil
	}
	return o.evaluate(ctx, rc, out.ProcessedResponsesPath, out)
}

func (o *Orchestrator) evaluate(ctx context.Context, rc *config.RunConfig, processedPath string, out *Outcome) error {
	o.logger.Info("starting evaluation", "judge", rc.JudgeModel)
	ev := o.opts.NewEvaluator(rc)

	report, err := ev.EvaluateResults(ctx, processedPath)
	var evalErr *evaluator.EvaluationError
	switch {
	case errors.As(err, &evalErr):
		o.logger.Error("evaluation failed, keeping generated artifacts", "err", err)
		out.Status = StatusEvaluationFailed
		out.EvaluationErr = err
		return nil
	case err != nil:
		return &StageError{Stage: StageEvaluation, Err: err}
	}

	if err := ev.SaveResults(out.RunDir); err != nil {
		return &StageError{Stage: StageEvaluation, Err: err}
	}
	out.Status = StatusCompleted
	out.Evaluation = report
	return nil
}
