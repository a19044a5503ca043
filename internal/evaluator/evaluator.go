// Package evaluator scores processed responses. Records that expect a tool
// call are compared with the expected call directly; free-text records are
// graded by a semantic judge model.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/signalnine/judgebench/internal/logging"
	"github.com/signalnine/judgebench/internal/model"
	"github.com/signalnine/judgebench/internal/normalize"
	"github.com/signalnine/judgebench/internal/result"
	"github.com/signalnine/judgebench/internal/runner"
)

// Artifact file names.
const (
	ResultsFile = "evaluation_results.json"
	SummaryFile = "evaluation_summary.json"
)

// DefaultPassThreshold is the minimum score a record needs to pass.
const DefaultPassThreshold = 0.7

// Test modes.
const (
	ModeFunctionCall = "function_call"
	ModeNoFunction   = "no_function"
)

type Variant string

const (
	VariantWithTool    Variant = "with_tool"
	VariantWithoutTool Variant = "without_tool"
)

// EvaluationError reports an evaluation that could not produce a meaningful
// result. Callers treat it as a soft failure.
type EvaluationError struct {
	Reason string
	Err    error
}

func (e *EvaluationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("evaluation failed: %s: %v", e.Reason, e.Err)
	}
	return "evaluation failed: " + e.Reason
}

func (e *EvaluationError) Unwrap() error { return e.Err }

type Options struct {
	TestMode         string
	JudgeModel       string
	RunBothToolModes bool
	// Judge grades without_tool records. Nil means no judge is available.
	Judge         model.Client
	Samples       int
	Concurrency   int
	PassThreshold float64
	Criteria      []Criterion
	Logger        *slog.Logger
}

// RecordResult is the score of one record under one variant.
type RecordResult struct {
	ID                   string               `json:"id"`
	Variant              Variant              `json:"variant"`
	Prompt               string               `json:"prompt"`
	ExpectedResponse     string               `json:"expected_response,omitempty"`
	ExpectedFunctionCall *model.FunctionCall  `json:"expected_function_call,omitempty"`
	ResponseText         string               `json:"response_text,omitempty"`
	FunctionCalls        []model.FunctionCall `json:"function_calls,omitempty"`
	Score                float64              `json:"score"`
	Passed               bool                 `json:"passed"`
	CriterionScores      map[string]float64   `json:"criterion_scores,omitempty"`
	Reason               string               `json:"reason,omitempty"`
	Error                string               `json:"error,omitempty"`
}

type VariantSummary struct {
	Total        int     `json:"total"`
	Passed       int     `json:"passed"`
	Errored      int     `json:"errored"`
	PassRate     float64 `json:"pass_rate"`
	AverageScore float64 `json:"average_score"`
}

type Summary struct {
	SourcePath    string                      `json:"source_path"`
	JudgeModel    string                      `json:"judge_model,omitempty"`
	TestMode      string                      `json:"test_mode,omitempty"`
	PassThreshold float64                     `json:"pass_threshold"`
	Total         int                         `json:"total"`
	Passed        int                         `json:"passed"`
	Failed        int                         `json:"failed"`
	Errored       int                         `json:"errored"`
	PassRate      float64                     `json:"pass_rate"`
	AverageScore  float64                     `json:"average_score"`
	Variants      map[Variant]*VariantSummary `json:"variants"`
}

// Report is the full outcome of an evaluation.
type Report struct {
	Summary Summary        `json:"summary"`
	Results []RecordResult `json:"results"`
}

type Evaluator struct {
	opts     Options
	criteria []Criterion
	logger   *slog.Logger

	mu     sync.Mutex
	report *Report
}

func New(opts Options) *Evaluator {
	if opts.Samples < 1 {
		opts.Samples = 3
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PassThreshold <= 0 {
		opts.PassThreshold = DefaultPassThreshold
	}
	criteria := opts.Criteria
	if len(criteria) == 0 {
		criteria = DefaultCriteria
	}
	return &Evaluator{opts: opts, criteria: criteria, logger: logging.Named(opts.Logger, "evaluator")}
}

type task struct {
	rec     normalize.Record
	variant Variant
}

// EvaluateResults scores the processed-responses file at path. The report is
// kept for SaveResults. A missing or unparseable file is a
// *result.ResourceError; every other failure is an *EvaluationError.
func (e *Evaluator) EvaluateResults(ctx context.Context, path string) (*Report, error) {
	var processed normalize.Processed
	if err := result.ReadJSON(path, &processed); err != nil {
		return nil, err
	}
	if len(processed.Responses) == 0 {
		return nil, &EvaluationError{Reason: fmt.Sprintf("no records in %s", path)}
	}

	tasks, err := e.plan(processed.Responses)
	if err != nil {
		return nil, err
	}
	needsJudge := false
	for _, t := range tasks {
		if t.variant == VariantWithoutTool && t.rec.Status != normalize.StatusError && t.rec.ExpectedResponse != "" {
			needsJudge = true
			break
		}
	}
	if needsJudge && e.opts.Judge == nil {
		return nil, &EvaluationError{Reason: fmt.Sprintf("semantic judge %q is unavailable", e.opts.JudgeModel)}
	}

	e.logger.Info("evaluating", "path", path, "records", len(processed.Responses), "tasks", len(tasks), "judge", e.opts.JudgeModel)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	results := make([]RecordResult, len(tasks))
	judged := make([]bool, len(tasks))
	jobs := make([]runner.Job, len(tasks))
	for i, t := range tasks {
		jobs[i] = func(ctx context.Context) error {
			res, usedJudge, err := e.score(ctx, t)
			if err != nil && errors.Is(err, model.ErrAuthentication) {
				cancel(err)
			}
			results[i] = res
			judged[i] = usedJudge
			return nil
		}
	}
	runner.RunPool(ctx, e.opts.Concurrency, jobs)

	if cause := context.Cause(ctx); cause != nil && errors.Is(cause, model.ErrAuthentication) {
		return nil, &EvaluationError{Reason: "semantic judge rejected its credentials", Err: cause}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	judgedCount, judgeFailures := 0, 0
	for i, r := range results {
		if !judged[i] {
			continue
		}
		judgedCount++
		if r.Error != "" {
			judgeFailures++
		}
	}
	if judgedCount > 0 && judgeFailures == judgedCount {
		return nil, &EvaluationError{Reason: fmt.Sprintf("semantic judge failed for all %d records", judgedCount)}
	}

	report := &Report{Summary: e.summarize(path, results), Results: results}
	e.mu.Lock()
	e.report = report
	e.mu.Unlock()

	s := report.Summary
	e.logger.Info("evaluation finished", "total", s.Total, "passed", s.Passed, "errored", s.Errored, "pass_rate", s.PassRate)
	return report, nil
}

// SaveResults writes the last report into dir.
func (e *Evaluator) SaveResults(dir string) error {
	e.mu.Lock()
	report := e.report
	e.mu.Unlock()
	if report == nil {
		return fmt.Errorf("no evaluation results to save")
	}
	if _, err := result.WriteJSON(dir, ResultsFile, report); err != nil {
		return err
	}
	path, err := result.WriteJSON(dir, SummaryFile, report.Summary)
	if err != nil {
		return err
	}
	e.logger.Info("saved evaluation results", "summary", path)
	return nil
}

func (e *Evaluator) plan(records []normalize.Record) ([]task, error) {
	var fixed Variant
	switch e.opts.TestMode {
	case "":
	case ModeFunctionCall:
		fixed = VariantWithTool
	case ModeNoFunction:
		fixed = VariantWithoutTool
	default:
		return nil, &EvaluationError{Reason: fmt.Sprintf("invalid test mode %q", e.opts.TestMode)}
	}

	var tasks []task
	for _, rec := range records {
		switch {
		case e.opts.RunBothToolModes:
			tasks = append(tasks, task{rec, VariantWithTool}, task{rec, VariantWithoutTool})
		case fixed != "":
			tasks = append(tasks, task{rec, fixed})
		case rec.ExpectedFunctionCall != nil:
			tasks = append(tasks, task{rec, VariantWithTool})
		default:
			tasks = append(tasks, task{rec, VariantWithoutTool})
		}
	}
	return tasks, nil
}

// score grades one task. usedJudge reports whether the judge was consulted.
func (e *Evaluator) score(ctx context.Context, t task) (res RecordResult, usedJudge bool, err error) {
	rec := t.rec
	res = RecordResult{
		ID:                   rec.ID,
		Variant:              t.variant,
		Prompt:               rec.Prompt,
		ExpectedResponse:     rec.ExpectedResponse,
		ExpectedFunctionCall: rec.ExpectedFunctionCall,
		ResponseText:         rec.ResponseText,
		FunctionCalls:        rec.FunctionCalls,
	}
	if rec.Status == normalize.StatusError {
		res.Error = "no response: " + rec.Error
		return res, false, nil
	}

	switch t.variant {
	case VariantWithTool:
		res.Score, res.Reason = CompareFunctionCall(rec.ExpectedFunctionCall, rec.FunctionCalls)
	case VariantWithoutTool:
		if rec.ExpectedResponse == "" {
			res.Error = "no expected response to judge against"
			return res, false, nil
		}
		scores, err := e.judge(ctx, rec.Prompt, rec.ExpectedResponse, rec.ResponseText)
		if err != nil {
			e.logger.Warn("judge failed", "id", rec.ID, "err", err)
			res.Error = err.Error()
			return res, true, err
		}
		res.CriterionScores = scores
		res.Score = ComputeRubricScore(e.criteria, scores)
		usedJudge = true
	}
	res.Passed = res.Score >= e.opts.PassThreshold
	e.logger.Debug("scored", "id", rec.ID, "variant", t.variant, "score", res.Score, "passed", res.Passed)
	return res, usedJudge, nil
}

func (e *Evaluator) summarize(path string, results []RecordResult) Summary {
	s := Summary{
		SourcePath:    path,
		JudgeModel:    e.opts.JudgeModel,
		TestMode:      e.opts.TestMode,
		PassThreshold: e.opts.PassThreshold,
		Variants:      make(map[Variant]*VariantSummary),
	}
	var scoreSum float64
	variantSums := make(map[Variant]float64)
	for _, r := range results {
		vs, ok := s.Variants[r.Variant]
		if !ok {
			vs = &VariantSummary{}
			s.Variants[r.Variant] = vs
		}
		s.Total++
		vs.Total++
		switch {
		case r.Error != "":
			s.Errored++
			vs.Errored++
		case r.Passed:
			s.Passed++
			vs.Passed++
		default:
			s.Failed++
		}
		scoreSum += r.Score
		variantSums[r.Variant] += r.Score
	}
	if s.Total > 0 {
		s.PassRate = float64(s.Passed) / float64(s.Total)
		s.AverageScore = scoreSum / float64(s.Total)
	}
	for v, vs := range s.Variants {
		vs.PassRate = float64(vs.Passed) / float64(vs.Total)
		vs.AverageScore = variantSums[v] / float64(vs.Total)
	}
	return s
}

// VariantNames lists the variants present in s in a stable order.
func (s *Summary) VariantNames() []Variant {
	names := make([]Variant, 0, len(s.Variants))
	for v := range s.Variants {
		names = append(names, v)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
