package pipeline

import (
	"log/slog"

	"github.com/signalnine/judgebench/internal/config"
	"github.com/signalnine/judgebench/internal/evaluator"
	"github.com/signalnine/judgebench/internal/logging"
	"github.com/signalnine/judgebench/internal/model"
)

// EvaluatorSettings are the run-independent evaluator knobs.
type EvaluatorSettings struct {
	Samples     int
	Concurrency int
	// ClientOptions configures the judge client for its backend. Temperature
	// is always forced to 0.
	ClientOptions func(kind model.Kind) model.Options
	Logger        *slog.Logger
}

// DefaultEvaluator returns an evaluator factory that builds the judge client
// for each run. A judge that cannot be built is left nil, and the evaluator
// reports it only if some record needs it.
func DefaultEvaluator(s EvaluatorSettings) func(rc *config.RunConfig) Evaluator {
	logger := logging.Named(s.Logger, "pipeline")
	return func(rc *config.RunConfig) Evaluator {
		opts := evaluator.Options{
			JudgeModel:  rc.JudgeModel,
			Samples:     s.Samples,
			Concurrency: s.Concurrency,
			Logger:      s.Logger,
		}
		if eval, ok := rc.Plan.(*config.EvalOnlyRun); ok {
			opts.TestMode = eval.TestMode
			opts.RunBothToolModes = eval.RunBothToolModes
		}

		kind := model.KindForModel(rc.JudgeModel)
		var mo model.Options
		if s.ClientOptions != nil {
			mo = s.ClientOptions(kind)
		}
		mo.Temperature = model.DeterministicTemperature
		if mo.Logger == nil {
			mo.Logger = s.Logger
		}
		judge, err := model.New(model.Selection{
			Kind:    kind,
			ModelID: rc.JudgeModel,
			APIKey:  rc.JudgeCredential,
		}, mo)
		if err != nil {
			logger.Warn("semantic judge unavailable", "model", rc.JudgeModel, "err", err)
		} else {
			opts.Judge = judge
		}
		return evaluator.New(opts)
	}
}
