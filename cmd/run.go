package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/signalnine/judgebench/internal/config"
	"github.com/signalnine/judgebench/internal/dataset"
	"github.com/signalnine/judgebench/internal/logging"
	"github.com/signalnine/judgebench/internal/model"
	"github.com/signalnine/judgebench/internal/pipeline"
	"github.com/signalnine/judgebench/internal/pricing"
	"github.com/signalnine/judgebench/internal/report"
	"github.com/signalnine/judgebench/internal/runner"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	flags := config.DefaultFlags()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a dataset against a model, or evaluate existing responses",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd, opts, flags)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&flags.EvalOnly, "eval-only", false, "skip generation and evaluate --processed-responses")
	f.StringVar(&flags.ProcessedResponses, "processed-responses", "", "processed responses file (required with --eval-only)")
	f.StringVar(&flags.ModelType, "model-type", "", "model backend: gemini or openai (required unless --eval-only)")
	f.StringVar(&flags.Dataset, "dataset", "", "test dataset, JSON or YAML (required unless --eval-only)")
	f.StringVar(&flags.OpenAIModelName, "openai-model-name", flags.OpenAIModelName, "OpenAI model name")
	f.StringVar(&flags.GeminiModelID, "gemini-model-id", flags.GeminiModelID, "Gemini model ID")
	f.StringVar(&flags.OpenAIAPIKey, "openai-api-key", "", "OpenAI API key (default $OPENAI_API_KEY)")
	f.StringVar(&flags.SemanticJudgeModel, "semantic-judge-model", flags.SemanticJudgeModel, "model used to judge free-text responses")
	f.BoolVar(&flags.SkipEvaluation, "skip-evaluation", false, "stop after the processed responses are saved")
	f.StringVar(&flags.Mode, "mode", "", "eval-only test mode: function_call or no_function (default: per record)")
	f.BoolVar(&flags.RunBothToolModes, "run-both-tool-modes", false, "eval-only: score every record with and without tools")
	return cmd
}

func runTests(cmd *cobra.Command, opts *rootOptions, flags config.Flags) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()
	log := logging.Named(logger, "cli")

	lookup, err := config.EnvLookup(cfg.Secrets.EnvFile)
	if err != nil {
		return err
	}
	cfg = cfg.WithEnvironment(lookup)

	rc, err := config.Resolve(flags, lookup)
	if err != nil {
		log.Error("invalid run configuration", "err", err)
		return err
	}

	orch := pipeline.NewOrchestrator(orchestratorOpts(cfg, logger))
	out, err := orch.Run(cmd.Context(), rc)
	if err != nil {
		log.Error("run failed", "err", err)
		return err
	}

	w := opts.stdout
	fmt.Fprintf(w, "Run directory: %s\n", out.RunDir)
	switch out.Status {
	case pipeline.StatusEvaluationSkipped:
		fmt.Fprintln(w, "Evaluation skipped.")
	case pipeline.StatusEvaluationFailed:
		fmt.Fprintf(w, "Evaluation failed: %v\nGenerated artifacts were kept.\n", out.EvaluationErr)
		return nil
	}

	table, err := pricing.LoadOrDefault(cfg.Pricing.File)
	if err != nil {
		log.Warn("pricing table unavailable, costs not estimated", "err", err)
	}
	fmt.Fprintln(w, "\n--- Results ---")
	return report.Generate(out.RunDir, "table", w, table)
}

// orchestratorOpts wires the production collaborators from cfg.
func orchestratorOpts(cfg *config.Config, logger *slog.Logger) *pipeline.Opts {
	clientOpts := func(kind model.Kind) model.Options {
		mo := model.Options{Temperature: model.DeterministicTemperature, Logger: logger}
		switch kind {
		case model.KindOpenAI:
			mo.BaseURL = cfg.Endpoints.OpenAIBaseURL
		case model.KindGemini:
			mo.BaseURL = cfg.Endpoints.GeminiBaseURL
		}
		return mo
	}
	return &pipeline.Opts{
		ResultsDir:  cfg.Results.Dir,
		Logger:      logger,
		LoadDataset: dataset.Load,
		NewModel: func(sel model.Selection) (model.Client, error) {
			return model.New(sel, clientOpts(sel.Kind))
		},
		NewTester: func(c model.Client, cases []dataset.TestCase) pipeline.Tester {
			limited := model.NewRateLimited(c, cfg.Tester.RequestsPerSecond, cfg.Tester.Concurrency)
			return runner.NewModelTester(limited, cases, &runner.TesterOpts{
				Concurrency: cfg.Tester.Concurrency,
				Logger:      logger,
			})
		},
		NewEvaluator: pipeline.DefaultEvaluator(pipeline.EvaluatorSettings{
			Samples:       cfg.Judge.Samples,
			Concurrency:   cfg.Judge.Concurrency,
			ClientOptions: clientOpts,
			Logger:        logger,
		}),
	}
}

// usageArgs reports positional argument errors as usage errors.
func usageArgs(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := v(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}
