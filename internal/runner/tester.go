package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/signalnine/judgebench/internal/dataset"
	"github.com/signalnine/judgebench/internal/logging"
	"github.com/signalnine/judgebench/internal/model"
)

// TesterOpts tunes how a ModelTester drives its dataset.
type TesterOpts struct {
	Concurrency int
	Logger      *slog.Logger
}

// ModelTester sends every test case of a dataset to one model client.
type ModelTester struct {
	client      model.Client
	cases       []dataset.TestCase
	concurrency int
	logger      *slog.Logger
}

func NewModelTester(client model.Client, cases []dataset.TestCase, opts *TesterOpts) *ModelTester {
	if opts == nil {
		opts = &TesterOpts{}
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &ModelTester{
		client:      client,
		cases:       cases,
		concurrency: concurrency,
		logger:      logging.Named(opts.Logger, "tester"),
	}
}

// RunTests runs all cases and returns once every case has finished. A model
// error on one case is recorded on that case. Authentication failures and
// cancellation abort the whole run and no result is returned.
func (t *ModelTester) RunTests(ctx context.Context) (RawResult, error) {
	if len(t.cases) == 0 {
		return nil, fmt.Errorf("dataset has no test cases")
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	results := make([]*CaseResult, len(t.cases))
	jobs := make([]Job, len(t.cases))
	for i := range t.cases {
		i := i
		jobs[i] = func(ctx context.Context) error {
			cr, err := t.runCase(ctx, i)
			if err != nil {
				cancel(err)
				return err
			}
			results[i] = cr
			return nil
		}
	}

	t.logger.Info("running test cases", "cases", len(t.cases), "model", t.client.ModelID(), "concurrency", t.concurrency)
	start := time.Now()
	if errs := RunPool(ctx, t.concurrency, jobs); len(errs) > 0 {
		if cause := context.Cause(ctx); cause != nil {
			return nil, cause
		}
		return nil, errors.Join(errs...)
	}

	raw := make(RawResult, len(results))
	for _, cr := range results {
		raw[cr.TestCase.ID] = cr
	}
	t.logger.Info("test cases finished", "cases", len(raw), "failed", raw.Failed(), "elapsed", time.Since(start).Round(time.Millisecond))
	return raw, nil
}

func (t *ModelTester) runCase(ctx context.Context, i int) (*CaseResult, error) {
	tc := t.cases[i]
	cr := &CaseResult{Index: i, TestCase: tc}

	resp, err := t.client.Generate(ctx, tc.Request())
	switch {
	case err == nil:
		cr.Response = resp.Raw
		cr.Usage = resp.Usage
		cr.LatencyMS = resp.Latency.Milliseconds()
	case errors.Is(err, model.ErrAuthentication):
		return nil, fmt.Errorf("case %s: %w", tc.ID, err)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		t.logger.Warn("model call failed", "case", tc.ID, "error", err)
		cr.Error = err.Error()
	}
	return cr, nil
}
