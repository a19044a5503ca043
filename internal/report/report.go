// Package report summarizes the artifacts of one run directory.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/signalnine/judgebench/internal/evaluator"
	"github.com/signalnine/judgebench/internal/normalize"
	"github.com/signalnine/judgebench/internal/pricing"
	"github.com/signalnine/judgebench/internal/result"
	"github.com/signalnine/judgebench/internal/runner"
)

type VariantSummary struct {
	Variant      string  `json:"variant"`
	Total        int     `json:"total"`
	Passed       int     `json:"passed"`
	Errored      int     `json:"errored"`
	PassRate     float64 `json:"pass_rate"`
	AverageScore float64 `json:"average_score"`
}

// RunSummary is what a report says about one run.
type RunSummary struct {
	RunDir       string           `json:"run_dir"`
	ModelType    string           `json:"model_type,omitempty"`
	ModelID      string           `json:"model_id,omitempty"`
	Cases        int              `json:"cases"`
	FailedCases  int              `json:"failed_cases"`
	InputTokens  int              `json:"input_tokens"`
	OutputTokens int              `json:"output_tokens"`
	CostUSD      float64          `json:"cost_usd"`
	Evaluated    bool             `json:"evaluated"`
	JudgeModel   string           `json:"judge_model,omitempty"`
	PassRate     float64          `json:"pass_rate"`
	AverageScore float64          `json:"average_score"`
	Variants     []VariantSummary `json:"variants,omitempty"`
}

// Generate reads the artifacts in runDir and writes a summary in format
// (table, markdown or json). A nil table skips cost estimation.
func Generate(runDir, format string, w io.Writer, table *pricing.Table) error {
	s, err := Summarize(runDir, table)
	if err != nil {
		return err
	}
	switch format {
	case "markdown":
		return writeMarkdown(s, w)
	case "json":
		return writeJSON(s, w)
	case "", "table":
		return writeTable(s, w)
	}
	return fmt.Errorf("unknown report format %q", format)
}

// Summarize collects whatever artifacts runDir holds. It fails only when
// there are none or one of them is unreadable.
func Summarize(runDir string, table *pricing.Table) (*RunSummary, error) {
	s := &RunSummary{RunDir: runDir}
	found := false

	var params result.RunParameters
	if ok, err := readOptional(filepath.Join(runDir, result.ParametersFile), &params); err != nil {
		return nil, err
	} else if ok {
		found = true
		s.ModelType, s.ModelID = params.ModelType, params.ModelID
	}

	var raw runner.RawEnvelope
	if ok, err := readOptional(filepath.Join(runDir, result.RawResponsesFile), &raw); err != nil {
		return nil, err
	} else if ok {
		found = true
		usage := raw.TestResults.TotalUsage()
		s.Cases = len(raw.TestResults)
		s.FailedCases = raw.TestResults.Failed()
		s.InputTokens, s.OutputTokens = usage.InputTokens, usage.OutputTokens
	}

	var summary evaluator.Summary
	if ok, err := readOptional(filepath.Join(runDir, evaluator.SummaryFile), &summary); err != nil {
		return nil, err
	} else if ok {
		found = true
		s.Evaluated = true
		s.JudgeModel = summary.JudgeModel
		s.PassRate = summary.PassRate
		s.AverageScore = summary.AverageScore
		for _, v := range summary.VariantNames() {
			vs := summary.Variants[v]
			s.Variants = append(s.Variants, VariantSummary{
				Variant:      string(v),
				Total:        vs.Total,
				Passed:       vs.Passed,
				Errored:      vs.Errored,
				PassRate:     vs.PassRate,
				AverageScore: vs.AverageScore,
			})
		}
	}

	// Eval-only runs keep their processed file outside the run directory.
	if s.ModelID == "" {
		processedPath := filepath.Join(runDir, result.ProcessedResponsesFile)
		if _, err := os.Stat(processedPath); err != nil && summary.SourcePath != "" {
			processedPath = summary.SourcePath
		}
		var processed normalize.Processed
		if ok, err := readOptional(processedPath, &processed); err != nil {
			return nil, err
		} else if ok {
			found = true
			s.ModelType, s.ModelID = processed.Metadata.ModelType, processed.Metadata.ModelID
			if s.Cases == 0 {
				s.Cases = processed.Metadata.RecordCount
				s.FailedCases = processed.Metadata.ErrorCount
			}
		}
	}

	if !found {
		return nil, fmt.Errorf("no run artifacts in %s", runDir)
	}
	s.CostUSD = table.Cost(s.ModelType, s.ModelID, s.InputTokens, s.OutputTokens)
	return s, nil
}

func readOptional(path string, v any) (bool, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err := result.ReadJSON(path, v); err != nil {
		return false, err
	}
	return true, nil
}

func writeTable(s *RunSummary, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "RUN\t%s\n", s.RunDir)
	if s.ModelID != "" {
		fmt.Fprintf(tw, "MODEL\t%s/%s\n", s.ModelType, s.ModelID)
	}
	fmt.Fprintf(tw, "CASES\t%d (%d failed)\n", s.Cases, s.FailedCases)
	fmt.Fprintf(tw, "TOKENS\t%d in / %d out\n", s.InputTokens, s.OutputTokens)
	fmt.Fprintf(tw, "COST\t$%.4f\n", s.CostUSD)
	if !s.Evaluated {
		fmt.Fprintln(tw, "EVALUATION\tnot run")
		return tw.Flush()
	}
	fmt.Fprintf(tw, "JUDGE\t%s\n", s.JudgeModel)
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "VARIANT\tTOTAL\tPASSED\tERRORED\tPASS RATE\tMEAN SCORE")
	fmt.Fprintln(tw, strings.Repeat("-", 70))
	for _, v := range s.Variants {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.0f%%\t%.3f\n",
			v.Variant, v.Total, v.Passed, v.Errored, v.PassRate*100, v.AverageScore)
	}
	fmt.Fprintf(tw, "overall\t\t\t\t%.0f%%\t%.3f\n", s.PassRate*100, s.AverageScore)
	return tw.Flush()
}

func writeMarkdown(s *RunSummary, w io.Writer) error {
	fmt.Fprintf(w, "## %s\n\n", filepath.Base(s.RunDir))
	if s.ModelID != "" {
		fmt.Fprintf(w, "- Model: `%s/%s`\n", s.ModelType, s.ModelID)
	}
	fmt.Fprintf(w, "- Cases: %d (%d failed)\n", s.Cases, s.FailedCases)
	fmt.Fprintf(w, "- Tokens: %d in / %d out ($%.4f)\n", s.InputTokens, s.OutputTokens, s.CostUSD)
	if !s.Evaluated {
		fmt.Fprintln(w, "- Evaluation: not run")
		return nil
	}
	fmt.Fprintf(w, "- Judge: `%s`\n\n", s.JudgeModel)
	fmt.Fprintln(w, "| Variant | Total | Passed | Errored | Pass Rate | Mean Score |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|")
	for _, v := range s.Variants {
		fmt.Fprintf(w, "| %s | %d | %d | %d | %.0f%% | %.3f |\n",
			v.Variant, v.Total, v.Passed, v.Errored, v.PassRate*100, v.AverageScore)
	}
	return nil
}

func writeJSON(s *RunSummary, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
