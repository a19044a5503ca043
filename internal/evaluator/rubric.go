package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/signalnine/judgebench/internal/model"
)

// Criterion is one weighted axis of the semantic judgment.
type Criterion struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// DefaultCriteria weighs meaning over coverage.
var DefaultCriteria = []Criterion{
	{Name: "semantic_equivalence", Weight: 3},
	{Name: "completeness", Weight: 1},
}

// ComputeRubricScore calculates a weighted average from per-criterion scores.
// Criteria the judge did not score are left out of the average.
func ComputeRubricScore(criteria []Criterion, scores map[string]float64) float64 {
	var totalWeight, weightedSum float64
	for _, c := range criteria {
		score, ok := scores[c.Name]
		if !ok {
			continue
		}
		weightedSum += score * c.Weight
		totalWeight += c.Weight
	}
	if totalWeight == 0 {
		return 0.0
	}
	return weightedSum / totalWeight
}

// MedianScore returns the median of scores without reordering the input.
func MedianScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 0.0
	}
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// ParseJudgeResponse extracts the criterion→score object from a judge reply,
// tolerating code fences and prose around it. Scores are clamped to [0, 1].
func ParseJudgeResponse(content string) (map[string]float64, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	if start, end := strings.IndexByte(content, '{'), strings.LastIndexByte(content, '}'); start >= 0 && end > start {
		content = content[start : end+1]
	}

	var scores map[string]float64
	if err := json.Unmarshal([]byte(content), &scores); err != nil {
		return nil, fmt.Errorf("parsing judge response: %w", err)
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("parsing judge response: no scores")
	}
	for k, v := range scores {
		scores[k] = min(max(v, 0), 1)
	}
	return scores, nil
}

const judgeSystemPrompt = "You are a strict grader comparing a model answer with a reference answer. Respond with JSON only."

func judgePrompt(criteria []Criterion, prompt, expected, actual string) string {
	var list strings.Builder
	for _, c := range criteria {
		fmt.Fprintf(&list, "- %s (weight: %.0f)\n", c.Name, c.Weight)
	}
	example := make([]string, 0, len(criteria))
	for _, c := range criteria {
		example = append(example, fmt.Sprintf("%q: 0.8", c.Name))
	}
	return fmt.Sprintf(`Score the model answer against each criterion on a scale of 0.0 to 1.0.

Question:
%s

Reference answer:
%s

Model answer:
%s

Criteria:
%s
Respond with ONLY a JSON object mapping criterion name to score, e.g.:
{%s}`, prompt, expected, actual, list.String(), strings.Join(example, ", "))
}

// judge asks the judge model samples times and keeps the median of each
// criterion. Failed samples are skipped; an authentication failure stops
// immediately.
func (e *Evaluator) judge(ctx context.Context, prompt, expected, actual string) (map[string]float64, error) {
	req := &model.Request{
		SystemPrompt: judgeSystemPrompt,
		Prompt:       judgePrompt(e.criteria, prompt, expected, actual),
	}

	all := make(map[string][]float64)
	var lastErr error
	for i := 0; i < e.opts.Samples; i++ {
		scores, err := e.sample(ctx, req)
		if err != nil {
			if errors.Is(err, model.ErrAuthentication) || ctx.Err() != nil {
				return nil, err
			}
			e.logger.Debug("judge sample failed", "attempt", i+1, "err", err)
			lastErr = err
			continue
		}
		for k, v := range scores {
			all[k] = append(all[k], v)
		}
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("all %d judge samples failed: %w", e.opts.Samples, lastErr)
	}

	out := make(map[string]float64, len(all))
	for k, v := range all {
		out[k] = MedianScore(v)
	}
	return out, nil
}

func (e *Evaluator) sample(ctx context.Context, req *model.Request) (map[string]float64, error) {
	resp, err := e.opts.Judge.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	comp, err := e.opts.Judge.Extract(resp.Raw)
	if err != nil {
		return nil, err
	}
	return ParseJudgeResponse(comp.Text)
}
