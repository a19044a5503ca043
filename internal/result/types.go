package result

import "fmt"

// RunParameters records how a full run was configured. It is written for
// provenance only; nothing in the pipeline reads it back.
type RunParameters struct {
	RunID              string           `json:"run_id"`
	Timestamp          string           `json:"timestamp"`
	ModelType          string           `json:"model_type"`
	DatasetPath        string           `json:"dataset_path"`
	ModelID            string           `json:"model_id"`
	SemanticJudgeModel *string          `json:"semantic_judge_model"`
	GenerationConfig   GenerationConfig `json:"generation_config"`
}

type GenerationConfig struct {
	Temperature float64 `json:"temperature"`
}

// ResourceError reports an input or artifact file that is missing or cannot
// be parsed.
type ResourceError struct {
	Path string
	Op   string
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }
