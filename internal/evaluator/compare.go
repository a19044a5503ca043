package evaluator

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/signalnine/judgebench/internal/model"
)

// CompareFunctionCall scores the calls a model made against the expected
// one: 1.0 for a call with the expected name and arguments, 0.5 when only
// the name matches, 0 otherwise. With no expectation, the model passes only
// if it made no call.
func CompareFunctionCall(expected *model.FunctionCall, got []model.FunctionCall) (float64, string) {
	if expected == nil {
		if len(got) == 0 {
			return 1.0, "no function call expected and none made"
		}
		return 0, fmt.Sprintf("unexpected function call %s", got[0].Name)
	}
	if len(got) == 0 {
		return 0, fmt.Sprintf("expected call to %s, got none", expected.Name)
	}

	best, reason := 0.0, fmt.Sprintf("expected call to %s, got %s", expected.Name, got[0].Name)
	for _, call := range got {
		if call.Name != expected.Name {
			continue
		}
		if sameArguments(expected.Arguments, call.Arguments) {
			return 1.0, "function call matches"
		}
		best, reason = 0.5, fmt.Sprintf("%s called with different arguments", call.Name)
	}
	return best, reason
}

// sameArguments compares argument maps by their JSON form so that numbers
// decoded from YAML and JSON compare equal.
func sameArguments(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	na, errA := normalizeJSON(a)
	nb, errB := normalizeJSON(b)
	if errA != nil || errB != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

func normalizeJSON(v map[string]any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(data, &out)
	return out, err
}
