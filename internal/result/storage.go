package result

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Artifact file names inside a run directory.
const (
	RawResponsesFile       = "raw_responses.json"
	ProcessedResponsesFile = "processed_responses.json"
	ParametersFile         = "test_parameters.json"
)

const (
	runDirPrefix = "test_run_"
	stampLayout  = "20060102_150405"
)

// RunDirName is the directory name for a run started at start. Resolution is
// one second, so two runs started in the same second share a name.
func RunDirName(start time.Time) string {
	return runDirPrefix + start.Format(stampLayout)
}

// Stamp formats start the way run directory names do.
func Stamp(start time.Time) string {
	return start.Format(stampLayout)
}

// CreateRunDir creates <baseDir>/test_run_<stamp> and returns its absolute
// path. It succeeds when the directory already exists.
func CreateRunDir(baseDir string, start time.Time) (string, error) {
	runDir, err := filepath.Abs(filepath.Join(baseDir, RunDirName(start)))
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	return runDir, nil
}

// ListRunDirs returns the run directories under baseDir, oldest first.
func ListRunDirs(baseDir string) ([]string, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading results dir: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), runDirPrefix) {
			dirs = append(dirs, filepath.Join(baseDir, e.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// LatestRunDir returns the most recent run directory under baseDir.
func LatestRunDir(baseDir string) (string, error) {
	dirs, err := ListRunDirs(baseDir)
	if err != nil {
		return "", err
	}
	if len(dirs) == 0 {
		return "", fmt.Errorf("no runs found in %s", baseDir)
	}
	return dirs[len(dirs)-1], nil
}

// WriteJSON writes v indent-formatted to dir/name and returns the path. The
// data goes to a temp file first and is renamed into place, so a reader never
// sees a partial artifact.
func WriteJSON(dir, name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling %s: %w", name, err)
	}
	path := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	return path, nil
}

// ReadJSON decodes the JSON file at path into v. Missing and unparseable
// files are reported as *ResourceError.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ResourceError{Path: path, Op: "reading", Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &ResourceError{Path: path, Op: "parsing", Err: err}
	}
	return nil
}

// WriteParameters writes the run parameters snapshot into runDir.
func WriteParameters(runDir string, params *RunParameters) (string, error) {
	return WriteJSON(runDir, ParametersFile, params)
}

// ReadParameters reads a run parameters snapshot.
func ReadParameters(path string) (*RunParameters, error) {
	var params RunParameters
	if err := ReadJSON(path, &params); err != nil {
		return nil, err
	}
	return &params, nil
}
