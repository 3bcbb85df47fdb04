package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// FileResult pairs a scenario file with its outcome. Err is set when the
// file could not be loaded or run.
type FileResult struct {
	Path     string
	Scenario *Scenario
	Result   *Result
	Err      error
}

// Passed reports whether the file loaded, ran and met every expectation.
func (f FileResult) Passed() bool {
	return f.Err == nil && f.Result != nil && f.Result.Pass
}

// FindScenarios returns the .yaml and .yml files directly under dir,
// sorted by name.
func FindScenarios(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("scenario directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

// RunDir loads and runs every scenario under dir.
func RunDir(dir string) ([]FileResult, error) {
	files, err := FindScenarios(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no scenario files found in %s", dir)
	}

	out := make([]FileResult, 0, len(files))
	for _, path := range files {
		fr := FileResult{Path: path}
		fr.Scenario, fr.Err = LoadScenario(path)
		if fr.Err == nil {
			fr.Result, fr.Err = Run(fr.Scenario)
		}
		out = append(out, fr)
	}
	return out, nil
}
