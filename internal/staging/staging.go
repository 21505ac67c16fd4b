// Package staging manages the per-job filesystem tree: one directory per
// job holding the uploaded input files and, after processing, the
// serialized result payload.
package staging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/asrqueue/asrqueue/internal/job"
)

const resultsName = "results.json"

// InputFile is one uploaded file: its original name and raw bytes.
type InputFile struct {
	Name    string
	Content []byte
}

// Area is a staging directory tree rooted at <workdir>/files.
type Area struct {
	root string
}

// NewArea creates the staging root under workdir if it does not exist.
func NewArea(workdir string) (*Area, error) {
	root := filepath.Join(workdir, "files")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create staging root: %w", err)
	}
	return &Area{root: root}, nil
}

// Dir returns the staging directory path for a job.
func (a *Area) Dir(jobID string) string {
	return filepath.Join(a.root, jobID)
}

// Stash writes the input files into the job's staging directory under their
// original names and returns the directory path.
func (a *Area) Stash(jobID string, files []InputFile) (string, error) {
	dir := a.Dir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	for _, f := range files {
		// Uploaded names must not escape the job directory.
		name := filepath.Base(f.Name)
		if name == "." || name == ".." || name == string(filepath.Separator) {
			return "", fmt.Errorf("invalid file name %q", f.Name)
		}
		if err := os.WriteFile(filepath.Join(dir, name), f.Content, 0o644); err != nil {
			return "", fmt.Errorf("write file %s: %w", name, err)
		}
	}
	return dir, nil
}

// WriteResults serializes the result payload into the job's staging
// directory and returns the file path.
func (a *Area) WriteResults(jobID string, results []job.FileResult) (string, error) {
	data, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("encode results: %w", err)
	}
	path := filepath.Join(a.Dir(jobID), resultsName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write results: %w", err)
	}
	return path, nil
}

// ReadResults parses a result payload written by WriteResults.
func ReadResults(path string) ([]job.FileResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	var results []job.FileResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	return results, nil
}

// Remove deletes a job's staging directory and results file. Paths that no
// longer exist are not errors.
func (a *Area) Remove(j *job.Job) error {
	if j.FileLocation != "" {
		if err := os.RemoveAll(j.FileLocation); err != nil {
			return fmt.Errorf("remove staging dir for job %s: %w", j.ID, err)
		}
	}
	if j.ResultsFile != "" {
		if err := os.Remove(j.ResultsFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove results for job %s: %w", j.ID, err)
		}
	}
	return nil
}
