package job

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusRead       Status = "read"
	StatusFailed     Status = "failed"
)

// StatusError is never persisted on a row. Status lookups report it for ids
// that do not exist or have already been purged.
const StatusError Status = "error"

// IsTerminal returns true for statuses the worker will never touch again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRead || s == StatusFailed
}

type Job struct {
	ID           string          `json:"job_id"`
	Status       Status          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	FileLocation string          `json:"file_location,omitempty"`
	ResultsFile  string          `json:"results_file,omitempty"`
	Error        string          `json:"error,omitempty"`
	Params       json.RawMessage `json:"params,omitempty"`
}

// FileResult is one element of a job's result payload: the transcript
// produced for a single input file.
type FileResult struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}
