// Package asr defines the interface to the external speech-recognition
// collaborator. The transcription intelligence itself lives outside this
// service; the job pipeline only forwards audio and parameters through it
// and captures the returned transcript.
package asr

import (
	"context"
	"io"

	"github.com/asrqueue/asrqueue/internal/job"
)

// Transcriber is the external ASR capability consumed by the worker loop.
// Calls are synchronous, potentially slow (minutes per file) and not
// cancellable once the backend has started inference; implementations
// should still honor ctx for connection-level deadlines.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string, p job.Params) (string, error)
}
