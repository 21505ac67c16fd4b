package job

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	TaskTranscribe = "transcribe"
	TaskTranslate  = "translate"
)

var validTasks = map[string]bool{
	TaskTranscribe: true,
	TaskTranslate:  true,
}

var validOutputs = map[string]bool{
	"txt":  true,
	"vtt":  true,
	"srt":  true,
	"tsv":  true,
	"json": true,
	"all":  true,
}

// Params holds the recognized transcription options for a job. It is
// serialized to the params column at submission and consumed once by the
// worker.
type Params struct {
	Task           string `json:"task"`
	Language       string `json:"language,omitempty"` // empty = auto-detect
	InitialPrompt  string `json:"initial_prompt,omitempty"`
	VADFilter      bool   `json:"vad_filter"`
	WordTimestamps bool   `json:"word_timestamps"`
	Diarize        bool   `json:"diarize"`
	MinSpeakers    int    `json:"min_speakers,omitempty"`
	MaxSpeakers    int    `json:"max_speakers,omitempty"`
	Output         string `json:"output"`
}

// DefaultParams returns the options applied when the caller specifies none.
func DefaultParams() Params {
	return Params{Task: TaskTranscribe, Output: "txt"}
}

func (p *Params) Validate() error {
	if !validTasks[p.Task] {
		return fmt.Errorf("task must be %q or %q", TaskTranscribe, TaskTranslate)
	}
	if !validOutputs[p.Output] {
		return errors.New("output must be one of: txt, vtt, srt, tsv, json, all")
	}
	if p.MinSpeakers < 0 || p.MaxSpeakers < 0 {
		return errors.New("speaker hints must not be negative")
	}
	if p.MaxSpeakers > 0 && p.MinSpeakers > p.MaxSpeakers {
		return errors.New("min_speakers must not exceed max_speakers")
	}
	return nil
}

// Encode serializes p for the params column.
func (p Params) Encode() (json.RawMessage, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return raw, nil
}

// DecodeParams parses a params column value written by Encode.
func DecodeParams(raw json.RawMessage) (Params, error) {
	p := DefaultParams()
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return Params{}, fmt.Errorf("decode params: %w", err)
	}
	return p, nil
}
