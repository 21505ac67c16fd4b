// Package whisperd implements asr.Transcriber against a whisper webservice
// sidecar exposing a synchronous multipart /asr endpoint.
package whisperd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/asrqueue/asrqueue/internal/job"
)

const (
	defaultURL     = "http://localhost:9000"
	defaultTimeout = 30 * time.Minute
)

// Client posts audio to the sidecar and returns the formatted transcript
// body as-is.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a Client for the sidecar at baseURL. A zero timeout falls
// back to a generous default; transcription is a long call.
func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultURL
	}
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename string, p job.Params) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio_file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("copy audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/asr?"+query(p).Encode(), &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call whisperd: %w", err)
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("whisperd status %d: %s", resp.StatusCode, excerpt(text))
	}
	return string(text), nil
}

func query(p job.Params) url.Values {
	q := url.Values{}
	q.Set("task", p.Task)
	q.Set("output", p.Output)
	q.Set("encode", "true")
	if p.Language != "" {
		q.Set("language", p.Language)
	}
	if p.InitialPrompt != "" {
		q.Set("initial_prompt", p.InitialPrompt)
	}
	if p.VADFilter {
		q.Set("vad_filter", "true")
	}
	if p.WordTimestamps {
		q.Set("word_timestamps", "true")
	}
	if p.Diarize {
		q.Set("diarize", "true")
		if p.MinSpeakers > 0 {
			q.Set("min_speakers", strconv.Itoa(p.MinSpeakers))
		}
		if p.MaxSpeakers > 0 {
			q.Set("max_speakers", strconv.Itoa(p.MaxSpeakers))
		}
	}
	return q
}

// excerpt keeps error bodies short enough for a log line.
func excerpt(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
