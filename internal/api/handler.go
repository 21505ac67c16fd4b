package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/asrqueue/asrqueue/internal/config"
	"github.com/asrqueue/asrqueue/internal/job"
	"github.com/asrqueue/asrqueue/internal/service"
	"github.com/asrqueue/asrqueue/internal/staging"
)

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	svc *service.Service
	cfg *config.Config
}

// NewHandler constructs a Handler with the given dependencies.
func NewHandler(svc *service.Service, cfg *config.Config) *Handler {
	return &Handler{svc: svc, cfg: cfg}
}

// RegisterRoutes registers all API routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /asr/async", h.SubmitJob)
	mux.HandleFunc("GET /asr/async/{id}", h.JobStatus)
	mux.HandleFunc("GET /healthz", h.Health)
}

// SubmitJob handles POST /asr/async: a multipart upload of one or more
// audio_file parts plus transcription options in the query string.
// Responds 202 with the job id and queue position.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	parts := r.MultipartForm.File["audio_file"]
	if len(parts) == 0 {
		writeError(w, http.StatusBadRequest, "at least one audio_file is required")
		return
	}

	files := make([]staging.InputFile, 0, len(parts))
	for _, part := range parts {
		f, err := part.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable upload: "+part.Filename)
			return
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable upload: "+part.Filename)
			return
		}
		files = append(files, staging.InputFile{Name: part.Filename, Content: content})
	}

	params := paramsFromQuery(r)
	if err := params.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.svc.Submit(r.Context(), files, params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to queue job")
		return
	}

	writeJSON(w, http.StatusAccepted, resp)
}

// JobStatus handles GET /asr/async/{id}. Unknown ids are a well-formed
// response with status "error", not a 404; expired jobs look the same as
// ones that never existed.
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health handles GET /healthz and responds 200.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// paramsFromQuery maps the recognized query options onto a Params struct,
// leaving defaults in place for absent values.
func paramsFromQuery(r *http.Request) job.Params {
	q := r.URL.Query()
	p := job.DefaultParams()

	if v := q.Get("task"); v != "" {
		p.Task = v
	}
	if v := q.Get("output"); v != "" {
		p.Output = v
	}
	p.Language = q.Get("language")
	p.InitialPrompt = q.Get("initial_prompt")
	p.VADFilter = parseBoolParam(q.Get("vad_filter"))
	p.WordTimestamps = parseBoolParam(q.Get("word_timestamps"))
	p.Diarize = parseBoolParam(q.Get("diarize"))
	p.MinSpeakers = parseIntParam(q.Get("min_speakers"), 0)
	p.MaxSpeakers = parseIntParam(q.Get("max_speakers"), 0)
	return p
}

func parseBoolParam(s string) bool {
	v, err := strconv.ParseBool(s)
	return err == nil && v
}

// parseIntParam parses a query string integer, returning the fallback on
// empty or invalid input.
func parseIntParam(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
