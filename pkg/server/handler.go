package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/entrhq/cadforge/pkg/config"
	"github.com/entrhq/cadforge/pkg/logging"
	"github.com/entrhq/cadforge/pkg/pipeline"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// maxInstructionBytes bounds request bodies.
const maxInstructionBytes = 64 * 1024

// downloadable lists the artifact names served under /download/.
var downloadable = map[string]string{
	config.ScriptFileName:   "text/x-python; charset=utf-8",
	config.LogFileName:      "text/plain; charset=utf-8",
	config.DocumentFileName: "application/octet-stream",
	config.MeshFileName:     "model/obj",
	config.PreviewFileName:  "image/png",
	config.ReportJSONName:   "application/json",
	config.ReportMDName:     "text/markdown; charset=utf-8",
}

// Builder runs one build. *pipeline.Controller implements it.
type Builder interface {
	Build(ctx context.Context, instruction string) (*pipeline.Result, error)
}

// Handler serves the web front end.
type Handler struct {
	builder Builder
	paths   config.Paths
	logger  *logging.Logger
}

// NewHandler creates the HTTP handler.
func NewHandler(builder Builder, paths config.Paths, logger *logging.Logger) *Handler {
	return &Handler{builder: builder, paths: paths, logger: logger}
}

// Mux registers every route on a new ServeMux.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("POST /build", h.handleFormBuild)
	mux.HandleFunc("POST /api/build", h.handleAPIBuild)
	mux.HandleFunc("GET /download/{name}", h.handleDownload)
	return mux
}

type pageData struct {
	Instruction string
	Error       string
	Result      *pipeline.Result
	Script      template.HTML
	Downloads   []string
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, &pageData{})
}

func (h *Handler) handleFormBuild(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxInstructionBytes)
	if err := r.ParseForm(); err != nil {
		h.render(w, http.StatusBadRequest, &pageData{Error: "invalid form submission"})
		return
	}

	data := &pageData{Instruction: strings.TrimSpace(r.PostFormValue("instruction"))}
	if data.Instruction == "" {
		data.Error = "Please describe the part you want to build."
		h.render(w, http.StatusBadRequest, data)
		return
	}

	res, err := h.builder.Build(r.Context(), data.Instruction)
	status := statusFor(err)
	if err != nil {
		data.Error = userMessage(err)
	}
	if res != nil {
		data.Result = res
		data.Script = highlightPython(res.Script)
		data.Downloads = h.downloads(res)
	}
	h.render(w, status, data)
}

type apiRequest struct {
	Instruction string `json:"instruction"`
}

type apiAttempt struct {
	Number          int    `json:"number"`
	Outcome         string `json:"outcome"`
	ExitCode        int    `json:"exit_code"`
	TimedOut        bool   `json:"timed_out"`
	GenerationError string `json:"generation_error,omitempty"`
}

type apiResponse struct {
	BuildID   string       `json:"build_id,omitempty"`
	Succeeded bool         `json:"succeeded"`
	Outcome   string       `json:"outcome,omitempty"`
	Attempts  []apiAttempt `json:"attempts,omitempty"`
	Script    string       `json:"script,omitempty"`
	Downloads []string     `json:"downloads,omitempty"`
	Error     string       `json:"error,omitempty"`
}

func (h *Handler) handleAPIBuild(w http.ResponseWriter, r *http.Request) {
	var req apiRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInstructionBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: "invalid JSON body"})
		return
	}
	req.Instruction = strings.TrimSpace(req.Instruction)
	if req.Instruction == "" {
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: "instruction is required"})
		return
	}

	res, err := h.builder.Build(r.Context(), req.Instruction)
	resp := apiResponse{}
	if err != nil {
		resp.Error = userMessage(err)
	}
	if res != nil {
		resp.BuildID = res.BuildID
		resp.Succeeded = res.Succeeded() && err == nil
		resp.Outcome = res.Outcome.String()
		resp.Script = res.Script
		resp.Downloads = h.downloads(res)
		for _, a := range res.Attempts {
			resp.Attempts = append(resp.Attempts, apiAttempt{
				Number:          a.Number,
				Outcome:         a.Outcome.String(),
				ExitCode:        a.ExitCode,
				TimedOut:        a.TimedOut,
				GenerationError: a.GenerationError,
			})
		}
	}
	writeJSON(w, statusFor(err), resp)
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	contentType, ok := downloadable[name]
	if !ok {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(h.paths.GeneratedDir, name)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeFile(w, r, path)
}

// downloads lists the artifacts of res that can be fetched.
func (h *Handler) downloads(res *pipeline.Result) []string {
	var names []string
	for _, path := range append([]string{res.ScriptPath, res.LogPath}, res.Artifacts...) {
		if path == "" {
			continue
		}
		name := filepath.Base(path)
		if _, ok := downloadable[name]; !ok {
			continue
		}
		if _, err := os.Stat(filepath.Join(h.paths.GeneratedDir, name)); err == nil {
			names = append(names, name)
		}
	}
	return names
}

func (h *Handler) render(w http.ResponseWriter, status int, data *pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := indexTemplate.Execute(w, data); err != nil {
		h.logger.Errorf("failed to render page: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a build error to an HTTP status.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, pipeline.ErrBuildInProgress):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrRetryBudgetExhausted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func userMessage(err error) string {
	if errors.Is(err, pipeline.ErrBuildInProgress) {
		return "Another build is running. Please try again in a moment."
	}
	return err.Error()
}
