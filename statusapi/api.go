// Package statusapi serves a read-only HTTP view of the run in progress:
// live status, the latest progress chart, and the run history.
//
// Endpoints:
//   - GET /health          - liveness
//   - GET /status          - supervisor status and GPU summary
//   - GET /progress.png    - latest progress chart
//   - GET /runs            - recent runs (limit param)
//   - GET /runs/{id}       - one run
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"trainwatch/db"
	"trainwatch/metrics"
	"trainwatch/supervisor"
)

// StatusSource provides the live run status.
type StatusSource interface {
	Status() supervisor.Status
}

// ProgressSource provides the latest encoded progress chart.
type ProgressSource interface {
	ProgressPNG() ([]byte, bool)
}

// RunStore reads run history.
type RunStore interface {
	ListRecentRuns(ctx context.Context, limit int) ([]db.RunRecord, error)
	GetRun(ctx context.Context, id string) (db.RunRecord, error)
}

// GPUSource provides GPU usage.
type GPUSource interface {
	IsAvailable() bool
	Current() metrics.GPUSample
	Summary() metrics.GPUSummary
}

// APIConfig configures list endpoints.
type APIConfig struct {
	DefaultLimit int
	MaxLimit     int
}

// DefaultAPIConfig returns the default list limits.
func DefaultAPIConfig() APIConfig {
	return APIConfig{DefaultLimit: 10, MaxLimit: 100}
}

// API holds the endpoint handlers. Every source except status is optional;
// endpoints whose source is missing answer 404 or 503.
type API struct {
	status       StatusSource
	progress     ProgressSource
	runs         RunStore
	gpu          GPUSource
	defaultLimit int
	maxLimit     int
}

// NewAPI creates the handlers.
func NewAPI(status StatusSource, progress ProgressSource, runs RunStore, gpu GPUSource, config APIConfig) *API {
	if config.DefaultLimit < 1 {
		config.DefaultLimit = 10
	}
	if config.MaxLimit < config.DefaultLimit {
		config.MaxLimit = 100
	}
	return &API{
		status:       status,
		progress:     progress,
		runs:         runs,
		gpu:          gpu,
		defaultLimit: config.DefaultLimit,
		maxLimit:     config.MaxLimit,
	}
}

// RegisterRoutes adds the endpoints to r.
func (api *API) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", api.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", api.HandleStatus).Methods(http.MethodGet)
	r.HandleFunc("/progress.png", api.HandleProgress).Methods(http.MethodGet)
	r.HandleFunc("/runs", api.HandleRuns).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}", api.HandleRun).Methods(http.MethodGet)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

// HandleHealth handles GET /health.
func (api *API) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	supervisor.Status
	ElapsedHuman string              `json:"elapsed"`
	GPUAvailable bool                `json:"gpu_available"`
	GPU          *metrics.GPUSample  `json:"gpu,omitempty"`
	GPUSummary   *metrics.GPUSummary `json:"gpu_summary,omitempty"`
}

// HandleStatus handles GET /status.
func (api *API) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	st := api.status.Status()
	resp := StatusResponse{
		Status:       st,
		ElapsedHuman: formatDuration(st.Elapsed),
	}
	if api.gpu != nil && api.gpu.IsAvailable() {
		resp.GPUAvailable = true
		cur := api.gpu.Current()
		resp.GPU = &cur
		if sum := api.gpu.Summary(); sum.Samples > 0 {
			resp.GPUSummary = &sum
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleProgress handles GET /progress.png.
func (api *API) HandleProgress(w http.ResponseWriter, _ *http.Request) {
	if api.progress == nil {
		writeError(w, http.StatusNotFound, "progress charts are disabled")
		return
	}
	data, ok := api.progress.ProgressPNG()
	if !ok {
		writeError(w, http.StatusNotFound, "no progress chart rendered yet")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// RunsResponse is the body of GET /runs.
type RunsResponse struct {
	Runs  []db.RunRecord `json:"runs"`
	Count int            `json:"count"`
	Limit int            `json:"limit"`
}

// HandleRuns handles GET /runs.
func (api *API) HandleRuns(w http.ResponseWriter, r *http.Request) {
	if api.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}

	limit := api.defaultLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", s))
			return
		}
		limit = parsed
	}
	limit = min(limit, api.maxLimit)

	runs, err := api.runs.ListRecentRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []db.RunRecord{}
	}
	writeJSON(w, http.StatusOK, RunsResponse{Runs: runs, Count: len(runs), Limit: limit})
}

// HandleRun handles GET /runs/{id}.
func (api *API) HandleRun(w http.ResponseWriter, r *http.Request) {
	if api.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}

	id := mux.Vars(r)["id"]
	run, err := api.runs.GetRun(r.Context(), id)
	if errors.Is(err, db.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already written; nothing useful can be done on failure.
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: http.StatusText(status), Message: message})
}

// formatDuration renders at most two units, e.g. "2h 34m" or "45s".
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "-" + formatDuration(-d)
	}
	const day = 24 * time.Hour

	days := d / day
	d %= day
	hours := d / time.Hour
	d %= time.Hour
	minutes := d / time.Minute
	d %= time.Minute
	seconds := d / time.Second

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
