package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/morezero/extension-workers/pkg/db"
	"github.com/morezero/extension-workers/pkg/dispatcher"
	"github.com/morezero/extension-workers/pkg/host"
)

const handlersLogPrefix = "server:handlers"

const defaultMaxBodyBytes = 1 << 20

// HealthOutput is the /health response.
type HealthOutput struct {
	Status    string       `json:"status"`
	Checks    HealthChecks `json:"checks"`
	Workers   int          `json:"workers"`
	Pending   int          `json:"pending"`
	Timestamp string       `json:"timestamp"`
}

// HealthChecks reports each backend. Database is omitted for the memory store.
type HealthChecks struct {
	Comms    bool  `json:"comms"`
	Database *bool `json:"database,omitempty"`
}

type startRequest struct {
	Extension string `json:"extension"`
}

type blockResponse struct {
	Value interface{} `json:"value"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// routes builds the host HTTP API.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.httpStats != nil {
		r.Use(s.httpStats.collect)
	}

	r.Get("/", s.handleHome())
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	r.Get("/extensions", s.handleExtensions)

	r.Route("/workers", func(r chi.Router) {
		r.Get("/", s.handleListWorkers)
		r.Post("/", s.handleStartWorker)
		r.Get("/history", s.handleWorkerHistory)
		r.Get("/{id}", s.handleGetWorker)
		r.Delete("/{id}", s.handleForgetWorker)
	})
	r.Post("/blocks/{service}/{method}", s.handleCallBlock)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode response: %v", handlersLogPrefix, err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) health(ctx context.Context) *HealthOutput {
	out := &HealthOutput{
		Status:    "healthy",
		Checks:    HealthChecks{Comms: s.nc != nil && s.nc.IsConnected()},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if !out.Checks.Comms {
		out.Status = "unhealthy"
	}
	if s.pool != nil {
		ok := s.pool.Ping(ctx) == nil
		out.Checks.Database = &ok
		if !ok {
			out.Status = "unhealthy"
		}
	}
	if s.manager != nil {
		out.Workers = len(s.manager.Workers())
		out.Pending = s.manager.Pending()
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
	defer cancel()
	h := s.health(ctx)
	status := http.StatusOK
	if h.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

// handleReady reports ready once the startup extensions were launched and
// every attached worker has reported its initialization.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.started.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	if n := s.manager.Pending(); n > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "initializing", "pending": n})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleExtensions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"catalog":    s.catalog.Name(),
		"version":    s.catalog.Version(),
		"extensions": s.catalog.Names(),
		"services":   s.manager.Services(),
	})
}

func (s *Server) handleListWorkers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Workers())
}

// handleStartWorker launches a worker for {"extension": "<ref>"} and waits
// for it to initialize.
func (s *Server) handleStartWorker(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	err := json.NewDecoder(s.limitBody(w, r)).Decode(&req)
	if status := bodyErrorStatus(err); status == http.StatusRequestEntityTooLarge {
		writeError(w, status, err)
		return
	}
	if err != nil || req.Extension == "" {
		writeError(w, http.StatusBadRequest, errors.New("body must be {\"extension\": \"<name>[@range]\"}"))
		return
	}

	// Workers outlive the request; only the wait is bounded by it.
	wk, err := s.startExtension(s.lifetime(), req.Extension)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.BlockCallTimeout)
	defer cancel()
	if err := wk.WaitInit(ctx); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusAccepted
		}
		writeJSON(w, status, map[string]interface{}{"worker": wk.Info(), "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, wk.Info())
}

func (s *Server) handleWorkerHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.manager.Store().ListWorkers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func workerID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid worker id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

// handleGetWorker returns a live worker, or its stored record once it is gone.
func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	id, err := workerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if wk, ok := s.manager.Worker(id); ok {
		writeJSON(w, http.StatusOK, wk.Info())
		return
	}
	rec, err := s.manager.Store().GetWorker(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleForgetWorker(w http.ResponseWriter, r *http.Request) {
	id, err := workerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	switch err := s.manager.Forget(r.Context(), id); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, host.ErrWorkerActive):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

// handleCallBlock takes a JSON array of arguments and returns the block's value.
func (s *Server) handleCallBlock(w http.ResponseWriter, r *http.Request) {
	var args []interface{}
	body, err := io.ReadAll(s.limitBody(w, r))
	if err != nil {
		writeError(w, bodyErrorStatus(err), err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &args); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("body must be a JSON array of arguments: %w", err))
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.BlockCallTimeout)
	defer cancel()
	service, method := chi.URLParam(r, "service"), chi.URLParam(r, "method")
	value, err := s.manager.CallBlock(ctx, service, method, args...)
	if err != nil {
		writeError(w, blockErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, blockResponse{Value: value})
}

func (s *Server) limitBody(w http.ResponseWriter, r *http.Request) io.Reader {
	limit := s.cfg.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	return http.MaxBytesReader(w, r.Body, limit)
}

func bodyErrorStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func blockErrorStatus(err error) int {
	var remote *dispatcher.RemoteError
	switch {
	case errors.Is(err, host.ErrUnknownService), dispatcher.IsMethodNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, host.ErrWorkerNotReady):
		return http.StatusConflict
	case errors.Is(err, dispatcher.ErrChannelClosed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &remote):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// homePageTemplate is the HTML for the host home page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Extension Host</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    h1, h2 { color: #0066cc; }
    .status-healthy, .state-ready { color: #0066cc; font-weight: bold; }
    .status-unhealthy, .state-failed, .state-exited { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    section { margin-bottom: 2rem; }
  </style>
</head>
<body>
  <h1>Extension Host</h1>
  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>Workers: {{.Health.Workers}} ({{.Health.Pending}} initializing)</p>
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>
  <section>
    <h2>Workers</h2>
    {{if not .Workers}}
    <p>No workers allocated.</p>
    {{else}}
    <table>
      <thead>
        <tr><th>ID</th><th>Location</th><th>State</th><th>Services</th><th>Error</th></tr>
      </thead>
      <tbody>
        {{range .Workers}}
        <tr>
          <td>{{.ID}}</td>
          <td>{{.Location}}</td>
          <td class="state-{{.State}}">{{.State}}</td>
          <td>{{range $i, $s := .Services}}{{if $i}}, {{end}}{{$s}}{{end}}</td>
          <td>{{.Error}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	Health  *HealthOutput
	Workers []host.WorkerInfo
}

// handleHome returns an HTTP handler for the host home page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{Health: s.health(ctx), Workers: s.manager.Workers()}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", handlersLogPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
