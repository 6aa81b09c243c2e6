// Package api serves the read side of the incident store over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/store"
)

// Reader is the slice of the store the API reads.
type Reader interface {
	GetIncident(ctx context.Context, id string) (*model.Incident, error)
	ListIncidents(ctx context.Context, filter store.IncidentFilter) ([]model.Incident, error)
	GetRunLog(ctx context.Context, runID string) (*model.RunLog, error)
	ListRunLogs(ctx context.Context, limit int) ([]model.RunLog, error)
}

// StatsProvider aggregates run logs.
type StatsProvider interface {
	Stats(ctx context.Context, days int) (*model.RunStats, error)
}

// Handler serves incidents, run logs and metrics.
type Handler struct {
	Store    Reader
	Stats    StatsProvider
	Gatherer prometheus.Gatherer
}

// Router returns the API routes with request-id, recovery and CORS
// middleware. CORS allows read-only access from any origin.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Get("/incidents", h.listIncidents)
	r.Get("/incidents.geojson", h.incidentsGeoJSON)
	r.Get("/incidents/{id}", h.getIncident)
	r.Get("/runs", h.listRuns)
	r.Get("/runs/stats", h.runStats)
	r.Get("/runs/{id}", h.getRun)

	if h.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listIncidents(w http.ResponseWriter, r *http.Request) {
	filter, err := incidentFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	incidents, err := h.Store.ListIncidents(r.Context(), filter)
	if err != nil {
		h.internalError(w, r, "list incidents", err)
		return
	}
	if incidents == nil {
		incidents = []model.Incident{}
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (h *Handler) getIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.Store.GetIncident(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	if err != nil {
		h.internalError(w, r, "get incident", err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *Handler) incidentsGeoJSON(w http.ResponseWriter, r *http.Request) {
	filter, err := incidentFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	incidents, err := h.Store.ListIncidents(r.Context(), filter)
	if err != nil {
		h.internalError(w, r, "list incidents", err)
		return
	}
	data, err := FeatureCollection(incidents).MarshalJSON()
	if err != nil {
		h.internalError(w, r, "encode geojson", err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logs, err := h.Store.ListRunLogs(r.Context(), limit)
	if err != nil {
		h.internalError(w, r, "list runs", err)
		return
	}
	if logs == nil {
		logs = []model.RunLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	rl, err := h.Store.GetRunLog(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.internalError(w, r, "get run", err)
		return
	}
	writeJSON(w, http.StatusOK, rl)
}

func (h *Handler) runStats(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", 7)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := h.Stats.Stats(r.Context(), days)
	if err != nil {
		h.internalError(w, r, "run stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	zap.L().Error("api: "+op,
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// incidentFilter reads since (RFC 3339 time or a Go duration back from
// now), limit and offset.
func incidentFilter(r *http.Request) (store.IncidentFilter, error) {
	var f store.IncidentFilter
	if s := r.URL.Query().Get("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			f.Since = t
		} else if d, err := time.ParseDuration(s); err == nil && d > 0 {
			f.Since = time.Now().UTC().Add(-d)
		} else {
			return f, errors.New("since must be an RFC 3339 time or a duration")
		}
	}
	var err error
	if f.Limit, err = intParam(r, "limit", 0); err != nil {
		return f, err
	}
	if f.Offset, err = intParam(r, "offset", 0); err != nil {
		return f, err
	}
	return f, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
