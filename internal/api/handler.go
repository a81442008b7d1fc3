package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cellpulse/cellpulse/internal/health"
	"github.com/cellpulse/cellpulse/internal/obs"
	"github.com/cellpulse/cellpulse/internal/store"
)

// maxNoteLen caps the size of one diagnostic note body.
const maxNoteLen = 4096

// ConfigProvider returns the engine configuration to use for the next
// batch. Hot reloads swap the underlying config between batches only.
type ConfigProvider func() health.Config

// Broadcaster fans a processed batch out to live dashboard clients.
type Broadcaster interface {
	Broadcast(event string, data any)
}

// Cache is the latest-metric cache surface the handler uses. A miss returns
// (nil, nil); the handler then falls through to the store.
type Cache interface {
	SetLatest(ctx context.Context, m health.HealthMetric) error
	Latest(ctx context.Context, cellID string) (*health.HealthMetric, error)
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store   store.Store
	cache   Cache
	hub     Broadcaster
	metrics *obs.Metrics
	engCfg  ConfigProvider
	router  chi.Router
}

// New creates a Handler wired to its collaborators and registers all routes.
// cache, hub and metrics may each be nil.
func New(st store.Store, c Cache, hub Broadcaster, metrics *obs.Metrics, engCfg ConfigProvider) http.Handler {
	h := &Handler{
		store:   st,
		cache:   c,
		hub:     hub,
		metrics: metrics,
		engCfg:  engCfg,
	}

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/measurements", h.uploadMeasurement)
		r.Get("/measurements/{id}/metrics", h.measurementMetrics)
		r.Get("/cells/{id}/latest", h.cellLatest)
		r.Get("/fleet/health", h.fleetHealth)
		r.Get("/thresholds", h.thresholds)
		r.Post("/measurements/{id}/cells/{cell}/notes", h.addNote)
		r.Get("/measurements/{id}/cells/{cell}/notes", h.listNotes)
		r.Delete("/notes/{id}", h.deleteNote)
	})
	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// uploadMeasurement handles POST /api/v1/measurements: decode the uploaded
// CSV, run the engine, persist and fan out the result.
func (h *Handler) uploadMeasurement(w http.ResponseWriter, r *http.Request) {
	rows, err := rowsFromUpload(r)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	measurementID := uuid.NewString()
	start := time.Now()
	res, err := health.ProcessBatch(r.Context(), measurementID, rows, h.engCfg())
	if err != nil {
		var cfgErr *health.ConfigurationError
		switch {
		case errors.As(err, &cfgErr):
			slog.Error("upload: engine configuration rejected", "err", err)
			jsonErr(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, health.ErrNoValidCells):
			jsonErr(w, http.StatusUnprocessableEntity, err.Error())
		default:
			slog.Error("upload: batch processing failed", "err", err)
			jsonErr(w, http.StatusInternalServerError, "batch processing failed")
		}
		return
	}

	if h.metrics != nil {
		h.metrics.ObserveBatch(res, time.Since(start))
	}

	if err := h.store.SaveBatch(r.Context(), res); err != nil {
		slog.Error("upload: persist batch", "measurement", measurementID, "err", err)
		jsonErr(w, http.StatusInternalServerError, "failed to persist metrics")
		return
	}
	h.cacheLatest(r, res)

	if h.hub != nil {
		h.hub.Broadcast("batch", toBatchResponse(res))
	}

	slog.Info("measurement processed",
		"measurement", measurementID,
		"cells", len(res.Metrics),
		"failures", len(res.Failures),
		"rejected_rows", len(res.RowErrors),
	)
	jsonResp(w, http.StatusCreated, toBatchResponse(res))
}

// measurementMetrics handles GET /api/v1/measurements/{id}/metrics.
func (h *Handler) measurementMetrics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	metrics, err := h.store.MetricsByMeasurement(r.Context(), id)
	if err != nil {
		slog.Error("query measurement metrics", "measurement", id, "err", err)
		jsonErr(w, http.StatusInternalServerError, "query failed")
		return
	}
	if len(metrics) == 0 {
		jsonErr(w, http.StatusNotFound, "measurement not found")
		return
	}
	jsonResp(w, http.StatusOK, metrics)
}

// cellLatest handles GET /api/v1/cells/{id}/latest, consulting the cache
// before the store.
func (h *Handler) cellLatest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if cached := h.cachedLatest(r, id); cached != nil {
		jsonResp(w, http.StatusOK, cached)
		return
	}

	m, err := h.store.LatestByCell(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "cell not found")
		return
	}
	if err != nil {
		slog.Error("query latest metric", "cell", id, "err", err)
		jsonErr(w, http.StatusInternalServerError, "query failed")
		return
	}
	jsonResp(w, http.StatusOK, m)
}

// fleetHealth handles GET /api/v1/fleet/health.
func (h *Handler) fleetHealth(w http.ResponseWriter, r *http.Request) {
	latest, err := h.store.LatestAll(r.Context())
	if err != nil {
		slog.Error("query fleet health", "err", err)
		jsonErr(w, http.StatusInternalServerError, "query failed")
		return
	}
	jsonResp(w, http.StatusOK, toFleetHealth(latest))
}

// thresholds handles GET /api/v1/thresholds.
func (h *Handler) thresholds(w http.ResponseWriter, r *http.Request) {
	cfg := h.engCfg()
	out := make([]ThresholdResponse, 0, len(cfg.Thresholds))
	for _, t := range cfg.Thresholds {
		out = append(out, ThresholdResponse{
			Metric:   string(t.Metric),
			Min:      t.Min,
			Max:      t.Max,
			Severity: string(t.Severity),
		})
	}
	jsonResp(w, http.StatusOK, out)
}

// addNote handles POST /api/v1/measurements/{id}/cells/{cell}/notes.
func (h *Handler) addNote(w http.ResponseWriter, r *http.Request) {
	var req NoteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxNoteLen)).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid note body")
		return
	}
	if req.Author == "" || req.Text == "" {
		jsonErr(w, http.StatusBadRequest, "author and text are required")
		return
	}

	note := store.Note{
		ID:            uuid.NewString(),
		MeasurementID: chi.URLParam(r, "id"),
		CellID:        chi.URLParam(r, "cell"),
		Author:        req.Author,
		Text:          req.Text,
		CreatedAt:     time.Now().UTC(),
	}
	err := h.store.AddNote(r.Context(), note)
	if errors.Is(err, store.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "metric not found")
		return
	}
	if err != nil {
		slog.Error("add note", "err", err)
		jsonErr(w, http.StatusInternalServerError, "failed to store note")
		return
	}
	jsonResp(w, http.StatusCreated, note)
}

// listNotes handles GET /api/v1/measurements/{id}/cells/{cell}/notes.
func (h *Handler) listNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.store.NotesByMetric(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "cell"))
	if err != nil {
		slog.Error("list notes", "err", err)
		jsonErr(w, http.StatusInternalServerError, "query failed")
		return
	}
	jsonResp(w, http.StatusOK, notes)
}

// deleteNote handles DELETE /api/v1/notes/{id}.
func (h *Handler) deleteNote(w http.ResponseWriter, r *http.Request) {
	err := h.store.DeleteNote(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "note not found")
		return
	}
	if err != nil {
		slog.Error("delete note", "err", err)
		jsonErr(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ----------------------------------------------------------------

// cacheLatest writes each metric of the batch into the latest-metric cache.
// Cache failures are logged, never surfaced — the store stays authoritative.
func (h *Handler) cacheLatest(r *http.Request, res *health.BatchResult) {
	if h.cache == nil {
		return
	}
	for _, m := range res.Metrics {
		if err := h.cache.SetLatest(r.Context(), m); err != nil {
			slog.Warn("cache latest metric", "cell", m.CellID, "err", err)
		}
	}
}

// cachedLatest reads a cell's latest metric from the cache; nil on any miss
// or error.
func (h *Handler) cachedLatest(r *http.Request, cellID string) *health.HealthMetric {
	if h.cache == nil {
		return nil
	}
	m, err := h.cache.Latest(r.Context(), cellID)
	if err != nil {
		slog.Warn("cache lookup", "cell", cellID, "err", err)
		return nil
	}
	return m
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("api: encode response", "err", err)
	}
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, map[string]string{"error": msg})
}
