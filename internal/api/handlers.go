// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/vigilosec/vigilo/internal/cache"
	"github.com/vigilosec/vigilo/internal/calibration"
	"github.com/vigilosec/vigilo/internal/config"
	"github.com/vigilosec/vigilo/internal/model"
	"github.com/vigilosec/vigilo/internal/models"
	"github.com/vigilosec/vigilo/internal/pipeline"
	"github.com/vigilosec/vigilo/internal/store"
	"github.com/vigilosec/vigilo/internal/websocket"
)

// Store is the slice of the persistence layer the API reads. *store.Store
// satisfies it; tests substitute fakes.
type Store interface {
	Ping(ctx context.Context) error
	ListAlerts(ctx context.Context, filter store.AlertFilter) ([]models.Alert, error)
	CountAlerts(ctx context.Context, filter store.AlertFilter) (int, error)
	ListVerdicts(ctx context.Context, filter store.VerdictFilter) ([]models.Verdict, error)
	CountVerdicts(ctx context.Context, filter store.VerdictFilter) (int, error)
}

// ModelHealth reports per-detector fit state. *model.Registry satisfies it.
type ModelHealth interface {
	Health() map[string]model.Health
}

// PipelineStatus reports live ingest counters. *pipeline.Pipeline
// satisfies it.
type PipelineStatus interface {
	Stats() pipeline.IngestStats
	OpenSessions() int64
}

// Deps carries the handler's collaborators. Store, Pipeline, and Hub may
// be nil: the process can run storeless, the API can come up before the
// pipeline, and the WebSocket feed is optional. Endpoints backed by a
// missing collaborator answer 503.
type Deps struct {
	Store      Store
	Calibrator *calibration.Calibrator
	Models     ModelHealth
	Pipeline   PipelineStatus
	Hub        *websocket.Hub
	Version    string
}

// Handler implements the ops API endpoints.
type Handler struct {
	cfg       *config.Config
	deps      Deps
	respCache cache.Cacher // list-endpoint response cache, nil when disabled
	startTime time.Time
}

// NewHandler creates the endpoint handler. A positive API.CacheTTL turns
// on response caching for the alert and verdict list endpoints, which
// absorbs dashboard polling between store round trips.
func NewHandler(cfg *config.Config, deps Deps) *Handler {
	if deps.Version == "" {
		deps.Version = "dev"
	}
	h := &Handler{
		cfg:       cfg,
		deps:      deps,
		startTime: time.Now(),
	}
	if cfg.API.CacheTTL > 0 {
		h.respCache = cache.NewTTL(cfg.API.CacheTTL)
	}
	return h
}

// cachedList is a memoized list-endpoint result. The envelope meta is
// rebuilt per request; only the data and pagination are reused.
type cachedList[T any] struct {
	items []T
	page  PaginationMeta
}

// healthStatus is the payload for the detailed health endpoint.
type healthStatus struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Database      bool    `json:"database_connected"`
	Calibrated    bool    `json:"calibrated"`
	ModelsFitted  int     `json:"models_fitted"`
	ModelsTotal   int     `json:"models_total"`
	OpenSessions  int64   `json:"open_sessions"`
}

// Healthz handles liveness probe requests. It returns 200 whenever the
// process is alive, regardless of dependencies.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"alive":          true,
		"uptime_seconds": time.Since(h.startTime).Seconds(),
	})
}

// Health handles detailed health requests. The status degrades when a
// configured store is unreachable or no detector has been fitted yet;
// a storeless process with fitted detectors is healthy.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	dbConnected := h.deps.Store != nil && h.deps.Store.Ping(r.Context()) == nil

	fitted, total := 0, 0
	if h.deps.Models != nil {
		for _, hs := range h.deps.Models.Health() {
			total++
			if hs.Fitted {
				fitted++
			}
		}
	}

	status := "healthy"
	if h.deps.Store != nil && !dbConnected {
		status = "degraded"
	}
	if total > 0 && fitted == 0 {
		status = "degraded"
	}

	var openSessions int64
	if h.deps.Pipeline != nil {
		openSessions = h.deps.Pipeline.OpenSessions()
	}

	rw.Success(healthStatus{
		Status:        status,
		Version:       h.deps.Version,
		UptimeSeconds: time.Since(h.startTime).Seconds(),
		Database:      dbConnected,
		Calibrated:    h.deps.Calibrator != nil && h.deps.Calibrator.Calibrated(),
		ModelsFitted:  fitted,
		ModelsTotal:   total,
		OpenSessions:  openSessions,
	})
}

// ingestStats is the payload for the pipeline stats endpoint.
type ingestStats struct {
	EventsReceived  int64 `json:"events_received"`
	EventsAccepted  int64 `json:"events_accepted"`
	EventsMalformed int64 `json:"events_malformed"`
	EventsDuplicate int64 `json:"events_duplicate"`
	OpenSessions    int64 `json:"open_sessions"`
	WSClients       int   `json:"ws_clients"`
}

// Stats reports live pipeline counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Pipeline == nil {
		rw.ServiceUnavailable("Pipeline is not running")
		return
	}

	stats := h.deps.Pipeline.Stats()
	payload := ingestStats{
		EventsReceived:  stats.Received,
		EventsAccepted:  stats.Accepted,
		EventsMalformed: stats.Malformed,
		EventsDuplicate: stats.Duplicate,
		OpenSessions:    h.deps.Pipeline.OpenSessions(),
	}
	if h.deps.Hub != nil {
		payload.WSClients = h.deps.Hub.GetClientCount()
	}

	rw.Success(payload)
}

// Alerts lists stored alerts, newest first, honoring severity, session,
// and time-range filters.
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Store == nil {
		rw.ServiceUnavailable("Alert history requires a store")
		return
	}

	req, apiErr := parseAlertsRequest(r, h.cfg.API)
	if apiErr != nil {
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	var cacheKey string
	if h.respCache != nil {
		cacheKey = cache.GenerateKey("ListAlerts", req)
		if cached, found := h.respCache.Get(cacheKey); found {
			if hit, ok := cached.(cachedList[models.Alert]); ok {
				rw.SuccessWithPagination(hit.items, &hit.page)
				return
			}
		}
	}

	filter := req.Filter()
	alerts, err := h.deps.Store.ListAlerts(r.Context(), filter)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	total, err := h.deps.Store.CountAlerts(r.Context(), filter)
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	if alerts == nil {
		alerts = []models.Alert{}
	}
	page := PaginationMeta{
		Total:   int64(total),
		Count:   len(alerts),
		Offset:  req.Offset,
		Limit:   req.Limit,
		HasMore: req.Offset+len(alerts) < total,
	}
	if h.respCache != nil {
		h.respCache.Set(cacheKey, cachedList[models.Alert]{items: alerts, page: page})
	}
	rw.SuccessWithPagination(alerts, &page)
}

// Verdicts lists stored verdicts, newest first, honoring decision,
// session, and time filters.
func (h *Handler) Verdicts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Store == nil {
		rw.ServiceUnavailable("Verdict history requires a store")
		return
	}

	req, apiErr := parseVerdictsRequest(r, h.cfg.API)
	if apiErr != nil {
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	var cacheKey string
	if h.respCache != nil {
		cacheKey = cache.GenerateKey("ListVerdicts", req)
		if cached, found := h.respCache.Get(cacheKey); found {
			if hit, ok := cached.(cachedList[models.Verdict]); ok {
				rw.SuccessWithPagination(hit.items, &hit.page)
				return
			}
		}
	}

	filter := req.Filter()
	verdicts, err := h.deps.Store.ListVerdicts(r.Context(), filter)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	total, err := h.deps.Store.CountVerdicts(r.Context(), filter)
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	if verdicts == nil {
		verdicts = []models.Verdict{}
	}
	page := PaginationMeta{
		Total:   int64(total),
		Count:   len(verdicts),
		Offset:  req.Offset,
		Limit:   req.Limit,
		HasMore: req.Offset+len(verdicts) < total,
	}
	if h.respCache != nil {
		h.respCache.Set(cacheKey, cachedList[models.Verdict]{items: verdicts, page: page})
	}
	rw.SuccessWithPagination(verdicts, &page)
}

// Models reports every detector's fit state keyed by detector id.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Models == nil {
		rw.ServiceUnavailable("Model registry is not available")
		return
	}

	rw.Success(h.deps.Models.Health())
}

// calibrationStatus is the payload for the calibration endpoint.
type calibrationStatus struct {
	Calibrated bool                   `json:"calibrated"`
	Threshold  *calibration.Threshold `json:"threshold,omitempty"`
}

// Calibration reports the current threshold, or calibrated=false before
// the first publication.
func (h *Handler) Calibration(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Calibrator == nil {
		rw.ServiceUnavailable("Calibrator is not available")
		return
	}

	th, ok := h.deps.Calibrator.Snapshot()
	status := calibrationStatus{Calibrated: ok}
	if ok {
		status.Threshold = &th
	}
	rw.Success(status)
}

// Recalibrate recomputes and publishes the threshold on demand. With too
// little benign history the previous threshold stays in force and the
// client gets a 409 explaining how far along the window is.
func (h *Handler) Recalibrate(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Calibrator == nil {
		rw.ServiceUnavailable("Calibrator is not available")
		return
	}

	th, err := h.deps.Calibrator.Recalibrate()
	if err != nil {
		if errors.Is(err, calibration.ErrInsufficientHistory) {
			rw.Conflict(err.Error())
			return
		}
		rw.InternalError("Recalibration failed")
		return
	}

	rw.Success(th)
}
