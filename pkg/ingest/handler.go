package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"fleetlink/pkg/config"
	"fleetlink/pkg/edgelog"
	"fleetlink/pkg/httpx"
)

// MaxPayloadBytes bounds an ingest request body. Telemetry packets are
// tens of bytes; anything near this limit is garbage.
const MaxPayloadBytes = 64 * 1024

// Request headers carrying the out-of-band packet metadata.
const (
	HeaderVehicleVIN = "X-Vehicle-Vin"
	HeaderCompressed = "X-Compressed"
)

// Handler exposes the ingestion and operations endpoints.
type Handler struct {
	router *Router
	hub    *Hub
	logger *edgelog.Handle
}

// NewHandler creates the HTTP handler. logger may be nil when no edge
// logger binary is configured.
func NewHandler(router *Router, hub *Hub, logger *edgelog.Handle) *Handler {
	return &Handler{router: router, hub: hub, logger: logger}
}

// IngestResponse acknowledges one accepted telemetry payload.
type IngestResponse struct {
	Status   string `json:"status"`
	Buffered int    `json:"buffered"`
}

// HandleTelemetry handles POST /v1/telemetry: a raw binary packet in the
// body, the VIN and compression flag in headers.
func (h *Handler) HandleTelemetry(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxPayloadBytes+1))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if len(body) == 0 {
		httpx.RespondErrorString(w, http.StatusBadRequest, "empty payload")
		return
	}
	if len(body) > MaxPayloadBytes {
		httpx.RespondErrorString(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	vin := r.Header.Get(HeaderVehicleVIN)
	compressed := parseBoolHeader(r.Header.Get(HeaderCompressed))

	if _, err := h.router.Ingest(body, vin, compressed); err != nil {
		if errors.Is(err, ErrDecode) {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	httpx.RespondJSON(w, http.StatusOK, IngestResponse{
		Status:   "ok",
		Buffered: h.router.Buffered(),
	})
}

// HandleStatus handles GET /v1/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"buffered":    h.router.Buffered(),
		"subscribers": h.hub.Count(),
		"recent":      h.router.Snapshot(config.StatusRecentSize),
		"stats":       h.router.Stats(),
	})
}

// HandleClear handles POST /v1/buffer/clear: empties the history buffer
// and resets the compression counters for a new logging run.
func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	h.router.Reset()
	h.hub.BroadcastLog("info", "history buffer cleared by operator")
	httpx.RespondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// HandleLoggerStart handles POST /v1/logger/start.
func (h *Handler) HandleLoggerStart(w http.ResponseWriter, r *http.Request) {
	if h.logger == nil {
		httpx.RespondErrorString(w, http.StatusServiceUnavailable, "no edge logger configured")
		return
	}
	if err := h.logger.Start(); err != nil {
		httpx.RespondError(w, http.StatusConflict, err)
		return
	}
	h.hub.BroadcastLog("info", "edge logger started")
	httpx.RespondJSON(w, http.StatusOK, map[string]string{"status": h.logger.Status().String()})
}

// HandleLoggerStop handles POST /v1/logger/stop.
func (h *Handler) HandleLoggerStop(w http.ResponseWriter, r *http.Request) {
	if h.logger == nil {
		httpx.RespondErrorString(w, http.StatusServiceUnavailable, "no edge logger configured")
		return
	}
	if err := h.logger.Stop(); err != nil {
		httpx.RespondError(w, http.StatusConflict, err)
		return
	}
	h.hub.BroadcastLog("info", "edge logger stopped")
	httpx.RespondJSON(w, http.StatusOK, map[string]string{"status": h.logger.Status().String()})
}

// offlineRequest toggles the logger's offline buffering mode.
type offlineRequest struct {
	Offline bool `json:"offline"`
}

// HandleLoggerOffline handles POST /v1/logger/offline.
func (h *Handler) HandleLoggerOffline(w http.ResponseWriter, r *http.Request) {
	if h.logger == nil {
		httpx.RespondErrorString(w, http.StatusServiceUnavailable, "no edge logger configured")
		return
	}

	var req offlineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if err := h.logger.SetOffline(req.Offline); err != nil {
		httpx.RespondError(w, http.StatusConflict, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]bool{"offline": req.Offline})
}

var startTime = time.Now()

// HandleHealth handles GET /v1/health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(startTime).String(),
	})
}

func parseBoolHeader(v string) bool {
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
