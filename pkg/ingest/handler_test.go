package ingest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"fleetlink/pkg/predictor"
	"fleetlink/pkg/wire"
)

func newTestHandler() (*Handler, *Router) {
	hub := NewHub(nil)
	router := NewRouter(predictor.DefaultConfig(), NewHistory(100), nil, nil, nil)
	return NewHandler(router, hub, nil), router
}

func TestHandleTelemetry_Accepts(t *testing.T) {
	h, _ := newTestHandler()

	body := wire.Encode(&wire.Packet{
		Timestamp: 1000,
		Speed:     f(65), Power: f(15), Battery: f(80), Heading: f(180),
		VIN: "5YJ3E1EA7KF317000",
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/telemetry", bytes.NewReader(body))
	req.Header.Set(HeaderVehicleVIN, "5YJ3E1EA7KF317000")
	req.Header.Set(HeaderCompressed, "1")
	rr := httptest.NewRecorder()

	h.HandleTelemetry(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp IngestResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, 1, resp.Buffered)
}

func TestHandleTelemetry_EmptyBody(t *testing.T) {
	h, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/v1/telemetry", bytes.NewReader(nil))
	rr := httptest.NewRecorder()

	h.HandleTelemetry(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleTelemetry_MalformedPayload(t *testing.T) {
	h, router := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/v1/telemetry",
		bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}))
	req.Header.Set(HeaderCompressed, "1")
	rr := httptest.NewRecorder()

	h.HandleTelemetry(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, 0, router.Buffered())
}

func TestHandleStatus(t *testing.T) {
	h, router := newTestHandler()

	for i := 0; i < 15; i++ {
		body := wire.Encode(&wire.Packet{Timestamp: int64(1000 + i), Speed: f(65), VIN: "VIN-A"})
		_, err := router.Ingest(body, "VIN-A", true)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rr := httptest.NewRecorder()
	h.HandleStatus(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Buffered    int                      `json:"buffered"`
		Subscribers int                      `json:"subscribers"`
		Recent      []map[string]interface{} `json:"recent"`
		Stats       struct {
			TotalReadings int64 `json:"total_readings"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 15, resp.Buffered)
	require.Equal(t, 0, resp.Subscribers)
	require.Len(t, resp.Recent, 10)
	require.Equal(t, int64(60), resp.Stats.TotalReadings)
}

func TestHandleClear(t *testing.T) {
	h, router := newTestHandler()

	body := wire.Encode(&wire.Packet{Timestamp: 1000, Speed: f(65), VIN: "VIN-A"})
	_, err := router.Ingest(body, "VIN-A", true)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	h.HandleClear(rr, httptest.NewRequest(http.MethodPost, "/v1/buffer/clear", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 0, router.Buffered())
	require.Equal(t, int64(0), router.Stats().TotalReadings)
}

func TestLoggerEndpoints_NoLoggerConfigured(t *testing.T) {
	h, _ := newTestHandler()

	for _, handle := range []http.HandlerFunc{h.HandleLoggerStart, h.HandleLoggerStop} {
		rr := httptest.NewRecorder()
		handle(rr, httptest.NewRequest(http.MethodPost, "/v1/logger/start", nil))
		require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/logger/offline", bytes.NewReader([]byte(`{"offline":true}`)))
	h.HandleLoggerOffline(rr, req)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
