package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/motorlog/livelink/internal/db"
	"github.com/motorlog/livelink/internal/domain"
	"github.com/motorlog/livelink/internal/firmware"
	"github.com/motorlog/livelink/internal/ingest"
	"github.com/motorlog/livelink/internal/mqtt"
	"github.com/motorlog/livelink/internal/query"
	"github.com/motorlog/livelink/internal/registry"
	"github.com/motorlog/livelink/internal/state"
	"github.com/motorlog/livelink/internal/store"
)

// Handler carries the service dependencies for all HTTP endpoints.
type Handler struct {
	pipeline *ingest.Pipeline
	registry *registry.Registry
	engine   *query.Engine
	tracker  *state.Tracker
	jobs     *store.Jobs
	broker   *mqtt.Manager
	firmware *firmware.Client
	logger   *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	pipeline *ingest.Pipeline,
	reg *registry.Registry,
	engine *query.Engine,
	tracker *state.Tracker,
	jobs *store.Jobs,
	broker *mqtt.Manager,
	fw *firmware.Client,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		pipeline: pipeline,
		registry: reg,
		engine:   engine,
		tracker:  tracker,
		jobs:     jobs,
		broker:   broker,
		firmware: fw,
		logger:   logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ingestRequest struct {
	DeviceID        string           `json:"device_id"`
	FirmwareVersion string           `json:"firmware_version,omitempty"`
	Readings        []ingest.RawItem `json:"readings"`
}

// Ingest is the HTTP push path. Authentication failure rejects the whole
// request; a malformed reading rejects only that item so one bad sample
// never drops a batch of good ones.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		respondError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = r.Header.Get("X-Device-ID")
	}
	if deviceID == "" {
		respondError(w, http.StatusBadRequest, "missing device_id")
		return
	}

	if err := h.registry.Authenticate(r.Context(), token, deviceID); err != nil {
		if errors.Is(err, registry.ErrUnauthorized) {
			respondError(w, http.StatusUnauthorized, "invalid ingestion token")
			return
		}
		h.logger.Error("authentication check failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "authentication unavailable")
		return
	}

	result, err := h.pipeline.IngestBatch(r.Context(), ingest.Batch{
		DeviceID:        deviceID,
		FirmwareVersion: req.FirmwareVersion,
		Items:           req.Readings,
		ReceivedAt:      time.Now(),
	})
	if err != nil {
		h.logger.Error("ingestion failed", zap.String("device_id", deviceID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func parseRangeParams(r *http.Request) (keys []string, start, end time.Time, interval int, err error) {
	q := r.URL.Query()

	end = time.Now()
	if v := q.Get("end"); v != "" {
		end, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, time.Time{}, time.Time{}, 0, fmt.Errorf("invalid end: %w", err)
		}
	}
	start = end.Add(-time.Hour)
	if v := q.Get("start"); v != "" {
		start, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, time.Time{}, time.Time{}, 0, fmt.Errorf("invalid start: %w", err)
		}
	}
	if v := q.Get("interval_seconds"); v != "" {
		interval, err = strconv.Atoi(v)
		if err != nil {
			return nil, time.Time{}, time.Time{}, 0, fmt.Errorf("invalid interval_seconds: %w", err)
		}
	}
	if v := q.Get("keys"); v != "" {
		keys = strings.Split(v, ",")
	}
	return keys, start, end, interval, nil
}

func (h *Handler) respondQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrVehicleNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, query.ErrIntervalRequired),
		errors.Is(err, query.ErrInvalidRange),
		errors.Is(err, query.ErrUnknownParameter):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("query failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "query failed")
	}
}

// TelemetryRange serves the historical chart query.
func (h *Handler) TelemetryRange(w http.ResponseWriter, r *http.Request) {
	keys, start, end, interval, err := parseRangeParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	series, err := h.engine.Range(r.Context(), chi.URLParam(r, "vin"), keys, start, end, interval)
	if err != nil {
		h.respondQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"series": series})
}

// TelemetryLatest serves the live gauge snapshot.
func (h *Handler) TelemetryLatest(w http.ResponseWriter, r *http.Request) {
	values, err := h.engine.Latest(r.Context(), chi.URLParam(r, "vin"))
	if err != nil {
		h.respondQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"values": values})
}

// TelemetryExport serves the range query as CSV. The export is buffered so
// a rejected query still gets a proper error status instead of headers
// followed by an empty body.
func (h *Handler) TelemetryExport(w http.ResponseWriter, r *http.Request) {
	keys, start, end, interval, err := parseRangeParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	vin := chi.URLParam(r, "vin")
	var buf bytes.Buffer
	if err := h.engine.ExportCSV(r.Context(), &buf, vin, keys, start, end, interval); err != nil {
		h.respondQueryError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "telemetry-"+vin+".csv"))
	_, _ = buf.WriteTo(w)
}

type deviceResponse struct {
	ID              string     `json:"id"`
	Label           *string    `json:"label"`
	VehicleVIN      *string    `json:"vehicle_vin"`
	FirmwareVersion *string    `json:"firmware_version"`
	SignalStrength  *float64   `json:"signal_strength"`
	Enabled         bool       `json:"enabled"`
	CreatedAt       time.Time  `json:"created_at"`
	LastSeenAt      time.Time  `json:"last_seen_at"`
	DeviceStatus    string     `json:"device_status"`
	ECUStatus       string     `json:"ecu_status"`
	UpdateAvailable *bool      `json:"update_available,omitempty"`
	LatestFirmware  string     `json:"latest_firmware,omitempty"`
}

func (h *Handler) deviceResponse(d db.Device, snap domain.ConnectivityState, latest *firmware.Release) deviceResponse {
	resp := deviceResponse{
		ID:              d.ID,
		Label:           d.Label,
		VehicleVIN:      d.VehicleVIN,
		FirmwareVersion: d.FirmwareVersion,
		SignalStrength:  d.SignalStrength,
		Enabled:         d.Enabled,
		CreatedAt:       d.CreatedAt,
		LastSeenAt:      d.LastSeenAt,
		DeviceStatus:    string(snap.DeviceStatus),
		ECUStatus:       string(snap.ECUStatus),
	}
	if latest != nil && d.FirmwareVersion != nil {
		outdated := *d.FirmwareVersion != latest.Version
		resp.UpdateAvailable = &outdated
		resp.LatestFirmware = latest.Version
	}
	return resp
}

// ListDevices returns all devices with derived connectivity state.
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.registry.List(r.Context())
	if err != nil {
		h.logger.Error("device list failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "device list failed")
		return
	}

	// A stale firmware cache or unreachable feed just omits the update flag.
	var latest *firmware.Release
	if release, err := h.firmware.LatestRelease(r.Context()); err == nil {
		latest = &release
	}

	now := time.Now()
	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, h.deviceResponse(d, h.tracker.Snapshot(d.ID, now), latest))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": out})
}

type deviceUpdateRequest struct {
	Label      *string `json:"label"`
	VehicleVIN *string `json:"vehicle_vin"`
	Enabled    *bool   `json:"enabled"`
}

// UpdateDevice applies operator edits to label, vehicle link or enabled flag.
func (h *Handler) UpdateDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	deviceID := chi.URLParam(r, "deviceID")
	device, err := h.registry.Update(r.Context(), deviceID, registry.DeviceUpdate{
		Label:      req.Label,
		VehicleVIN: req.VehicleVIN,
		Enabled:    req.Enabled,
	})
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("device update failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "device update failed")
		return
	}

	writeJSON(w, http.StatusOK, h.deviceResponse(device, h.tracker.Snapshot(device.ID, time.Now()), nil))
}

// DeleteDevice removes the device; its telemetry history is retained,
// orphaned. Irreversible for deployed hardware; the consuming UI owns the
// confirmation step.
func (h *Handler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	err := h.registry.Delete(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("device delete failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "device delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeviceSessions lists recent telemetry sessions for a device.
func (h *Handler) DeviceSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.tracker.Sessions(r.Context(), chi.URLParam(r, "deviceID"), 50, time.Now())
	if err != nil {
		h.logger.Error("session list failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "session list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// IssueDeviceToken regenerates the per-device token and returns the
// plaintext exactly once. The previous token stops working immediately.
func (h *Handler) IssueDeviceToken(w http.ResponseWriter, r *http.Request) {
	secret, err := h.registry.IssueDeviceToken(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("device token issue failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": secret})
}

// RevokeDeviceToken deletes the device token; the device falls back to the
// global token.
func (h *Handler) RevokeDeviceToken(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.RevokeDeviceToken(r.Context(), chi.URLParam(r, "deviceID")); err != nil {
		h.logger.Error("device token revoke failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "token revoke failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// IssueGlobalToken regenerates the process-wide token. Every device still
// using the previous global token loses access, an intentional breaking
// action the consuming UI must gate with confirmation.
func (h *Handler) IssueGlobalToken(w http.ResponseWriter, r *http.Request) {
	secret, err := h.registry.IssueGlobalToken(r.Context())
	if err != nil {
		h.logger.Error("global token issue failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": secret})
}

// MQTTStatus reports the broker link snapshot.
func (h *Handler) MQTTStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.broker.Status())
}

// MQTTRestart cycles the broker connection.
func (h *Handler) MQTTRestart(w http.ResponseWriter, r *http.Request) {
	h.broker.Restart()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "restarting"})
}

// TriggerRollup runs the aggregation and retention job out of schedule.
func (h *Handler) TriggerRollup(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.RunOnce(r.Context()); err != nil {
		if errors.Is(err, store.ErrRollupRunning) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("manual rollup failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "rollup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}
