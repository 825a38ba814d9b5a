package api

import (
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-switch/internal/device"
)

// DeviceListResponse is the body of GET /devices.
type DeviceListResponse struct {
	Devices  []device.Device `json:"devices"`
	Count    int             `json:"count"`
	Rooms    []string        `json:"rooms"`
	LoadedAt time.Time       `json:"loaded_at"`
	Stale    bool            `json:"stale"`
}

// RefreshResponse is the body of POST /devices/refresh.
type RefreshResponse struct {
	Before  int    `json:"before"`
	After   int    `json:"after"`
	Stale   bool   `json:"stale"`
	Warning string `json:"warning,omitempty"`
}

// handleListDevices returns the current snapshot. The room query parameter
// narrows the list the same way a spoken room hint does.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	snap, err := s.catalog.Get(r.Context())
	if err != nil {
		s.logger.Warn("device list unavailable", "error", err)
		writeUnavailable(w, "device directory unavailable")
		return
	}

	devices := snap.Devices()
	if room := r.URL.Query().Get("room"); room != "" {
		devices = snap.InRoom(room)
	}
	if devices == nil {
		devices = []device.Device{}
	}

	writeJSON(w, http.StatusOK, DeviceListResponse{
		Devices:  devices,
		Count:    len(devices),
		Rooms:    snap.Rooms(),
		LoadedAt: snap.LoadedAt(),
		Stale:    s.catalog.Stale(),
	})
}

// handleRefreshDevices reloads the directory and records the refresh like a
// spoken one. A failed reload that keeps the previous snapshot still answers
// 200 with stale set.
func (s *Server) handleRefreshDevices(w http.ResponseWriter, r *http.Request) {
	stats, err := s.catalog.Refresh(r.Context())
	if err != nil {
		s.logger.Warn("device refresh failed", "error", err)
		writeUnavailable(w, "device directory unavailable")
		return
	}

	if s.recorder != nil {
		s.recorder.WriteDirectoryRefresh(stats.Before, stats.After, stats.Stale)
	}
	s.logger.Info("device refresh requested",
		"subject", subjectFrom(r.Context()),
		"before", stats.Before,
		"after", stats.After,
		"stale", stats.Stale,
	)

	resp := RefreshResponse{Before: stats.Before, After: stats.After, Stale: stats.Stale}
	if stats.Warning != nil {
		resp.Warning = stats.Warning.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
