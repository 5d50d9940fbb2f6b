// Package monitor serves the dispatcher's committed state to read-only
// consumers over HTTP: per-device snapshots, the latest frame, service
// status, plus a websocket stream for live display clients. It also
// exposes the operator's mode toggle.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/songseungho-v/ai-clothes-sorter/internal/dispatch"
	"github.com/songseungho-v/ai-clothes-sorter/internal/types"
)

// snapshotPushInterval is how often the websocket stream re-sends the
// current snapshot set to connected display clients.
const snapshotPushInterval = 500 * time.Millisecond

// Deps are the read-only views and the one operator action the monitor
// exposes.
type Deps struct {
	Snapshots  *dispatch.SnapshotStore
	ToggleMode func(deviceID string) (string, error)
	Status     func() map[string]any
}

// Server is the HTTP monitor.
type Server struct {
	addr string
	deps Deps
	http *http.Server

	upgrader websocket.Upgrader
}

// NewServer creates an unstarted monitor server.
func NewServer(addr string, deps Deps) *Server {
	s := &Server{
		addr: addr,
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Display clients are trusted LAN consumers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/devices", s.handleDevices)
	r.Get("/devices/{deviceID}", s.handleDevice)
	r.Get("/devices/{deviceID}/frame", s.handleFrame)
	r.Post("/devices/{deviceID}/mode/toggle", s.handleToggle)
	r.Get("/ws", s.handleWS)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	go func() {
		slog.Info("monitor server listening", "addr", s.addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("monitor server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Status())
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshotList())
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	snap, ok := s.deps.Snapshots.Get(deviceID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no data yet"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleFrame serves the device's last frame as raw JPEG; this is the
// read-only feed a display client renders; nothing here draws.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	snap, ok := s.deps.Snapshots.Get(deviceID)
	if !ok || snap.Frame == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no frame yet"})
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	w.Write(snap.Frame.Data)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	mode, err := s.deps.ToggleMode(deviceID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, dispatch.ErrUnknownDevice) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"device_id": deviceID, "mode": mode})
}

// handleWS streams the snapshot set to a display client until it
// disconnects. Push-only; inbound frames are discarded.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = uuid.NewString()[:8]
	}
	slog.Info("monitor client connected", "client_id", clientID)

	defer func() {
		conn.Close()
		slog.Info("monitor client disconnected", "client_id", clientID)
	}()

	// Drain reads so close frames and pings are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(snapshotPushInterval)
	defer ticker.Stop()

	for range ticker.C {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(s.snapshotList()); err != nil {
			return
		}
	}
}

// snapshotList returns all snapshots ordered by device id (stable
// output for clients and tests).
func (s *Server) snapshotList() []types.Snapshot {
	snaps := s.deps.Snapshots.List()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].DeviceID < snaps[j].DeviceID })
	return snaps
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}
