package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"pgward/internal/orchestrator"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// statusServer exposes the read-only status API plus the backup and restore
// triggers over HTTP, and live event streams over websockets.
type statusServer struct {
	orchs  map[string]*orchestrator.Orchestrator
	keys   []string
	logger zerolog.Logger
}

func newStatusServer(orchs []*orchestrator.Orchestrator, logger zerolog.Logger) *statusServer {
	s := &statusServer{
		orchs:  make(map[string]*orchestrator.Orchestrator, len(orchs)),
		logger: logger,
	}
	for _, orch := range orchs {
		s.orchs[orch.Key()] = orch
		s.keys = append(s.keys, orch.Key())
	}
	return s
}

func (s *statusServer) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/targets", s.handleTargets)
	mux.HandleFunc("/api/backups", s.handleBackups)
	mux.HandleFunc("/api/backup", s.handleTriggerBackup)
	mux.HandleFunc("/api/restore", s.handleTriggerRestore)
	mux.HandleFunc("/api/events", s.handleEvents)

	s.logger.Info().Str("addr", addr).Msg("status API listening")
	return http.ListenAndServe(addr, mux)
}

type targetStatus struct {
	Key         string     `json:"key"`
	Name        string     `json:"name"`
	State       string     `json:"state"`
	Progress    float64    `json:"progress"`
	NextRun     *time.Time `json:"nextRun,omitempty"`
	LastMessage string     `json:"lastMessage,omitempty"`
	BackupCount int        `json:"backupCount"`
}

type backupEntry struct {
	Object     string    `json:"object"`
	Size       int64     `json:"size"`
	SourceTime time.Time `json:"sourceTime"`
}

type triggerRequest struct {
	Target string `json:"target"`
	Backup string `json:"backup,omitempty"`
}

func (s *statusServer) status(orch *orchestrator.Orchestrator) targetStatus {
	st := targetStatus{
		Key:         orch.Key(),
		Name:        orch.Name(),
		State:       orch.State().String(),
		Progress:    orch.Progress(),
		LastMessage: orch.LastMessage(),
		BackupCount: orch.Catalog().Len(),
	}
	if next := orch.NextRun(); !next.IsZero() {
		st.NextRun = &next
	}
	return st
}

func (s *statusServer) handleTargets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	targets := make([]targetStatus, 0, len(s.keys))
	for _, key := range s.keys {
		targets = append(targets, s.status(s.orchs[key]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": targets})
}

func (s *statusServer) handleBackups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	orch, ok := s.lookup(w, r.URL.Query().Get("target"))
	if !ok {
		return
	}

	records := orch.Catalog().Snapshot()
	backups := make([]backupEntry, 0, len(records))
	for _, rec := range records {
		backups = append(backups, backupEntry{
			Object:     rec.StorageKey,
			Size:       rec.SizeBytes,
			SourceTime: rec.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"backups": backups})
}

func (s *statusServer) handleTriggerBackup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	orch, ok := s.lookup(w, req.Target)
	if !ok {
		return
	}

	// A pipeline already in flight makes this a no-op; the caller observes
	// the outcome on the event stream either way.
	orch.ForceBackup()
	writeJSON(w, http.StatusAccepted, s.status(orch))
}

func (s *statusServer) handleTriggerRestore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Backup == "" {
		writeError(w, http.StatusBadRequest, "backup is required")
		return
	}

	orch, ok := s.lookup(w, req.Target)
	if !ok {
		return
	}

	if err := orch.ForceRestore(req.Backup); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, s.status(orch))
}

type eventMessage struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// handleEvents upgrades to a websocket and forwards the target's state,
// progress, next-run, and info streams until the client goes away.
func (s *statusServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	orch, ok := s.lookup(w, r.URL.Query().Get("target"))
	if !ok {
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	states, cancelStates := orch.SubscribeState()
	defer cancelStates()
	progress, cancelProgress := orch.SubscribeProgress()
	defer cancelProgress()
	nextRuns, cancelNextRuns := orch.SubscribeNextRun()
	defer cancelNextRuns()
	info, cancelInfo := orch.SubscribeInfo()
	defer cancelInfo()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		var msg eventMessage
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		case v := <-states:
			msg = eventMessage{Type: "state", Value: v.String()}
		case v := <-progress:
			msg = eventMessage{Type: "progress", Value: v}
		case v := <-nextRuns:
			msg = eventMessage{Type: "nextRun", Value: v}
		case v := <-info:
			msg = eventMessage{Type: "info", Value: v}
		}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// lookup resolves a target key to its orchestrator, writing the HTTP error
// itself when the key is missing or unknown.
func (s *statusServer) lookup(w http.ResponseWriter, key string) (*orchestrator.Orchestrator, bool) {
	if key == "" {
		writeError(w, http.StatusBadRequest, "target is required")
		return nil, false
	}
	orch, ok := s.orchs[key]
	if !ok {
		writeError(w, http.StatusNotFound, "target not found")
		return nil, false
	}
	return orch, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
