package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tturner/cipadapter/internal/metrics"
	"github.com/tturner/cipadapter/internal/server"
	"github.com/tturner/cipadapter/internal/server/core"
	"github.com/tturner/cipadapter/internal/server/objects"
)

// WriteTimeout bounds how long a PUT waits for the protocol loop.
const WriteTimeout = 2 * time.Second

// Backend is the adapter as seen by the API.
type Backend interface {
	Snapshot() *server.Snapshot
	WriteAssembly(ctx context.Context, instance uint16, data []byte) error
	Metrics() []metrics.Sample
}

// AssemblyWrite is the body of PUT /assemblies/{instance}.
type AssemblyWrite struct {
	Data string `json:"data"` // hex
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status      string    `json:"status"`
	Name        string    `json:"name"`
	Sessions    int       `json:"sessions"`
	Connections int       `json:"connections"`
	Taken       time.Time `json:"taken"`
}

type handlers struct {
	backend Backend
}

// NewRouter creates the status API router.
func NewRouter(backend Backend) chi.Router {
	r := chi.NewRouter()
	h := &handlers{backend: backend}

	r.Get("/healthz", h.handleHealth)
	r.Get("/status", h.handleStatus)
	r.Get("/identity", h.handleIdentity)
	r.Get("/sessions", h.handleSessions)
	r.Get("/metrics", h.handleMetrics)

	r.Route("/connections", func(r chi.Router) {
		r.Get("/", h.handleConnections)
		r.Get("/{id}", h.handleConnection)
	})
	r.Route("/assemblies", func(r chi.Router) {
		r.Get("/", h.handleAssemblies)
		r.Get("/{instance}", h.handleAssembly)
		r.Put("/{instance}", h.handleAssemblyWrite)
	})
	return r
}

func (h *handlers) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (h *handlers) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := h.backend.Snapshot()
	h.writeJSON(w, HealthResponse{
		Status:      "ok",
		Name:        snap.Name,
		Sessions:    len(snap.Sessions),
		Connections: len(snap.Connections),
		Taken:       snap.Taken,
	})
}

func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.backend.Snapshot())
}

func (h *handlers) handleIdentity(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.backend.Snapshot().Identity)
}

func (h *handlers) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.backend.Snapshot().Sessions
	if sessions == nil {
		sessions = []core.SessionInfo{}
	}
	h.writeJSON(w, sessions)
}

func (h *handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.backend.Metrics())
}

func (h *handlers) handleConnections(w http.ResponseWriter, r *http.Request) {
	snap := h.backend.Snapshot()
	h.writeJSON(w, map[string]interface{}{
		"connections":        nonNil(snap.Connections),
		"connection_manager": snap.Counters,
	})
}

func (h *handlers) handleConnection(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 16)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "connection id must be a table number")
		return
	}
	c, ok := h.backend.Snapshot().Connection(uint16(id))
	if !ok {
		h.writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	h.writeJSON(w, c)
}

func (h *handlers) handleAssemblies(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, nonNil(h.backend.Snapshot().Assemblies))
}

func (h *handlers) handleAssembly(w http.ResponseWriter, r *http.Request) {
	instance, ok := h.instanceParam(w, r)
	if !ok {
		return
	}
	view, found := h.backend.Snapshot().Assembly(instance)
	if !found {
		h.writeError(w, http.StatusNotFound, "assembly not found")
		return
	}
	h.writeJSON(w, view)
}

func (h *handlers) handleAssemblyWrite(w http.ResponseWriter, r *http.Request) {
	instance, ok := h.instanceParam(w, r)
	if !ok {
		return
	}
	var req AssemblyWrite
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<17)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	data, err := hex.DecodeString(req.Data)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "data must be hex: "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), WriteTimeout)
	defer cancel()
	if err := h.backend.WriteAssembly(ctx, instance, data); err != nil {
		h.writeError(w, writeStatus(err), err.Error())
		return
	}

	view, _ := h.backend.Snapshot().Assembly(instance)
	h.writeJSON(w, view)
}

func (h *handlers) instanceParam(w http.ResponseWriter, r *http.Request) (uint16, bool) {
	v, err := strconv.ParseUint(chi.URLParam(r, "instance"), 10, 16)
	if err != nil || v == 0 {
		h.writeError(w, http.StatusBadRequest, "instance must be a number between 1 and 65535")
		return 0, false
	}
	return uint16(v), true
}

func writeStatus(err error) int {
	switch {
	case errors.Is(err, objects.ErrUnknownAssembly):
		return http.StatusNotFound
	case errors.Is(err, objects.ErrAssemblyOwned):
		return http.StatusConflict
	case errors.Is(err, objects.ErrAssemblySize):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotListening):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
