package handlers

import (
	"encoding/json"
	"net/http"
)

// HealthHandler answers liveness and readiness probes
type HealthHandler struct {
	service string
	status  func() map[string]string
}

// NewHealthHandler creates a health handler. status may be nil; its entries
// are added to the readiness body.
func NewHealthHandler(service string, status func() map[string]string) *HealthHandler {
	return &HealthHandler{service: service, status: status}
}

// Health handles liveness checks
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": h.service})
}

// Ready handles readiness checks
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ready"}
	if h.status != nil {
		for k, v := range h.status() {
			body[k] = v
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
