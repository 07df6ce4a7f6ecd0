package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"fleetgate/internal/fleet"
	"fleetgate/internal/types"
)

// handleFleet serves GET /api/v1/fleet/{instance}: one reconciled view of
// live nodes, pairing state, and tracked machines.
func (s *Server) handleFleet(w http.ResponseWriter, r *http.Request) {
	s.incrementRequestCount()
	if r.Method != http.MethodGet {
		s.incrementErrorCount()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(w, r) {
		return
	}

	instanceID := strings.TrimPrefix(r.URL.Path, "/api/v1/fleet/")
	if !validIdentifier(instanceID) {
		s.incrementErrorCount()
		http.Error(w, "Invalid instance", http.StatusBadRequest)
		return
	}

	view, err := s.engine.Reconcile(r.Context(), instanceID)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// handleMachines serves GET /api/v1/machines: the persisted records as-is,
// without touching the network.
func (s *Server) handleMachines(w http.ResponseWriter, r *http.Request) {
	s.incrementRequestCount()
	if r.Method != http.MethodGet {
		s.incrementErrorCount()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(w, r) {
		return
	}

	records, err := s.machines.ListMachines(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

// handleMachine routes /api/v1/machines/dedup and
// /api/v1/machines/{id}/health.
func (s *Server) handleMachine(w http.ResponseWriter, r *http.Request) {
	s.incrementRequestCount()
	if !s.authorized(w, r) {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/machines/")
	switch {
	case rest == "dedup":
		if r.Method != http.MethodPost {
			s.incrementErrorCount()
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		deleted, err := s.engine.DeduplicateMachines(r.Context())
		if err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		log.Printf("[INFO] Dedup requested by %s: %d record(s) merged", r.RemoteAddr, deleted)
		s.writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})

	case strings.HasSuffix(rest, "/health"):
		if r.Method != http.MethodGet {
			s.incrementErrorCount()
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		machineID := strings.TrimSuffix(rest, "/health")
		if !validIdentifier(machineID) {
			s.incrementErrorCount()
			http.Error(w, "Invalid machine id", http.StatusBadRequest)
			return
		}
		result, err := s.engine.HealthCheck(r.Context(), instanceParam(r), machineID)
		if err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, result)

	default:
		s.incrementErrorCount()
		http.NotFound(w, r)
	}
}

// handleDevice serves POST /api/v1/devices/{id}/{approve|reject|remove}.
func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	s.incrementRequestCount()
	if r.Method != http.MethodPost {
		s.incrementErrorCount()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(w, r) {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/devices/")
	deviceID, action, ok := strings.Cut(rest, "/")
	if !ok || !validIdentifier(deviceID) {
		s.incrementErrorCount()
		http.Error(w, "Invalid device id", http.StatusBadRequest)
		return
	}

	instanceID := instanceParam(r)
	var result fleet.PairingResult
	var err error
	switch action {
	case "approve":
		result, err = s.engine.Approve(r.Context(), instanceID, deviceID)
	case "reject":
		result, err = s.engine.Reject(r.Context(), instanceID, deviceID)
	case "remove":
		result, err = s.engine.Remove(r.Context(), instanceID, deviceID)
	default:
		s.incrementErrorCount()
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	status := http.StatusOK
	if !result.Found {
		status = http.StatusNotFound
	}
	log.Printf("[INFO] Device %s %s on %s by %s: success=%v gateway=%v local=%v",
		deviceID, action, instanceID, r.RemoteAddr, result.Success, result.Gateway, result.Local)
	s.writeJSON(w, status, result)
}

type commandRequest struct {
	Instance string   `json:"instance"`
	Command  string   `json:"command"`
	Args     []string `json:"args"`
}

// handleCommand serves POST /api/v1/command: one allow-listed command against
// one instance's gateway host.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	s.incrementRequestCount()
	if r.Method != http.MethodPost {
		s.incrementErrorCount()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(w, r) {
		return
	}

	// Security: Limit request body size to prevent DoS
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.incrementErrorCount()
		log.Printf("[ERROR] Failed to decode command request from %s: %v", r.RemoteAddr, err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Instance == "" {
		req.Instance = "default"
	}
	if !validIdentifier(req.Instance) || req.Command == "" || len(req.Command) > maxFieldLength {
		s.incrementErrorCount()
		http.Error(w, "Invalid command request", http.StatusBadRequest)
		return
	}

	result, err := s.engine.RunCommand(r.Context(), req.Instance, req.Command, req.Args...)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	log.Printf("[INFO] Command %q on %s by %s: success=%v exit=%d",
		req.Command, req.Instance, r.RemoteAddr, result.Success, result.ExitCode)
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.incrementRequestCount()

	s.healthMu.RLock()
	healthy := s.healthy
	s.healthMu.RUnlock()

	s.statsmu.RLock()
	requestCount := s.requestCount
	errorCount := s.errorCount
	s.statsmu.RUnlock()

	status := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	response := fmt.Sprintf(`{"status":%q,"approved":%d,"requests":%d,"errors":%d}`,
		status, s.engine.ApprovedCount(), requestCount, errorCount)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write([]byte(response)); err != nil {
		log.Printf("[WARN] Error writing health response: %v", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[WARN] Error writing response: %v", err)
	}
}

// writeEngineError maps domain errors onto HTTP statuses. Transport failures
// are the gateway's fault, not the caller's, and surface as 502.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	s.incrementErrorCount()
	switch {
	case errors.Is(err, types.ErrNoTarget):
		http.Error(w, "No target configured for instance", http.StatusNotFound)
	case errors.Is(err, types.ErrMachineNotFound), errors.Is(err, types.ErrDeviceNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, types.ErrCommandNotAllowed):
		http.Error(w, "Command not allowed", http.StatusForbidden)
	case types.IsTransport(err):
		log.Printf("[WARN] Upstream failure serving %s %s: %v", r.Method, r.URL.Path, err)
		http.Error(w, "Gateway unreachable", http.StatusBadGateway)
	default:
		log.Printf("[ERROR] Internal error serving %s %s: %v", r.Method, r.URL.Path, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// validIdentifier bounds user-supplied path identifiers: non-empty, sane
// length, no path traversal.
func validIdentifier(id string) bool {
	if id == "" || len(id) > maxFieldLength {
		return false
	}
	for _, r := range id {
		if !((r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '-' || r == '_' || r == '.' || r == ':') {
			return false
		}
	}
	return true
}

func instanceParam(r *http.Request) string {
	if id := r.URL.Query().Get("instance"); id != "" {
		return id
	}
	return "default"
}
