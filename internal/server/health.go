package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Pinger is a dependency whose connectivity is reported by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// healthCheckHandler handles GET /healthz.
// Returns 200 OK if every dependency answers, 503 Service Unavailable otherwise.
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status: "healthy",
		Checks: make(map[string]string, len(s.checks)),
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var failures []string
	for _, name := range names {
		if err := s.checks[name].Ping(ctx); err != nil {
			response.Checks[name] = "disconnected"
			failures = append(failures, name+": "+err.Error())
			continue
		}
		response.Checks[name] = "connected"
	}

	status := http.StatusOK
	if len(failures) > 0 {
		response.Status = "unhealthy"
		response.Error = strings.Join(failures, "; ")
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}
