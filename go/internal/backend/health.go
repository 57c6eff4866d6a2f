package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Pinger is satisfied by *pgxpool.Pool
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionChecker is satisfied by *realtime.NATSChannel
type ConnectionChecker interface {
	IsConnected() bool
}

type HealthStatus struct {
	Healthy           bool     `json:"healthy"`
	DatabaseConnected *bool    `json:"database_connected,omitempty"`
	NATSConnected     *bool    `json:"nats_connected,omitempty"`
	Connections       int      `json:"connections"`
	Errors            []string `json:"errors"`
}

// HealthChecker reports on relayd's dependencies. Nil dependencies are not
// configured and are left out of the report.
type HealthChecker struct {
	db          Pinger
	nats        ConnectionChecker
	connections func() int
}

func NewHealthChecker(db Pinger, nats ConnectionChecker, connections func() int) *HealthChecker {
	return &HealthChecker{db: db, nats: nats, connections: connections}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{Healthy: true, Errors: []string{}}

	if h.db != nil {
		ok := true
		if err := h.db.Ping(ctx); err != nil {
			ok = false
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
		}
		status.DatabaseConnected = &ok
	}

	if h.nats != nil {
		ok := h.nats.IsConnected()
		if !ok {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
		status.NATSConnected = &ok
	}

	if h.connections != nil {
		status.Connections = h.connections()
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to write health response")
	}
}
