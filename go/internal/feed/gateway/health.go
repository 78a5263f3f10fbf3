package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
)

// RelayStatus is implemented by upstream relays that hold a connection.
type RelayStatus interface {
	Connected() bool
}

type HealthStatus struct {
	Healthy          bool      `json:"healthy"`
	Service          string    `json:"service"`
	Timestamp        time.Time `json:"timestamp"`
	ConnectedClients int       `json:"connected_clients"`
	NATSConnected    *bool     `json:"nats_connected,omitempty"`
	RedisConnected   *bool     `json:"redis_connected,omitempty"`
	Errors           []string  `json:"errors"`
}

// HealthChecker reports the gateway's health. Relays that are not configured
// are left out of the report.
type HealthChecker struct {
	connections *ConnectionManager
	nats        RelayStatus
	redis       RelayStatus
	clock       clockwork.Clock
}

func NewHealthChecker(cm *ConnectionManager, nats, redis RelayStatus, clock clockwork.Clock) *HealthChecker {
	return &HealthChecker{connections: cm, nats: nats, redis: redis, clock: clock}
}

func (h *HealthChecker) Check() HealthStatus {
	status := HealthStatus{
		Healthy:          true,
		Service:          "props_gateway",
		Timestamp:        h.clock.Now().UTC(),
		ConnectedClients: h.connections.ConnectionCount(),
		Errors:           []string{},
	}

	if h.nats != nil {
		connected := h.nats.Connected()
		status.NATSConnected = &connected
		if !connected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	if h.redis != nil {
		connected := h.redis.Connected()
		status.RedisConnected = &connected
		if !connected {
			status.Healthy = false
			status.Errors = append(status.Errors, "redis subscription inactive")
		}
	}

	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check()

	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// Export renders the health status in the Prometheus text format.
func (h *HealthChecker) Export() string {
	status := h.Check()

	out := fmt.Sprintf(`# HELP props_gateway_healthy Whether the props gateway is healthy
# TYPE props_gateway_healthy gauge
props_gateway_healthy %d

# HELP props_gateway_connected_clients Current number of WebSocket clients
# TYPE props_gateway_connected_clients gauge
props_gateway_connected_clients %d
`, boolToInt(status.Healthy), status.ConnectedClients)

	if status.NATSConnected != nil {
		out += fmt.Sprintf(`
# HELP props_gateway_nats_connected Whether NATS is connected
# TYPE props_gateway_nats_connected gauge
props_gateway_nats_connected %d
`, boolToInt(*status.NATSConnected))
	}

	if status.RedisConnected != nil {
		out += fmt.Sprintf(`
# HELP props_gateway_redis_connected Whether the Redis subscription is active
# TYPE props_gateway_redis_connected gauge
props_gateway_redis_connected %d
`, boolToInt(*status.RedisConnected))
	}

	return out
}

func (h *HealthChecker) ServeMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprint(w, h.Export())
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
