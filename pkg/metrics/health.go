package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Component names reported by digest
const (
	ComponentStore     = "store"
	ComponentScheduler = "scheduler"
	ComponentConsumer  = "consumer"
	ComponentAPI       = "api"
)

// criticalComponents must be registered and healthy before the process is ready
var criticalComponents = []string{ComponentStore, ComponentScheduler, ComponentConsumer}

// ComponentStatus is the readiness response body
type ComponentStatus struct {
	Status     string            `json:"status"` // "ready", "not_ready", "healthy", "unhealthy"
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// ComponentHealth tracks the health of a single component
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

// registry holds the last reported state of every component
type registry struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	startTime  time.Time
	version    string
}

var components = newRegistry()

func newRegistry() *registry {
	return &registry{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
}

// ResetComponents clears all registered components and restarts the uptime clock
func ResetComponents() {
	components.mu.Lock()
	defer components.mu.Unlock()
	components.components = make(map[string]ComponentHealth)
	components.startTime = time.Now()
	components.version = ""
}

// SetVersion sets the version string for status responses
func SetVersion(version string) {
	components.mu.Lock()
	defer components.mu.Unlock()
	components.version = version
}

// UpdateComponent records the current health of a component
func UpdateComponent(name string, healthy bool, message string) {
	components.mu.Lock()
	defer components.mu.Unlock()

	components.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// Components returns a snapshot of all registered components sorted by name
func Components() []ComponentHealth {
	components.mu.RLock()
	defer components.mu.RUnlock()

	out := make([]ComponentHealth, 0, len(components.components))
	for _, c := range components.components {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetReadiness reports whether all critical components are registered and healthy
func GetReadiness() ComponentStatus {
	components.mu.RLock()
	defer components.mu.RUnlock()

	status := "ready"
	message := ""
	states := make(map[string]string)

	for _, name := range criticalComponents {
		comp, exists := components.components[name]
		switch {
		case !exists:
			status = "not_ready"
			message = "waiting for " + name + " initialization"
			states[name] = "not registered"
		case !comp.Healthy:
			status = "not_ready"
			message = "waiting for " + name
			states[name] = "not ready: " + comp.Message
		default:
			states[name] = "ready"
		}
	}

	return ComponentStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: states,
		Message:    message,
		Version:    components.version,
		Uptime:     time.Since(components.startTime).String(),
	}
}

// ReadyHandler returns an HTTP handler for the /ready endpoint
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()

		w.Header().Set("Content-Type", "application/json")

		statusCode := http.StatusOK
		if readiness.Status != "ready" {
			statusCode = http.StatusServiceUnavailable
		}
		w.WriteHeader(statusCode)

		_ = json.NewEncoder(w).Encode(readiness)
	}
}

// LivenessHandler returns a simple liveness check (always returns 200 if process is running)
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		components.mu.RLock()
		uptime := time.Since(components.startTime).String()
		components.mu.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": uptime,
		})
	}
}
