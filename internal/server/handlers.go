package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mazrean/kiban"
)

// HealthTag marks registrations whose instances take part in health checks.
// Such instances implement HealthChecker.
const HealthTag = "health"

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler reports the health of every registration tagged with HealthTag.
type HealthHandler struct {
	kernel  *kiban.Kernel
	timeout time.Duration
}

// NewHealthHandler returns a health handler checking the registrations of k.
func NewHealthHandler(k *kiban.Kernel) *HealthHandler {
	return &HealthHandler{kernel: k, timeout: 2 * time.Second}
}

type healthResponse struct {
	Checks map[string]string `json:"checks,omitempty"`
	Status string            `json:"status"`
}

// ServeHTTP responds 200 when every check passes and 503 otherwise.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res := healthResponse{Status: "ok", Checks: make(map[string]string)}
	for _, id := range h.kernel.All() {
		reg, _ := h.kernel.Registration(id)
		if !reg.Options.HasTag(HealthTag) {
			continue
		}

		instance, err := h.kernel.Resolve(id)
		if err == nil {
			checker, ok := instance.(HealthChecker)
			if !ok {
				continue
			}
			err = checker.Health(ctx)
		}

		if err != nil {
			res.Status = "degraded"
			res.Checks[id.String()] = err.Error()
			continue
		}
		res.Checks[id.String()] = "ok"
	}

	status := http.StatusOK
	if res.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// RegistryHandler lists the kernel's registrations.
type RegistryHandler struct {
	kernel *kiban.Kernel
}

// NewRegistryHandler returns a handler listing the registrations of k.
func NewRegistryHandler(k *kiban.Kernel) *RegistryHandler {
	return &RegistryHandler{kernel: k}
}

// RegistrationInfo is the JSON form of a registration.
type RegistrationInfo struct {
	Identity     string   `json:"identity"`
	Kind         string   `json:"kind"`
	Scope        string   `json:"scope"`
	Path         string   `json:"path,omitempty"`
	Method       string   `json:"method,omitempty"`
	Namespace    string   `json:"namespace,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Dependencies []string `json:"dependencies"`
}

// ServeHTTP writes the registrations as a JSON array.
func (h *RegistryHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	ids := h.kernel.All()
	infos := make([]RegistrationInfo, 0, len(ids))
	for _, id := range ids {
		reg, _ := h.kernel.Registration(id)

		deps := make([]string, 0, len(reg.Dependencies))
		for _, dep := range reg.Dependencies {
			deps = append(deps, dep.String())
		}

		infos = append(infos, RegistrationInfo{
			Identity:     id.String(),
			Kind:         reg.Kind.String(),
			Scope:        reg.Options.Scope.String(),
			Path:         reg.Options.Path,
			Method:       reg.Options.Method,
			Namespace:    reg.Options.Namespace,
			Tags:         reg.Options.Tags,
			Dependencies: deps,
		})
	}

	writeJSON(w, http.StatusOK, infos)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
