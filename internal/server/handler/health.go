package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anungis437/nzila-automation-sub010/internal/health"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	checker *health.HealthChecker // nil = always ready
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(checker *health.HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// Register mounts /healthz and /readyz on the engine root.
func (h *HealthHandler) Register(r gin.IRoutes) {
	r.GET("/healthz", h.Live)
	r.GET("/readyz", h.Ready)
}

// Live handles GET /healthz.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready handles GET /readyz.
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.checker == nil {
		c.JSON(http.StatusOK, gin.H{"ready": true, "dependencies": []health.DependencyStatus{}})
		return
	}
	status := http.StatusOK
	ready := h.checker.Ready()
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ready": ready, "dependencies": h.checker.Statuses()})
}
