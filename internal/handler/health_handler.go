package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler handles health check HTTP requests
type HealthHandler struct {
	service string
	store   Pinger
	active  func() int
}

// NewHealthHandler creates a new HealthHandler. store may be nil when the
// in-memory session store is used.
func NewHealthHandler(service string, store Pinger, active func() int) *HealthHandler {
	return &HealthHandler{service: service, store: store, active: active}
}

// Health returns basic health status
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": h.service,
	})
}

// Ready checks the session store
// GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	body := gin.H{"service": h.service}
	if h.active != nil {
		body["checkouts"] = h.active()
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.HealthCheck(ctx); err != nil {
			body["status"] = "not_ready"
			body["session_store"] = "disconnected"
			body["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["session_store"] = "connected"
	}

	body["status"] = "ready"
	c.JSON(http.StatusOK, body)
}
