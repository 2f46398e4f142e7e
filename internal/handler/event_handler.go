package handler

import (
	"github.com/feupam/feupam-checkout/internal/service"
	"github.com/feupam/feupam-checkout/pkg/response"
	"github.com/gin-gonic/gin"
)

// EventHandler serves event listings and the user's reservations
type EventHandler struct {
	events service.EventService
}

// NewEventHandler creates a new event handler
func NewEventHandler(events service.EventService) *EventHandler {
	return &EventHandler{events: events}
}

// ListEvents handles GET /events
func (h *EventHandler) ListEvents(c *gin.Context) {
	events, err := h.events.ListEvents(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, events)
}

// GetEvent handles GET /events/:event_id
func (h *EventHandler) GetEvent(c *gin.Context) {
	event, err := h.events.GetEvent(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, event)
}

// GetInstallments handles GET /events/:event_id/installments
func (h *EventHandler) GetInstallments(c *gin.Context) {
	options, err := h.events.GetInstallments(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"installments": options})
}

// UserReservations handles GET /users/reservations
func (h *EventHandler) UserReservations(c *gin.Context) {
	list, err := h.events.UserReservations(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, list)
}

// TicketStatus handles GET /tickets/:event_id/status
func (h *EventHandler) TicketStatus(c *gin.Context) {
	status, err := h.events.TicketStatus(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, status)
}
