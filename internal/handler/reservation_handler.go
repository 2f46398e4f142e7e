package handler

import (
	"errors"
	"net/http"

	"github.com/feupam/feupam-checkout/internal/domain"
	"github.com/feupam/feupam-checkout/internal/dto"
	"github.com/feupam/feupam-checkout/internal/service"
	"github.com/feupam/feupam-checkout/pkg/middleware"
	"github.com/feupam/feupam-checkout/pkg/response"
	"github.com/feupam/feupam-checkout/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// ReservationHandler drives the reservation process of the current user
type ReservationHandler struct {
	reservations service.ReservationService
}

// NewReservationHandler creates a new reservation handler
func NewReservationHandler(reservations service.ReservationService) *ReservationHandler {
	return &ReservationHandler{reservations: reservations}
}

// Process handles POST /reservations/:event_id/process
func (h *ReservationHandler) Process(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.process")
	defer span.End()

	userID, _ := middleware.GetUserID(c)
	eventID := c.Param("event_id")
	span.SetAttributes(attribute.String("user_id", userID), attribute.String("event_id", eventID))

	var req dto.ProcessReservationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}

	p, err := h.reservations.Process(ctx, userID, eventID, req.ToProcessRequest())
	if err != nil {
		telemetry.RecordError(span, err)
		h.processError(c, p, err)
		return
	}
	span.SetAttributes(attribute.String("state", string(p.State)))
	response.Success(c, p)
}

// Get handles GET /reservations/:event_id
func (h *ReservationHandler) Get(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	p, err := h.reservations.GetProcess(userID, c.Param("event_id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, p)
}

// TryAgain handles POST /reservations/:event_id/try-again
func (h *ReservationHandler) TryAgain(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.try_again")
	defer span.End()

	userID, _ := middleware.GetUserID(c)
	p, err := h.reservations.TryAgain(ctx, userID, c.Param("event_id"))
	if err != nil {
		telemetry.RecordError(span, err)
		h.processError(c, p, err)
		return
	}
	response.Success(c, p)
}

// Continue handles POST /reservations/:event_id/continue. It seeds the
// session store and starts the checkout timer.
func (h *ReservationHandler) Continue(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.continue")
	defer span.End()

	userID, _ := middleware.GetUserID(c)
	snap, err := h.reservations.Continue(ctx, userID, c.Param("event_id"))
	if err != nil {
		telemetry.RecordError(span, err)
		handleError(c, err)
		return
	}
	response.Created(c, snap)
}

// processError keeps the backend message of a terminal process
func (h *ReservationHandler) processError(c *gin.Context, p *service.ReservationProcess, err error) {
	if p != nil && errors.Is(err, domain.ErrNotRetriable) {
		message := p.Message
		if message == "" {
			message = err.Error()
		}
		response.ErrorWith(c, http.StatusConflict, &response.ErrorData{
			Code:    "NOT_RETRIABLE",
			Message: message,
			Details: string(p.State),
		})
		return
	}
	handleError(c, err)
}
