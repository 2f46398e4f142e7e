package handler

import (
	"io"
	"time"

	"github.com/feupam/feupam-checkout/internal/dto"
	"github.com/feupam/feupam-checkout/internal/metrics"
	"github.com/feupam/feupam-checkout/internal/service"
	"github.com/feupam/feupam-checkout/pkg/middleware"
	"github.com/feupam/feupam-checkout/pkg/response"
	"github.com/feupam/feupam-checkout/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// CheckoutHandler exposes the running checkout and its payments
type CheckoutHandler struct {
	checkouts *service.CheckoutManager
	payments  service.PaymentService
	heartbeat time.Duration
}

// CheckoutHandlerConfig contains configuration for the checkout handler
type CheckoutHandlerConfig struct {
	// Heartbeat is the SSE keep-alive interval
	Heartbeat time.Duration
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(checkouts *service.CheckoutManager, payments service.PaymentService, cfg *CheckoutHandlerConfig) *CheckoutHandler {
	heartbeat := 15 * time.Second
	if cfg != nil && cfg.Heartbeat > 0 {
		heartbeat = cfg.Heartbeat
	}
	return &CheckoutHandler{checkouts: checkouts, payments: payments, heartbeat: heartbeat}
}

// Get handles GET /checkout/:event_id. A checkout persisted by an earlier
// process is resumed.
func (h *CheckoutHandler) Get(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	s, err := h.checkouts.Get(c.Request.Context(), userID, c.Param("event_id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, s.Snapshot())
}

// Stream handles GET /checkout/:event_id/stream. Timer events are sent as
// SSE until the checkout finishes or the client goes away.
func (h *CheckoutHandler) Stream(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	s, err := h.checkouts.Get(c.Request.Context(), userID, c.Param("event_id"))
	if err != nil {
		handleError(c, err)
		return
	}

	events, cancel := s.Subscribe()
	defer cancel()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("snapshot", s.Snapshot())

	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(evt.Type), evt)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"at": time.Now().Unix()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// Stop handles DELETE /checkout/:event_id. The loop and its timers stop;
// the persisted reservation is kept for a later resume.
func (h *CheckoutHandler) Stop(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	if err := h.checkouts.Stop(userID, c.Param("event_id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"stopped": true})
}

// PayCard handles POST /checkout/:event_id/payments/card
func (h *CheckoutHandler) PayCard(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.checkout.pay_card")
	defer span.End()

	var req dto.CardPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	userID, _ := middleware.GetUserID(c)
	span.SetAttributes(attribute.Int("installments", req.Installments))

	res, err := h.payments.PayCard(ctx, userID, c.Param("event_id"), req.ToInput())
	if err != nil {
		telemetry.RecordError(span, err)
		handleError(c, err)
		return
	}
	response.Created(c, res)
}

// PayPix handles POST /checkout/:event_id/payments/pix
func (h *CheckoutHandler) PayPix(c *gin.Context) {
	h.payPix(c, false)
}

// PayPixInstallment handles POST /checkout/:event_id/payments/pix-installment
func (h *CheckoutHandler) PayPixInstallment(c *gin.Context) {
	h.payPix(c, true)
}

func (h *CheckoutHandler) payPix(c *gin.Context, firstInstallment bool) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.checkout.pay_pix")
	defer span.End()

	var req dto.PixPaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}
	userID, _ := middleware.GetUserID(c)
	span.SetAttributes(attribute.Bool("first_installment", firstInstallment))

	res, err := h.payments.PayPix(ctx, userID, c.Param("event_id"), req.ToInput(firstInstallment))
	if err != nil {
		telemetry.RecordError(span, err)
		handleError(c, err)
		return
	}
	response.Created(c, res)
}

// PaymentGuard rejects a submission while the checkout's payment block is
// active, before any body parsing or backend call
func (h *CheckoutHandler) PaymentGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.GetUserID(c)
		if s, ok := h.checkouts.Peek(userID, c.Param("event_id")); ok && s.PaymentBlocked() {
			metrics.RecordPaymentRejected(c.Request.Context(), "blocked")
			response.TooManyRequests(c, "PAYMENT_BLOCKED", "a payment was just submitted, wait before trying again")
			return
		}
		c.Next()
	}
}
