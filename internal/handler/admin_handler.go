package handler

import (
	"github.com/feupam/feupam-checkout/internal/dto"
	"github.com/feupam/feupam-checkout/internal/service"
	"github.com/feupam/feupam-checkout/pkg/response"
	"github.com/gin-gonic/gin"
)

// AdminHandler handles admin reporting and reconciliation
type AdminHandler struct {
	admin service.AdminService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(admin service.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// ReservationsReport handles GET /admin/reservations-report
func (h *AdminHandler) ReservationsReport(c *gin.Context) {
	rows, err := h.admin.ReservationsReport(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, rows)
}

// ReprocessPayment handles POST /admin/payments/reprocess
func (h *AdminHandler) ReprocessPayment(c *gin.Context) {
	var req dto.ReprocessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	res, err := h.admin.ReprocessPayment(c.Request.Context(), req.ToClient())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}
