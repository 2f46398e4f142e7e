package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/feupam/feupam-checkout/internal/client"
	"github.com/feupam/feupam-checkout/internal/domain"
	"github.com/feupam/feupam-checkout/internal/service"
	"github.com/feupam/feupam-checkout/pkg/response"
	"github.com/gin-gonic/gin"
)

// handleError maps service, domain and backend errors to the response
// envelope. Backend validation and conflict messages are passed through
// verbatim with their original status.
func handleError(c *gin.Context, err error) {
	_ = c.Error(err)

	var cardErr *service.CardPaymentError
	if errors.As(err, &cardErr) {
		response.ErrorWith(c, http.StatusPaymentRequired, &response.ErrorData{
			Code:      "CARD_" + strings.ToUpper(string(cardErr.Remediation.Kind)),
			Message:   cardErr.Details.Message,
			Details:   cardErr.Details.Code,
			Retriable: cardErr.Remediation.AllowRetry,
			Action:    cardErr.Remediation.Action,
		})
		return
	}

	if apiErr, ok := client.AsAPIError(err); ok {
		handleAPIError(c, apiErr)
		return
	}

	switch {
	case errors.Is(err, domain.ErrCheckoutNotFound),
		errors.Is(err, domain.ErrReservationNotFound):
		response.Error(c, http.StatusNotFound, "NOT_FOUND", err.Error(), "")
	case errors.Is(err, domain.ErrReservationExpired):
		response.ErrorWith(c, http.StatusGone, &response.ErrorData{
			Code:    "EXPIRED",
			Message: err.Error(),
			Action:  "new_reservation",
		})
	case errors.Is(err, domain.ErrCheckoutClosed):
		response.Conflict(c, "CHECKOUT_CLOSED", err.Error())
	case errors.Is(err, domain.ErrAlreadyPaid):
		response.Conflict(c, "ALREADY_PAID", err.Error())
	case errors.Is(err, domain.ErrDuplicateRegistration):
		response.Conflict(c, "DUPLICATE_REGISTRATION", err.Error())
	case errors.Is(err, domain.ErrProcessInFlight):
		response.ErrorWith(c, http.StatusConflict, &response.ErrorData{Code: "PROCESS_IN_FLIGHT", Message: err.Error(), Retriable: true})
	case errors.Is(err, domain.ErrNotRetriable):
		response.Conflict(c, "NOT_RETRIABLE", err.Error())
	case errors.Is(err, domain.ErrNothingToResume):
		response.Conflict(c, "NOTHING_TO_RESUME", err.Error())
	case errors.Is(err, domain.ErrPaymentBlocked):
		response.TooManyRequests(c, "PAYMENT_BLOCKED", err.Error())
	case errors.Is(err, domain.ErrCardCooldown):
		response.ErrorWith(c, http.StatusTooManyRequests, &response.ErrorData{
			Code:      "CARD_COOLDOWN",
			Message:   err.Error(),
			Retriable: true,
			Action:    "use_pix",
		})
	case errors.Is(err, domain.ErrUnrecognizedChargeResponse):
		response.Error(c, http.StatusBadGateway, "BAD_GATEWAY", err.Error(), "")
	case domain.IsValidationError(err):
		response.BadRequest(c, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		response.ErrorWith(c, http.StatusServiceUnavailable, &response.ErrorData{Code: "CANCELED", Message: err.Error(), Retriable: true})
	default:
		response.InternalError(c, err)
	}
}

func handleAPIError(c *gin.Context, apiErr *client.APIError) {
	switch {
	case apiErr.IsTimeout():
		response.ErrorWith(c, http.StatusGatewayTimeout, &response.ErrorData{
			Code:      client.CodeTimeout,
			Message:   apiErr.Message,
			Retriable: true,
		})
	case apiErr.IsNetwork():
		response.ErrorWith(c, http.StatusServiceUnavailable, &response.ErrorData{
			Code:      client.CodeNetworkError,
			Message:   apiErr.Message,
			Retriable: true,
		})
	default:
		status := apiErr.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		code := apiErr.Code
		if code == "" {
			code = strings.ToUpper(strings.ReplaceAll(http.StatusText(apiErr.Status), " ", "_"))
		}
		if code == "" {
			code = "BACKEND_ERROR"
		}
		response.ErrorWith(c, status, &response.ErrorData{
			Code:    code,
			Message: apiErr.Message,
			Details: apiErr.Details,
		})
	}
}

// bindError renders a binding or validation failure
func bindError(c *gin.Context, err error) {
	response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
}
