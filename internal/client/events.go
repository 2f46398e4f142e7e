package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/feupam/feupam-checkout/internal/domain"
)

// ListEventStatus returns the calendar of events with their open windows
func (c *Client) ListEventStatus(ctx context.Context) ([]domain.EventStatus, error) {
	var events []domain.EventStatus
	_, err := c.do(ctx, call{method: http.MethodGet, path: "/events/event-status", timeout: c.readTimeout, public: true}, &events)
	return events, err
}

// GetEvent returns event metadata including its price in cents
func (c *Client) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	var event domain.Event
	if _, err := c.do(ctx, call{method: http.MethodGet, path: "/events/" + url.PathEscape(eventID), timeout: c.readTimeout, public: true}, &event); err != nil {
		return nil, err
	}
	if event.ID == "" {
		event.ID = eventID
	}
	return &event, nil
}

// CheckSpot reports whether a spot can still be reserved
func (c *Client) CheckSpot(ctx context.Context, eventID string) (*domain.SpotAvailability, error) {
	var spot domain.SpotAvailability
	if _, err := c.do(ctx, call{method: http.MethodGet, path: "/events/" + url.PathEscape(eventID) + "/check-spot", timeout: c.readTimeout}, &spot); err != nil {
		return nil, err
	}
	return &spot, nil
}

// ReserveSpotRequest is the body of POST /events/:eventId/reserve-spot
type ReserveSpotRequest struct {
	TicketKind string          `json:"ticket_kind"`
	UserType   domain.UserType `json:"userType"`
}

// ReserveSpot creates a reservation. A 409 means a paid registration already
// exists for the same identity.
func (c *Client) ReserveSpot(ctx context.Context, eventID string, req ReserveSpotRequest) (*domain.ReserveSpotResult, error) {
	var result domain.ReserveSpotResult
	if _, err := c.do(ctx, call{method: http.MethodPost, path: "/events/" + url.PathEscape(eventID) + "/reserve-spot", body: req, timeout: c.writeTimeout}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetInstallments returns the installment pricing table
func (c *Client) GetInstallments(ctx context.Context, eventID string) ([]domain.InstallmentOption, error) {
	raw, err := c.do(ctx, call{method: http.MethodGet, path: "/events/" + url.PathEscape(eventID) + "/installments", timeout: c.readTimeout}, nil)
	if err != nil {
		return nil, err
	}
	return decodeInstallments(raw)
}

// decodeInstallments accepts a bare list or {installments: [...]}
func decodeInstallments(raw []byte) ([]domain.InstallmentOption, error) {
	var list []domain.InstallmentOption
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Installments []domain.InstallmentOption `json:"installments"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Installments, nil
}
