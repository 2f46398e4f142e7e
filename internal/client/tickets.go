package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/feupam/feupam-checkout/internal/domain"
)

// PurchaseStatus is the idempotent check/claim call for a ticket
func (c *Client) PurchaseStatus(ctx context.Context, eventID string) (*domain.TicketStatus, error) {
	var status domain.TicketStatus
	if _, err := c.do(ctx, call{method: http.MethodGet, path: "/tickets/" + url.PathEscape(eventID) + "/purchase", timeout: c.readTimeout}, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RetryStatus re-checks the remaining time and status of a reservation
func (c *Client) RetryStatus(ctx context.Context, eventID string) (*domain.TicketStatus, error) {
	var status domain.TicketStatus
	if _, err := c.do(ctx, call{method: http.MethodGet, path: "/tickets/" + url.PathEscape(eventID) + "/retry", timeout: c.readTimeout}, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
