package client

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/feupam/feupam-checkout/internal/domain"
)

// ListReservations returns the current user's reservations
func (c *Client) ListReservations(ctx context.Context) ([]domain.UserReservation, error) {
	raw, err := c.do(ctx, call{method: http.MethodGet, path: "/users/reservations", timeout: c.readTimeout}, nil)
	if err != nil {
		return nil, err
	}
	var list []domain.UserReservation
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Reservations []domain.UserReservation `json:"reservations"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Reservations, nil
}

// ReservationsReport returns the aggregate report across all users
func (c *Client) ReservationsReport(ctx context.Context) ([]domain.ReservationReportRow, error) {
	var rows []domain.ReservationReportRow
	_, err := c.do(ctx, call{method: http.MethodGet, path: "/users/reservations-report", timeout: c.defaultTimeout}, &rows)
	return rows, err
}
