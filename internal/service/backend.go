package service

import (
	"context"

	"github.com/feupam/feupam-checkout/internal/client"
	"github.com/feupam/feupam-checkout/internal/domain"
)

// BackendAPI is the subset of the remote API the services depend on
type BackendAPI interface {
	ListEventStatus(ctx context.Context) ([]domain.EventStatus, error)
	GetEvent(ctx context.Context, eventID string) (*domain.Event, error)
	CheckSpot(ctx context.Context, eventID string) (*domain.SpotAvailability, error)
	ReserveSpot(ctx context.Context, eventID string, req client.ReserveSpotRequest) (*domain.ReserveSpotResult, error)
	GetInstallments(ctx context.Context, eventID string) ([]domain.InstallmentOption, error)
	PurchaseStatus(ctx context.Context, eventID string) (*domain.TicketStatus, error)
	RetryStatus(ctx context.Context, eventID string) (*domain.TicketStatus, error)
	CreatePayment(ctx context.Context, req *client.PaymentRequest) (*client.ChargeResult, error)
	ReprocessPaymentStatus(ctx context.Context, req client.ReprocessRequest) (*client.ReprocessResult, error)
	ListReservations(ctx context.Context) ([]domain.UserReservation, error)
	ReservationsReport(ctx context.Context) ([]domain.ReservationReportRow, error)
}

var _ BackendAPI = (*client.Client)(nil)
