package service

import (
	"context"

	"github.com/feupam/feupam-checkout/internal/domain"
	"github.com/feupam/feupam-checkout/pkg/telemetry"
)

// EventService reads event and reservation listings from the backend
type EventService interface {
	ListEvents(ctx context.Context) ([]domain.EventStatus, error)
	GetEvent(ctx context.Context, eventID string) (*domain.Event, error)
	GetInstallments(ctx context.Context, eventID string) ([]domain.InstallmentOption, error)
	UserReservations(ctx context.Context) ([]domain.UserReservation, error)
	TicketStatus(ctx context.Context, eventID string) (*domain.TicketStatus, error)
}

type eventService struct {
	api BackendAPI
}

// NewEventService creates a new event service
func NewEventService(api BackendAPI) EventService {
	return &eventService{api: api}
}

func (s *eventService) ListEvents(ctx context.Context) ([]domain.EventStatus, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.event.list")
	defer span.End()

	events, err := s.api.ListEventStatus(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if events == nil {
		events = []domain.EventStatus{}
	}
	return events, nil
}

func (s *eventService) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	if eventID == "" {
		return nil, domain.ErrInvalidEventID
	}
	ctx, span := telemetry.StartSpan(ctx, "service.event.get")
	defer span.End()

	event, err := s.api.GetEvent(ctx, eventID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return event, nil
}

func (s *eventService) GetInstallments(ctx context.Context, eventID string) ([]domain.InstallmentOption, error) {
	if eventID == "" {
		return nil, domain.ErrInvalidEventID
	}
	ctx, span := telemetry.StartSpan(ctx, "service.event.installments")
	defer span.End()

	options, err := s.api.GetInstallments(ctx, eventID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return options, nil
}

func (s *eventService) UserReservations(ctx context.Context) ([]domain.UserReservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.event.user_reservations")
	defer span.End()

	list, err := s.api.ListReservations(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if list == nil {
		list = []domain.UserReservation{}
	}
	return list, nil
}

// TicketStatus runs the idempotent purchase status check
func (s *eventService) TicketStatus(ctx context.Context, eventID string) (*domain.TicketStatus, error) {
	if eventID == "" {
		return nil, domain.ErrInvalidEventID
	}
	ctx, span := telemetry.StartSpan(ctx, "service.event.ticket_status")
	defer span.End()

	status, err := s.api.PurchaseStatus(ctx, eventID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return status, nil
}
