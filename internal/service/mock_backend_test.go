package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/feupam/feupam-checkout/internal/client"
	"github.com/feupam/feupam-checkout/internal/domain"
	"github.com/feupam/feupam-checkout/internal/repository"
)

// MockBackendAPI is a mock implementation of BackendAPI
type MockBackendAPI struct {
	ListEventStatusFunc        func(ctx context.Context) ([]domain.EventStatus, error)
	GetEventFunc               func(ctx context.Context, eventID string) (*domain.Event, error)
	CheckSpotFunc              func(ctx context.Context, eventID string) (*domain.SpotAvailability, error)
	ReserveSpotFunc            func(ctx context.Context, eventID string, req client.ReserveSpotRequest) (*domain.ReserveSpotResult, error)
	GetInstallmentsFunc        func(ctx context.Context, eventID string) ([]domain.InstallmentOption, error)
	PurchaseStatusFunc         func(ctx context.Context, eventID string) (*domain.TicketStatus, error)
	RetryStatusFunc            func(ctx context.Context, eventID string) (*domain.TicketStatus, error)
	CreatePaymentFunc          func(ctx context.Context, req *client.PaymentRequest) (*client.ChargeResult, error)
	ReprocessPaymentStatusFunc func(ctx context.Context, req client.ReprocessRequest) (*client.ReprocessResult, error)
	ListReservationsFunc       func(ctx context.Context) ([]domain.UserReservation, error)
	ReservationsReportFunc     func(ctx context.Context) ([]domain.ReservationReportRow, error)

	ListReservationsCalls atomic.Int32
	CheckSpotCalls        atomic.Int32
	ReserveSpotCalls      atomic.Int32
	RetryStatusCalls      atomic.Int32
	CreatePaymentCalls    atomic.Int32

	mu       sync.Mutex
	payments []*client.PaymentRequest
}

func (m *MockBackendAPI) ListEventStatus(ctx context.Context) ([]domain.EventStatus, error) {
	if m.ListEventStatusFunc != nil {
		return m.ListEventStatusFunc(ctx)
	}
	return nil, nil
}

func (m *MockBackendAPI) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	if m.GetEventFunc != nil {
		return m.GetEventFunc(ctx, eventID)
	}
	return &domain.Event{ID: eventID, Name: "Retiro " + eventID, Price: 5000, IsOpen: true}, nil
}

func (m *MockBackendAPI) CheckSpot(ctx context.Context, eventID string) (*domain.SpotAvailability, error) {
	m.CheckSpotCalls.Add(1)
	if m.CheckSpotFunc != nil {
		return m.CheckSpotFunc(ctx, eventID)
	}
	return &domain.SpotAvailability{Available: true}, nil
}

func (m *MockBackendAPI) ReserveSpot(ctx context.Context, eventID string, req client.ReserveSpotRequest) (*domain.ReserveSpotResult, error) {
	m.ReserveSpotCalls.Add(1)
	if m.ReserveSpotFunc != nil {
		return m.ReserveSpotFunc(ctx, eventID, req)
	}
	price := int64(5000)
	return &domain.ReserveSpotResult{SpotID: "spot-1", Email: "ana@example.com", EventID: eventID, UserType: req.UserType, Status: domain.ReservationStatusReserved, Price: &price}, nil
}

func (m *MockBackendAPI) GetInstallments(ctx context.Context, eventID string) ([]domain.InstallmentOption, error) {
	if m.GetInstallmentsFunc != nil {
		return m.GetInstallmentsFunc(ctx, eventID)
	}
	return []domain.InstallmentOption{
		{Number: 1, ValueInCents: 40000},
		{Number: 2, ValueInCents: 21000},
		{Number: 4, ValueInCents: 11000},
	}, nil
}

func (m *MockBackendAPI) PurchaseStatus(ctx context.Context, eventID string) (*domain.TicketStatus, error) {
	if m.PurchaseStatusFunc != nil {
		return m.PurchaseStatusFunc(ctx, eventID)
	}
	return &domain.TicketStatus{Status: domain.ReservationStatusReserved}, nil
}

func (m *MockBackendAPI) RetryStatus(ctx context.Context, eventID string) (*domain.TicketStatus, error) {
	m.RetryStatusCalls.Add(1)
	if m.RetryStatusFunc != nil {
		return m.RetryStatusFunc(ctx, eventID)
	}
	return &domain.TicketStatus{Status: domain.ReservationStatusReserved}, nil
}

func (m *MockBackendAPI) CreatePayment(ctx context.Context, req *client.PaymentRequest) (*client.ChargeResult, error) {
	m.CreatePaymentCalls.Add(1)
	m.mu.Lock()
	m.payments = append(m.payments, req)
	m.mu.Unlock()
	if m.CreatePaymentFunc != nil {
		return m.CreatePaymentFunc(ctx, req)
	}
	res := &client.ChargeResult{Shape: client.ChargeShapeLink, ChargeID: "ch-1", Status: "pending"}
	if len(req.Payments) > 0 && req.Payments[0].PaymentMethod == domain.PaymentMethodPix {
		res.Pix = &domain.PixPayload{QRCode: "https://qr", CopiaECola: "000201pix"}
	}
	return res, nil
}

func (m *MockBackendAPI) ReprocessPaymentStatus(ctx context.Context, req client.ReprocessRequest) (*client.ReprocessResult, error) {
	if m.ReprocessPaymentStatusFunc != nil {
		return m.ReprocessPaymentStatusFunc(ctx, req)
	}
	return &client.ReprocessResult{Status: "Pago"}, nil
}

func (m *MockBackendAPI) ListReservations(ctx context.Context) ([]domain.UserReservation, error) {
	m.ListReservationsCalls.Add(1)
	if m.ListReservationsFunc != nil {
		return m.ListReservationsFunc(ctx)
	}
	return nil, nil
}

func (m *MockBackendAPI) ReservationsReport(ctx context.Context) ([]domain.ReservationReportRow, error) {
	if m.ReservationsReportFunc != nil {
		return m.ReservationsReportFunc(ctx)
	}
	return nil, nil
}

func (m *MockBackendAPI) Payments() []*client.PaymentRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*client.PaymentRequest(nil), m.payments...)
}

// MockEventPublisher records published events
type MockEventPublisher struct {
	mu     sync.Mutex
	events []*domain.CheckoutEvent
}

func (m *MockEventPublisher) Publish(ctx context.Context, event *domain.CheckoutEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MockEventPublisher) Close() error { return nil }

func (m *MockEventPublisher) Count(t domain.CheckoutEventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// testClock is a settable clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func inline(fn func()) { fn() }

type checkoutFixture struct {
	api      *MockBackendAPI
	store    *repository.MemorySessionStore
	sessions *repository.CheckoutSessionRepository
	events   *MockEventPublisher
	clock    *testClock
	manager  *CheckoutManager
	cfg      *CheckoutConfig
}

func newCheckoutFixture() *checkoutFixture {
	f := &checkoutFixture{
		api:    &MockBackendAPI{},
		store:  repository.NewMemorySessionStore(0),
		events: &MockEventPublisher{},
		clock:  newTestClock(),
	}
	f.sessions = repository.NewCheckoutSessionRepository(f.store)
	f.cfg = DefaultCheckoutConfig()
	f.cfg.ExpiryRetry.InitialInterval = time.Millisecond
	f.cfg.ExpiryRetry.MaxInterval = time.Millisecond
	f.manager = NewCheckoutManager(f.api, f.sessions, f.events, f.cfg)
	f.manager.now = f.clock.Now
	f.manager.autoStart = false
	return f
}

// begin starts a checkout whose background work runs inline
func (f *checkoutFixture) begin(userID, eventID string) *CheckoutSession {
	data := domain.ReservationData{SpotID: "spot-1", Email: "ana@example.com", EventID: eventID, UserType: domain.UserTypeClient, Status: domain.ReservationStatusReserved}
	if _, err := f.manager.Begin(context.Background(), userID, data); err != nil {
		panic(err)
	}
	s, _ := f.manager.Peek(userID, eventID)
	s.dispatch = inline
	return s
}
