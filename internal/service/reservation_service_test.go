package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/feupam/feupam-checkout/internal/client"
	"github.com/feupam/feupam-checkout/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReservationService(f *checkoutFixture) *reservationService {
	svc := NewReservationService(f.api, f.sessions, f.manager, f.events).(*reservationService)
	svc.now = f.clock.Now
	return svc
}

func TestReservationService_HappyPath(t *testing.T) {
	f := newCheckoutFixture()
	svc := newTestReservationService(f)
	ctx := context.Background()

	proc, err := svc.Process(ctx, "user-1", "ev-1", ProcessRequest{TicketKind: "full"})
	require.NoError(t, err)

	assert.Equal(t, ProcessSuccess, proc.State)
	assert.Equal(t, []ProcessState{ProcessChecking, ProcessReserving, ProcessSuccess}, proc.Transitions)
	require.NotNil(t, proc.Reservation)
	assert.Equal(t, "ev-1", proc.Reservation.EventID)
	assert.Equal(t, 1, f.events.Count(domain.CheckoutEventReservationCreated))

	snap, err := svc.Continue(ctx, "user-1", "ev-1")
	require.NoError(t, err)
	assert.Equal(t, CheckoutActive, snap.State)
	assert.Equal(t, 600, snap.Remaining)
	assert.Equal(t, int64(5000), snap.Price)

	active, err := f.sessions.LoadReservation(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "ev-1", active.Data.EventID)
	assert.True(t, f.clock.Now().Equal(active.StartedAt))
}

func TestReservationService_AlreadyPaid(t *testing.T) {
	f := newCheckoutFixture()
	f.api.ListReservationsFunc = func(ctx context.Context) ([]domain.UserReservation, error) {
		return []domain.UserReservation{{ID: "r1", EventID: "ev-1", SpotID: "s1", Status: "Pago"}}, nil
	}
	svc := newTestReservationService(f)

	proc, err := svc.Process(context.Background(), "user-1", "ev-1", ProcessRequest{})
	require.NoError(t, err)
	assert.Equal(t, ProcessOwned, proc.State)
	assert.Equal(t, int32(0), f.api.CheckSpotCalls.Load())
	assert.Equal(t, int32(0), f.api.ReserveSpotCalls.Load())

	_, err = svc.Continue(context.Background(), "user-1", "ev-1")
	assert.ErrorIs(t, err, domain.ErrNothingToResume)
}

func TestReservationService_AdoptsUnpaidReservation(t *testing.T) {
	f := newCheckoutFixture()
	f.api.ListReservationsFunc = func(ctx context.Context) ([]domain.UserReservation, error) {
		return []domain.UserReservation{{ID: "r1", EventID: "ev-1", SpotID: "s1", Status: domain.ReservationStatusPending}}, nil
	}
	svc := newTestReservationService(f)

	proc, err := svc.Process(context.Background(), "user-1", "ev-1", ProcessRequest{})
	require.NoError(t, err)
	assert.Equal(t, ProcessExisting, proc.State)
	assert.True(t, proc.Reservation.Existing)
	assert.Equal(t, "s1", proc.Reservation.SpotID)
	assert.Equal(t, int32(1), f.api.CheckSpotCalls.Load(), "availability is re-verified")
	assert.Equal(t, int32(0), f.api.ReserveSpotCalls.Load(), "no duplicate creation")
}

func TestReservationService_UnpaidButUnavailable(t *testing.T) {
	f := newCheckoutFixture()
	f.api.ListReservationsFunc = func(ctx context.Context) ([]domain.UserReservation, error) {
		return []domain.UserReservation{{ID: "r1", EventID: "ev-1", Status: domain.ReservationStatusPending}}, nil
	}
	f.api.CheckSpotFunc = func(ctx context.Context, eventID string) (*domain.SpotAvailability, error) {
		return &domain.SpotAvailability{Available: false, Message: "Vagas esgotadas"}, nil
	}
	svc := newTestReservationService(f)

	proc, err := svc.Process(context.Background(), "user-1", "ev-1", ProcessRequest{})
	require.NoError(t, err)
	assert.Equal(t, ProcessError, proc.State)
	assert.Equal(t, "Vagas esgotadas", proc.Message)
	assert.True(t, proc.Retriable)
}

func TestReservationService_WaitingListThenTryAgain(t *testing.T) {
	f := newCheckoutFixture()
	available := false
	f.api.CheckSpotFunc = func(ctx context.Context, eventID string) (*domain.SpotAvailability, error) {
		return &domain.SpotAvailability{Available: available, WaitingList: !available}, nil
	}
	svc := newTestReservationService(f)
	ctx := context.Background()

	proc, err := svc.Process(ctx, "user-1", "ev-1", ProcessRequest{})
	require.NoError(t, err)
	assert.Equal(t, ProcessWaiting, proc.State)
	assert.Equal(t, int32(0), f.api.ReserveSpotCalls.Load())

	available = true
	proc, err = svc.TryAgain(ctx, "user-1", "ev-1")
	require.NoError(t, err)
	assert.Equal(t, ProcessSuccess, proc.State)
	assert.Equal(t, []ProcessState{ProcessChecking, ProcessReserving, ProcessSuccess}, proc.Transitions)
}

func TestReservationService_ConflictIsTerminal(t *testing.T) {
	f := newCheckoutFixture()
	msg := "Você já possui uma inscrição PAGA para este evento com este CPF"
	f.api.ReserveSpotFunc = func(ctx context.Context, eventID string, req client.ReserveSpotRequest) (*domain.ReserveSpotResult, error) {
		return nil, &client.APIError{Status: http.StatusConflict, Message: msg}
	}
	svc := newTestReservationService(f)
	ctx := context.Background()

	proc, err := svc.Process(ctx, "user-1", "ev-1", ProcessRequest{})
	require.NoError(t, err)
	assert.Equal(t, ProcessDuplicate, proc.State)
	assert.Equal(t, msg, proc.Message)
	assert.False(t, proc.Retriable)

	_, err = svc.TryAgain(ctx, "user-1", "ev-1")
	assert.ErrorIs(t, err, domain.ErrNotRetriable)

	_, err = svc.Process(ctx, "user-1", "ev-1", ProcessRequest{})
	assert.ErrorIs(t, err, domain.ErrNotRetriable)

	svc.Reset("user-1", "ev-1")
	_, err = svc.Process(ctx, "user-1", "ev-1", ProcessRequest{})
	assert.ErrorIs(t, err, domain.ErrNotRetriable)

	assert.Equal(t, int32(1), f.api.ReserveSpotCalls.Load(), "create is never called again")
	assert.Equal(t, 1, f.events.Count(domain.CheckoutEventReservationDuplicate))
}

func TestReservationService_ExistingMarkerInSpotID(t *testing.T) {
	f := newCheckoutFixture()
	f.api.ReserveSpotFunc = func(ctx context.Context, eventID string, req client.ReserveSpotRequest) (*domain.ReserveSpotResult, error) {
		return &domain.ReserveSpotResult{SpotID: "fallback-abc", EventID: eventID}, nil
	}
	svc := newTestReservationService(f)

	proc, err := svc.Process(context.Background(), "user-1", "ev-1", ProcessRequest{})
	require.NoError(t, err)
	assert.Equal(t, ProcessExisting, proc.State)
}

func TestReservationService_GenericErrorKeepsServerMessage(t *testing.T) {
	f := newCheckoutFixture()
	f.api.ReserveSpotFunc = func(ctx context.Context, eventID string, req client.ReserveSpotRequest) (*domain.ReserveSpotResult, error) {
		return nil, &client.APIError{Status: http.StatusBadRequest, Message: "CPF inválido"}
	}
	svc := newTestReservationService(f)

	proc, err := svc.Process(context.Background(), "user-1", "ev-1", ProcessRequest{})
	require.NoError(t, err)
	assert.Equal(t, ProcessError, proc.State)
	assert.Equal(t, "CPF inválido", proc.Message)
	assert.Equal(t, http.StatusBadRequest, proc.ErrorStatus)
}

func TestReservationService_NetworkErrorFallbackMessage(t *testing.T) {
	f := newCheckoutFixture()
	f.api.ListReservationsFunc = func(ctx context.Context) ([]domain.UserReservation, error) {
		return nil, errors.New("boom")
	}
	svc := newTestReservationService(f)

	proc, err := svc.Process(context.Background(), "user-1", "ev-1", ProcessRequest{})
	require.NoError(t, err)
	assert.Equal(t, ProcessError, proc.State)
	assert.Equal(t, "could not load your reservations", proc.Message)
}

func TestReservationService_SecondTriggerWhileInFlight(t *testing.T) {
	f := newCheckoutFixture()
	entered := make(chan struct{})
	release := make(chan struct{})
	f.api.ReserveSpotFunc = func(ctx context.Context, eventID string, req client.ReserveSpotRequest) (*domain.ReserveSpotResult, error) {
		close(entered)
		<-release
		return &domain.ReserveSpotResult{SpotID: "spot-1", EventID: eventID}, nil
	}
	svc := newTestReservationService(f)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = svc.Process(ctx, "user-1", "ev-1", ProcessRequest{})
	}()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("first run did not reach create")
	}

	_, err := svc.Process(ctx, "user-1", "ev-1", ProcessRequest{})
	assert.ErrorIs(t, err, domain.ErrProcessInFlight)
	_, err = svc.TryAgain(ctx, "user-1", "ev-1")
	assert.ErrorIs(t, err, domain.ErrProcessInFlight)

	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), f.api.ListReservationsCalls.Load())
	assert.Equal(t, int32(1), f.api.ReserveSpotCalls.Load())
}

func TestReservationService_ProcessAfterSuccessIsIdempotent(t *testing.T) {
	f := newCheckoutFixture()
	svc := newTestReservationService(f)
	ctx := context.Background()

	_, err := svc.Process(ctx, "user-1", "ev-1", ProcessRequest{})
	require.NoError(t, err)
	proc, err := svc.Process(ctx, "user-1", "ev-1", ProcessRequest{})
	require.NoError(t, err)
	assert.Equal(t, ProcessSuccess, proc.State)
	assert.Equal(t, int32(1), f.api.ReserveSpotCalls.Load())

	_, err = svc.TryAgain(ctx, "user-1", "ev-1")
	assert.ErrorIs(t, err, domain.ErrNotRetriable)
}

func TestReservationService_InvalidInput(t *testing.T) {
	f := newCheckoutFixture()
	svc := newTestReservationService(f)

	_, err := svc.Process(context.Background(), "user-1", "", ProcessRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidEventID)

	_, err = svc.Process(context.Background(), "user-1", "ev-1", ProcessRequest{UserType: "vip"})
	assert.ErrorIs(t, err, domain.ErrInvalidUserType)
}

func TestReservationService_ClearsStaleCacheBeforeCreate(t *testing.T) {
	f := newCheckoutFixture()
	ctx := context.Background()
	require.NoError(t, f.sessions.SaveReservation(ctx, "user-1", domain.ReservationData{SpotID: "old", EventID: "ev-0"}, f.clock.Now()))

	var cachedDuringCreate bool
	f.api.ReserveSpotFunc = func(ctx context.Context, eventID string, req client.ReserveSpotRequest) (*domain.ReserveSpotResult, error) {
		_, err := f.sessions.LoadReservation(ctx, "user-1")
		cachedDuringCreate = err == nil
		return &domain.ReserveSpotResult{SpotID: "spot-1", EventID: eventID}, nil
	}
	svc := newTestReservationService(f)

	_, err := svc.Process(ctx, "user-1", "ev-1", ProcessRequest{})
	require.NoError(t, err)
	assert.False(t, cachedDuringCreate)
}
