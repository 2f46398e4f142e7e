package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/feupam/feupam-checkout/internal/client"
	"github.com/feupam/feupam-checkout/internal/domain"
	"github.com/feupam/feupam-checkout/internal/repository"
	"github.com/feupam/feupam-checkout/pkg/logger"
	"github.com/feupam/feupam-checkout/pkg/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ProcessState is a state of the reservation process
type ProcessState string

const (
	ProcessIdle      ProcessState = "idle"
	ProcessChecking  ProcessState = "checking"
	ProcessReserving ProcessState = "reserving"
	ProcessSuccess   ProcessState = "success"
	ProcessExisting  ProcessState = "existing"
	ProcessError     ProcessState = "error"
	ProcessWaiting   ProcessState = "waiting"
	// ProcessOwned means the user already holds a paid ticket
	ProcessOwned ProcessState = "owned"
	// ProcessDuplicate is the terminal outcome of a 409 on create
	ProcessDuplicate ProcessState = "duplicate"
)

// InFlight reports a run in progress
func (s ProcessState) InFlight() bool {
	return s == ProcessChecking || s == ProcessReserving
}

// Retriable reports a terminal state TryAgain may leave
func (s ProcessState) Retriable() bool {
	return s == ProcessError || s == ProcessWaiting
}

// ReadyForCheckout reports a state Continue may leave
func (s ProcessState) ReadyForCheckout() bool {
	return s == ProcessSuccess || s == ProcessExisting
}

// ProcessRequest selects what to reserve
type ProcessRequest struct {
	TicketKind string
	UserType   domain.UserType
}

// ReservationProcess is a snapshot of one user's process for one event
type ReservationProcess struct {
	ID          string                  `json:"id"`
	EventID     string                  `json:"eventId"`
	State       ProcessState            `json:"state"`
	Message     string                  `json:"message,omitempty"`
	ErrorStatus int                     `json:"errorStatus,omitempty"`
	Retriable   bool                    `json:"retriable"`
	Reservation *domain.ReservationData `json:"reservation,omitempty"`
	Transitions []ProcessState          `json:"transitions"`
	UpdatedAt   time.Time               `json:"updatedAt"`
}

type process struct {
	ReservationProcess
	request ProcessRequest
}

func (p *process) snapshot() *ReservationProcess {
	out := p.ReservationProcess
	out.Transitions = append([]ProcessState(nil), p.Transitions...)
	out.Retriable = p.State.Retriable()
	if p.Reservation != nil {
		r := *p.Reservation
		out.Reservation = &r
	}
	return &out
}

// CheckoutStarter persists a reservation with a fresh window and starts its
// checkout
type CheckoutStarter interface {
	Begin(ctx context.Context, userID string, data domain.ReservationData) (*CheckoutSnapshot, error)
}

// ReservationService runs the reservation process
type ReservationService interface {
	Process(ctx context.Context, userID, eventID string, req ProcessRequest) (*ReservationProcess, error)
	TryAgain(ctx context.Context, userID, eventID string) (*ReservationProcess, error)
	Continue(ctx context.Context, userID, eventID string) (*CheckoutSnapshot, error)
	GetProcess(userID, eventID string) (*ReservationProcess, error)
	Reset(userID, eventID string)
}

type reservationService struct {
	api       BackendAPI
	sessions  *repository.CheckoutSessionRepository
	checkouts CheckoutStarter
	publisher EventPublisher
	now       func() time.Time
	log       *logger.Logger

	mu        sync.Mutex
	processes map[string]*process
}

// NewReservationService creates a new reservation service
func NewReservationService(
	api BackendAPI,
	sessions *repository.CheckoutSessionRepository,
	checkouts CheckoutStarter,
	publisher EventPublisher,
) ReservationService {
	if publisher == nil {
		publisher = NewNoOpEventPublisher()
	}
	return &reservationService{
		api:       api,
		sessions:  sessions,
		checkouts: checkouts,
		publisher: publisher,
		now:       time.Now,
		log:       logger.Get(),
		processes: make(map[string]*process),
	}
}

func processKey(userID, eventID string) string {
	return userID + "|" + eventID
}

// Process starts a run from idle. Ready or owned processes are returned
// as they are; a run in flight yields ErrProcessInFlight.
func (s *reservationService) Process(ctx context.Context, userID, eventID string, req ProcessRequest) (*ReservationProcess, error) {
	if eventID == "" {
		return nil, domain.ErrInvalidEventID
	}
	if req.UserType == "" {
		req.UserType = domain.UserTypeClient
	}
	if !req.UserType.IsValid() {
		return nil, domain.ErrInvalidUserType
	}

	s.mu.Lock()
	p, ok := s.processes[processKey(userID, eventID)]
	if !ok {
		p = &process{ReservationProcess: ReservationProcess{
			ID:      uuid.New().String(),
			EventID: eventID,
			State:   ProcessIdle,
		}}
		s.processes[processKey(userID, eventID)] = p
	}
	switch {
	case p.State.InFlight():
		s.mu.Unlock()
		return nil, domain.ErrProcessInFlight
	case p.State == ProcessDuplicate:
		snap := p.snapshot()
		s.mu.Unlock()
		return snap, domain.ErrNotRetriable
	case p.State.ReadyForCheckout() || p.State == ProcessOwned:
		snap := p.snapshot()
		s.mu.Unlock()
		return snap, nil
	}
	p.request = req
	p.Transitions = nil
	s.transitionLocked(p, ProcessChecking)
	s.mu.Unlock()

	return s.run(ctx, userID, p), nil
}

// TryAgain re-runs a process that ended in a retriable state
func (s *reservationService) TryAgain(ctx context.Context, userID, eventID string) (*ReservationProcess, error) {
	s.mu.Lock()
	p, ok := s.processes[processKey(userID, eventID)]
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrReservationNotFound
	}
	if p.State.InFlight() {
		s.mu.Unlock()
		return nil, domain.ErrProcessInFlight
	}
	if !p.State.Retriable() {
		snap := p.snapshot()
		s.mu.Unlock()
		return snap, domain.ErrNotRetriable
	}
	p.Transitions = nil
	p.Message = ""
	p.ErrorStatus = 0
	s.transitionLocked(p, ProcessChecking)
	s.mu.Unlock()

	return s.run(ctx, userID, p), nil
}

// GetProcess returns the process snapshot
func (s *reservationService) GetProcess(userID, eventID string) (*ReservationProcess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.processes[processKey(userID, eventID)]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	return p.snapshot(), nil
}

// Reset forgets a finished process. Duplicate outcomes and runs in flight
// are kept.
func (s *reservationService) Reset(userID, eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := processKey(userID, eventID)
	if p, ok := s.processes[key]; ok && !p.State.InFlight() && p.State != ProcessDuplicate {
		delete(s.processes, key)
	}
}

// Continue hands a ready reservation to checkout with a fresh window
func (s *reservationService) Continue(ctx context.Context, userID, eventID string) (*CheckoutSnapshot, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.continue")
	defer span.End()

	s.mu.Lock()
	p, ok := s.processes[processKey(userID, eventID)]
	if !ok || !p.State.ReadyForCheckout() || p.Reservation == nil {
		s.mu.Unlock()
		return nil, domain.ErrNothingToResume
	}
	data := *p.Reservation
	s.mu.Unlock()

	snap, err := s.checkouts.Begin(ctx, userID, data)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return snap, nil
}

func (s *reservationService) transitionLocked(p *process, state ProcessState) {
	p.State = state
	p.UpdatedAt = s.now()
	p.Transitions = append(p.Transitions, state)
}

func (s *reservationService) transition(p *process, state ProcessState, fn func(p *process)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		fn(p)
	}
	s.transitionLocked(p, state)
}

// run executes the ordered steps. It is detached from the caller's
// cancellation so a half-finished run never leaves the state in flight.
func (s *reservationService) run(ctx context.Context, userID string, p *process) *ReservationProcess {
	ctx = context.WithoutCancel(ctx)
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.process")
	defer span.End()

	eventID := p.EventID
	span.SetAttributes(attribute.String("event_id", eventID))
	log := s.log.With(zap.String("user_id", userID), zap.String("event_id", eventID), zap.String("process_id", p.ID))

	s.execute(ctx, userID, p, log)

	s.mu.Lock()
	defer s.mu.Unlock()
	span.SetAttributes(attribute.String("state", string(p.State)))
	log.Info("reservation process finished", zap.String("state", string(p.State)), zap.String("message", p.Message))
	return p.snapshot()
}

func (s *reservationService) execute(ctx context.Context, userID string, p *process, log *logger.Logger) {
	eventID := p.EventID

	// 1. ownership
	list, err := s.api.ListReservations(ctx)
	if err != nil {
		s.fail(p, err, "could not load your reservations")
		return
	}
	if found, ok := domain.FindReservation(list, eventID); ok {
		data := found.ToReservationData()
		if domain.IsPaidStatus(found.Status) {
			s.transition(p, ProcessOwned, func(p *process) { p.Reservation = &data })
			return
		}

		// 2. adopt the unpaid reservation only if a spot is still there
		spot, err := s.api.CheckSpot(ctx, eventID)
		if err != nil {
			s.fail(p, err, "could not check spot availability")
			return
		}
		if !spot.Available {
			s.unavailable(p, spot, false)
			return
		}
		data.Existing = true
		s.transition(p, ProcessExisting, func(p *process) { p.Reservation = &data })
		return
	}

	// 3. availability
	spot, err := s.api.CheckSpot(ctx, eventID)
	if err != nil {
		s.fail(p, err, "could not check spot availability")
		return
	}
	if !spot.Available {
		s.unavailable(p, spot, true)
		return
	}

	// 4. clear stale cache, create
	s.transition(p, ProcessReserving, nil)
	if err := s.sessions.ClearReservation(ctx, userID); err != nil {
		log.Warn("failed to clear stale session", zap.Error(err))
	}

	s.mu.Lock()
	req := p.request
	s.mu.Unlock()

	result, err := s.api.ReserveSpot(ctx, eventID, client.ReserveSpotRequest{TicketKind: req.TicketKind, UserType: req.UserType})
	if err != nil {
		// 6. a paid registration exists for this identity
		if client.IsStatus(err, http.StatusConflict) {
			msg := client.MessageOf(err, domain.ErrDuplicateRegistration.Error())
			s.transition(p, ProcessDuplicate, func(p *process) {
				p.Message = msg
				p.ErrorStatus = http.StatusConflict
			})
			publish(ctx, s.publisher, domain.CheckoutEventReservationDuplicate, userID, eventID, func(e *domain.CheckoutEvent) {
				e.Message = msg
			})
			return
		}
		// 7.
		s.fail(p, err, "could not reserve a spot")
		return
	}

	// 5. classify
	data := result.ToReservationData(eventID)
	state := ProcessSuccess
	if data.Existing {
		state = ProcessExisting
	}
	s.transition(p, state, func(p *process) { p.Reservation = &data })
	publish(ctx, s.publisher, domain.CheckoutEventReservationCreated, userID, eventID, func(e *domain.CheckoutEvent) {
		e.SpotID = data.SpotID
		if data.Price != nil {
			e.Amount = *data.Price
		}
	})
}

func (s *reservationService) unavailable(p *process, spot *domain.SpotAvailability, allowWaiting bool) {
	state := ProcessError
	msg := spot.Message
	if allowWaiting && spot.WaitingList {
		state = ProcessWaiting
		if msg == "" {
			msg = domain.ErrWaitingList.Error()
		}
	}
	if msg == "" {
		msg = domain.ErrSpotUnavailable.Error()
	}
	s.transition(p, state, func(p *process) { p.Message = msg })
}

func (s *reservationService) fail(p *process, err error, fallback string) {
	status := 0
	if apiErr, ok := client.AsAPIError(err); ok {
		status = apiErr.Status
	} else if errors.Is(err, client.ErrNoToken) {
		status = http.StatusUnauthorized
	}
	msg := client.MessageOf(err, fallback)
	s.log.Warn("reservation step failed", zap.String("event_id", p.EventID), zap.Error(err))
	s.transition(p, ProcessError, func(p *process) {
		p.Message = msg
		p.ErrorStatus = status
	})
}
