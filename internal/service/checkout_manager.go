package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/feupam/feupam-checkout/internal/client"
	"github.com/feupam/feupam-checkout/internal/domain"
	"github.com/feupam/feupam-checkout/internal/metrics"
	"github.com/feupam/feupam-checkout/internal/repository"
	"github.com/feupam/feupam-checkout/pkg/logger"
	"github.com/feupam/feupam-checkout/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CheckoutManager owns the running checkouts, one per user
type CheckoutManager struct {
	api      BackendAPI
	sessions *repository.CheckoutSessionRepository
	events   EventPublisher
	cfg      *CheckoutConfig
	log      *logger.Logger
	now      func() time.Time
	// autoStart is off in tests that drive step by hand
	autoStart bool

	mu        sync.Mutex
	checkouts map[string]*CheckoutSession
	resuming  map[string]*resumeCall
	finishers []func(userID, eventID string, state CheckoutState)
}

// resumeCall is one resume from the store shared by concurrent callers
type resumeCall struct {
	done chan struct{}
	s    *CheckoutSession
	err  error
}

// NewCheckoutManager creates a new checkout manager
func NewCheckoutManager(api BackendAPI, sessions *repository.CheckoutSessionRepository, events EventPublisher, cfg *CheckoutConfig) *CheckoutManager {
	defaults := DefaultCheckoutConfig()
	if cfg == nil {
		cfg = defaults
	}
	if cfg.ExpiryRetry == nil {
		cfg.ExpiryRetry = defaults.ExpiryRetry
	}
	if cfg.PixInstallmentCount <= 0 {
		cfg.PixInstallmentCount = defaults.PixInstallmentCount
	}
	if events == nil {
		events = NewNoOpEventPublisher()
	}
	return &CheckoutManager{
		api:       api,
		sessions:  sessions,
		events:    events,
		cfg:       cfg,
		log:       logger.Get(),
		now:       time.Now,
		autoStart: true,
		checkouts: make(map[string]*CheckoutSession),
		resuming:  make(map[string]*resumeCall),
	}
}

// OnFinish registers a hook called when a checkout ends
func (m *CheckoutManager) OnFinish(fn func(userID, eventID string, state CheckoutState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishers = append(m.finishers, fn)
}

// Begin persists data with a fresh window and replaces the user's checkout
func (m *CheckoutManager) Begin(ctx context.Context, userID string, data domain.ReservationData) (*CheckoutSnapshot, error) {
	s, err := m.start(ctx, userID, data, m.now(), true)
	if err != nil {
		return nil, err
	}
	return s.Snapshot(), nil
}

func (m *CheckoutManager) start(ctx context.Context, userID string, data domain.ReservationData, startedAt time.Time, fresh bool) (*CheckoutSession, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.checkout.start")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", data.EventID))

	event, err := m.api.GetEvent(ctx, data.EventID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load event: %w", err)
	}
	if data.Price != nil && event.Price == 0 {
		event.Price = *data.Price
	}

	if fresh {
		// a new reservation must not show a code generated for an older one
		if !data.Existing {
			if err := m.sessions.ClearReservation(ctx, userID, event.Name); err != nil {
				return nil, err
			}
		}
		if err := m.sessions.SaveReservation(ctx, userID, data, startedAt); err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("failed to persist reservation: %w", err)
		}
	}

	s := newCheckoutSession(userID, *event, data, startedAt, m.cfg, m.api, m.sessions, m.events, m.now)
	if token, ok := client.TokenFromContext(ctx); ok {
		s.SetToken(token)
	}
	if pix, ok, err := m.sessions.LoadPix(ctx, userID, event.Name); err == nil && ok {
		s.pix = pix
	}
	if options, err := m.api.GetInstallments(ctx, data.EventID); err == nil {
		s.installments = options
	} else {
		m.log.Warn("failed to load installments", zap.String("event_id", data.EventID), zap.Error(err))
	}
	s.onFinish = m.finished

	m.mu.Lock()
	old := m.checkouts[userID]
	if !fresh && old != nil && old.EventID() == data.EventID && old.State() == CheckoutActive {
		// another caller resumed first; its session wins
		m.mu.Unlock()
		s.cancel()
		return old, nil
	}
	m.checkouts[userID] = s
	m.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	metrics.RecordCheckoutStarted(ctx, data.EventID, !fresh)
	if m.autoStart {
		s.start()
	}
	m.log.Info("checkout started",
		zap.String("user_id", userID),
		zap.String("event_id", data.EventID),
		zap.Time("started_at", startedAt),
	)
	return s, nil
}

func (m *CheckoutManager) finished(s *CheckoutSession) {
	m.mu.Lock()
	if m.checkouts[s.userID] == s && s.State() == CheckoutClosed {
		delete(m.checkouts, s.userID)
	}
	finishers := append([]func(string, string, CheckoutState){}, m.finishers...)
	m.mu.Unlock()

	for _, fn := range finishers {
		fn(s.userID, s.event.ID, s.State())
	}
}

// Get returns the user's checkout for eventID, resuming it from the session
// store when the process has none running
func (m *CheckoutManager) Get(ctx context.Context, userID, eventID string) (*CheckoutSession, error) {
	key := userID + "|" + eventID

	m.mu.Lock()
	s, ok := m.checkouts[userID]
	if ok && s.EventID() == eventID {
		m.mu.Unlock()
		if token, ok := client.TokenFromContext(ctx); ok {
			s.SetToken(token)
		}
		return s, nil
	}
	if call, ok := m.resuming[key]; ok {
		m.mu.Unlock()
		select {
		case <-call.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if call.err == nil {
			if token, ok := client.TokenFromContext(ctx); ok {
				call.s.SetToken(token)
			}
		}
		return call.s, call.err
	}
	call := &resumeCall{done: make(chan struct{})}
	m.resuming[key] = call
	m.mu.Unlock()

	call.s, call.err = m.resume(ctx, userID, eventID)

	m.mu.Lock()
	delete(m.resuming, key)
	m.mu.Unlock()
	close(call.done)
	return call.s, call.err
}

func (m *CheckoutManager) resume(ctx context.Context, userID, eventID string) (*CheckoutSession, error) {
	active, err := m.sessions.LoadReservationFor(ctx, userID, eventID)
	if err != nil {
		if errors.Is(err, domain.ErrReservationNotFound) || errors.Is(err, domain.ErrStaleCache) {
			return nil, domain.ErrCheckoutNotFound
		}
		return nil, err
	}
	return m.start(ctx, userID, active.Data, active.StartedAt, false)
}

// Peek returns a running checkout without resuming
func (m *CheckoutManager) Peek(userID, eventID string) (*CheckoutSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.checkouts[userID]
	if !ok || s.EventID() != eventID {
		return nil, false
	}
	return s, true
}

// Stop tears down the user's checkout for eventID
func (m *CheckoutManager) Stop(userID, eventID string) error {
	m.mu.Lock()
	s, ok := m.checkouts[userID]
	if ok && s.EventID() == eventID {
		delete(m.checkouts, userID)
	}
	m.mu.Unlock()

	if !ok || s.EventID() != eventID {
		return domain.ErrCheckoutNotFound
	}
	s.Stop()
	return nil
}

// Shutdown stops every loop
func (m *CheckoutManager) Shutdown() {
	m.mu.Lock()
	all := make([]*CheckoutSession, 0, len(m.checkouts))
	for _, s := range m.checkouts {
		all = append(all, s)
	}
	m.checkouts = make(map[string]*CheckoutSession)
	m.mu.Unlock()

	for _, s := range all {
		s.Stop()
	}
}

// Active returns the number of running checkouts
func (m *CheckoutManager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.checkouts {
		if s.State() == CheckoutActive {
			n++
		}
	}
	return n
}
