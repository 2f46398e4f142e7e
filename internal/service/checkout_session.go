package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/feupam/feupam-checkout/internal/client"
	"github.com/feupam/feupam-checkout/internal/domain"
	"github.com/feupam/feupam-checkout/internal/metrics"
	"github.com/feupam/feupam-checkout/internal/repository"
	"github.com/feupam/feupam-checkout/pkg/logger"
	"github.com/feupam/feupam-checkout/pkg/retry"
	"go.uber.org/zap"
)

// CheckoutState is the lifecycle state of a checkout
type CheckoutState string

const (
	CheckoutActive  CheckoutState = "active"
	CheckoutPaid    CheckoutState = "paid"
	CheckoutExpired CheckoutState = "expired"
	CheckoutClosed  CheckoutState = "closed"
)

// TimerEventType is the type of an event on the checkout stream
type TimerEventType string

const (
	TimerEventTick     TimerEventType = "tick"
	TimerEventSynced   TimerEventType = "synced"
	TimerEventExpired  TimerEventType = "expired"
	TimerEventPaid     TimerEventType = "paid"
	TimerEventCooldown TimerEventType = "cooldown"
	// TimerEventClosed ends a stream whose checkout was torn down
	TimerEventClosed TimerEventType = "closed"
)

// TimerEvent is emitted to stream subscribers
type TimerEvent struct {
	Type      TimerEventType    `json:"type"`
	Remaining int               `json:"remaining"`
	Percent   float64           `json:"percent"`
	Color     domain.TimerColor `json:"color,omitempty"`
	// Cooldown is the card cooldown left, in seconds
	Cooldown int    `json:"cooldown,omitempty"`
	Message  string `json:"message,omitempty"`
}

// CheckoutConfig contains the timing policy of a checkout
type CheckoutConfig struct {
	Window              time.Duration
	TickInterval        time.Duration
	SyncInterval        time.Duration
	PaymentBlock        time.Duration
	CardCooldown        time.Duration
	PixInstallmentCount int
	// ExpiryRetry retries connectivity failures of the zero-time check
	ExpiryRetry *retry.Config
}

// DefaultCheckoutConfig returns the 10 minute checkout policy
func DefaultCheckoutConfig() *CheckoutConfig {
	return &CheckoutConfig{
		Window:              10 * time.Minute,
		TickInterval:        time.Second,
		SyncInterval:        time.Minute,
		PaymentBlock:        2 * time.Second,
		CardCooldown:        time.Minute,
		PixInstallmentCount: 4,
		ExpiryRetry: &retry.Config{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Multiplier:      2,
			JitterFactor:    0.1,
			RetryIf:         client.IsTransient,
		},
	}
}

// syncWarnThreshold forces a sync on every tick below it
const syncWarnThreshold = 60 * time.Second

// CheckoutSnapshot is the rendered state of a checkout
type CheckoutSnapshot struct {
	EventID        string                     `json:"eventId"`
	EventName      string                     `json:"eventName"`
	Price          int64                      `json:"price"`
	State          CheckoutState              `json:"state"`
	Remaining      int                        `json:"remaining"`
	Percent        float64                    `json:"percent"`
	Color          domain.TimerColor          `json:"color"`
	StartedAt      time.Time                  `json:"startedAt"`
	Reservation    domain.ReservationData     `json:"reservation"`
	PaymentBlocked bool                       `json:"paymentBlocked"`
	CardEnabled    bool                       `json:"cardEnabled"`
	CardCooldown   int                        `json:"cardCooldown"`
	CardError      *domain.CardErrorDetails   `json:"cardError,omitempty"`
	Remediation    *domain.Remediation        `json:"remediation,omitempty"`
	Pix            *domain.PixPayload         `json:"pix,omitempty"`
	Installments   []domain.InstallmentOption `json:"installments,omitempty"`
}

// CheckoutSession owns the countdown of one reservation. A single loop
// goroutine drives ticks; syncs run beside it, one at a time.
type CheckoutSession struct {
	userID   string
	event    domain.Event
	cfg      *CheckoutConfig
	api      BackendAPI
	sessions *repository.CheckoutSessionRepository
	events   EventPublisher
	log      *logger.Logger
	now      func() time.Time
	// dispatch runs background work; tests run it inline
	dispatch func(fn func())
	onFinish func(s *CheckoutSession)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	syncing  atomic.Bool
	expiring atomic.Bool

	mu               sync.Mutex
	state            CheckoutState
	reservation      domain.ReservationData
	startedAt        time.Time
	anchor           time.Time
	windowAtLastSync time.Duration
	lastRemaining    time.Duration
	lastSync         time.Time
	token            string
	installments     []domain.InstallmentOption
	pix              *domain.PixPayload
	paymentBlocked   time.Time
	cardCooldown     time.Time
	cardError        *domain.CardErrorDetails
	remediation      *domain.Remediation
	subscribers      map[int]chan TimerEvent
	nextSubscriber   int
}

func newCheckoutSession(
	userID string,
	event domain.Event,
	data domain.ReservationData,
	startedAt time.Time,
	cfg *CheckoutConfig,
	api BackendAPI,
	sessions *repository.CheckoutSessionRepository,
	events EventPublisher,
	now func() time.Time,
) *CheckoutSession {
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &CheckoutSession{
		userID:      userID,
		event:       event,
		cfg:         cfg,
		api:         api,
		sessions:    sessions,
		events:      events,
		log:         logger.Get().With(zap.String("user_id", userID), zap.String("event_id", event.ID)),
		now:         now,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		state:       CheckoutActive,
		reservation: data,
		startedAt:   startedAt,
		anchor:      startedAt,
		subscribers: make(map[int]chan TimerEvent),
	}
	s.dispatch = func(fn func()) { go fn() }
	s.windowAtLastSync = domain.Remaining(cfg.Window, startedAt, now())
	if s.windowAtLastSync == 0 {
		s.windowAtLastSync = cfg.Window
	}
	s.lastRemaining = cfg.Window
	s.lastSync = now()
	return s
}

// start launches the driving loop
func (s *CheckoutSession) start() {
	go s.run()
}

func (s *CheckoutSession) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.requestSync()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.step(now)
		}
	}
}

// step handles one tick
func (s *CheckoutSession) step(now time.Time) {
	s.mu.Lock()
	if s.state != CheckoutActive {
		s.mu.Unlock()
		return
	}
	remaining := s.remainingLocked(now)
	s.broadcastLocked(s.timerEventLocked(TimerEventTick, remaining))
	if left := s.cardCooldownLocked(now); left > 0 && s.remediation != nil && s.remediation.ShowCooldown {
		s.broadcastLocked(TimerEvent{Type: TimerEventCooldown, Cooldown: ceilSeconds(left), Remaining: ceilSeconds(remaining)})
	}

	expire := remaining == 0
	needSync := !expire && (now.Sub(s.lastSync) >= s.cfg.SyncInterval || remaining < syncWarnThreshold)
	s.mu.Unlock()

	switch {
	case expire:
		s.requestExpiryCheck()
	case needSync:
		s.requestSync()
	}
}

// remainingLocked is wall-clock derived, clamped to the window and never
// above the previous value until the next sync
func (s *CheckoutSession) remainingLocked(now time.Time) time.Duration {
	remaining := domain.Remaining(s.cfg.Window, s.anchor, now)
	if remaining > s.lastRemaining {
		remaining = s.lastRemaining
	}
	s.lastRemaining = remaining
	return remaining
}

func (s *CheckoutSession) timerEventLocked(t TimerEventType, remaining time.Duration) TimerEvent {
	return TimerEvent{
		Type:      t,
		Remaining: ceilSeconds(remaining),
		Percent:   domain.Progress(remaining, s.windowAtLastSync),
		Color:     domain.ColorFor(remaining),
	}
}

func (s *CheckoutSession) requestSync() {
	if !s.syncing.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	s.lastSync = s.now()
	s.mu.Unlock()
	s.dispatch(func() {
		defer s.syncing.Store(false)
		s.sync()
	})
}

func (s *CheckoutSession) requestExpiryCheck() {
	if !s.expiring.CompareAndSwap(false, true) {
		return
	}
	s.dispatch(func() {
		defer s.expiring.Store(false)
		s.checkExpiry()
	})
}

// callContext carries the most recent bearer token of the user
func (s *CheckoutSession) callContext() context.Context {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	return client.WithToken(s.ctx, token)
}

// sync asks the server for the reservation status. Transport errors are
// only logged.
func (s *CheckoutSession) sync() {
	ctx := s.callContext()
	status, err := s.api.RetryStatus(ctx, s.event.ID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if client.IsStatus(err, http.StatusNotFound) || client.IsStatus(err, http.StatusGone) {
			s.finish(CheckoutExpired, "reservation not found")
			return
		}
		s.log.Warn("checkout sync failed", zap.Error(err))
		return
	}
	s.applyStatus(status, false)
}

// checkExpiry confirms a local zero with the server before expiring
func (s *CheckoutSession) checkExpiry() {
	ctx := s.callContext()
	var status *domain.TicketStatus
	result := retry.Do(ctx, s.cfg.ExpiryRetry, func(ctx context.Context) error {
		var err error
		status, err = s.api.RetryStatus(ctx, s.event.ID)
		return err
	})
	if ctx.Err() != nil {
		return
	}
	if result.Err != nil {
		s.log.Warn("expiry check failed, expiring locally", zap.Error(result.LastError), zap.Int("attempts", result.Attempts))
		s.finish(CheckoutExpired, "")
		return
	}
	s.applyStatus(status, true)
}

// applyStatus reconciles with server truth. atZero expires a reservation the
// server reports valid without a positive remaining time.
func (s *CheckoutSession) applyStatus(status *domain.TicketStatus, atZero bool) {
	switch {
	case status.IsPaid():
		s.finish(CheckoutPaid, status.Message)
		return
	case status.IsExpired():
		s.finish(CheckoutExpired, status.Message)
		return
	}

	remaining, ok := status.Remaining()
	if !ok && atZero {
		s.finish(CheckoutExpired, status.Message)
		return
	}

	s.mu.Lock()
	if s.state != CheckoutActive {
		s.mu.Unlock()
		return
	}
	if ok {
		s.reanchorLocked(remaining)
	}
	if status.Reservation != nil && status.Reservation.BelongsTo(s.event.ID) {
		charges := s.reservation.Charges
		s.reservation = *status.Reservation
		if len(s.reservation.Charges) == 0 {
			s.reservation.Charges = charges
		}
	}
	s.broadcastLocked(s.timerEventLocked(TimerEventSynced, s.remainingLocked(s.now())))
	data, anchor := s.reservation, s.anchor
	data.Charges = append([]domain.ChargeInfo(nil), s.reservation.Charges...)
	s.mu.Unlock()

	if !ok {
		return
	}
	if err := s.sessions.SaveReservation(s.ctx, s.userID, data, anchor); err != nil && s.ctx.Err() == nil {
		s.log.Warn("failed to persist re-anchored timer", zap.Error(err))
	}
}

// reanchorLocked makes the server remaining time authoritative
func (s *CheckoutSession) reanchorLocked(remaining time.Duration) {
	if remaining > s.cfg.Window {
		remaining = s.cfg.Window
	}
	now := s.now()
	s.anchor = now.Add(remaining - s.cfg.Window)
	s.windowAtLastSync = remaining
	s.lastRemaining = remaining
	s.lastSync = now
}

// finish ends the checkout once. Paid and expired clear the cache.
func (s *CheckoutSession) finish(state CheckoutState, message string) bool {
	s.mu.Lock()
	if s.state != CheckoutActive {
		s.mu.Unlock()
		return false
	}
	s.state = state
	s.cancel()

	remaining := s.remainingLocked(s.now())
	var evt TimerEvent
	switch state {
	case CheckoutPaid:
		evt = s.timerEventLocked(TimerEventPaid, remaining)
	case CheckoutExpired:
		evt = s.timerEventLocked(TimerEventExpired, 0)
		evt.Remaining = 0
		evt.Percent = 0
	case CheckoutClosed:
		evt = TimerEvent{Type: TimerEventClosed, Remaining: ceilSeconds(remaining)}
	}
	if evt.Type != "" {
		evt.Message = message
		s.broadcastLocked(evt)
	}
	s.closeSubscribersLocked()
	startedAt := s.startedAt
	s.mu.Unlock()

	ctx := context.Background()
	switch state {
	case CheckoutPaid:
		metrics.RecordCheckoutPaid(ctx, s.event.ID, s.now().Sub(startedAt).Seconds())
	case CheckoutExpired:
		metrics.RecordCheckoutExpired(ctx, s.event.ID)
	default:
		metrics.RecordCheckoutClosed(ctx, s.event.ID)
	}

	if state == CheckoutPaid || state == CheckoutExpired {
		if err := s.sessions.ClearReservation(ctx, s.userID, s.event.Name); err != nil {
			s.log.Warn("failed to clear checkout cache", zap.Error(err))
		}
		eventType := domain.CheckoutEventPaid
		if state == CheckoutExpired {
			eventType = domain.CheckoutEventExpired
		}
		publish(ctx, s.events, eventType, s.userID, s.event.ID, func(e *domain.CheckoutEvent) {
			e.SpotID = s.reservation.SpotID
			e.Message = message
		})
		s.log.Info("checkout finished", zap.String("state", string(state)))
	}

	if s.onFinish != nil {
		s.onFinish(s)
	}
	return true
}

// Stop tears the checkout down without touching the cache
func (s *CheckoutSession) Stop() {
	s.finish(CheckoutClosed, "")
}

// Done is closed when the loop has exited
func (s *CheckoutSession) Done() <-chan struct{} {
	return s.done
}

// Subscribe returns a stream of timer events. The channel is closed when
// the checkout finishes or cancel is called.
func (s *CheckoutSession) Subscribe() (<-chan TimerEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan TimerEvent, 16)
	if s.state != CheckoutActive {
		ch <- s.terminalEventLocked()
		close(ch)
		return ch, func() {}
	}

	id := s.nextSubscriber
	s.nextSubscriber++
	s.subscribers[id] = ch
	ch <- s.timerEventLocked(TimerEventTick, s.remainingLocked(s.now()))

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub)
		}
	}
}

func (s *CheckoutSession) terminalEventLocked() TimerEvent {
	switch s.state {
	case CheckoutPaid:
		return TimerEvent{Type: TimerEventPaid}
	case CheckoutExpired:
		return TimerEvent{Type: TimerEventExpired}
	default:
		return TimerEvent{Type: TimerEventClosed}
	}
}

// broadcastLocked never blocks; a full subscriber loses its oldest event
func (s *CheckoutSession) broadcastLocked(evt TimerEvent) {
	for _, ch := range s.subscribers {
		select {
		case ch <- evt:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}
}

func (s *CheckoutSession) closeSubscribersLocked() {
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SetToken records the latest bearer token for background calls
func (s *CheckoutSession) SetToken(token string) {
	if token == "" {
		return
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// State returns the lifecycle state
func (s *CheckoutSession) State() CheckoutState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// EventID returns the event of the checkout
func (s *CheckoutSession) EventID() string {
	return s.event.ID
}

// PaymentBlocked reports whether payment submissions are suppressed
func (s *CheckoutSession) PaymentBlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.paymentBlocked)
}

func (s *CheckoutSession) cardCooldownLocked(now time.Time) time.Duration {
	if now.Before(s.cardCooldown) {
		return s.cardCooldown.Sub(now)
	}
	return 0
}

// Snapshot renders the current state
func (s *CheckoutSession) Snapshot() *CheckoutSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	remaining := time.Duration(0)
	if s.state == CheckoutActive {
		remaining = s.remainingLocked(now)
	}
	cooldown := s.cardCooldownLocked(now)
	snap := &CheckoutSnapshot{
		EventID:        s.event.ID,
		EventName:      s.event.Name,
		Price:          s.event.Price,
		State:          s.state,
		Remaining:      ceilSeconds(remaining),
		Percent:        domain.Progress(remaining, s.windowAtLastSync),
		Color:          domain.ColorFor(remaining),
		StartedAt:      s.anchor,
		Reservation:    s.reservation,
		PaymentBlocked: now.Before(s.paymentBlocked),
		CardEnabled:    s.state == CheckoutActive && cooldown == 0,
		CardCooldown:   ceilSeconds(cooldown),
		CardError:      s.cardError,
		Remediation:    s.remediation,
		Pix:            s.pix,
		Installments:   s.installments,
	}
	snap.Reservation.Charges = append([]domain.ChargeInfo(nil), s.reservation.Charges...)
	return snap
}

// beginPayment rejects submissions while blocked and blocks new ones
func (s *CheckoutSession) beginPayment(method domain.PaymentMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != CheckoutActive {
		return domain.ErrCheckoutClosed
	}
	now := s.now()
	if now.Before(s.paymentBlocked) {
		return domain.ErrPaymentBlocked
	}
	if method == domain.PaymentMethodCreditCard && s.cardCooldownLocked(now) > 0 {
		return domain.ErrCardCooldown
	}
	// held until endPayment re-arms it
	s.paymentBlocked = now.Add(24 * time.Hour)
	return nil
}

// endPayment keeps the block for the configured delay after the attempt
func (s *CheckoutSession) endPayment() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paymentBlocked = s.now().Add(s.cfg.PaymentBlock)
}

// paymentContext is cancelled when the checkout finishes
func (s *CheckoutSession) paymentContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// closedErr maps a preempted payment to ErrCheckoutClosed
func (s *CheckoutSession) closedErr(err error) error {
	if s.ctx.Err() != nil && (errors.Is(err, context.Canceled) || client.IsTransient(err)) {
		return domain.ErrCheckoutClosed
	}
	return err
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
