package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/feupam/feupam-checkout/internal/client"
	"github.com/feupam/feupam-checkout/internal/domain"
	"github.com/feupam/feupam-checkout/internal/metrics"
	"github.com/feupam/feupam-checkout/pkg/logger"
	"github.com/feupam/feupam-checkout/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CardPaymentInput is a card submission
type CardPaymentInput struct {
	Card         client.Card
	Installments int
	Customer     client.PaymentCustomer
}

// PixPaymentInput is a PIX submission
type PixPaymentInput struct {
	Customer client.PaymentCustomer
	// FirstInstallment charges only the first of the PIX installment schedule
	FirstInstallment bool
}

// PaymentResult is the outcome of a successful submission
type PaymentResult struct {
	Method   domain.PaymentMethod `json:"method"`
	Amount   int64                `json:"amount"`
	ChargeID string               `json:"chargeId"`
	Status   string               `json:"status"`
	Pix      *domain.PixPayload   `json:"pix,omitempty"`
	Checkout *CheckoutSnapshot    `json:"checkout"`
}

// CardPaymentError is a refused or failed card payment
type CardPaymentError struct {
	Details     domain.CardErrorDetails
	Remediation domain.Remediation
	Err         error
}

func (e *CardPaymentError) Error() string {
	return fmt.Sprintf("card payment failed (%s): %s", e.Remediation.Kind, e.Details.Message)
}

func (e *CardPaymentError) Unwrap() error { return e.Err }

// PaymentService creates charges for a running checkout
type PaymentService interface {
	PayCard(ctx context.Context, userID, eventID string, in CardPaymentInput) (*PaymentResult, error)
	PayPix(ctx context.Context, userID, eventID string, in PixPaymentInput) (*PaymentResult, error)
}

type paymentService struct {
	api       BackendAPI
	checkouts *CheckoutManager
	events    EventPublisher
	log       *logger.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(api BackendAPI, checkouts *CheckoutManager, events EventPublisher) PaymentService {
	if events == nil {
		events = NewNoOpEventPublisher()
	}
	return &paymentService{
		api:       api,
		checkouts: checkouts,
		events:    events,
		log:       logger.Get(),
	}
}

// CardAmount is valueInCents x number of the chosen installment option, or
// the event price when paying in one installment without a schedule entry
func CardAmount(price int64, options []domain.InstallmentOption, installments int) (int64, error) {
	if installments <= 0 {
		installments = 1
	}
	if option, ok := domain.FindInstallment(options, installments); ok && option.ValueInCents > 0 {
		return option.Total(), nil
	}
	if installments > 1 {
		return 0, domain.ErrInstallmentNotFound
	}
	if price <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	return price, nil
}

// PixInstallmentAmount is the fixed per-installment value of the count option
func PixInstallmentAmount(options []domain.InstallmentOption, count int) (int64, error) {
	option, ok := domain.FindInstallment(options, count)
	if !ok || option.ValueInCents <= 0 {
		return 0, domain.ErrInstallmentNotFound
	}
	return option.ValueInCents, nil
}

// PayCard submits a card charge. Failures start the card cooldown.
func (p *paymentService) PayCard(ctx context.Context, userID, eventID string, in CardPaymentInput) (*PaymentResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.payment.card")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID), attribute.Int("installments", in.Installments))

	s, err := p.checkouts.Get(ctx, userID, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.beginPayment(domain.PaymentMethodCreditCard); err != nil {
		recordRejected(ctx, err)
		return nil, err
	}
	defer s.endPayment()

	snap := s.Snapshot()
	options := snap.Installments
	if in.Installments > 1 {
		if fresh, err := p.api.GetInstallments(ctx, eventID); err == nil {
			options = fresh
		}
	}
	amount, err := CardAmount(snap.Price, options, in.Installments)
	if err != nil {
		return nil, err
	}
	installments := in.Installments
	if installments <= 0 {
		installments = 1
	}
	span.SetAttributes(attribute.Int64("amount", amount))

	req := buildPaymentRequest(snap, in.Customer, amount)
	req.Installments = installments
	req.Payments = []client.PaymentInstruction{{
		PaymentMethod: domain.PaymentMethodCreditCard,
		CreditCard: &client.CreditCardPayment{
			Installments: installments,
			Card:         in.Card,
		},
	}}
	p.attempted(ctx, userID, eventID, domain.PaymentMethodCreditCard, amount)

	pctx, cancel := s.paymentContext(ctx)
	defer cancel()
	res, err := p.api.CreatePayment(pctx, req)
	if err != nil {
		if closed := s.closedErr(err); errors.Is(closed, domain.ErrCheckoutClosed) {
			return nil, closed
		}
		telemetry.RecordError(span, err)
		return nil, p.cardFailed(ctx, s, cardErrorDetails(err), err)
	}
	if res.Failed() {
		details := domain.CardErrorDetails{Code: res.Status, Message: res.Message}
		if details.Message == "" {
			details.Message = "payment refused"
		}
		return nil, p.cardFailed(ctx, s, details, errors.New(details.Message))
	}

	s.recordCharge(ctx, chargeInfo(res, snap, domain.PaymentMethodCreditCard, amount), nil)
	if domain.IsPaidStatus(res.Status) {
		s.requestSync()
	}
	return &PaymentResult{
		Method:   domain.PaymentMethodCreditCard,
		Amount:   amount,
		ChargeID: res.ChargeID,
		Status:   res.Status,
		Checkout: s.Snapshot(),
	}, nil
}

func (p *paymentService) cardFailed(ctx context.Context, s *CheckoutSession, details domain.CardErrorDetails, cause error) error {
	remediation := s.recordCardFailure(details)
	metrics.RecordCardFailure(ctx, string(remediation.Kind))
	publish(ctx, p.events, domain.CheckoutEventCardFailed, s.userID, s.event.ID, func(e *domain.CheckoutEvent) {
		e.Method = domain.PaymentMethodCreditCard
		e.Message = string(remediation.Kind) + ": " + details.Message
	})
	if remediation.Kind == domain.CardFailureReservationExpired {
		// confirm with the server before tearing the checkout down
		s.requestSync()
	}
	p.log.Warn("card payment failed",
		zap.String("user_id", s.userID),
		zap.String("event_id", s.event.ID),
		zap.String("kind", string(remediation.Kind)),
		zap.String("message", details.Message),
	)
	return &CardPaymentError{Details: details, Remediation: remediation, Err: cause}
}

func cardErrorDetails(err error) domain.CardErrorDetails {
	if apiErr, ok := client.AsAPIError(err); ok {
		return domain.CardErrorDetails{
			Status:    apiErr.Status,
			Code:      apiErr.Code,
			Message:   apiErr.Message,
			Details:   apiErr.Details,
			RequestID: apiErr.RequestID,
		}
	}
	return domain.CardErrorDetails{Message: err.Error()}
}

// PayPix re-validates the reservation with the server, then generates a
// PIX charge for the full price or for the first installment
func (p *paymentService) PayPix(ctx context.Context, userID, eventID string, in PixPaymentInput) (*PaymentResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.payment.pix")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID), attribute.Bool("first_installment", in.FirstInstallment))

	s, err := p.checkouts.Get(ctx, userID, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.beginPayment(domain.PaymentMethodPix); err != nil {
		recordRejected(ctx, err)
		return nil, err
	}
	defer s.endPayment()

	if err := p.revalidate(ctx, s); err != nil {
		return nil, err
	}

	var amount int64
	if in.FirstInstallment {
		options, err := p.api.GetInstallments(ctx, eventID)
		if err != nil {
			return nil, err
		}
		if amount, err = PixInstallmentAmount(options, s.cfg.PixInstallmentCount); err != nil {
			return nil, err
		}
	} else {
		event, err := p.api.GetEvent(ctx, eventID)
		if err != nil {
			return nil, err
		}
		if amount = event.Price; amount <= 0 {
			return nil, domain.ErrInvalidAmount
		}
	}
	span.SetAttributes(attribute.Int64("amount", amount))

	snap := s.Snapshot()
	req := buildPaymentRequest(snap, in.Customer, amount)
	req.Payments = []client.PaymentInstruction{{
		PaymentMethod: domain.PaymentMethodPix,
		Pix:           &client.PixPayment{ExpiresIn: max(snap.Remaining, 60)},
	}}
	p.attempted(ctx, userID, eventID, domain.PaymentMethodPix, amount)

	pctx, cancel := s.paymentContext(ctx)
	defer cancel()
	res, err := p.api.CreatePayment(pctx, req)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, s.closedErr(err)
	}

	s.recordCharge(ctx, chargeInfo(res, snap, domain.PaymentMethodPix, amount), res.Pix)
	return &PaymentResult{
		Method:   domain.PaymentMethodPix,
		Amount:   amount,
		ChargeID: res.ChargeID,
		Status:   res.Status,
		Pix:      res.Pix,
		Checkout: s.Snapshot(),
	}, nil
}

// revalidate applies the server status before a PIX code is generated
func (p *paymentService) revalidate(ctx context.Context, s *CheckoutSession) error {
	status, err := p.api.RetryStatus(ctx, s.event.ID)
	if err != nil {
		if client.IsStatus(err, http.StatusNotFound) || client.IsStatus(err, http.StatusGone) {
			s.finish(CheckoutExpired, client.MessageOf(err, ""))
			return domain.ErrReservationExpired
		}
		return err
	}
	s.applyStatus(status, false)
	switch s.State() {
	case CheckoutPaid:
		return domain.ErrAlreadyPaid
	case CheckoutExpired:
		return domain.ErrReservationExpired
	case CheckoutClosed:
		return domain.ErrCheckoutClosed
	}
	return nil
}

func (p *paymentService) attempted(ctx context.Context, userID, eventID string, method domain.PaymentMethod, amount int64) {
	metrics.RecordPaymentAttempt(ctx, string(method))
	publish(ctx, p.events, domain.CheckoutEventPaymentAttempted, userID, eventID, func(e *domain.CheckoutEvent) {
		e.Method = method
		e.Amount = amount
	})
}

func recordRejected(ctx context.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrPaymentBlocked):
		metrics.RecordPaymentRejected(ctx, "blocked")
	case errors.Is(err, domain.ErrCardCooldown):
		metrics.RecordPaymentRejected(ctx, "card_cooldown")
	}
}

func buildPaymentRequest(snap *CheckoutSnapshot, customer client.PaymentCustomer, amount int64) *client.PaymentRequest {
	if customer.Email == "" {
		customer.Email = snap.Reservation.Email
	}
	return &client.PaymentRequest{
		Items: []client.PaymentItem{{
			Amount:      amount,
			Description: snap.EventName,
			Quantity:    1,
			Code:        snap.EventID,
		}},
		Customer: customer,
		EventID:  snap.EventID,
		SpotID:   snap.Reservation.SpotID,
	}
}

func chargeInfo(res *client.ChargeResult, snap *CheckoutSnapshot, method domain.PaymentMethod, amount int64) domain.ChargeInfo {
	info := domain.ChargeInfo{
		ChargeID: res.ChargeID,
		Status:   res.Status,
		Amount:   amount,
		Meio:     method,
		PayLink:  res.PayLink,
		Event:    snap.EventID,
		Email:    snap.Reservation.Email,
	}
	if res.Amount > 0 {
		info.Amount = res.Amount
	}
	if res.Pix != nil {
		info.QRCodePix = res.Pix.CopiaECola
	}
	return info
}

// recordCharge appends the charge as current and caches the PIX payload
func (s *CheckoutSession) recordCharge(ctx context.Context, charge domain.ChargeInfo, pix *domain.PixPayload) {
	s.mu.Lock()
	s.reservation.Charges = append(s.reservation.Charges, charge)
	if pix != nil {
		s.pix = pix
	}
	if charge.Meio == domain.PaymentMethodCreditCard {
		s.cardError = nil
		s.remediation = nil
	}
	data, anchor, active := s.reservation, s.anchor, s.state == CheckoutActive
	s.mu.Unlock()

	if !active {
		return
	}
	if err := s.sessions.SaveReservation(ctx, s.userID, data, anchor); err != nil {
		s.log.Warn("failed to persist charge", zap.Error(err))
	}
	if pix != nil {
		if err := s.sessions.SavePix(ctx, s.userID, s.event.Name, *pix); err != nil {
			s.log.Warn("failed to cache pix payload", zap.Error(err))
		}
	}
}

// recordCardFailure starts the card cooldown and stores the failure
func (s *CheckoutSession) recordCardFailure(details domain.CardErrorDetails) domain.Remediation {
	remediation := domain.RemediationFor(domain.ClassifyCardFailure(details))

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.cardCooldown = now.Add(s.cfg.CardCooldown)
	s.cardError = &details
	s.remediation = &remediation
	if remediation.ShowCooldown {
		s.broadcastLocked(TimerEvent{
			Type:      TimerEventCooldown,
			Cooldown:  ceilSeconds(s.cfg.CardCooldown),
			Remaining: ceilSeconds(s.remainingLocked(now)),
			Message:   details.Message,
		})
	}
	return remediation
}
