package domain

import "time"

// CheckoutEventType is the type of a checkout lifecycle event
type CheckoutEventType string

const (
	CheckoutEventReservationCreated   CheckoutEventType = "reservation.created"
	CheckoutEventReservationDuplicate CheckoutEventType = "reservation.duplicate"
	CheckoutEventPaid                 CheckoutEventType = "checkout.paid"
	CheckoutEventExpired              CheckoutEventType = "checkout.expired"
	CheckoutEventPaymentAttempted     CheckoutEventType = "payment.attempted"
	CheckoutEventCardFailed           CheckoutEventType = "payment.card_failed"
)

// CheckoutEvent is published for downstream analytics
type CheckoutEvent struct {
	ID         string            `json:"id"`
	Type       CheckoutEventType `json:"type"`
	UserID     string            `json:"userId"`
	EventID    string            `json:"eventId"`
	SpotID     string            `json:"spotId,omitempty"`
	Method     PaymentMethod     `json:"method,omitempty"`
	Amount     int64             `json:"amount,omitempty"`
	Message    string            `json:"message,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// NewCheckoutEvent builds an event for the given reservation context
func NewCheckoutEvent(id string, eventType CheckoutEventType, userID, eventID string) *CheckoutEvent {
	return &CheckoutEvent{
		ID:         id,
		Type:       eventType,
		UserID:     userID,
		EventID:    eventID,
		OccurredAt: time.Now().UTC(),
	}
}

// Key is the partition key; events of one event id stay ordered
func (e *CheckoutEvent) Key() string {
	return e.EventID
}
