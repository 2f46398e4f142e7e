package service

import (
	"context"
	"testing"

	"github.com/feupam/feupam-checkout/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKafkaEventPublisher_Validation(t *testing.T) {
	_, err := NewKafkaEventPublisher(context.Background(), nil)
	assert.Error(t, err)

	_, err = NewKafkaEventPublisher(context.Background(), &EventPublisherConfig{})
	assert.Error(t, err)
}

func TestNoOpEventPublisher(t *testing.T) {
	p := NewNoOpEventPublisher()
	assert.NoError(t, p.Publish(context.Background(), domain.NewCheckoutEvent("1", domain.CheckoutEventPaid, "u", "e")))
	assert.NoError(t, p.Close())
}

func TestPublishFillsEvent(t *testing.T) {
	p := &MockEventPublisher{}
	publish(context.Background(), p, domain.CheckoutEventPaymentAttempted, "user-1", "ev-1", func(e *domain.CheckoutEvent) {
		e.Amount = 11000
	})

	require.Len(t, p.events, 1)
	e := p.events[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "ev-1", e.Key())
	assert.Equal(t, int64(11000), e.Amount)
	assert.Equal(t, 1, p.Count(domain.CheckoutEventPaymentAttempted))
}
