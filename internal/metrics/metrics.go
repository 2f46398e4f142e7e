package metrics

import (
	"context"
	"sync"

	"github.com/feupam/feupam-checkout/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "feupam-checkout"

var (
	// Checkout lifecycle
	CheckoutsStarted *telemetry.Counter
	CheckoutsPaid    *telemetry.Counter
	CheckoutsExpired *telemetry.Counter
	CheckoutsClosed  *telemetry.Counter
	ActiveCheckouts  *telemetry.UpDownCounter

	// Time from reservation start to a paid checkout
	CheckoutPaymentDuration *telemetry.Histogram

	// Payments
	PaymentAttempts  *telemetry.Counter
	CardFailures     *telemetry.Counter
	PaymentsRejected *telemetry.Counter

	initOnce sync.Once
	initErr  error
	mu       sync.RWMutex
)

// Init registers every instrument on the global meter provider
func Init() error {
	initOnce.Do(func() {
		initErr = InitWithMeter(telemetry.Meter(meterName))
	})
	return initErr
}

// InitWithMeter registers every instrument on meter, replacing earlier ones
func InitWithMeter(meter metric.Meter) error {
	var err error
	var started, paid, expired, closed, attempts, cardFailures, rejected *telemetry.Counter
	var active *telemetry.UpDownCounter
	var duration *telemetry.Histogram

	counters := []struct {
		dst  **telemetry.Counter
		opts telemetry.MetricOpts
	}{
		{&started, telemetry.MetricOpts{Name: "checkouts_started_total", Description: "Checkouts started or resumed", Unit: "1"}},
		{&paid, telemetry.MetricOpts{Name: "checkouts_paid_total", Description: "Checkouts that ended paid", Unit: "1"}},
		{&expired, telemetry.MetricOpts{Name: "checkouts_expired_total", Description: "Checkouts whose reservation expired", Unit: "1"}},
		{&closed, telemetry.MetricOpts{Name: "checkouts_closed_total", Description: "Checkouts torn down before an outcome", Unit: "1"}},
		{&attempts, telemetry.MetricOpts{Name: "payment_attempts_total", Description: "Payment attempts sent to the backend", Unit: "1"}},
		{&cardFailures, telemetry.MetricOpts{Name: "card_failures_total", Description: "Declined card payments by failure kind", Unit: "1"}},
		{&rejected, telemetry.MetricOpts{Name: "payments_rejected_total", Description: "Payments refused locally before reaching the backend", Unit: "1"}},
	}
	for _, c := range counters {
		if *c.dst, err = telemetry.NewCounter(meter, c.opts); err != nil {
			return err
		}
	}

	active, err = telemetry.NewUpDownCounter(meter, telemetry.MetricOpts{
		Name:        "checkouts_active",
		Description: "Checkouts currently running",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	duration, err = telemetry.NewHistogramWithBuckets(meter, telemetry.MetricOpts{
		Name:        "checkout_payment_duration_seconds",
		Description: "Time from reservation start to payment",
		Unit:        "s",
	}, []float64{15, 30, 60, 120, 180, 300, 450, 600, 900})
	if err != nil {
		return err
	}

	mu.Lock()
	CheckoutsStarted, CheckoutsPaid, CheckoutsExpired, CheckoutsClosed = started, paid, expired, closed
	ActiveCheckouts = active
	CheckoutPaymentDuration = duration
	PaymentAttempts, CardFailures, PaymentsRejected = attempts, cardFailures, rejected
	mu.Unlock()
	return nil
}

// RecordCheckoutStarted counts a new or resumed checkout
func RecordCheckoutStarted(ctx context.Context, eventID string, resumed bool) {
	mu.RLock()
	defer mu.RUnlock()
	if CheckoutsStarted != nil {
		CheckoutsStarted.Inc(ctx,
			attribute.String("event_id", eventID),
			attribute.Bool("resumed", resumed),
		)
	}
	if ActiveCheckouts != nil {
		ActiveCheckouts.Inc(ctx)
	}
}

// RecordCheckoutPaid counts a paid checkout and how long it took
func RecordCheckoutPaid(ctx context.Context, eventID string, durationSeconds float64) {
	mu.RLock()
	defer mu.RUnlock()
	attrs := attribute.String("event_id", eventID)
	if CheckoutsPaid != nil {
		CheckoutsPaid.Inc(ctx, attrs)
	}
	if CheckoutPaymentDuration != nil {
		CheckoutPaymentDuration.Record(ctx, durationSeconds, attrs)
	}
	if ActiveCheckouts != nil {
		ActiveCheckouts.Dec(ctx)
	}
}

// RecordCheckoutExpired counts a checkout lost to reservation expiry
func RecordCheckoutExpired(ctx context.Context, eventID string) {
	mu.RLock()
	defer mu.RUnlock()
	if CheckoutsExpired != nil {
		CheckoutsExpired.Inc(ctx, attribute.String("event_id", eventID))
	}
	if ActiveCheckouts != nil {
		ActiveCheckouts.Dec(ctx)
	}
}

// RecordCheckoutClosed counts a checkout torn down without an outcome
func RecordCheckoutClosed(ctx context.Context, eventID string) {
	mu.RLock()
	defer mu.RUnlock()
	if CheckoutsClosed != nil {
		CheckoutsClosed.Inc(ctx, attribute.String("event_id", eventID))
	}
	if ActiveCheckouts != nil {
		ActiveCheckouts.Dec(ctx)
	}
}

// RecordPaymentAttempt counts a payment sent to the backend
func RecordPaymentAttempt(ctx context.Context, method string) {
	mu.RLock()
	defer mu.RUnlock()
	if PaymentAttempts != nil {
		PaymentAttempts.Inc(ctx, attribute.String("method", method))
	}
}

// RecordCardFailure counts a declined card by failure kind
func RecordCardFailure(ctx context.Context, kind string) {
	mu.RLock()
	defer mu.RUnlock()
	if CardFailures != nil {
		CardFailures.Inc(ctx, attribute.String("kind", kind))
	}
}

// RecordPaymentRejected counts a payment refused by the block window or the card cooldown
func RecordPaymentRejected(ctx context.Context, reason string) {
	mu.RLock()
	defer mu.RUnlock()
	if PaymentsRejected != nil {
		PaymentsRejected.Inc(ctx, attribute.String("reason", reason))
	}
}
