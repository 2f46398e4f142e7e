package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRemaining_ClampedToWindow(t *testing.T) {
	window := 600 * time.Second
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want time.Duration
	}{
		{name: "at start", now: start, want: window},
		{name: "after 100s", now: start.Add(100 * time.Second), want: 500 * time.Second},
		{name: "exactly at end", now: start.Add(window), want: 0},
		{name: "long after end", now: start.Add(2 * time.Hour), want: 0},
		{name: "clock behind anchor", now: start.Add(-30 * time.Second), want: window},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Remaining(window, start, tt.now))
		})
	}
}

func TestRemaining_NonIncreasing(t *testing.T) {
	window := 600 * time.Second
	start := time.Now()
	prev := Remaining(window, start, start)
	for i := 1; i <= 700; i += 7 {
		cur := Remaining(window, start, start.Add(time.Duration(i)*time.Second))
		assert.LessOrEqual(t, cur, prev)
		assert.GreaterOrEqual(t, cur, time.Duration(0))
		prev = cur
	}
}

func TestColorFor(t *testing.T) {
	assert.Equal(t, TimerColorGreen, ColorFor(181*time.Second))
	assert.Equal(t, TimerColorOrange, ColorFor(180*time.Second))
	assert.Equal(t, TimerColorOrange, ColorFor(61*time.Second))
	assert.Equal(t, TimerColorRed, ColorFor(60*time.Second))
	assert.Equal(t, TimerColorRed, ColorFor(0))
}

func TestProgress(t *testing.T) {
	assert.Equal(t, 50.0, Progress(300*time.Second, 600*time.Second))
	assert.Equal(t, 100.0, Progress(700*time.Second, 600*time.Second))
	assert.Equal(t, 0.0, Progress(10*time.Second, 0))
}

func TestResolvedExisting(t *testing.T) {
	assert.True(t, ResolvedExisting(true, "spot-1"))
	assert.True(t, ResolvedExisting(false, "existing-abc"))
	assert.True(t, ResolvedExisting(false, "FALLBACK_123"))
	assert.True(t, ResolvedExisting(false, "spot-409-x"))
	assert.False(t, ResolvedExisting(false, "spot-1"))
}

func TestFindReservation_PrefersPaid(t *testing.T) {
	list := []UserReservation{
		{ID: "a", EventID: "ev-1", Status: ReservationStatusPending},
		{ID: "b", EventID: "ev-2", Status: ReservationStatusPaid},
		{ID: "c", EventID: "ev-1", Status: ReservationStatusPaid},
	}

	got, ok := FindReservation(list, "ev-1")
	assert.True(t, ok)
	assert.Equal(t, "c", got.ID)

	_, ok = FindReservation(list, "ev-3")
	assert.False(t, ok)
}

func TestReservationData_BelongsTo(t *testing.T) {
	r := &ReservationData{EventID: "ev-1"}
	assert.True(t, r.BelongsTo("ev-1"))
	assert.False(t, r.BelongsTo("ev-2"))

	var empty *ReservationData
	assert.False(t, empty.BelongsTo("ev-1"))
}

func TestReservationData_CurrentCharge(t *testing.T) {
	r := &ReservationData{}
	_, ok := r.CurrentCharge()
	assert.False(t, ok)

	r.Charges = []ChargeInfo{{ChargeID: "ch-1"}, {ChargeID: "ch-2"}}
	c, ok := r.CurrentCharge()
	assert.True(t, ok)
	assert.Equal(t, "ch-2", c.ChargeID)
}

func TestTicketStatus(t *testing.T) {
	secs := func(n int) *int { return &n }

	paid := TicketStatus{Status: "Pago", RemainingSeconds: secs(0)}
	assert.True(t, paid.IsPaid())
	assert.False(t, paid.IsExpired())

	valid := TicketStatus{Status: ReservationStatusReserved, RemainingSeconds: secs(240)}
	assert.False(t, valid.IsExpired())
	d, ok := valid.Remaining()
	assert.True(t, ok)
	assert.Equal(t, 240*time.Second, d)

	assert.True(t, TicketStatus{Status: "expired"}.IsExpired())
	assert.True(t, TicketStatus{Status: ReservationStatusReserved, RemainingSeconds: secs(0)}.IsExpired())

	_, ok = TicketStatus{Status: ReservationStatusReserved}.Remaining()
	assert.False(t, ok)
}

func TestInstallmentOption_Total(t *testing.T) {
	opts := []InstallmentOption{{Number: 1, ValueInCents: 40000}, {Number: 4, ValueInCents: 11000}}

	four, ok := FindInstallment(opts, 4)
	assert.True(t, ok)
	assert.Equal(t, int64(44000), four.Total())

	_, ok = FindInstallment(opts, 12)
	assert.False(t, ok)
}

func TestClassifyCardFailure(t *testing.T) {
	tests := []struct {
		name    string
		details CardErrorDetails
		want    CardFailureKind
	}{
		{name: "portuguese expired", details: CardErrorDetails{Message: "Reserva expirada, faça uma nova"}, want: CardFailureReservationExpired},
		{name: "english expired in details", details: CardErrorDetails{Message: "failed", Details: "reservation expired"}, want: CardFailureReservationExpired},
		{name: "ordering", details: CardErrorDetails{Message: "Cannot read properties of undefined (reading 'last_transaction')"}, want: CardFailureTransactionOrdering},
		{name: "declined", details: CardErrorDetails{Status: 402, Message: "Cartão recusado"}, want: CardFailureGeneric},
		{name: "backend code", details: CardErrorDetails{Code: "RESERVATION_EXPIRED", Message: "failed"}, want: CardFailureReservationExpired},
		{name: "card expired portuguese", details: CardErrorDetails{Status: 402, Message: "Cartão expirado"}, want: CardFailureGeneric},
		{name: "card expired english", details: CardErrorDetails{Status: 402, Message: "Expired card"}, want: CardFailureGeneric},
		{name: "card expired code", details: CardErrorDetails{Status: 402, Code: "card_expired", Message: "declined"}, want: CardFailureGeneric},
		{name: "card expiry date", details: CardErrorDetails{Status: 402, Message: "Transação negada: cartão com data expirada"}, want: CardFailureGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyCardFailure(tt.details))
		})
	}
}

func TestRemediationFor(t *testing.T) {
	expired := RemediationFor(CardFailureReservationExpired)
	assert.Equal(t, "new_reservation", expired.Action)
	assert.True(t, expired.Destructive)
	assert.False(t, expired.AllowRetry)
	assert.False(t, expired.ShowCooldown)

	ordering := RemediationFor(CardFailureTransactionOrdering)
	assert.True(t, ordering.SuggestPix)
	assert.False(t, ordering.ShowCooldown)

	generic := RemediationFor(CardFailureGeneric)
	assert.True(t, generic.AllowRetry)
	assert.True(t, generic.SuggestPix)
	assert.True(t, generic.ShowCooldown)
}

func TestErrorClassifiers(t *testing.T) {
	wrapped := fmt.Errorf("reserve: %w", ErrDuplicateRegistration)
	assert.True(t, IsConflictError(wrapped))
	assert.True(t, IsExpiredError(fmt.Errorf("sync: %w", ErrReservationExpired)))
	assert.True(t, IsThrottleError(ErrCardCooldown))
	assert.True(t, IsValidationError(ErrInstallmentNotFound))
	assert.False(t, IsConflictError(errors.New("other")))
}
