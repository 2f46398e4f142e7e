package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/feupam/feupam-checkout/internal/domain"
)

// Session keys
const (
	KeyReservationData      = "reservationData"
	KeyReservationTimestamp = "reservationTimestamp"
	pixKeyPrefix            = "pixData-"
)

// PixKey is the cache key of the PIX payload of an event
func PixKey(eventName string) string {
	return pixKeyPrefix + eventName
}

// SessionStore persists per-user checkout keys. Set overwrites every given
// key as one unit.
type SessionStore interface {
	Get(ctx context.Context, userID, key string) (string, bool, error)
	Set(ctx context.Context, userID string, values map[string]string) error
	Clear(ctx context.Context, userID string, keys ...string) error
}

// ActiveReservation is a cached reservation with its window anchor
type ActiveReservation struct {
	Data      domain.ReservationData
	StartedAt time.Time
}

// CheckoutSessionRepository reads and writes typed session values
type CheckoutSessionRepository struct {
	store SessionStore
}

// NewCheckoutSessionRepository creates a new CheckoutSessionRepository
func NewCheckoutSessionRepository(store SessionStore) *CheckoutSessionRepository {
	return &CheckoutSessionRepository{store: store}
}

// LoadReservation returns the cached reservation. Both keys must be present;
// a lone or corrupt key counts as no active reservation and is cleared.
func (r *CheckoutSessionRepository) LoadReservation(ctx context.Context, userID string) (*ActiveReservation, error) {
	rawData, hasData, err := r.store.Get(ctx, userID, KeyReservationData)
	if err != nil {
		return nil, fmt.Errorf("failed to read reservation data: %w", err)
	}
	rawTS, hasTS, err := r.store.Get(ctx, userID, KeyReservationTimestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to read reservation timestamp: %w", err)
	}
	if !hasData && !hasTS {
		return nil, domain.ErrReservationNotFound
	}

	active, decodeErr := decodeActive(rawData, rawTS)
	if !hasData || !hasTS || decodeErr != nil {
		if err := r.store.Clear(ctx, userID, KeyReservationData, KeyReservationTimestamp); err != nil {
			return nil, fmt.Errorf("failed to clear broken session: %w", err)
		}
		return nil, domain.ErrReservationNotFound
	}
	return active, nil
}

func decodeActive(rawData, rawTS string) (*ActiveReservation, error) {
	var data domain.ReservationData
	if err := json.Unmarshal([]byte(rawData), &data); err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTS)
	if err != nil {
		return nil, err
	}
	if data.EventID == "" {
		return nil, errors.New("reservation without event id")
	}
	return &ActiveReservation{Data: data, StartedAt: ts}, nil
}

// LoadReservationFor returns the cached reservation of eventID. A cache entry
// for another event is stale and discarded.
func (r *CheckoutSessionRepository) LoadReservationFor(ctx context.Context, userID, eventID string) (*ActiveReservation, error) {
	active, err := r.LoadReservation(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !active.Data.BelongsTo(eventID) {
		if err := r.ClearReservation(ctx, userID); err != nil {
			return nil, err
		}
		return nil, domain.ErrStaleCache
	}
	return active, nil
}

// SaveReservation overwrites data and timestamp together
func (r *CheckoutSessionRepository) SaveReservation(ctx context.Context, userID string, data domain.ReservationData, startedAt time.Time) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode reservation: %w", err)
	}
	return r.store.Set(ctx, userID, map[string]string{
		KeyReservationData:      string(raw),
		KeyReservationTimestamp: startedAt.UTC().Format(time.RFC3339Nano),
	})
}

// ClearReservation removes the reservation keys and the PIX caches of the
// given event names
func (r *CheckoutSessionRepository) ClearReservation(ctx context.Context, userID string, eventNames ...string) error {
	keys := []string{KeyReservationData, KeyReservationTimestamp}
	for _, name := range eventNames {
		if name != "" {
			keys = append(keys, PixKey(name))
		}
	}
	if err := r.store.Clear(ctx, userID, keys...); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// LoadPix returns the cached PIX payload of an event
func (r *CheckoutSessionRepository) LoadPix(ctx context.Context, userID, eventName string) (*domain.PixPayload, bool, error) {
	raw, ok, err := r.store.Get(ctx, userID, PixKey(eventName))
	if err != nil || !ok {
		return nil, false, err
	}
	var pix domain.PixPayload
	if err := json.Unmarshal([]byte(raw), &pix); err != nil || (pix.QRCode == "" && pix.CopiaECola == "") {
		return nil, false, r.store.Clear(ctx, userID, PixKey(eventName))
	}
	return &pix, true, nil
}

// SavePix caches the PIX payload of an event
func (r *CheckoutSessionRepository) SavePix(ctx context.Context, userID, eventName string, pix domain.PixPayload) error {
	raw, err := json.Marshal(pix)
	if err != nil {
		return fmt.Errorf("failed to encode pix payload: %w", err)
	}
	return r.store.Set(ctx, userID, map[string]string{PixKey(eventName): string(raw)})
}
