package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/feupam/feupam-checkout/internal/domain"
	pkgredis "github.com/feupam/feupam-checkout/pkg/redis"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySessionStore_SetGetClear(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySessionStore(0)

	require.NoError(t, s.Set(ctx, "u1", map[string]string{"a": "1", "b": "2"}))

	v, ok, err := s.Get(ctx, "u1", "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok, _ = s.Get(ctx, "u2", "a")
	assert.False(t, ok, "sessions are per user")

	require.NoError(t, s.Clear(ctx, "u1", "a"))
	_, ok, _ = s.Get(ctx, "u1", "a")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "u1", "b")
	assert.True(t, ok)
}

func TestMemorySessionStore_TTL(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := NewMemorySessionStore(15 * time.Minute)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "u1", map[string]string{"a": "1"}))

	now = now.Add(14 * time.Minute)
	_, ok, _ := s.Get(ctx, "u1", "a")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok, _ = s.Get(ctx, "u1", "a")
	assert.False(t, ok)
}

func TestCheckoutSessionRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewCheckoutSessionRepository(NewMemorySessionStore(0))
	price := int64(5000)
	started := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	data := domain.ReservationData{SpotID: "spot-1", Email: "a@b.c", EventID: "ev-1", UserType: domain.UserTypeClient, Status: "reserved", Price: &price}
	require.NoError(t, repo.SaveReservation(ctx, "u1", data, started))

	active, err := repo.LoadReservation(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, data, active.Data)
	assert.True(t, started.Equal(active.StartedAt))
}

func TestCheckoutSessionRepository_OverwriteIsFull(t *testing.T) {
	ctx := context.Background()
	repo := NewCheckoutSessionRepository(NewMemorySessionStore(0))
	price := int64(5000)

	require.NoError(t, repo.SaveReservation(ctx, "u1", domain.ReservationData{SpotID: "s1", EventID: "ev-1", Price: &price}, time.Now()))
	require.NoError(t, repo.SaveReservation(ctx, "u1", domain.ReservationData{SpotID: "s2", EventID: "ev-1"}, time.Now()))

	active, err := repo.LoadReservation(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "s2", active.Data.SpotID)
	assert.Nil(t, active.Data.Price)
}

func TestCheckoutSessionRepository_UnpairedKeyMeansNoReservation(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(0)
	repo := NewCheckoutSessionRepository(store)

	require.NoError(t, store.Set(ctx, "u1", map[string]string{KeyReservationData: `{"eventId":"ev-1","spotId":"s"}`}))

	_, err := repo.LoadReservation(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)

	_, ok, _ := store.Get(ctx, "u1", KeyReservationData)
	assert.False(t, ok, "orphan key is cleared")
}

func TestCheckoutSessionRepository_CorruptTimestamp(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(0)
	repo := NewCheckoutSessionRepository(store)

	require.NoError(t, store.Set(ctx, "u1", map[string]string{
		KeyReservationData:      `{"eventId":"ev-1","spotId":"s"}`,
		KeyReservationTimestamp: "yesterday",
	}))

	_, err := repo.LoadReservation(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
}

func TestCheckoutSessionRepository_StaleEventDiscarded(t *testing.T) {
	ctx := context.Background()
	repo := NewCheckoutSessionRepository(NewMemorySessionStore(0))

	require.NoError(t, repo.SaveReservation(ctx, "u1", domain.ReservationData{SpotID: "s", EventID: "ev-old"}, time.Now()))

	_, err := repo.LoadReservationFor(ctx, "u1", "ev-new")
	assert.ErrorIs(t, err, domain.ErrStaleCache)

	_, err = repo.LoadReservation(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
}

func TestCheckoutSessionRepository_PixCache(t *testing.T) {
	ctx := context.Background()
	repo := NewCheckoutSessionRepository(NewMemorySessionStore(0))

	_, ok, err := repo.LoadPix(ctx, "u1", "Retiro")
	require.NoError(t, err)
	assert.False(t, ok)

	pix := domain.PixPayload{QRCode: "https://qr", CopiaECola: "000201"}
	require.NoError(t, repo.SavePix(ctx, "u1", "Retiro", pix))

	got, ok, err := repo.LoadPix(ctx, "u1", "Retiro")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, pix, *got)

	_, ok, _ = repo.LoadPix(ctx, "u1", "Congresso")
	assert.False(t, ok, "pix cache is keyed per event")

	require.NoError(t, repo.ClearReservation(ctx, "u1", "Retiro"))
	_, ok, _ = repo.LoadPix(ctx, "u1", "Retiro")
	assert.False(t, ok)
}

func TestRedisSessionStore_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	ctx := context.Background()
	cfg := pkgredis.DefaultConfig()
	if host := os.Getenv("TEST_REDIS_HOST"); host != "" {
		cfg.Host = host
	}
	client, err := pkgredis.NewClient(ctx, cfg)
	require.NoError(t, err)
	defer client.Close()

	userID := uuid.New().String()
	store := NewRedisSessionStore(client, time.Minute)
	repo := NewCheckoutSessionRepository(store)
	defer repo.ClearReservation(ctx, userID, "Retiro")

	started := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, repo.SaveReservation(ctx, userID, domain.ReservationData{SpotID: "s1", EventID: "ev-1"}, started))

	active, err := repo.LoadReservation(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "s1", active.Data.SpotID)
	assert.True(t, started.Equal(active.StartedAt))

	ttl, err := client.Client().TTL(ctx, sessionKey(userID, KeyReservationData)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, repo.ClearReservation(ctx, userID))
	_, err = repo.LoadReservation(ctx, userID)
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
}
