package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "test-secret"

type tokenKey struct{}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func authRouter() *gin.Engine {
	r := gin.New()
	cfg := &AuthConfig{
		Secret: testSecret,
		WithToken: func(ctx context.Context, token string) context.Context {
			return context.WithValue(ctx, tokenKey{}, token)
		},
	}
	api := r.Group("/", Auth(cfg))
	api.GET("/me", func(c *gin.Context) {
		token, _ := c.Request.Context().Value(tokenKey{}).(string)
		c.JSON(http.StatusOK, gin.H{"user": c.GetString(UserIDKey), "role": c.GetString(RoleKey), "forwarded": token != ""})
	})
	api.GET("/checkout/ev-1/stream", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(UserIDKey)) })
	api.GET("/admin", RequireRole(RoleAdmin), func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.NotEmpty(t, w.Body.String())
	assert.Equal(t, w.Body.String(), w.Header().Get(RequestIDHeader))

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, "existing-123")
	r.ServeHTTP(w, req)
	assert.Equal(t, "existing-123", w.Body.String())
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://inscricoes.example.com"}))
	r.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/test", nil)
	req.Header.Set("Origin", "https://inscricoes.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://inscricoes.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuth(t *testing.T) {
	r := authRouter()
	valid := signToken(t, jwt.MapClaims{"user_id": "user-1", "role": "user", "exp": time.Now().Add(time.Hour).Unix()})

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "valid", header: "Bearer " + valid, wantStatus: http.StatusOK},
		{name: "missing", header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + valid, wantStatus: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signToken(t, jwt.MapClaims{"user_id": "u", "exp": time.Now().Add(-time.Minute).Unix()}), wantStatus: http.StatusUnauthorized},
		{name: "no subject", header: "Bearer " + signToken(t, jwt.MapClaims{"role": "user"}), wantStatus: http.StatusUnauthorized},
		{name: "tampered", header: "Bearer " + valid + "x", wantStatus: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+valid)
	r.ServeHTTP(w, req)
	assert.JSONEq(t, `{"user":"user-1","role":"user","forwarded":true}`, w.Body.String())
}

func TestAuth_SubjectFallback(t *testing.T) {
	claims, err := ParseToken(&AuthConfig{Secret: testSecret}, signToken(t, jwt.MapClaims{"sub": "user-9"}))
	require.NoError(t, err)
	assert.Equal(t, "user-9", claims.UserID)
}

func TestAuth_StreamQueryToken(t *testing.T) {
	r := authRouter()
	token := signToken(t, jwt.MapClaims{"user_id": "user-1"})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/checkout/ev-1/stream?access_token="+token, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?access_token="+token, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code, "query tokens are only read on stream routes")
}

func TestRequireRole(t *testing.T) {
	r := authRouter()

	for role, want := range map[string]int{"admin": http.StatusOK, "user": http.StatusForbidden} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"user_id": "u", "role": role}))
		r.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, role)
	}
}

func idempotencyRouter(store IdempotencyStore, calls *atomic.Int32, status *atomic.Int32) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(UserIDKey, "user-1"); c.Next() })
	r.Use(Idempotency(&IdempotencyConfig{Store: store}))
	r.POST("/pay", func(c *gin.Context) {
		n := calls.Add(1)
		c.JSON(int(status.Load()), gin.H{"call": n})
	})
	return r
}

func postKeyed(r *gin.Engine, key, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/pay", strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotency_ReplaysResponse(t *testing.T) {
	var calls, status atomic.Int32
	status.Store(http.StatusCreated)
	r := idempotencyRouter(NewMemoryIdempotencyStore(), &calls, &status)

	first := postKeyed(r, "k1", `{"a":1}`)
	second := postKeyed(r, "k1", `{"a":1}`)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int32(1), calls.Load())

	reused := postKeyed(r, "k1", `{"a":2}`)
	assert.Equal(t, http.StatusUnprocessableEntity, reused.Code)

	postKeyed(r, "", `{"a":1}`)
	postKeyed(r, "", `{"a":1}`)
	assert.Equal(t, int32(3), calls.Load(), "unkeyed requests pass through")
}

func TestIdempotency_ServerErrorReleasesKey(t *testing.T) {
	var calls, status atomic.Int32
	status.Store(http.StatusBadGateway)
	r := idempotencyRouter(NewMemoryIdempotencyStore(), &calls, &status)

	postKeyed(r, "k1", `{}`)
	status.Store(http.StatusOK)
	w := postKeyed(r, "k1", `{}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(2), calls.Load())
}

func TestIdempotency_InProgress(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	hash := requestHash(http.MethodPost, "/pay", "user-1", []byte(`{}`))
	_, err := store.Claim(context.Background(), idempotencyKeyPrefix+"user-1:k1", &IdempotencyRecord{Status: StatusProcessing, RequestHash: hash}, time.Minute)
	require.NoError(t, err)

	var calls, status atomic.Int32
	status.Store(http.StatusOK)
	w := postKeyed(idempotencyRouter(store, &calls, &status), "k1", `{}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, int32(0), calls.Load())
}

func TestMemoryIdempotencyStore_Expiry(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return at }
	ctx := context.Background()

	ok, err := store.Claim(ctx, "k", &IdempotencyRecord{Status: StatusProcessing}, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = store.Claim(ctx, "k", &IdempotencyRecord{Status: StatusProcessing}, time.Minute)
	assert.False(t, ok)

	at = at.Add(time.Minute)
	_, found, _ := store.Load(ctx, "k")
	assert.False(t, found)
}
