package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/feupam/feupam-checkout/pkg/logger"
	"github.com/feupam/feupam-checkout/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// IdempotencyKeyHeader lets a client resubmit a payment safely
	IdempotencyKeyHeader = "X-Idempotency-Key"

	DefaultIdempotencyTTL = 15 * time.Minute
	idempotencyKeyPrefix  = "idempotency:"
)

// IdempotencyStatus is the state of a recorded request
type IdempotencyStatus string

const (
	StatusProcessing IdempotencyStatus = "processing"
	StatusCompleted  IdempotencyStatus = "completed"
)

// IdempotencyRecord stores the outcome of a keyed request
type IdempotencyRecord struct {
	Status       IdempotencyStatus `json:"status"`
	RequestHash  string            `json:"request_hash"`
	ResponseCode int               `json:"response_code,omitempty"`
	ResponseBody string            `json:"response_body,omitempty"`
}

// IdempotencyStore persists records. Claim is atomic: it succeeds only for
// the first caller of a key.
type IdempotencyStore interface {
	Claim(ctx context.Context, key string, rec *IdempotencyRecord, ttl time.Duration) (bool, error)
	Load(ctx context.Context, key string) (*IdempotencyRecord, bool, error)
	Save(ctx context.Context, key string, rec *IdempotencyRecord, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// IdempotencyConfig holds configuration for the idempotency middleware
type IdempotencyConfig struct {
	Store IdempotencyStore
	// TTL of completed records
	TTL time.Duration
	// ProcessingTTL bounds how long a crashed request keeps its key claimed
	ProcessingTTL time.Duration
}

// Idempotency replays the stored response of a keyed POST. Requests
// without the header pass through; 5xx outcomes release the key so the
// client may retry.
func Idempotency(cfg *IdempotencyConfig) gin.HandlerFunc {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	processingTTL := cfg.ProcessingTTL
	if processingTTL <= 0 {
		processingTTL = time.Minute
	}

	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}
		userID, _ := GetUserID(c)
		storeKey := idempotencyKeyPrefix + userID + ":" + key
		hash := requestHash(c.Request.Method, c.Request.URL.Path, userID, body)
		ctx := c.Request.Context()

		record := &IdempotencyRecord{Status: StatusProcessing, RequestHash: hash}
		claimed, err := cfg.Store.Claim(ctx, storeKey, record, processingTTL)
		if err != nil {
			// fail open
			logger.Get().Warn("idempotency store unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !claimed {
			replay(c, cfg.Store, storeKey, hash)
			return
		}

		rw := &capturingWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = rw
		c.Next()

		saveCtx := context.WithoutCancel(ctx)
		if rw.Status() >= http.StatusInternalServerError {
			_ = cfg.Store.Release(saveCtx, storeKey)
			return
		}
		record.Status = StatusCompleted
		record.ResponseCode = rw.Status()
		record.ResponseBody = rw.body.String()
		if err := cfg.Store.Save(saveCtx, storeKey, record, ttl); err != nil {
			logger.Get().Warn("failed to save idempotency record", zap.Error(err))
		}
	}
}

func replay(c *gin.Context, store IdempotencyStore, key, hash string) {
	existing, ok, err := store.Load(c.Request.Context(), key)
	if err != nil || !ok {
		response.Conflict(c, "REQUEST_IN_PROGRESS", "A request with this idempotency key is already being processed")
		return
	}
	switch {
	case existing.RequestHash != hash:
		response.Error(c, http.StatusUnprocessableEntity, "IDEMPOTENCY_KEY_REUSED", "Idempotency key already used with a different request", "")
	case existing.Status == StatusProcessing:
		response.Conflict(c, "REQUEST_IN_PROGRESS", "A request with this idempotency key is already being processed")
	default:
		c.Data(existing.ResponseCode, "application/json; charset=utf-8", []byte(existing.ResponseBody))
		c.Abort()
	}
}

func requestHash(method, path, userID string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte(path))
	h.Write([]byte(userID))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type capturingWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *capturingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// RedisIdempotencyStore keeps records in Redis with SET NX
type RedisIdempotencyStore struct {
	client redis.Cmdable
}

// NewRedisIdempotencyStore creates a Redis-backed store
func NewRedisIdempotencyStore(client redis.Cmdable) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func (s *RedisIdempotencyStore) Claim(ctx context.Context, key string, rec *IdempotencyRecord, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	return s.client.SetNX(ctx, key, data, ttl).Result()
}

func (s *RedisIdempotencyStore) Load(ctx context.Context, key string) (*IdempotencyRecord, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec IdempotencyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

func (s *RedisIdempotencyStore) Save(ctx context.Context, key string, rec *IdempotencyRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// MemoryIdempotencyStore is the single-instance store
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
	now     func() time.Time
}

type memoryRecord struct {
	rec     IdempotencyRecord
	expires time.Time
}

// NewMemoryIdempotencyStore creates an in-process store
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{records: make(map[string]memoryRecord), now: time.Now}
}

func (s *MemoryIdempotencyStore) loadLocked(key string) (memoryRecord, bool) {
	r, ok := s.records[key]
	if ok && !s.now().Before(r.expires) {
		delete(s.records, key)
		return memoryRecord{}, false
	}
	return r, ok
}

func (s *MemoryIdempotencyStore) Claim(ctx context.Context, key string, rec *IdempotencyRecord, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.loadLocked(key); ok {
		return false, nil
	}
	s.records[key] = memoryRecord{rec: *rec, expires: s.now().Add(ttl)}
	return true, nil
}

func (s *MemoryIdempotencyStore) Load(ctx context.Context, key string) (*IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.loadLocked(key)
	if !ok {
		return nil, false, nil
	}
	rec := r.rec
	return &rec, true, nil
}

func (s *MemoryIdempotencyStore) Save(ctx context.Context, key string, rec *IdempotencyRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = memoryRecord{rec: *rec, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryIdempotencyStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}
