package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"ridedispatch/internal/logging"
	"ridedispatch/internal/observability"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memoryStore struct {
	mu       sync.Mutex
	data     map[string][]byte
	inflight map[string]bool
	getErr   error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte), inflight: make(map[string]bool)}
}

func (m *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.data[key], nil
}

func (m *memoryStore) Set(_ context.Context, key string, data []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

func (m *memoryStore) Begin(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight[key] {
		return false, nil
	}
	m.inflight[key] = true
	return true, nil
}

func (m *memoryStore) End(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, key)
	return nil
}

func idempotentRouter(store IdempotencyStore, status int, calls *int32) *gin.Engine {
	r := gin.New()
	r.POST("/rides/match", IdempotencyMiddleware(store, logging.Discard()), func(c *gin.Context) {
		n := atomic.AddInt32(calls, 1)
		c.JSON(status, gin.H{"call": n})
	})
	return r
}

func post(r http.Handler, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/rides/match", bytes.NewBufferString(`{}`))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	var calls int32
	r := idempotentRouter(newMemoryStore(), http.StatusCreated, &calls)

	first := post(r, "abc")
	second := post(r, "abc")

	if calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls)
	}
	if second.Code != http.StatusCreated {
		t.Errorf("expected replayed 201, got %d", second.Code)
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("expected identical body, got %q and %q", first.Body.String(), second.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("expected replay header")
	}
	if first.Header().Get("Idempotent-Replayed") != "" {
		t.Error("first response must not be marked as replayed")
	}
}

func TestIdempotency_DistinctKeysAndNoKey(t *testing.T) {
	var calls int32
	r := idempotentRouter(newMemoryStore(), http.StatusCreated, &calls)

	post(r, "a")
	post(r, "b")
	post(r, "")
	post(r, "")

	if calls != 4 {
		t.Errorf("expected 4 handler runs, got %d", calls)
	}
}

func TestIdempotency_ServerErrorsAreNotStored(t *testing.T) {
	var calls int32
	r := idempotentRouter(newMemoryStore(), http.StatusInternalServerError, &calls)

	post(r, "abc")
	post(r, "abc")

	if calls != 2 {
		t.Errorf("expected retry after 500 to reach the handler, got %d runs", calls)
	}
}

func TestIdempotency_InFlightKeyConflicts(t *testing.T) {
	store := newMemoryStore()
	if ok, _ := store.Begin(context.Background(), "POST:/rides/match:abc", time.Minute); !ok {
		t.Fatal("pre-claim failed")
	}

	var calls int32
	w := post(idempotentRouter(store, http.StatusCreated, &calls), "abc")

	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
	if calls != 0 {
		t.Errorf("handler must not run, ran %d times", calls)
	}
}

func TestIdempotency_StoreFailureFallsThrough(t *testing.T) {
	store := newMemoryStore()
	store.getErr = errors.New("redis down")

	var calls int32
	w := post(idempotentRouter(store, http.StatusCreated, &calls), "abc")

	if w.Code != http.StatusCreated || calls != 1 {
		t.Errorf("expected request served without idempotency, got %d after %d runs", w.Code, calls)
	}
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		method     string
		wantStatus int
	}{
		{http.MethodOptions, http.StatusNoContent},
		{http.MethodGet, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(tt.method, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("expected wildcard origin, got %q", got)
			}
		})
	}
}

func TestMetricsMiddleware_LabelsByRouteTemplate(t *testing.T) {
	r := gin.New()
	r.Use(MetricsMiddleware())
	r.GET("/v1/rides/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	counter := observability.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/rides/:id", "200")
	before := counterValue(t, counter)

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/rides/"+id, nil))
	}

	if got := counterValue(t, counter) - before; got != 2 {
		t.Errorf("expected 2 requests under the route template, got %v", got)
	}

	unmatched := observability.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")
	before = counterValue(t, unmatched)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))
	if got := counterValue(t, unmatched) - before; got != 1 {
		t.Errorf("expected unknown path under unmatched, got %v", got)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}
