package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/churchledger/internal/domain"
)

type fakeIdempotencyStore struct {
	checkAndSetFn func(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	updateFn      func(ctx context.Context, key string, response []byte, ttl time.Duration) error
	deleteFn      func(ctx context.Context, key string) error
}

func (f *fakeIdempotencyStore) CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
	if f.checkAndSetFn != nil {
		return f.checkAndSetFn(ctx, key, response, ttl)
	}
	return false, nil, nil
}

func (f *fakeIdempotencyStore) Update(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	if f.updateFn != nil {
		return f.updateFn(ctx, key, response, ttl)
	}
	return nil
}

func (f *fakeIdempotencyStore) Delete(ctx context.Context, key string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, key)
	}
	return nil
}

func TestIdempotencyMiddleware_StoreErrors(t *testing.T) {
	var called bool
	store := &fakeIdempotencyStore{
		checkAndSetFn: func(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
			return false, nil, context.DeadlineExceeded
		},
	}
	mw := NewIdempotencyMiddleware(store, time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewBufferString(`{}`))
	req.Header.Set(IdempotencyKeyHeader, "key-err")
	rr := httptest.NewRecorder()

	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})).ServeHTTP(rr, req)

	if called {
		t.Fatalf("handler should not be called when store errors")
	}

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}

func TestIdempotencyMiddleware_ReleasesKeyOnFailure(t *testing.T) {
	var updated, deleted bool
	store := &fakeIdempotencyStore{
		updateFn: func(ctx context.Context, key string, response []byte, ttl time.Duration) error {
			updated = true
			return nil
		},
		deleteFn: func(ctx context.Context, key string) error {
			deleted = key == "key-fail"
			return nil
		},
	}
	mw := NewIdempotencyMiddleware(store, time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewBufferString(`{}`))
	req.Header.Set(IdempotencyKeyHeader, "key-fail")
	rr := httptest.NewRecorder()

	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})).ServeHTTP(rr, req)

	if updated {
		t.Fatalf("expected error responses not to be cached")
	}
	if !deleted {
		t.Fatalf("expected key to be released after failure")
	}
}

func TestIdempotencyMiddleware_SkipsNonMutatingRequests(t *testing.T) {
	store := &fakeIdempotencyStore{
		checkAndSetFn: func(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
			t.Fatalf("store should not be consulted for GET")
			return false, nil, nil
		},
	}
	mw := NewIdempotencyMiddleware(store, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/congregations", nil)
	req.Header.Set(IdempotencyKeyHeader, "key-get")
	rr := httptest.NewRecorder()

	called := false
	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})).ServeHTTP(rr, req)

	if !called {
		t.Fatalf("expected next handler to be called")
	}
}

func TestIdempotencyMiddleware_InProgress(t *testing.T) {
	store := &fakeIdempotencyStore{
		checkAndSetFn: func(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
			return true, []byte(processingMarker), nil
		},
	}
	mw := NewIdempotencyMiddleware(store, time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions/t1/approve", nil)
	req.Header.Set(IdempotencyKeyHeader, "key-busy")
	rr := httptest.NewRecorder()

	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not run while the first request is in flight")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestIdempotencyMiddleware_ReplaysStoredResponse(t *testing.T) {
	bodyHash := sha256.Sum256([]byte(`{}`))
	stored, _ := json.Marshal(cachedResponse{
		Status:      http.StatusCreated,
		Body:        json.RawMessage(`{"cached":true}`),
		RequestHash: hex.EncodeToString(bodyHash[:]),
	})
	store := &fakeIdempotencyStore{
		checkAndSetFn: func(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
			return true, stored, nil
		},
	}
	mw := NewIdempotencyMiddleware(store, time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewBufferString(`{}`))
	req.Header.Set(IdempotencyKeyHeader, "key-123")
	rr := httptest.NewRecorder()

	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not be called when cached response exists")
	})).ServeHTTP(rr, req)

	if rr.Header().Get(IdempotencyReplayHeader) != "true" {
		t.Fatalf("expected %s header to be set", IdempotencyReplayHeader)
	}
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected original status 201, got %d", rr.Code)
	}
	if got := rr.Body.String(); got != `{"cached":true}` {
		t.Fatalf("unexpected cached body: %s", got)
	}
}

func TestIdempotencyMiddleware_StoresSuccessfulResponse(t *testing.T) {
	var (
		updated  []byte
		storeTTL time.Duration
	)
	store := &fakeIdempotencyStore{
		updateFn: func(ctx context.Context, key string, response []byte, ttl time.Duration) error {
			updated = append([]byte(nil), response...)
			storeTTL = ttl
			return nil
		},
	}
	mw := NewIdempotencyMiddleware(store, 2*time.Hour)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/transactions/t1", nil)
	req.Header.Set(IdempotencyKeyHeader, "key-456")
	rr := httptest.NewRecorder()

	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})).ServeHTTP(rr, req)

	var cached cachedResponse
	if err := json.Unmarshal(updated, &cached); err != nil {
		t.Fatalf("stored payload is not JSON: %v", err)
	}
	if cached.Status != http.StatusOK || string(cached.Body) != `{"ok":true}` {
		t.Fatalf("unexpected stored response: %+v", cached)
	}
	if storeTTL != 2*time.Hour {
		t.Fatalf("expected configured TTL, got %s", storeTTL)
	}
}

// keyedIdempotencyStore keeps claimed keys in memory like the Redis store.
type keyedIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string][]byte
	// updateErrs records ctx.Err() as seen by each Update call.
	updateErrs []error
}

func newKeyedIdempotencyStore() *keyedIdempotencyStore {
	return &keyedIdempotencyStore{entries: make(map[string][]byte)}
}

func (s *keyedIdempotencyStore) CheckAndSet(_ context.Context, key string, _ []byte, _ time.Duration) (bool, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.entries[key]; ok {
		return true, v, nil
	}
	s.entries[key] = []byte(processingMarker)
	return false, nil, nil
}

func (s *keyedIdempotencyStore) Update(ctx context.Context, key string, response []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = response
	s.updateErrs = append(s.updateErrs, ctx.Err())
	return nil
}

func (s *keyedIdempotencyStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *keyedIdempotencyStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// echoPath answers every request with 201 and the path and body it saw.
func echoPath(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"path": r.URL.Path, "body": string(body)})
	})
}

func sendWithKey(ctx context.Context, h http.Handler, method, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body)).WithContext(ctx)
	req.Header.Set(IdempotencyKeyHeader, key)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestIdempotencyMiddleware_KeyScopedToRoute(t *testing.T) {
	var calls int
	h := NewIdempotencyMiddleware(newKeyedIdempotencyStore(), time.Hour).Wrap(echoPath(&calls))
	ctx := context.Background()

	first := sendWithKey(ctx, h, http.MethodPost, "/api/v1/transactions", "k1", `{"amount":"10"}`)
	require.Equal(t, http.StatusCreated, first.Code)

	approve := sendWithKey(ctx, h, http.MethodPost, "/api/v1/transactions/t1/approve", "k1", "")
	assert.Equal(t, 2, calls, "approve must run instead of replaying the create")
	assert.Empty(t, approve.Header().Get(IdempotencyReplayHeader))
	assert.Contains(t, approve.Body.String(), "/api/v1/transactions/t1/approve")

	update := sendWithKey(ctx, h, http.MethodPut, "/api/v1/transactions", "k1", `{"amount":"10"}`)
	assert.Equal(t, 3, calls, "a different method is a different request")
	assert.Empty(t, update.Header().Get(IdempotencyReplayHeader))
}

func TestIdempotencyMiddleware_KeyScopedToCaller(t *testing.T) {
	var calls int
	h := NewIdempotencyMiddleware(newKeyedIdempotencyStore(), time.Hour).Wrap(echoPath(&calls))

	alice := domain.ContextWithUser(context.Background(), &domain.User{ID: "alice", Role: domain.RoleDirector})
	bob := domain.ContextWithUser(context.Background(), &domain.User{ID: "bob", Role: domain.RoleDirector})

	sendWithKey(alice, h, http.MethodPost, "/api/v1/congregations", "shared", `{"name":"A"}`)
	rr := sendWithKey(bob, h, http.MethodPost, "/api/v1/congregations", "shared", `{"name":"A"}`)

	assert.Equal(t, 2, calls)
	assert.Empty(t, rr.Header().Get(IdempotencyReplayHeader))

	replay := sendWithKey(alice, h, http.MethodPost, "/api/v1/congregations", "shared", `{"name":"A"}`)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "true", replay.Header().Get(IdempotencyReplayHeader))
	assert.Equal(t, http.StatusCreated, replay.Code)
}

func TestIdempotencyMiddleware_RejectsReuseWithDifferentBody(t *testing.T) {
	var calls int
	h := NewIdempotencyMiddleware(newKeyedIdempotencyStore(), time.Hour).Wrap(echoPath(&calls))
	ctx := context.Background()

	first := sendWithKey(ctx, h, http.MethodPost, "/api/v1/transactions", "k2", `{"amount":"10"}`)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Contains(t, first.Body.String(), `amount`, "the handler must still read the body")

	rr := sendWithKey(ctx, h, http.MethodPost, "/api/v1/transactions", "k2", `{"amount":"99"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, 1, calls)
}

func TestIdempotencyMiddleware_ReleasesKeyWhenHandlerPanics(t *testing.T) {
	store := newKeyedIdempotencyStore()
	mw := NewIdempotencyMiddleware(store, time.Hour)

	panicking := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	assert.PanicsWithValue(t, "boom", func() {
		sendWithKey(context.Background(), panicking, http.MethodPost, "/api/v1/transactions", "k3", `{}`)
	})
	assert.Zero(t, store.len(), "a panicking request must not leave the key processing")

	var calls int
	retry := sendWithKey(context.Background(), mw.Wrap(echoPath(&calls)), http.MethodPost, "/api/v1/transactions", "k3", `{}`)
	assert.Equal(t, http.StatusCreated, retry.Code)
	assert.Equal(t, 1, calls)
}

func TestIdempotencyMiddleware_StoresResponseAfterClientGoesAway(t *testing.T) {
	store := newKeyedIdempotencyStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewIdempotencyMiddleware(store, time.Hour).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	sendWithKey(ctx, h, http.MethodPost, "/api/v1/transactions", "k4", `{}`)

	require.Len(t, store.updateErrs, 1)
	assert.NoError(t, store.updateErrs[0], "the response must be stored with a live context")

	var calls int
	replay := sendWithKey(context.Background(), NewIdempotencyMiddleware(store, time.Hour).Wrap(echoPath(&calls)),
		http.MethodPost, "/api/v1/transactions", "k4", `{}`)
	assert.Equal(t, 0, calls)
	assert.Equal(t, "true", replay.Header().Get(IdempotencyReplayHeader))
}
