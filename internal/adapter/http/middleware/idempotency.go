package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/churchledger/internal/domain"
	"github.com/iho/churchledger/internal/usecase"
)

const (
	// IdempotencyKeyHeader is the header name for idempotency keys.
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotencyReplayHeader marks responses served from the store.
	IdempotencyReplayHeader = "X-Idempotency-Replay"

	processingMarker = "processing"

	// maxHashedBody bounds how much of a request body is read for hashing.
	maxHashedBody = 1 << 20
	// storeTimeout bounds the release and store writes, which outlive the
	// request context.
	storeTimeout = 5 * time.Second
)

// cachedResponse is what the store keeps for a completed request.
type cachedResponse struct {
	Status      int             `json:"status"`
	Body        json.RawMessage `json:"body"`
	RequestHash string          `json:"request_hash"`
}

// IdempotencyMiddleware replays the stored response of a mutating request
// retried with the same Idempotency-Key. Keys are scoped to the caller,
// method and path, so one key never replays another endpoint's response.
type IdempotencyMiddleware struct {
	store usecase.IdempotencyStore
	ttl   time.Duration
}

// NewIdempotencyMiddleware creates a new IdempotencyMiddleware. A zero ttl
// uses usecase.IdempotencyKeyTTL.
func NewIdempotencyMiddleware(store usecase.IdempotencyStore, ttl time.Duration) *IdempotencyMiddleware {
	if ttl <= 0 {
		ttl = usecase.IdempotencyKeyTTL
	}
	return &IdempotencyMiddleware{store: store, ttl: ttl}
}

// Wrap wraps an http.Handler with idempotency checking.
func (m *IdempotencyMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodDelete {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get(IdempotencyKeyHeader)
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		log := zerolog.Ctx(ctx).With().Str("idempotency_key", header).Logger()

		requestHash, err := hashBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}

		key := scopedKey(ctx, r.Method, r.URL.Path, header)
		exists, stored, err := m.store.CheckAndSet(ctx, key, nil, m.ttl)
		if err != nil {
			log.Error().Err(err).Msg("idempotency check failed")
			writeError(w, http.StatusInternalServerError, "idempotency check failed", "")
			return
		}

		if exists {
			if stored == nil || string(stored) == processingMarker {
				writeError(w, http.StatusConflict, "request in progress", "a request with this idempotency key is still being processed")
				return
			}

			var cached cachedResponse
			if err := json.Unmarshal(stored, &cached); err != nil || cached.Status == 0 {
				writeError(w, http.StatusInternalServerError, "idempotency check failed", "stored response is unreadable")
				return
			}
			if cached.RequestHash != requestHash {
				writeError(w, http.StatusUnprocessableEntity, "idempotency key reused",
					"the idempotency key was already used with a different request body")
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(IdempotencyReplayHeader, "true")
			w.WriteHeader(cached.Status)
			w.Write(cached.Body)
			return
		}

		// The key must not stay "processing" when the client goes away or
		// the handler panics, so store writes ignore request cancellation.
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
		defer cancel()

		recorder := &responseRecorder{
			ResponseWriter: w,
			body:           &bytes.Buffer{},
			statusCode:     http.StatusOK,
		}

		completed := false
		defer func() {
			if !completed {
				// next panicked; free the key and let the panic reach Recovery.
				m.release(storeCtx, log, key)
			}
		}()
		next.ServeHTTP(recorder, r)
		completed = true

		// Failed requests release the key so the client can retry.
		if recorder.statusCode < 200 || recorder.statusCode >= 300 {
			m.release(storeCtx, log, key)
			return
		}

		body := recorder.body.Bytes()
		if len(body) == 0 {
			body = []byte("null")
		}
		payload, err := json.Marshal(cachedResponse{
			Status:      recorder.statusCode,
			Body:        body,
			RequestHash: requestHash,
		})
		if err == nil {
			err = m.store.Update(storeCtx, key, payload, m.ttl)
		}
		if err != nil {
			log.Warn().Err(err).Msg("failed to store idempotent response")
		}
	})
}

func (m *IdempotencyMiddleware) release(ctx context.Context, log zerolog.Logger, key string) {
	if err := m.store.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Msg("failed to release idempotency key")
	}
}

// scopedKey derives the stored key from the caller, method, path and the
// client supplied key.
func scopedKey(ctx context.Context, method, path, key string) string {
	h := sha256.New()
	for _, part := range []string{domain.ActorID(ctx), method, path, key} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// hashBody hashes the request body and puts it back for the handler.
func hashBody(r *http.Request) (string, error) {
	sum := sha256.Sum256(nil)
	if r.Body == nil || r.Body == http.NoBody {
		return hex.EncodeToString(sum[:]), nil
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, maxHashedBody))
	if err != nil {
		return "", err
	}
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}

	sum = sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
