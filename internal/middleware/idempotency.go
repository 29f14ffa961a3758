package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/cassiomorais/disbursements/internal/repository/postgres"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

const (
	maxIdempotencyBodySize = 1 << 20
	maxIdempotencyKeyLen   = 255

	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "X-Idempotency-Replayed"
)

// IdempotencyStore persists responses keyed by Idempotency-Key.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*postgres.IdempotencyEntry, error)
	Set(ctx context.Context, entry *postgres.IdempotencyEntry) error
}

// Idempotency replays the stored response for a repeated Idempotency-Key.
//
// Keys are scoped to method and path, so one key cannot replay another
// endpoint. A key reused with a different request body is rejected with 422.
// Server errors are not stored and stay retryable. A failing store never
// blocks the request; the handler just runs without replay protection.
func Idempotency(store IdempotencyStore, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(idempotencyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLen {
				writeProblem(w, http.StatusBadRequest, "invalid_idempotency_key", "Idempotency-Key is too long")
				return
			}

			fingerprint, err := fingerprintBody(r)
			if err != nil {
				writeProblem(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
				return
			}
			scoped := r.Method + " " + r.URL.Path + " " + key
			logger := log.With().Str("idempotency_key", key).Logger()

			entry, err := store.Get(r.Context(), scoped)
			if err != nil {
				logger.Warn().Err(err).Msg("idempotency lookup failed")
			}
			if entry != nil {
				if entry.RequestHash != "" && entry.RequestHash != fingerprint {
					writeProblem(w, http.StatusUnprocessableEntity, "idempotency_key_reused",
						"Idempotency-Key was already used with a different request")
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(replayedHeader, "true")
				w.WriteHeader(entry.ResponseStatus)
				_, _ = io.WriteString(w, entry.ResponseBody)
				return
			}

			captured := &cappedBuffer{limit: maxIdempotencyBodySize}
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(captured)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError || captured.overflow {
				return
			}

			now := time.Now()
			err = store.Set(r.Context(), &postgres.IdempotencyEntry{
				Key:            scoped,
				RequestHash:    fingerprint,
				ResponseBody:   captured.String(),
				ResponseStatus: status,
				CreatedAt:      now,
				ExpiresAt:      now.Add(ttl),
			})
			if err != nil {
				logger.Warn().Err(err).Msg("failed to store idempotent response")
			}
		})
	}
}

// fingerprintBody hashes the request body and rewinds it for the handler.
func fingerprintBody(r *http.Request) (string, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return hashOf(nil), nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotencyBodySize+1))
	_ = r.Body.Close()
	if err != nil {
		return "", err
	}
	if len(body) > maxIdempotencyBodySize {
		return "", io.ErrShortBuffer
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return hashOf(body), nil
}

func hashOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// cappedBuffer keeps at most limit bytes and remembers whether more arrived.
type cappedBuffer struct {
	bytes.Buffer
	limit    int
	overflow bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if !b.overflow {
		if b.Len()+len(p) > b.limit {
			b.overflow = true
			b.Reset()
		} else {
			b.Buffer.Write(p)
		}
	}
	return len(p), nil
}
