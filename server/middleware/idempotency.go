package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/godamri/helix-actionlog/http/response"
	"github.com/godamri/helix-actionlog/pkg/contextx"
	"github.com/redis/go-redis/v9"
)

const processingMarker = "PROCESSING"

// replayedHeaders are the response headers worth replaying; correlation ids belong to the retry.
var replayedHeaders = []string{"Content-Type", "Location"}

type IdempotencyConfig struct {
	HeaderKey string        `envconfig:"IDEMPOTENCY_HEADER" yaml:"header" default:"Idempotency-Key" validate:"required"`
	Expiry    time.Duration `envconfig:"IDEMPOTENCY_EXPIRY" yaml:"expiry" default:"24h" validate:"gt=0"`
	// ProcessingTTL bounds how long an in-flight marker blocks retries.
	ProcessingTTL time.Duration `envconfig:"IDEMPOTENCY_PROCESSING_TTL" yaml:"processing_ttl" default:"30s" validate:"gt=0"`
}

type storedResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body"`
}

// idempotencyRedisKey scopes a client key to its principal. Client keys are arbitrary
// strings, so they are hashed to keep Redis keys short.
func idempotencyRedisKey(principal, key string) string {
	return "idempotency:" + principal + ":" + strconv.FormatUint(xxhash.Sum64String(key), 16)
}

// IdempotencyMiddleware replays the stored response for a repeated Idempotency-Key and
// answers 409 while the first request is still running. The key is always put on the
// context, so handlers can derive stable ids from it even when Redis is absent.
func IdempotencyMiddleware(rdb redis.Cmdable, cfg IdempotencyConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HeaderKey == "" {
		cfg.HeaderKey = "Idempotency-Key"
	}
	if cfg.ProcessingTTL <= 0 {
		cfg.ProcessingTTL = 30 * time.Second
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 24 * time.Hour
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(cfg.HeaderKey)
			if key == "" || r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			ctx := contextx.WithIdempotencyKey(r.Context(), key)
			r = r.WithContext(ctx)
			if rdb == nil {
				next.ServeHTTP(w, r)
				return
			}

			principal := contextx.GetAuthPrincipalID(ctx)
			if principal == "" {
				principal = "anon_ip:" + getRealIP(r)
			}
			redisKey := idempotencyRedisKey(principal, key)

			acquired, err := rdb.SetNX(ctx, redisKey, processingMarker, cfg.ProcessingTTL).Result()
			if err != nil {
				logger.WarnContext(ctx, "idempotency store unavailable, processing without replay", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !acquired {
				if replay(ctx, rdb, redisKey, w, r, logger) {
					return
				}
			}

			var body bytes.Buffer
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&body)
			next.ServeHTTP(ww, r)

			// The client may have gone; the outcome is still recorded.
			bg := context.WithoutCancel(ctx)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >=  http.StatusInternalServerError {
				rdb.Del(bg, redisKey)
				return
			}
			stored := storedResponse{Status: status, Headers: map[string]string{}, Body: body.Bytes()}
			for _, h := range replayedHeaders {
				if v := ww.Header().Get(h); v != "" {
					stored.Headers[h] = v
				}
			}
			data, err := json.Marshal(stored)
			if err != nil {
				rdb.Del(bg, redisKey)
				return
			}
			if err := rdb.Set(bg, redisKey, data, cfg.Expiry).Err(); err != nil {
				logger.WarnContext(ctx, "failed to store idempotent response", "error", err)
			}
		})
	}
}

// replay answers from the stored entry. It returns false when the request should be
// processed anyway: the entry vanished or could not be decoded.
func replay(ctx context.Context, rdb redis.Cmdable, redisKey string, w http.ResponseWriter, r *http.Request, logger *slog.Logger) bool {
	val, err := rdb.Get(ctx, redisKey).Result()
	if err != nil {
		return false
	}
	if val == processingMarker {
		response.ErrorCode(w, r, response.ErrConflict, "a request with this idempotency key is in progress")
		return true
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(val), &stored); err != nil {
		logger.WarnContext(ctx, "discarding unreadable idempotent response", "error", err)
		return false
	}
	for k, v := range stored.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("X-Idempotency-Hit", "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
	return true
}
