package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/godamri/helix-actionlog/http/response"
	"github.com/godamri/helix-actionlog/pkg/contextx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// gcra is the Generic Cell Rate Algorithm. KEYS[1] holds the theoretical arrival time.
// Returns -1 when the call is allowed, otherwise the seconds to wait.
var gcra = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local period = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])

local interval = period / rate
local t = redis.call("TIME")
local now = tonumber(t[1]) + tonumber(t[2]) / 1000000

local tat = tonumber(redis.call("GET", key) or now)
tat = math.max(now, tat)

local allow_at = tat + interval - burst * interval
if allow_at > now then
	return math.ceil(allow_at - now)
end
redis.call("SET", key, tat + interval, "EX", math.ceil(period * 2))
return -1
`)

var rateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "actionlog",
	Name:      "rate_limit_decisions_total",
	Help:      "Rate limiter outcomes by scope: allowed, limited, or error (failed open).",
}, []string{"scope", "decision"})

// RateLimitConfig bounds expensive endpoints per identity. A zero Rate disables the limit.
type RateLimitConfig struct {
	Rate   int           `envconfig:"RATE_LIMIT_EXPORT_RATE" yaml:"rate" default:"10" validate:"gte=0"`
	Period time.Duration `envconfig:"RATE_LIMIT_EXPORT_PERIOD" yaml:"period" default:"1m"`
	Burst  int           `envconfig:"RATE_LIMIT_EXPORT_BURST" yaml:"burst" default:"5" validate:"gte=1"`
}

func (c RateLimitConfig) enabled() bool { return c.Rate > 0 && c.Period > 0 }

// limiter runs GCRA in Redis for one scope. Redis failures allow the call.
type limiter struct {
	rdb   redis.Scripter
	cfg   RateLimitConfig
	scope string
}

// allow reports whether identity may proceed, and if not, how long it should wait.
func (l limiter) allow(ctx context.Context, identity string) (bool, time.Duration) {
	wait, err := gcra.Run(ctx, l.rdb, []string{"rl:" + l.scope + ":" + identity},
		l.cfg.Rate, l.cfg.Period.Seconds(), l.cfg.Burst).Int64()
	switch {
	case err != nil:
		rateLimitDecisions.WithLabelValues(l.scope, "error").Inc()
		return true, 0
	case wait < 0:
		rateLimitDecisions.WithLabelValues(l.scope, "allowed").Inc()
		return true, 0
	default:
		rateLimitDecisions.WithLabelValues(l.scope, "limited").Inc()
		return false, time.Duration(wait) * time.Second
	}
}

// identityOf prefers the authenticated principal; anonymous callers share a budget per address.
func identityOf(ctx context.Context, addr string) string {
	if id := contextx.GetAuthPrincipalID(ctx); id != "" {
		return "user:" + id
	}
	return "ip:" + addr
}

// RateLimitMiddleware limits each identity to Rate calls per Period with Burst headroom.
// A nil client or a zero rate lets every request through.
func RateLimitMiddleware(rdb redis.Scripter, cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rdb == nil || !cfg.enabled() {
			return next
		}
		l := limiter{rdb: rdb, cfg: cfg, scope: "http"}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := l.allow(r.Context(), identityOf(r.Context(), getRealIP(r)))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Rate))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())))
				response.ErrorCode(w, r, response.ErrRateLimit, "export rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
