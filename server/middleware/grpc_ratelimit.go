package middleware

import (
	"context"
	"net"
	"strconv"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// GRPCRateLimitInterceptor is RateLimitMiddleware for unary RPCs, with its own budget.
// A limited caller gets ResourceExhausted and an x-retry-after header.
func GRPCRateLimitInterceptor(rdb redis.Scripter, cfg RateLimitConfig) grpc.UnaryServerInterceptor {
	if rdb == nil || !cfg.enabled() {
		return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			return handler(ctx, req)
		}
	}
	l := limiter{rdb: rdb, cfg: cfg, scope: "grpc"}
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if ok, wait := l.allow(ctx, identityOf(ctx, peerHost(ctx))); !ok {
			secs := strconv.Itoa(int(wait.Seconds()))
			_ = grpc.SetHeader(ctx, metadata.Pairs("x-retry-after", secs, "x-ratelimit-limit", strconv.Itoa(cfg.Rate)))
			return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded, retry in %ss", secs)
		}
		return handler(ctx, req)
	}
}

func peerHost(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
		return host
	}
	return p.Addr.String()
}
