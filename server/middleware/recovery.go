package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/godamri/helix-actionlog/http/response"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var panicsRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "actionlog",
	Name:      "panics_recovered_total",
	Help:      "Handler panics caught and turned into internal errors, by transport.",
}, []string{"transport"})

func logPanic(ctx context.Context, logger *slog.Logger, transport string, rec any, attrs ...any) {
	panicsRecovered.WithLabelValues(transport).Inc()
	attrs = append(attrs,
		"transport", transport,
		"error", fmt.Sprintf("%v", rec),
		"stack", string(debug.Stack()),
	)
	logger.ErrorContext(ctx, "panic recovered", attrs...)
}

// PanicRecovery turns a handler panic into a 500 envelope. The stack is logged, never sent.
func PanicRecovery(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logPanic(r.Context(), logger, "http", rec, "method", r.Method, "path", r.URL.Path)
				response.ErrorCode(w, r, response.ErrSystem, "internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// GRPCRecoveryInterceptor is PanicRecovery for unary RPCs; the caller gets codes.Internal.
func GRPCRecoveryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				logPanic(ctx, logger, "grpc", rec, "method", info.FullMethod)
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}
