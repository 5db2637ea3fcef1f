// Package contextx carries request-scoped identity and correlation values between
// the edge middleware, the emitter and the logger.
package contextx

import "context"

type key int

const (
	principalIDKey key = iota
	principalNameKey
	principalRolesKey
	sessionIDKey
	traceIDKey
	requestIDKey
	originAddressKey
	clientSignatureKey
	idempotencyKey
)

// UntriagedTraceID is reported when no trace id was assigned.
const UntriagedTraceID = "untriaged"

func with[T any](ctx context.Context, k key, v T) context.Context {
	return context.WithValue(ctx, k, v)
}

func get[T any](ctx context.Context, k key, fallback T) T {
	if ctx == nil {
		return fallback
	}
	if v, ok := ctx.Value(k).(T); ok {
		return v
	}
	return fallback
}

func WithTraceID(ctx context.Context, v string) context.Context { return with(ctx, traceIDKey, v) }
func GetTraceID(ctx context.Context) string                    { return get(ctx, traceIDKey, UntriagedTraceID) }

func WithRequestID(ctx context.Context, v string) context.Context { return with(ctx, requestIDKey, v) }
func GetRequestID(ctx context.Context) string                    { return get(ctx, requestIDKey, "") }

// The authenticated principal. The id doubles as the actor id of emitted records.

func WithAuthPrincipalID(ctx context.Context, v string) context.Context {
	return with(ctx, principalIDKey, v)
}
func GetAuthPrincipalID(ctx context.Context) string { return get(ctx, principalIDKey, "") }

func WithAuthPrincipalName(ctx context.Context, v string) context.Context {
	return with(ctx, principalNameKey, v)
}
func GetAuthPrincipalName(ctx context.Context) string { return get(ctx, principalNameKey, "") }

func WithAuthPrincipalRoles(ctx context.Context, v []string) context.Context {
	return with(ctx, principalRolesKey, v)
}
func GetAuthPrincipalRoles(ctx context.Context) []string {
	return get[[]string](ctx, principalRolesKey, nil)
}

func HasRole(ctx context.Context, role string) bool {
	for _, r := range GetAuthPrincipalRoles(ctx) {
		if r == role {
			return true
		}
	}
	return false
}

func WithAuthSessionID(ctx context.Context, v string) context.Context {
	return with(ctx, sessionIDKey, v)
}
func GetAuthSessionID(ctx context.Context) string { return get(ctx, sessionIDKey, "") }

// Request origin captured at the edge and copied onto action records.

func WithOriginAddress(ctx context.Context, v string) context.Context {
	return with(ctx, originAddressKey, v)
}
func GetOriginAddress(ctx context.Context) string { return get(ctx, originAddressKey, "") }

func WithClientSignature(ctx context.Context, v string) context.Context {
	return with(ctx, clientSignatureKey, v)
}
func GetClientSignature(ctx context.Context) string { return get(ctx, clientSignatureKey, "") }

func WithIdempotencyKey(ctx context.Context, v string) context.Context {
	return with(ctx, idempotencyKey, v)
}
func GetIdempotencyKey(ctx context.Context) string { return get(ctx, idempotencyKey, "") }
