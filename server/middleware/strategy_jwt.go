package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/godamri/helix-actionlog/crypto"
	"github.com/godamri/helix-actionlog/pkg/contextx"
)

var (
	errMalformedAuthorization = errors.New("authorization header is not a bearer token")
	errAnonymousToken         = errors.New("token has no subject")
)

// JWTStrategy takes the actor from a bearer token: sub is the actor id, preferred_username
// (or name) its display name, and roles grant admin access.
type JWTStrategy struct {
	verifier crypto.Verifier
	logger   *slog.Logger
}

func NewJWTStrategy(verifier crypto.Verifier, logger *slog.Logger) *JWTStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &JWTStrategy{verifier: verifier, logger: logger}
}

func (s *JWTStrategy) Authenticate(ctx context.Context, payload AuthPayload) (context.Context, error) {
	header := payload.GetHeader("Authorization")
	if header == "" {
		return nil, ErrNoCredentials
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, errMalformedAuthorization
	}

	claims, err := s.verifier.VerifyToken(strings.TrimSpace(token))
	if err != nil {
		s.logger.WarnContext(ctx, "bearer token rejected", "error", err, "remote_addr", payload.RemoteAddr)
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errAnonymousToken
	}

	ctx = withPrincipal(ctx, claims.Subject, claims.DisplayName(), claims.GetRoles())
	if claims.Sid != "" {
		ctx = contextx.WithAuthSessionID(ctx, claims.Sid)
	}
	return ctx, nil
}
