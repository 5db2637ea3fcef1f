package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/godamri/helix-actionlog/crypto"
)

const APIKeyHeader = "X-Api-Key"

// EmitterRole is granted to services authenticated by API key.
const EmitterRole = "emitter"

const verifiedKeyTTL = 10 * time.Minute

var errUnknownAPIKey = errors.New("invalid api key")

// APIKeyStrategy authenticates emitting services by a static key checked against bcrypt hashes.
type APIKeyStrategy struct {
	ring   *crypto.KeyRing
	logger *slog.Logger
}

// NewAPIKeyStrategy parses "name:hash" entries.
func NewAPIKeyStrategy(entries []string, logger *slog.Logger) (*APIKeyStrategy, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ring, err := crypto.NewKeyRing(entries, verifiedKeyTTL)
	if err != nil {
		return nil, err
	}
	return &APIKeyStrategy{ring: ring, logger: logger}, nil
}

func (s *APIKeyStrategy) Authenticate(ctx context.Context, payload AuthPayload) (context.Context, error) {
	key := payload.GetHeader(APIKeyHeader)
	if key == "" {
		return nil, ErrNoCredentials
	}
	name, ok := s.ring.Match(key)
	if !ok {
		s.logger.WarnContext(ctx, "unknown api key presented", "ip", payload.RemoteAddr)
		return nil, errUnknownAPIKey
	}
	return withPrincipal(ctx, "service:"+name, name, []string{EmitterRole}), nil
}
