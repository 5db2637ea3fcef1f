package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/godamri/helix-actionlog/crypto"
	"github.com/godamri/helix-actionlog/http/response"
	"github.com/godamri/helix-actionlog/pkg/contextx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// ErrNoCredentials means the request presented nothing this strategy understands.
// The request then continues anonymously unless authentication is required.
var ErrNoCredentials = errors.New("auth: no credentials")

type AuthConfig struct {
	// Mode selects the strategies, tried in order: header, jwt, jwks, apikey. none disables auth.
	Modes    []string `envconfig:"AUTH_MODES" yaml:"modes" default:"header" validate:"dive,oneof=none header jwt jwks apikey"`
	Required bool     `envconfig:"AUTH_REQUIRED" yaml:"required" default:"false"`

	AdminRole string `envconfig:"AUTH_ADMIN_ROLE" yaml:"admin_role" default:"admin" validate:"required"`

	TrustedProxies []string `envconfig:"AUTH_TRUSTED_PROXIES" yaml:"trusted_proxies" default:"127.0.0.1/32"`
	HeaderUserID   string   `envconfig:"AUTH_HEADER_USER_ID" yaml:"header_user_id" default:"X-Helix-User-ID"`
	HeaderUserName string   `envconfig:"AUTH_HEADER_USER_NAME" yaml:"header_user_name" default:"X-Helix-User-Name"`
	HeaderRoles    string   `envconfig:"AUTH_HEADER_ROLES" yaml:"header_roles" default:"X-Helix-Role"`

	JWTSecret string `envconfig:"AUTH_JWT_SECRET" yaml:"jwt_secret"`
	JWTIssuer string `envconfig:"AUTH_JWT_ISSUER" yaml:"jwt_issuer"`

	JWKSURL     string        `envconfig:"AUTH_JWKS_URL" yaml:"jwks_url"`
	JWKSRefresh time.Duration `envconfig:"AUTH_JWKS_REFRESH" yaml:"jwks_refresh" default:"15m"`

	// APIKeys are "name:bcrypt-hash" pairs for emitting services.
	APIKeys []string `envconfig:"AUTH_API_KEYS" yaml:"api_keys"`
}

// AuthPayload decouples the strategy from the transport (HTTP/gRPC).
type AuthPayload struct {
	Headers    map[string]string
	RemoteAddr string
	Method     string
	Path       string
}

// AuthStrategy Interface (Protocol Agnostic)
type AuthStrategy interface {
	Authenticate(ctx context.Context, payload AuthPayload) (context.Context, error)
}

// NewAuthStrategy builds the configured strategy chain. A nil strategy means auth is off.
func NewAuthStrategy(ctx context.Context, cfg AuthConfig, logger *slog.Logger) (AuthStrategy, error) {
	var chain ChainStrategy
	for _, mode := range cfg.Modes {
		switch strings.TrimSpace(mode) {
		case "none", "":
			continue
		case "header":
			s, err := NewTrustedHeaderStrategy(TrustedHeaderConfig{
				TrustedProxies: cfg.TrustedProxies,
				HeaderUserID:   cfg.HeaderUserID,
				HeaderUserName: cfg.HeaderUserName,
				HeaderRoles:    cfg.HeaderRoles,
			}, logger)
			if err != nil {
				return nil, err
			}
			chain = append(chain, s)
		case "jwt":
			v, err := crypto.NewHMACVerifier(cfg.JWTSecret, cfg.JWTIssuer)
			if err != nil {
				return nil, err
			}
			chain = append(chain, NewJWTStrategy(v, logger))
		case "jwks":
			v, err := crypto.NewJWKSVerifier(ctx, cfg.JWKSURL, cfg.JWTIssuer, cfg.JWKSRefresh, logger)
			if err != nil {
				return nil, err
			}
			chain = append(chain, NewJWTStrategy(v, logger))
		case "apikey":
			s, err := NewAPIKeyStrategy(cfg.APIKeys, logger)
			if err != nil {
				return nil, err
			}
			chain = append(chain, s)
		default:
			return nil, fmt.Errorf("auth: unknown mode %q", mode)
		}
	}
	if len(chain) == 0 {
		return nil, nil
	}
	return chain, nil
}

// ChainStrategy tries each strategy in order. The first one that recognises the
// credentials decides; ErrNoCredentials moves on to the next.
type ChainStrategy []AuthStrategy

func (c ChainStrategy) Authenticate(ctx context.Context, payload AuthPayload) (context.Context, error) {
	for _, s := range c {
		out, err := s.Authenticate(ctx, payload)
		if errors.Is(err, ErrNoCredentials) {
			continue
		}
		return out, err
	}
	return nil, ErrNoCredentials
}

var authOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "actionlog_auth_outcomes_total",
	Help: "Authentication decisions by transport and outcome.",
}, []string{"transport", "outcome"})

type AuthMiddleware struct {
	strategy AuthStrategy
	required bool
}

func NewAuthMiddleware(strategy AuthStrategy, required bool) *AuthMiddleware {
	return &AuthMiddleware{strategy: strategy, required: required}
}

type authVerdict int

const (
	verdictAnonymous authVerdict = iota
	verdictAuthenticated
	verdictMissing
	verdictRejected
)

var verdictNames = [...]string{"anonymous", "authenticated", "missing", "rejected"}

// decide runs the strategy and folds the result with the required flag.
func (m *AuthMiddleware) decide(ctx context.Context, transport string, payload AuthPayload) (context.Context, authVerdict, error) {
	out, err := m.strategy.Authenticate(ctx, payload)
	v := verdictAuthenticated
	switch {
	case errors.Is(err, ErrNoCredentials) && !m.required:
		out, v = ctx, verdictAnonymous
	case errors.Is(err, ErrNoCredentials):
		v = verdictMissing
	case err != nil:
		v = verdictRejected
	}
	authOutcomes.WithLabelValues(transport, verdictNames[v]).Inc()
	return out, v, err
}

// HTTPMiddleware adapts the HTTP request to AuthPayload.
func (m *AuthMiddleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.strategy == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx, v, err := m.decide(r.Context(), "http", httpPayload(r))
		switch v {
		case verdictMissing:
			response.ErrorCode(w, r, response.ErrMissingToken, "authentication required")
		case verdictRejected:
			response.ErrorCode(w, r, response.ErrInvalidToken, err.Error())
		default:
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	})
}

func httpPayload(r *http.Request) AuthPayload {
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[http.CanonicalHeaderKey(k)] = v[0]
		}
	}
	return AuthPayload{Headers: headers, RemoteAddr: r.RemoteAddr, Method: r.Method, Path: r.URL.Path}
}

// GRPCUnaryInterceptor adapts gRPC metadata to AuthPayload.
func (m *AuthMiddleware) GRPCUnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if m.strategy == nil {
		return handler(ctx, req)
	}
	out, v, err := m.decide(ctx, "grpc", grpcPayload(ctx, info.FullMethod))
	if v == verdictMissing || v == verdictRejected {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	return handler(out, req)
}

func grpcPayload(ctx context.Context, method string) AuthPayload {
	md, _ := metadata.FromIncomingContext(ctx)
	headers := make(map[string]string, len(md))
	for k, v := range md {
		if len(v) > 0 {
			headers[http.CanonicalHeaderKey(k)] = v[0]
		}
	}
	remote := "0.0.0.0:0"
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		remote = p.Addr.String()
	}
	return AuthPayload{Headers: headers, RemoteAddr: remote, Method: method, Path: method}
}

// RequireRole rejects requests whose principal lacks role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if contextx.GetAuthPrincipalID(ctx) == "" {
				response.ErrorCode(w, r, response.ErrMissingToken, "authentication required")
				return
			}
			if !contextx.HasRole(ctx, role) {
				response.ErrorCode(w, r, response.ErrForbidden, "requires role "+role)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetHeader returns a header value case-insensitively.
func (p *AuthPayload) GetHeader(key string) string {
	if v, ok := p.Headers[http.CanonicalHeaderKey(key)]; ok {
		return v
	}
	for k, v := range p.Headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// withPrincipal hydrates the context with an authenticated identity.
func withPrincipal(ctx context.Context, id, name string, roles []string) context.Context {
	if roles == nil {
		roles = []string{}
	}
	ctx = contextx.WithAuthPrincipalID(ctx, id)
	ctx = contextx.WithAuthPrincipalName(ctx, name)
	return contextx.WithAuthPrincipalRoles(ctx, roles)
}
