package crypto

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// minRefreshGap bounds how often an unknown kid may trigger a key fetch.
const minRefreshGap = 30 * time.Second

type jwks struct {
	Keys []jsonWebKey `json:"keys"`
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSVerifier checks RS256 tokens from an identity provider against its published key set.
type JWKSVerifier struct {
	url    string
	issuer string
	client *http.Client
	logger *slog.Logger

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time

	fetches singleflight.Group
}

// NewJWKSVerifier loads the key set once, failing if it has no usable key, and re-fetches it
// every refresh until ctx is done.
func NewJWKSVerifier(ctx context.Context, url, issuer string, refresh time.Duration, logger *slog.Logger) (*JWKSVerifier, error) {
	if url == "" || issuer == "" {
		return nil, errors.New("crypto: jwks url and issuer are required")
	}
	if refresh <= 0 {
		refresh = 15 * time.Minute
	}
	v := &JWKSVerifier{
		url:    url,
		issuer: issuer,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger.With("component", "jwks", "url", url),
	}
	if err := v.refresh(ctx); err != nil {
		return nil, fmt.Errorf("crypto: initial jwks fetch: %w", err)
	}
	go v.refreshLoop(ctx, refresh)
	return v, nil
}

func (v *JWKSVerifier) refreshLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := v.refresh(fetchCtx); err != nil {
				v.logger.Error("jwks refresh failed, keeping previous keys", "error", err)
			}
			cancel()
		}
	}
}

// refresh replaces the key set. Concurrent callers share one request.
func (v *JWKSVerifier) refresh(ctx context.Context) error {
	_, err, _ := v.fetches.Do("keys", func() (any, error) {
		keys, err := v.fetch(ctx)
		if err != nil {
			return nil, err
		}
		v.mu.Lock()
		v.keys, v.fetchedAt = keys, time.Now()
		v.mu.Unlock()
		return nil, nil
	})
	return err
}

func (v *JWKSVerifier) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || k.Use != "sig" || k.Kid == "" {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			v.logger.Warn("skipping malformed jwk", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, errors.New("jwks has no RSA signing keys")
	}
	return keys, nil
}

func (k jsonWebKey) publicKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil || len(n) == 0 {
		return nil, fmt.Errorf("bad modulus: %v", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil || len(e) == 0 || len(e) > 4 {
		return nil, errors.New("bad exponent")
	}
	exp := new(big.Int).SetBytes(e).Int64()
	if exp < 3 {
		return nil, errors.New("bad exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp)}, nil
}

// key looks kid up, re-fetching once when it is unknown and the last fetch is not too recent.
// Keys rotated in at the provider are picked up without waiting for the next tick.
func (v *JWKSVerifier) key(kid string) (*rsa.PublicKey, bool) {
	v.mu.RLock()
	pub, ok := v.keys[kid]
	stale := time.Since(v.fetchedAt) > minRefreshGap
	v.mu.RUnlock()
	if ok || !stale {
		return pub, ok
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := v.refresh(ctx); err != nil {
		v.logger.Error("jwks refresh for unknown kid failed", "kid", kid, "error", err)
		return nil, false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	pub, ok = v.keys[kid]
	return pub, ok
}

func (v *JWKSVerifier) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		pub, ok := v.key(kid)
		if !ok {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return pub, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	return claimsOf(token, err)
}

func claimsOf(token *jwt.Token, err error) (*Claims, error) {
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}
