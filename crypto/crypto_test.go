package crypto

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHMACVerifier_RoundTrip(t *testing.T) {
	v, err := NewHMACVerifier(testSecret, "actionlog")
	require.NoError(t, err)

	token, err := v.Sign(Claims{
		RegisteredClaims:  jwt.RegisteredClaims{Subject: "42"},
		PreferredUsername: "bob",
		Roles:             []string{"admin"},
	}, time.Minute)
	require.NoError(t, err)

	claims, err := v.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.Subject)
	assert.Equal(t, "bob", claims.DisplayName())
	assert.Equal(t, []string{"admin"}, claims.GetRoles())
}

func TestHMACVerifier_Rejects(t *testing.T) {
	v, err := NewHMACVerifier(testSecret, "actionlog")
	require.NoError(t, err)

	expired, err := v.Sign(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "1"}}, -time.Minute)
	require.NoError(t, err)
	_, err = v.VerifyToken(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	other, err := NewHMACVerifier(strings.Repeat("x", 32), "actionlog")
	require.NoError(t, err)
	forged, err := other.Sign(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "1"}}, time.Minute)
	require.NoError(t, err)
	_, err = v.VerifyToken(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.VerifyToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewHMACVerifier("short", "")
	assert.Error(t, err)
}

func jwksServer(t *testing.T, kid string, key *rsa.PublicKey, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	body, err := json.Marshal(jwks{Keys: []jsonWebKey{{
		Kty: "RSA",
		Use: "sig",
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}}})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signRS256(t *testing.T, key *rsa.PrivateKey, kid string, claims Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}

func TestJWKSVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	var hits atomic.Int32
	srv := jwksServer(t, "k1", &key.PublicKey, &hits)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client, err := NewJWKSVerifier(ctx, srv.URL, "https://idp.example", time.Hour, quietLogger())
	require.NoError(t, err)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "7",
			Issuer:    "https://idp.example",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		Name: "Amy",
	}
	got, err := client.VerifyToken(signRS256(t, key, "k1", claims))
	require.NoError(t, err)
	assert.Equal(t, "7", got.Subject)
	assert.Equal(t, "Amy", got.DisplayName())

	_, err = client.VerifyToken(signRS256(t, key, "unknown", claims))
	assert.ErrorIs(t, err, ErrInvalidToken)
	// The set was just fetched, so an unknown kid does not hit the endpoint again.
	assert.Equal(t, int32(1), hits.Load())

	claims.Issuer = "https://evil.example"
	_, err = client.VerifyToken(signRS256(t, key, "k1", claims))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWKSVerifier_RequiresKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"keys":[]}`))
	}))
	defer srv.Close()

	_, err := NewJWKSVerifier(context.Background(), srv.URL, "iss", time.Hour, quietLogger())
	assert.Error(t, err)
}

func TestHasher(t *testing.T) {
	h := NewHasher(HashConfig{Cost: 4})
	hash, err := h.Hash("s3cret-key")
	require.NoError(t, err)

	assert.True(t, CheckHash(hash, "s3cret-key"))
	assert.False(t, CheckHash(hash, "other"))

	_, err = h.Hash("")
	assert.Error(t, err)

	assert.Equal(t, defaultCost, NewHasher(HashConfig{Cost: 99}).cost)
}

func TestKeyRing(t *testing.T) {
	hash, err := NewHasher(HashConfig{Cost: 4}).Hash("billing-key")
	require.NoError(t, err)

	r, err := NewKeyRing([]string{" billing:" + hash + " "}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	name, ok := r.Match("billing-key")
	require.True(t, ok)
	assert.Equal(t, "billing", name)
	assert.Equal(t, 1, r.known.Len())

	// Served from the cache.
	name, ok = r.Match("billing-key")
	assert.True(t, ok)
	assert.Equal(t, "billing", name)

	_, ok = r.Match("other")
	assert.False(t, ok)
	_, ok = r.Match("")
	assert.False(t, ok)
	assert.Equal(t, 1, r.known.Len(), "misses are not cached")

	for _, bad := range [][]string{nil, {"billing"}, {":" + hash}, {"billing:plaintext"}} {
		_, err := NewKeyRing(bad, time.Minute)
		assert.Error(t, err, "%v", bad)
	}
}
