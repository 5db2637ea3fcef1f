package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/crypto/bcrypt"
)

const defaultCost = 12

type HashConfig struct {
	Cost int `envconfig:"BCRYPT_COST" yaml:"bcrypt_cost" default:"12"`
}

// Hasher produces bcrypt hashes of service API keys. Only hashes are configured;
// plaintext keys live with the emitting services.
type Hasher struct {
	cost int
}

func NewHasher(cfg HashConfig) *Hasher {
	if cfg.Cost < bcrypt.MinCost || cfg.Cost > bcrypt.MaxCost {
		cfg.Cost = defaultCost
	}
	return &Hasher{cost: cfg.Cost}
}

func (h *Hasher) Hash(key string) (string, error) {
	if key == "" {
		return "", errors.New("crypto: empty key")
	}
	out, err := bcrypt.GenerateFromPassword([]byte(key), h.cost)
	if err != nil {
		return "", fmt.Errorf("crypto: hash key: %w", err)
	}
	return string(out), nil
}

func CheckHash(hash, key string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}

// KeyRing matches presented API keys against named bcrypt hashes. A key that
// matched once is remembered by its SHA-256 digest for ttl, so steady emitters
// pay the bcrypt cost once per window instead of once per request.
type KeyRing struct {
	names  []string
	hashes []string
	known  *expirable.LRU[[sha256.Size]byte, string]
}

const keyRingCacheSize = 256

// NewKeyRing parses "name:hash" entries.
func NewKeyRing(entries []string, ttl time.Duration) (*KeyRing, error) {
	r := &KeyRing{known: expirable.NewLRU[[sha256.Size]byte, string](keyRingCacheSize, nil, ttl)}
	for _, e := range entries {
		name, hash, ok := strings.Cut(strings.TrimSpace(e), ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("crypto: key entry %q: want name:bcrypt-hash", e)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("crypto: key entry %q: %w", name, err)
		}
		r.names = append(r.names, name)
		r.hashes = append(r.hashes, hash)
	}
	if len(r.names) == 0 {
		return nil, errors.New("crypto: key ring is empty")
	}
	return r, nil
}

// Match returns the name of the entry the key belongs to.
func (r *KeyRing) Match(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	digest := sha256.Sum256([]byte(key))
	if name, ok := r.known.Get(digest); ok {
		return name, true
	}
	for i, hash := range r.hashes {
		if CheckHash(hash, key) {
			r.known.Add(digest, r.names[i])
			return r.names[i], true
		}
	}
	return "", false
}

func (r *KeyRing) Len() int { return len(r.names) }
