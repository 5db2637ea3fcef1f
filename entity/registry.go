package entity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Finder loads a live entity by its decoded native id.
// Returning ErrNotFound, or a nil entity with a nil error, means the referent is gone.
type Finder func(ctx context.Context, id any) (any, error)

type registration struct {
	codec  Codec
	finder Finder
}

// Registry maps kind names to id codecs and reverse lookups.
// It is process-wide and safe for concurrent use; writes are rare (startup, kind purge).
type Registry struct {
	mu     sync.RWMutex
	kinds  map[string]registration
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		kinds:  make(map[string]registration),
		logger: logger.With("component", "entity_registry"),
	}
}

// Register associates a kind with its codec. finder may be nil for describe-only kinds.
func (r *Registry) Register(kind string, codec Codec, finder Finder) error {
	kind = strings.TrimSpace(kind)
	if kind == "" || strings.Contains(kind, "#") {
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if codec == nil {
		codec = StringCodec{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.kinds[kind]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKind, kind)
	}
	r.kinds[kind] = registration{codec: codec, finder: finder}
	return nil
}

// MustRegister is Register for wiring code that cannot continue on a bad registration.
func (r *Registry) MustRegister(kind string, codec Codec, finder Finder) {
	if err := r.Register(kind, codec, finder); err != nil {
		panic(err)
	}
}

func (r *Registry) Unregister(kind string) {
	r.mu.Lock()
	delete(r.kinds, kind)
	r.mu.Unlock()
}

func (r *Registry) IsRegistered(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.kinds[kind]
	return ok
}

// Kinds returns registered kind names in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Describe is the write-time direction. It never fails: a kind missing from the
// registry still gets a Ref (the record is simply unresolvable later).
func (r *Registry) Describe(e Loggable) Ref {
	if e == nil {
		return Ref{}
	}
	kind := e.EntityKind()
	id := e.EntityID()

	r.mu.RLock()
	reg, ok := r.kinds[kind]
	r.mu.RUnlock()

	if ok {
		if s, err := reg.codec.Encode(id); err == nil {
			return Ref{Kind: kind, ID: s}
		}
	}
	return Ref{Kind: kind, ID: fmt.Sprint(id)}
}

// Resolve looks up the live referent. Every failure mode collapses to false.
func (r *Registry) Resolve(ctx context.Context, kind, id string) (Handle, bool) {
	r.mu.RLock()
	reg, ok := r.kinds[kind]
	r.mu.RUnlock()
	if !ok || reg.finder == nil {
		return Handle{}, false
	}

	native, err := reg.codec.Decode(id)
	if err != nil {
		return Handle{}, false
	}

	found, err := reg.finder(ctx, native)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.logger.WarnContext(ctx, "entity resolve failed", "kind", kind, "id", id, "error", err)
		}
		return Handle{}, false
	}
	if found == nil {
		return Handle{}, false
	}
	return Handle{Ref: Ref{Kind: kind, ID: id}, Entity: found}, true
}

// ResolveRef is Resolve for an already-built Ref.
func (r *Registry) ResolveRef(ctx context.Context, ref Ref) (Handle, bool) {
	if ref.IsZero() {
		return Handle{}, false
	}
	return r.Resolve(ctx, ref.Kind, ref.ID)
}
