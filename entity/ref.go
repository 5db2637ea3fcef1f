package entity

import (
	"errors"
	"strings"
)

var (
	ErrNotFound      = errors.New("entity: not found")
	ErrDuplicateKind = errors.New("entity: kind already registered")
	ErrInvalidKind   = errors.New("entity: invalid kind name")
	ErrMalformedID   = errors.New("entity: malformed id")
)

// Loggable is the capability a domain type declares to participate in action logging.
// EntityID returns the native identifier (int64, uuid.UUID, string...).
type Loggable interface {
	EntityKind() string
	EntityID() any
}

// Ref is the polymorphic weak reference stored on an audit record.
// The pair is unique only within the kind's namespace.
type Ref struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func (r Ref) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

func (r Ref) String() string {
	if r.IsZero() {
		return ""
	}
	return r.Kind + "#" + r.ID
}

// ParseRef is the inverse of Ref.String. The id part may itself contain '#'.
func ParseRef(s string) (Ref, bool) {
	kind, id, ok := strings.Cut(s, "#")
	if !ok || kind == "" || id == "" {
		return Ref{}, false
	}
	return Ref{Kind: kind, ID: id}, true
}

// Handle is a resolved, live referent.
type Handle struct {
	Ref    Ref
	Entity any
}
