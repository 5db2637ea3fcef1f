package entity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Codec converts between a kind's native id type and the string form kept in records.
type Codec interface {
	Encode(id any) (string, error)
	Decode(s string) (any, error)
}

// Int64Codec handles numeric primary keys. Decode always yields int64.
type Int64Codec struct{}

func (Int64Codec) Encode(id any) (string, error) {
	switch v := id.(type) {
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case string:
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			return "", fmt.Errorf("%w: %q", ErrMalformedID, v)
		}
		return v, nil
	default:
		return "", fmt.Errorf("%w: unsupported type %T", ErrMalformedID, id)
	}
}

func (Int64Codec) Decode(s string) (any, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformedID, s)
	}
	return n, nil
}

// UUIDCodec handles uuid primary keys in canonical lowercase form.
type UUIDCodec struct{}

func (UUIDCodec) Encode(id any) (string, error) {
	switch v := id.(type) {
	case uuid.UUID:
		return v.String(), nil
	case string:
		u, err := uuid.Parse(v)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrMalformedID, v)
		}
		return u.String(), nil
	default:
		return "", fmt.Errorf("%w: unsupported type %T", ErrMalformedID, id)
	}
}

func (UUIDCodec) Decode(s string) (any, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformedID, s)
	}
	return u, nil
}

// StringCodec passes opaque string ids (slugs, usernames) through untouched.
type StringCodec struct{}

func (StringCodec) Encode(id any) (string, error) {
	s, ok := id.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: want non-empty string, got %T", ErrMalformedID, id)
	}
	return s, nil
}

func (StringCodec) Decode(s string) (any, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedID)
	}
	return s, nil
}
