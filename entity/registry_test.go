package entity

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type post struct {
	id    int64
	title string
}

func (p post) EntityKind() string { return "blog" }
func (p post) EntityID() any      { return p.id }

type ghost struct{ id string }

func (g ghost) EntityKind() string { return "ghost" }
func (g ghost) EntityID() any      { return g.id }

func newBlogRegistry(t *testing.T, rows map[int64]post) *Registry {
	t.Helper()
	r := NewRegistry(nil)
	err := r.Register("blog", Int64Codec{}, func(ctx context.Context, id any) (any, error) {
		p, ok := rows[id.(int64)]
		if !ok {
			return nil, ErrNotFound
		}
		return p, nil
	})
	require.NoError(t, err)
	return r
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(nil)

	require.NoError(t, r.Register("blog", Int64Codec{}, nil))

	err := r.Register("blog", Int64Codec{}, nil)
	assert.ErrorIs(t, err, ErrDuplicateKind)

	assert.ErrorIs(t, r.Register("", nil, nil), ErrInvalidKind)
	assert.ErrorIs(t, r.Register("a#b", nil, nil), ErrInvalidKind)

	require.NoError(t, r.Register("comment", nil, nil))
	assert.Equal(t, []string{"blog", "comment"}, r.Kinds())

	r.Unregister("blog")
	assert.False(t, r.IsRegistered("blog"))
}

func TestRegistry_Describe(t *testing.T) {
	r := newBlogRegistry(t, nil)

	t.Run("registered kind uses codec", func(t *testing.T) {
		ref := r.Describe(post{id: 7})
		assert.Equal(t, Ref{Kind: "blog", ID: "7"}, ref)
		assert.Equal(t, "blog#7", ref.String())
	})

	t.Run("unregistered kind still describes", func(t *testing.T) {
		ref := r.Describe(ghost{id: "boo"})
		assert.Equal(t, Ref{Kind: "ghost", ID: "boo"}, ref)
	})

	t.Run("nil entity", func(t *testing.T) {
		assert.True(t, r.Describe(nil).IsZero())
	})
}

func TestRegistry_Resolve(t *testing.T) {
	r := newBlogRegistry(t, map[int64]post{7: {id: 7, title: "Hello"}})
	ctx := context.Background()

	h, ok := r.Resolve(ctx, "blog", "7")
	require.True(t, ok)
	assert.Equal(t, "Hello", h.Entity.(post).title)

	tests := []struct {
		name string
		kind string
		id   string
	}{
		{"unknown kind", "ghost", "7"},
		{"malformed id", "blog", "seven"},
		{"vanished referent", "blog", "8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := r.Resolve(ctx, tt.kind, tt.id)
			assert.False(t, ok)
		})
	}

	t.Run("finder error is soft", func(t *testing.T) {
		r2 := NewRegistry(nil)
		require.NoError(t, r2.Register("flaky", StringCodec{}, func(ctx context.Context, id any) (any, error) {
			return nil, errors.New("connection reset")
		}))
		_, ok := r2.Resolve(ctx, "flaky", "x")
		assert.False(t, ok)
	})

	t.Run("describe-only kind", func(t *testing.T) {
		r2 := NewRegistry(nil)
		require.NoError(t, r2.Register("tag", StringCodec{}, nil))
		_, ok := r2.Resolve(ctx, "tag", "go")
		assert.False(t, ok)
	})
}

func TestCodecs(t *testing.T) {
	s, err := Int64Codec{}.Encode(42)
	require.NoError(t, err)
	assert.Equal(t, "42", s)

	_, err = Int64Codec{}.Encode(3.5)
	assert.ErrorIs(t, err, ErrMalformedID)

	id := uuid.New()
	s, err = UUIDCodec{}.Encode(id)
	require.NoError(t, err)
	back, err := UUIDCodec{}.Decode(s)
	require.NoError(t, err)
	assert.Equal(t, id, back)

	_, err = UUIDCodec{}.Decode("not-a-uuid")
	assert.ErrorIs(t, err, ErrMalformedID)

	_, err = StringCodec{}.Decode("")
	assert.ErrorIs(t, err, ErrMalformedID)
}

func TestParseRef(t *testing.T) {
	ref, ok := ParseRef("blog#7")
	require.True(t, ok)
	assert.Equal(t, Ref{Kind: "blog", ID: "7"}, ref)

	ref, ok = ParseRef("note#a#b")
	require.True(t, ok)
	assert.Equal(t, "a#b", ref.ID)

	_, ok = ParseRef("blog")
	assert.False(t, ok)
}
