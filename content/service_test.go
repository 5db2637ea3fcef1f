package content

import (
	"context"
	"testing"

	"github.com/godamri/helix-actionlog/audit"
	"github.com/godamri/helix-actionlog/entity"
	"github.com/godamri/helix-actionlog/hooks"
	"github.com/godamri/helix-actionlog/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc      *Service
	store    *memory.Store
	registry *entity.Registry
}

func setup(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	registry := entity.NewRegistry(nil)
	em := audit.NewEmitter(store, registry, nil)
	d := hooks.New(em, registry, nil)
	svc := NewService(d, em, nil)
	require.NoError(t, RegisterKinds(registry, svc))
	require.NoError(t, RegisterHooks(d))
	return fixture{svc: svc, store: store, registry: registry}
}

func (f fixture) records(t *testing.T) []audit.Record {
	t.Helper()
	recs, err := f.store.Find(context.Background(), audit.Filter{}, audit.OrderOldest, audit.Page{})
	require.NoError(t, err)
	return recs
}

func descriptions(recs []audit.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Description)
	}
	return out
}

func TestService_BlogLifecycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	bob, err := f.svc.CreateUser(ctx, "bob", "bob@example.com")
	require.NoError(t, err)
	blog, err := f.svc.CreateBlog(ctx, bob.ID, "Hello", "first post")
	require.NoError(t, err)
	_, err = f.svc.UpdateBlog(ctx, blog.ID, "Hello again", "edited")
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteBlog(ctx, blog.ID))

	recs := f.records(t)
	assert.Equal(t, []string{
		"Created user: bob",
		"Created blog: Hello",
		"Updated blog: Hello again",
		"Deleted blog: Hello again",
	}, descriptions(recs))

	created := recs[1]
	assert.Equal(t, audit.ActionCreate, created.Action)
	require.NotNil(t, created.Target)
	assert.Equal(t, entity.Ref{Kind: KindBlog, ID: "1"}, *created.Target)
	assert.Equal(t, "1", created.ActorID())
	assert.Equal(t, "bob", created.ActorName())
	assert.Equal(t, audit.ActionDelete, recs[3].Action)
}

func TestService_DeleteBlogCascadesComments(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	bob, _ := f.svc.CreateUser(ctx, "bob", "")
	amy, _ := f.svc.CreateUser(ctx, "amy", "")
	blog, err := f.svc.CreateBlog(ctx, bob.ID, "Go tips", "")
	require.NoError(t, err)
	c, err := f.svc.AddComment(ctx, blog.ID, amy.ID, "nice")
	require.NoError(t, err)
	_, err = f.svc.UpdateComment(ctx, c.ID, "very nice", false)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteBlog(ctx, blog.ID))

	assert.Empty(t, f.svc.CommentsOn(blog.ID))
	_, err = f.svc.Comment(c.ID)
	assert.ErrorIs(t, err, entity.ErrNotFound)

	recs := f.records(t)
	assert.Equal(t, []string{
		"Created user: bob",
		"Created user: amy",
		"Created blog: Go tips",
		`Added comment to "Go tips"`,
		`Updated comment on "Go tips"`,
		`Deleted comment on "Go tips"`,
		"Deleted blog: Go tips",
	}, descriptions(recs))
	assert.Equal(t, "amy", recs[3].ActorName())
}

func TestService_ProfileUpsert(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	u, _ := f.svc.CreateUser(ctx, "carol", "")
	p1, err := f.svc.SaveProfile(ctx, u.ID, "hi", "")
	require.NoError(t, err)
	p2, err := f.svc.SaveProfile(ctx, u.ID, "hello", "https://carol.dev")
	require.NoError(t, err)
	assert.Equal(t, p1.ID, p2.ID)

	recs := f.records(t)
	require.Len(t, recs, 3)
	assert.Equal(t, audit.ActionCreate, recs[1].Action)
	assert.Equal(t, audit.ActionUpdate, recs[2].Action)
	assert.Equal(t, "Updated profile of carol", recs[2].Description)
}

func TestService_DeleteUserAnonymizesRecords(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	dave, _ := f.svc.CreateUser(ctx, "dave", "")
	_, err := f.svc.SaveProfile(ctx, dave.ID, "", "")
	require.NoError(t, err)
	blog, err := f.svc.CreateBlog(ctx, dave.ID, "Post", "")
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteUser(ctx, dave.ID))

	for _, r := range f.records(t) {
		assert.Nil(t, r.Actor, r.Description)
	}
	// Content authored by a deleted user survives.
	_, err = f.svc.Blog(blog.ID)
	assert.NoError(t, err)
	_, err = f.svc.ProfileOf(dave.ID)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestService_ResolveLiveEntities(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	u, _ := f.svc.CreateUser(ctx, "erin", "")
	h, ok := f.registry.Resolve(ctx, KindUser, "1")
	require.True(t, ok)
	assert.Equal(t, u, h.Entity)

	require.NoError(t, f.svc.DeleteUser(ctx, u.ID))
	_, ok = f.registry.Resolve(ctx, KindUser, "1")
	assert.False(t, ok)
}

func TestService_Validation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.CreateUser(ctx, "  ", "")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = f.svc.CreateUser(ctx, "frank", "")
	require.NoError(t, err)
	_, err = f.svc.CreateUser(ctx, "Frank", "")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = f.svc.CreateBlog(ctx, 99, "x", "")
	assert.ErrorIs(t, err, entity.ErrNotFound)
	_, err = f.svc.AddComment(ctx, 1, 1, "x")
	assert.ErrorIs(t, err, entity.ErrNotFound)

	assert.Len(t, f.records(t), 1)
}

func TestRegisterKinds_DescribeOnly(t *testing.T) {
	registry := entity.NewRegistry(nil)
	require.NoError(t, RegisterKinds(registry, nil))
	assert.Equal(t, []string{KindBlog, KindComment, KindProfile, KindUser}, registry.Kinds())

	_, ok := registry.Resolve(context.Background(), KindBlog, "1")
	assert.False(t, ok)
	assert.Error(t, RegisterKinds(registry, nil))
}
