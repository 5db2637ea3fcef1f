package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/godamri/helix-actionlog/entity"
	"github.com/godamri/helix-actionlog/hooks"
)

var ErrInvalid = errors.New("content: invalid input")

// ActorForgetter anonymizes a deleted user's records. *audit.Emitter implements it.
type ActorForgetter interface {
	ForgetActor(ctx context.Context, actorID string) (int64, error)
}

// Templates returns the description templates of every content kind.
func Templates() map[string]hooks.Hooks {
	return map[string]hooks.Hooks{
		KindUser: {
			OnCreated: hooks.For(func(u User) string { return "Created user: " + u.Username }),
			OnUpdated: hooks.For(func(u User) string { return "Updated user: " + u.Username }),
			OnDeleted: hooks.For(func(u User) string { return "Deleted user: " + u.Username }),
		},
		KindProfile: {
			OnCreated: hooks.For(func(p Profile) string { return "Created profile of " + p.Username }),
			OnUpdated: hooks.For(func(p Profile) string { return "Updated profile of " + p.Username }),
			OnDeleted: hooks.For(func(p Profile) string { return "Deleted profile of " + p.Username }),
		},
		KindBlog: {
			OnCreated: hooks.For(func(b Blog) string { return "Created blog: " + b.Title }),
			OnUpdated: hooks.For(func(b Blog) string { return "Updated blog: " + b.Title }),
			OnDeleted: hooks.For(func(b Blog) string { return "Deleted blog: " + b.Title }),
		},
		KindComment: {
			OnCreated: hooks.For(func(c Comment) string { return fmt.Sprintf("Added comment to %q", c.BlogTitle) }),
			OnUpdated: hooks.For(func(c Comment) string { return fmt.Sprintf("Updated comment on %q", c.BlogTitle) }),
			OnDeleted: hooks.For(func(c Comment) string { return fmt.Sprintf("Deleted comment on %q", c.BlogTitle) }),
		},
	}
}

// RegisterKinds declares the content kinds to the resolver. A nil service registers
// describe-only kinds, for processes that log about content they do not own.
func RegisterKinds(registry *entity.Registry, svc *Service) error {
	finders := map[string]entity.Finder{}
	if svc != nil {
		finders[KindUser] = svc.users.finder()
		finders[KindProfile] = svc.profiles.finder()
		finders[KindBlog] = svc.blogs.finder()
		finders[KindComment] = svc.comments.finder()
	}
	for _, kind := range []string{KindUser, KindProfile, KindBlog, KindComment} {
		if err := registry.Register(kind, entity.Int64Codec{}, finders[kind]); err != nil {
			return err
		}
	}
	return nil
}

// RegisterHooks opts every content kind into automatic logging.
func RegisterHooks(d *hooks.Dispatcher) error {
	for kind, h := range Templates() {
		if err := d.Register(kind, h); err != nil {
			return err
		}
	}
	return nil
}

// Service is the in-memory content domain. Every mutation goes through the dispatcher.
type Service struct {
	dispatcher *hooks.Dispatcher
	forgetter  ActorForgetter
	logger     *slog.Logger
	now        func() time.Time

	users    *table[User]
	profiles *table[Profile]
	blogs    *table[Blog]
	comments *table[Comment]
}

func NewService(d *hooks.Dispatcher, forgetter ActorForgetter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		dispatcher: d,
		forgetter:  forgetter,
		logger:     logger.With("component", "content"),
		now:        time.Now,
		users:      newTable[User](),
		profiles:   newTable[Profile](),
		blogs:      newTable[Blog](),
		comments:   newTable[Comment](),
	}
}

func (s *Service) User(id int64) (User, error)       { return s.users.get(id) }
func (s *Service) Blog(id int64) (Blog, error)       { return s.blogs.get(id) }
func (s *Service) Comment(id int64) (Comment, error) { return s.comments.get(id) }

func (s *Service) Users() []User { return s.users.list(nil) }
func (s *Service) Blogs() []Blog { return s.blogs.list(nil) }

// ProfileOf returns the profile owned by userID.
func (s *Service) ProfileOf(userID int64) (Profile, error) {
	found := s.profiles.list(func(p Profile) bool { return p.UserID == userID })
	if len(found) == 0 {
		return Profile{}, entity.ErrNotFound
	}
	return found[0], nil
}

func (s *Service) CommentsOn(blogID int64) []Comment {
	return s.comments.list(func(c Comment) bool { return c.BlogID == blogID })
}

func (s *Service) CreateUser(ctx context.Context, username, email string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, fmt.Errorf("%w: username is required", ErrInvalid)
	}
	if len(s.users.list(func(u User) bool { return strings.EqualFold(u.Username, username) })) > 0 {
		return User{}, fmt.Errorf("%w: username %q is taken", ErrInvalid, username)
	}

	u := User{Username: username, Email: email, CreatedAt: s.now().UTC()}
	err := s.dispatcher.Save(ctx, &u, func(context.Context) (bool, error) {
		u.ID = s.users.nextID()
		return s.users.put(u.ID, u), nil
	})
	return u, err
}

func (s *Service) UpdateUser(ctx context.Context, id int64, email string) (User, error) {
	u, err := s.users.get(id)
	if err != nil {
		return User{}, err
	}
	u.Email = email
	err = s.dispatcher.Save(ctx, u, func(context.Context) (bool, error) {
		return s.users.put(u.ID, u), nil
	})
	return u, err
}

// DeleteUser removes the user with their profile, and anonymizes every record they acted in.
// Their blogs and comments stay, as the records about them do.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	u, err := s.users.get(id)
	if err != nil {
		return err
	}
	if p, err := s.ProfileOf(id); err == nil {
		if err := s.dispatcher.Delete(ctx, p, func(context.Context) error { return s.profiles.remove(p.ID) }); err != nil {
			return err
		}
	}
	if err := s.dispatcher.Delete(ctx, u, func(context.Context) error { return s.users.remove(u.ID) }); err != nil {
		return err
	}

	if s.forgetter != nil {
		if _, err := s.forgetter.ForgetActor(ctx, strconv.FormatInt(id, 10)); err != nil {
			s.logger.ErrorContext(ctx, "failed to anonymize deleted user", "user_id", id, "error", err)
		}
	}
	return nil
}

// SaveProfile creates the user's profile on first call and updates it afterwards.
func (s *Service) SaveProfile(ctx context.Context, userID int64, bio, website string) (Profile, error) {
	u, err := s.users.get(userID)
	if err != nil {
		return Profile{}, err
	}
	p, err := s.ProfileOf(userID)
	if err != nil {
		p = Profile{UserID: userID}
	}
	p.Username = u.Username
	p.Bio = bio
	p.Website = website

	err = s.dispatcher.Save(ctx, &p, func(context.Context) (bool, error) {
		if p.ID == 0 {
			p.ID = s.profiles.nextID()
		}
		return s.profiles.put(p.ID, p), nil
	})
	return p, err
}

func (s *Service) CreateBlog(ctx context.Context, authorID int64, title, body string) (Blog, error) {
	author, err := s.users.get(authorID)
	if err != nil {
		return Blog{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return Blog{}, fmt.Errorf("%w: title is required", ErrInvalid)
	}

	now := s.now().UTC()
	b := Blog{Title: title, Body: body, AuthorID: author.ID, AuthorName: author.Username, CreatedAt: now, UpdatedAt: now}
	err = s.dispatcher.Save(ctx, &b, func(context.Context) (bool, error) {
		b.ID = s.blogs.nextID()
		return s.blogs.put(b.ID, b), nil
	})
	return b, err
}

func (s *Service) UpdateBlog(ctx context.Context, id int64, title, body string) (Blog, error) {
	b, err := s.blogs.get(id)
	if err != nil {
		return Blog{}, err
	}
	if t := strings.TrimSpace(title); t != "" {
		b.Title = t
	}
	b.Body = body
	b.UpdatedAt = s.now().UTC()

	err = s.dispatcher.Save(ctx, b, func(context.Context) (bool, error) {
		return s.blogs.put(b.ID, b), nil
	})
	return b, err
}

// DeleteBlog removes the blog and its comments. Each removal is logged on its own.
func (s *Service) DeleteBlog(ctx context.Context, id int64) error {
	b, err := s.blogs.get(id)
	if err != nil {
		return err
	}
	for _, c := range s.CommentsOn(id) {
		if err := s.dispatcher.Delete(ctx, c, func(context.Context) error { return s.comments.remove(c.ID) }); err != nil {
			return err
		}
	}
	return s.dispatcher.Delete(ctx, b, func(context.Context) error { return s.blogs.remove(b.ID) })
}

func (s *Service) AddComment(ctx context.Context, blogID, authorID int64, text string) (Comment, error) {
	b, err := s.blogs.get(blogID)
	if err != nil {
		return Comment{}, err
	}
	author, err := s.users.get(authorID)
	if err != nil {
		return Comment{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Comment{}, fmt.Errorf("%w: comment text is required", ErrInvalid)
	}

	c := Comment{
		BlogID: b.ID, BlogTitle: b.Title,
		AuthorID: author.ID, AuthorName: author.Username,
		Text: text, Active: true, CreatedAt: s.now().UTC(),
	}
	err = s.dispatcher.Save(ctx, &c, func(context.Context) (bool, error) {
		c.ID = s.comments.nextID()
		return s.comments.put(c.ID, c), nil
	})
	return c, err
}

func (s *Service) UpdateComment(ctx context.Context, id int64, text string, active bool) (Comment, error) {
	c, err := s.comments.get(id)
	if err != nil {
		return Comment{}, err
	}
	c.Text = text
	c.Active = active
	err = s.dispatcher.Save(ctx, c, func(context.Context) (bool, error) {
		return s.comments.put(c.ID, c), nil
	})
	return c, err
}

func (s *Service) DeleteComment(ctx context.Context, id int64) error {
	c, err := s.comments.get(id)
	if err != nil {
		return err
	}
	return s.dispatcher.Delete(ctx, c, func(context.Context) error { return s.comments.remove(c.ID) })
}
