// Package content holds the demo domain (users, profiles, blogs, comments) whose
// mutations feed the action log through the hook dispatcher.
package content

import (
	"fmt"
	"strconv"
	"time"

	"github.com/godamri/helix-actionlog/audit"
)

const (
	KindUser    = "user"
	KindProfile = "profile"
	KindBlog    = "blog"
	KindComment = "comment"
)

func actor(id int64, name string) *audit.Actor {
	if id == 0 {
		return nil
	}
	return &audit.Actor{ID: strconv.FormatInt(id, 10), Name: name}
}

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func (u User) EntityKind() string    { return KindUser }
func (u User) EntityID() any         { return u.ID }
func (u User) String() string        { return u.Username }
func (u User) LogUser() *audit.Actor { return actor(u.ID, u.Username) }

type Profile struct {
	ID       int64  `json:"id"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Bio      string `json:"bio"`
	Website  string `json:"website,omitempty"`
}

func (p Profile) EntityKind() string    { return KindProfile }
func (p Profile) EntityID() any         { return p.ID }
func (p Profile) String() string        { return "profile of " + p.Username }
func (p Profile) LogUser() *audit.Actor { return actor(p.UserID, p.Username) }

type Blog struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	AuthorID   int64     `json:"author_id"`
	AuthorName string    `json:"author_name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (b Blog) EntityKind() string     { return KindBlog }
func (b Blog) EntityID() any          { return b.ID }
func (b Blog) String() string         { return b.Title }
func (b Blog) LogActor() *audit.Actor { return actor(b.AuthorID, b.AuthorName) }

type Comment struct {
	ID         int64     `json:"id"`
	BlogID     int64     `json:"blog_id"`
	BlogTitle  string    `json:"blog_title"`
	AuthorID   int64     `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Text       string    `json:"text"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

func (c Comment) EntityKind() string     { return KindComment }
func (c Comment) EntityID() any          { return c.ID }
func (c Comment) String() string         { return fmt.Sprintf("comment on %q", c.BlogTitle) }
func (c Comment) LogActor() *audit.Actor { return actor(c.AuthorID, c.AuthorName) }
