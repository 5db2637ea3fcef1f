package hooks

import (
	"fmt"

	"github.com/godamri/helix-actionlog/audit"
	"github.com/godamri/helix-actionlog/entity"
)

// ActorProvider names the acting identity explicitly.
type ActorProvider interface {
	LogActor() *audit.Actor
}

// UserProvider is implemented by entities owned by a user (profiles, sessions).
type UserProvider interface {
	LogUser() *audit.Actor
}

// CreatorProvider is implemented by entities that remember who created them.
type CreatorProvider interface {
	LogCreatedBy() *audit.Actor
}

// ActorOf applies the actor convention: explicit actor, then user, then creator.
// nil means anonymous.
func ActorOf(e any) *audit.Actor {
	if p, ok := e.(ActorProvider); ok {
		if a := p.LogActor(); a != nil && a.ID != "" {
			return a
		}
	}
	if p, ok := e.(UserProvider); ok {
		if a := p.LogUser(); a != nil && a.ID != "" {
			return a
		}
	}
	if p, ok := e.(CreatorProvider); ok {
		if a := p.LogCreatedBy(); a != nil && a.ID != "" {
			return a
		}
	}
	return nil
}

const genericSummaryLimit = 100

// Generic is the catch-all template set: "<Action> <kind>: <summary>".
func Generic() Hooks {
	return Hooks{
		OnCreated: generic(audit.ActionCreate),
		OnUpdated: generic(audit.ActionUpdate),
		OnDeleted: generic(audit.ActionDelete),
	}
}

func generic(action audit.ActionKind) Template {
	return func(e entity.Loggable) string {
		return fmt.Sprintf("%s %s: %s", action.Label(), e.EntityKind(), summary(e))
	}
}

func summary(e entity.Loggable) string {
	var s string
	if st, ok := e.(fmt.Stringer); ok {
		s = st.String()
	} else {
		s = fmt.Sprint(e.EntityID())
	}
	r := []rune(s)
	if len(r) > genericSummaryLimit {
		return string(r[:genericSummaryLimit])
	}
	return s
}
