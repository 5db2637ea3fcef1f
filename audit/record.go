package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/godamri/helix-actionlog/entity"
	"github.com/google/uuid"
)

// ActionKind is the closed set of actions a record can describe.
type ActionKind string

const (
	ActionCreate   ActionKind = "create"
	ActionUpdate   ActionKind = "update"
	ActionDelete   ActionKind = "delete"
	ActionView     ActionKind = "view"
	ActionLogin    ActionKind = "login"
	ActionLogout   ActionKind = "logout"
	ActionDownload ActionKind = "download"
	ActionUpload   ActionKind = "upload"
	ActionShare    ActionKind = "share"
	ActionOther    ActionKind = "other"
)

// ActionKinds lists every valid kind in display order.
var ActionKinds = []ActionKind{
	ActionCreate, ActionUpdate, ActionDelete, ActionView, ActionLogin,
	ActionLogout, ActionDownload, ActionUpload, ActionShare, ActionOther,
}

var actionLabels = map[ActionKind]string{
	ActionCreate:   "Create",
	ActionUpdate:   "Update",
	ActionDelete:   "Delete",
	ActionView:     "View",
	ActionLogin:    "Login",
	ActionLogout:   "Logout",
	ActionDownload: "Download",
	ActionUpload:   "Upload",
	ActionShare:    "Share",
	ActionOther:    "Other",
}

func (a ActionKind) Valid() bool {
	_, ok := actionLabels[a]
	return ok
}

// Label is the human-readable name used in descriptions and String().
func (a ActionKind) Label() string {
	if l, ok := actionLabels[a]; ok {
		return l
	}
	return string(a)
}

// ParseActionKind is strict: unknown values report false.
func ParseActionKind(s string) (ActionKind, bool) {
	a := ActionKind(strings.ToLower(strings.TrimSpace(s)))
	return a, a.Valid()
}

// Actor is a weak reference to a user identity plus the display name captured at emit time.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Record is one immutable action-log entry.
type Record struct {
	ID         uuid.UUID   `json:"id"`
	Seq        int64       `json:"-"`
	Action     ActionKind  `json:"action_kind"`
	OccurredAt time.Time   `json:"occurred_at"`
	Actor      *Actor      `json:"actor,omitempty"`
	Target     *entity.Ref `json:"target,omitempty"`

	Description     string `json:"description"`
	OriginAddress   string `json:"origin_address,omitempty"`
	ClientSignature string `json:"client_signature,omitempty"`
}

func (r *Record) ActorID() string {
	if r.Actor == nil {
		return ""
	}
	return r.Actor.ID
}

func (r *Record) ActorName() string {
	if r.Actor == nil {
		return ""
	}
	if r.Actor.Name != "" {
		return r.Actor.Name
	}
	return r.Actor.ID
}

// String renders "<action> | <actor> | <target or time>".
func (r *Record) String() string {
	who := r.ActorName()
	if who == "" {
		who = "Anonymous"
	}
	if r.Target != nil && !r.Target.IsZero() {
		return fmt.Sprintf("%s | %s | %s", r.Action.Label(), who, truncate(r.Target.String(), 50))
	}
	return fmt.Sprintf("%s | %s | %s", r.Action.Label(), who, r.OccurredAt.UTC().Format(time.RFC3339))
}

// Browser classifies a client signature (user agent) into a coarse browser family.
// Order matters: Edge and Opera user agents also advertise Chrome and Safari.
func Browser(signature string) string {
	if signature == "" {
		return ""
	}
	ua := strings.ToLower(signature)
	switch {
	case strings.Contains(ua, "edg/") || strings.Contains(ua, "edge/"):
		return "Edge"
	case strings.Contains(ua, "opr") || strings.Contains(ua, "opera"):
		return "Opera"
	case strings.Contains(ua, "firefox"):
		return "Firefox"
	case strings.Contains(ua, "chrome"):
		return "Chrome"
	case strings.Contains(ua, "safari"):
		return "Safari"
	default:
		return "Other"
	}
}

// truncate cuts s to at most max runes.
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
