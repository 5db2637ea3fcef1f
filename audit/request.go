package audit

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/godamri/helix-actionlog/entity"
	"github.com/google/uuid"
)

var ErrInvalidRequest = errors.New("audit: invalid emit request")

var validate = newValidator()

// newValidator reports fields by their JSON names, as clients sent them.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// EmitRequest is the wire form of an explicit emit (HTTP body, Kafka ingest payload).
type EmitRequest struct {
	// ID makes redelivery idempotent. Empty means the receiver assigns one.
	ID         string     `json:"id,omitempty" validate:"omitempty,uuid"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`

	ActionKind string `json:"action_kind" validate:"required,max=32"`
	ActorID    string `json:"actor_id,omitempty" validate:"max=255"`
	ActorName  string `json:"actor_name,omitempty" validate:"max=255"`
	EntityKind string `json:"entity_kind,omitempty" validate:"required_with=EntityID,excludesall=#,max=100"`
	EntityID   string `json:"entity_id,omitempty" validate:"required_with=EntityKind,max=255"`

	Description     string `json:"description"`
	OriginAddress   string `json:"origin_address,omitempty" validate:"omitempty,ip"`
	ClientSignature string `json:"client_signature,omitempty" validate:"max=1024"`
}

// Entry validates the request and converts it. Unknown action kinds map to ActionOther.
func (r EmitRequest) Entry() (Entry, error) {
	if err := validate.Struct(r); err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	action, ok := ParseActionKind(r.ActionKind)
	if !ok {
		action = ActionOther
	}
	entry := Entry{
		Action:          action,
		Description:     r.Description,
		OriginAddress:   r.OriginAddress,
		ClientSignature: r.ClientSignature,
	}
	if r.ID != "" {
		entry.ID = uuid.MustParse(r.ID)
	}
	if r.OccurredAt != nil {
		entry.OccurredAt = *r.OccurredAt
	}
	if id := strings.TrimSpace(r.ActorID); id != "" {
		entry.Actor = &Actor{ID: id, Name: r.ActorName}
	}
	if r.EntityKind != "" {
		entry.Target = &entity.Ref{Kind: strings.TrimSpace(r.EntityKind), ID: r.EntityID}
	}
	return entry, nil
}
