package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/godamri/helix-actionlog/entity"
	"github.com/godamri/helix-actionlog/pkg/contextx"
	"github.com/google/uuid"
)

// Entry is the emit() argument list. Target, Actor and the origin fields are optional.
type Entry struct {
	// ID and OccurredAt are normally left zero. Redelivered entries (queue, Kafka ingest)
	// carry them so that a second append of the same entry is a no-op.
	ID         uuid.UUID
	OccurredAt time.Time

	Actor           *Actor
	Action          ActionKind
	Target          *entity.Ref
	Description     string
	OriginAddress   string
	ClientSignature string
}

// Sink receives a copy of every appended record. Sinks are best-effort mirrors.
type Sink interface {
	Name() string
	Publish(ctx context.Context, rec Record) error
}

// Emitter is the write API: exactly one Store.Append per Emit.
type Emitter struct {
	store          Store
	resolver       *entity.Registry
	sinks          []Sink
	logger         *slog.Logger
	maxDescription int
	now            func() time.Time
}

type EmitterOption func(*Emitter)

func WithSinks(sinks ...Sink) EmitterOption {
	return func(e *Emitter) { e.sinks = append(e.sinks, sinks...) }
}

func WithClock(now func() time.Time) EmitterOption {
	return func(e *Emitter) { e.now = now }
}

func WithMaxDescription(n int) EmitterOption {
	return func(e *Emitter) { e.maxDescription = n }
}

func NewEmitter(store Store, resolver *entity.Registry, logger *slog.Logger, opts ...EmitterOption) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = entity.NewRegistry(logger)
	}
	e := &Emitter{
		store:          store,
		resolver:       resolver,
		logger:         logger.With("component", "audit_emitter"),
		maxDescription: 4096,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Emitter) Resolver() *entity.Registry { return e.resolver }

// Emit records one action. The error is non-nil only when the record could not be
// validated or the store refused it; callers that need the record confirmed must check it.
func (e *Emitter) Emit(ctx context.Context, entry Entry) (*Record, error) {
	rec, err := e.Prepare(ctx, entry)
	if err != nil {
		return nil, err
	}
	if err := e.Commit(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// EmitFor describes target through the resolver and emits. A nil target emits an untargeted record.
func (e *Emitter) EmitFor(ctx context.Context, actor *Actor, action ActionKind, target entity.Loggable, description string) (*Record, error) {
	entry := Entry{Actor: actor, Action: action, Description: description}
	if target != nil {
		ref := e.resolver.Describe(target)
		entry.Target = &ref
	}
	return e.Emit(ctx, entry)
}

// Prepare validates entry and builds the immutable record without touching the store.
func (e *Emitter) Prepare(ctx context.Context, entry Entry) (*Record, error) {
	if !entry.Action.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, entry.Action)
	}

	rec := &Record{
		ID:              entry.ID,
		Action:          entry.Action,
		OccurredAt:      entry.OccurredAt,
		Description:     truncate(entry.Description, e.maxDescription),
		OriginAddress:   entry.OriginAddress,
		ClientSignature: entry.ClientSignature,
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = e.now()
	}
	rec.OccurredAt = rec.OccurredAt.UTC()

	if entry.Actor != nil && entry.Actor.ID != "" {
		a := *entry.Actor
		rec.Actor = &a
	}
	if entry.Target != nil && !entry.Target.IsZero() {
		t := *entry.Target
		rec.Target = &t
	}

	// Request metadata falls back to what the edge middleware captured.
	if rec.OriginAddress == "" {
		rec.OriginAddress = contextx.GetOriginAddress(ctx)
	}
	if rec.ClientSignature == "" {
		rec.ClientSignature = contextx.GetClientSignature(ctx)
	}
	return rec, nil
}

// Commit appends a prepared record and mirrors it to the sinks.
func (e *Emitter) Commit(ctx context.Context, rec *Record) error {
	if _, err := e.store.Append(ctx, rec); err != nil {
		emitFailures.WithLabelValues(string(rec.Action)).Inc()
		e.logger.ErrorContext(ctx, "action record append failed",
			"record_id", rec.ID,
			"action", rec.Action,
			"target", rec.Target,
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	recordsEmitted.WithLabelValues(string(rec.Action)).Inc()

	for _, s := range e.sinks {
		if err := s.Publish(ctx, *rec); err != nil {
			sinkFailures.WithLabelValues(s.Name()).Inc()
			e.logger.WarnContext(ctx, "action record mirror failed", "sink", s.Name(), "record_id", rec.ID, "error", err)
		}
	}
	return nil
}

// ForgetActor anonymizes every record of a deleted identity.
func (e *Emitter) ForgetActor(ctx context.Context, actorID string) (int64, error) {
	if actorID == "" {
		return 0, nil
	}
	n, err := e.store.ClearActor(ctx, actorID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	e.logger.InfoContext(ctx, "actor cleared from action records", "actor_id", actorID, "records", n)
	return n, nil
}

// ActorFromContext builds the actor of the authenticated principal, nil when anonymous.
func ActorFromContext(ctx context.Context) *Actor {
	id := contextx.GetAuthPrincipalID(ctx)
	if id == "" {
		return nil
	}
	return &Actor{ID: id, Name: contextx.GetAuthPrincipalName(ctx)}
}
