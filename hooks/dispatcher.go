// Package hooks turns create/update/delete transitions of registered entity kinds
// into audit records. Hooks run only after the mutation succeeded and never fail it.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/godamri/helix-actionlog/audit"
	"github.com/godamri/helix-actionlog/entity"
)

var (
	ErrAlreadyRegistered = errors.New("hooks: kind already registered")
	ErrInvalidKind       = errors.New("hooks: invalid kind")
)

type Transition string

const (
	TransitionCreated Transition = "created"
	TransitionUpdated Transition = "updated"
	TransitionDeleted Transition = "deleted"
)

func (t Transition) action() audit.ActionKind {
	switch t {
	case TransitionCreated:
		return audit.ActionCreate
	case TransitionDeleted:
		return audit.ActionDelete
	default:
		return audit.ActionUpdate
	}
}

// Template renders the description of one transition.
type Template func(e entity.Loggable) string

// Hooks holds the per-kind templates. A nil template disables that transition.
type Hooks struct {
	OnCreated Template
	OnUpdated Template
	OnDeleted Template
}

func (h Hooks) template(t Transition) Template {
	switch t {
	case TransitionCreated:
		return h.OnCreated
	case TransitionUpdated:
		return h.OnUpdated
	default:
		return h.OnDeleted
	}
}

// For adapts a typed template. T and *T both match; an entity of another type renders its Ref.
func For[T entity.Loggable](fn func(T) string) Template {
	return func(e entity.Loggable) string {
		if v, ok := e.(T); ok {
			return fn(v)
		}
		if p, ok := any(e).(*T); ok && p != nil {
			return fn(*p)
		}
		return fmt.Sprintf("%s#%v", e.EntityKind(), e.EntityID())
	}
}

// Emitter is satisfied by *audit.Emitter (sync delivery) and *audit.Queue (queued delivery).
type Emitter interface {
	Emit(ctx context.Context, entry audit.Entry) (*audit.Record, error)
}

type Dispatcher struct {
	emitter  Emitter
	registry *entity.Registry
	logger   *slog.Logger

	mu    sync.RWMutex
	kinds map[string]Hooks
}

func New(emitter Emitter, registry *entity.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = entity.NewRegistry(logger)
	}
	return &Dispatcher{
		emitter:  emitter,
		registry: registry,
		logger:   logger.With("component", "hook_dispatcher"),
		kinds:    make(map[string]Hooks),
	}
}

// Register opts a kind into automatic logging. Each kind registers exactly once.
func (d *Dispatcher) Register(kind string, h Hooks) error {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return ErrInvalidKind
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.kinds[kind]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, kind)
	}
	d.kinds[kind] = h
	return nil
}

// Observe registers kind with the generic catch-all templates.
func (d *Dispatcher) Observe(kind string) error {
	return d.Register(kind, Generic())
}

func (d *Dispatcher) Registered(kind string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.kinds[kind]
	return ok
}

// Forget drops a kind's hooks, used when the kind itself is purged.
func (d *Dispatcher) Forget(kind string) {
	d.mu.Lock()
	delete(d.kinds, kind)
	d.mu.Unlock()
}

// Save runs persist and then fires OnCreated when persist reports a new identity,
// OnUpdated otherwise. persist errors are returned untouched and nothing is logged.
func (d *Dispatcher) Save(ctx context.Context, e entity.Loggable, persist func(ctx context.Context) (created bool, err error)) error {
	created, err := persist(ctx)
	if err != nil {
		return err
	}
	if created {
		d.Fire(ctx, TransitionCreated, e)
	} else {
		d.Fire(ctx, TransitionUpdated, e)
	}
	return nil
}

// Delete snapshots the description and reference while the entity still exists,
// runs remove, and emits only when remove succeeded.
func (d *Dispatcher) Delete(ctx context.Context, e entity.Loggable, remove func(ctx context.Context) error) error {
	pending, kind := d.prepare(ctx, TransitionDeleted, e)
	if err := remove(ctx); err != nil {
		return err
	}
	if pending != nil {
		d.deliver(ctx, TransitionDeleted, kind, *pending)
	}
	return nil
}

// Fire emits one transition for an already-committed mutation. Callers that manage
// their own persistence (transactions, batch jobs) use it directly.
func (d *Dispatcher) Fire(ctx context.Context, t Transition, e entity.Loggable) {
	if pending, kind := d.prepare(ctx, t, e); pending != nil {
		d.deliver(ctx, t, kind, *pending)
	}
}

// prepare renders the entry. nil means the kind or transition is not hooked, or the
// entity or template panicked; failures are already logged and counted.
func (d *Dispatcher) prepare(ctx context.Context, t Transition, e entity.Loggable) (entry *audit.Entry, kind string) {
	if e == nil {
		return nil, ""
	}
	// Typed-nil pointers with value receivers panic inside EntityKind.
	defer func() {
		if r := recover(); r != nil {
			d.failed(ctx, kind, t, fmt.Errorf("template panic: %v", r))
			entry = nil
		}
	}()
	kind = e.EntityKind()

	d.mu.RLock()
	h, ok := d.kinds[kind]
	d.mu.RUnlock()
	if !ok {
		return nil, kind
	}
	tmpl := h.template(t)
	if tmpl == nil {
		return nil, kind
	}

	ref := d.registry.Describe(e)
	return &audit.Entry{
		Actor:       ActorOf(e),
		Action:      t.action(),
		Target:      &ref,
		Description: tmpl(e),
	}, kind
}

func (d *Dispatcher) deliver(ctx context.Context, t Transition, kind string, entry audit.Entry) {
	defer func() {
		if r := recover(); r != nil {
			d.failed(ctx, kind, t, fmt.Errorf("emit panic: %v", r))
		}
	}()

	if _, err := d.emitter.Emit(ctx, entry); err != nil {
		d.failed(ctx, kind, t, err)
	}
}

func (d *Dispatcher) failed(ctx context.Context, kind string, t Transition, err error) {
	hookFailures.WithLabelValues(kind, string(t)).Inc()
	d.logger.ErrorContext(ctx, "action log hook failed",
		"kind", kind,
		"transition", t,
		"error", err,
	)
}
