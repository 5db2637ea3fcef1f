package audit

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/godamri/helix-actionlog/entity"
	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("audit: record not found")
	ErrStoreUnavailable = errors.New("audit: store unavailable")
	ErrInvalidAction    = errors.New("audit: invalid action kind")
	ErrInvalidDimension = errors.New("audit: invalid stats dimension")
)

// Store is the durable, append-mostly record table.
type Store interface {
	// Append persists rec atomically. Appending an ID that already exists is a no-op,
	// which makes redelivery from queues and consumers idempotent.
	Append(ctx context.Context, rec *Record) (uuid.UUID, error)

	Get(ctx context.Context, id uuid.UUID) (*Record, error)

	Find(ctx context.Context, f Filter, order Order, page Page) ([]Record, error)
	Count(ctx context.Context, f Filter) (int64, error)

	// HistoryFor returns the newest records for one target, at most limit.
	HistoryFor(ctx context.Context, ref entity.Ref, limit int) ([]Record, error)

	Stats(ctx context.Context, dim Dimension, f Filter) ([]Bucket, error)

	// ClearActor anonymizes records of a deleted identity. Records are never removed.
	ClearActor(ctx context.Context, actorID string) (int64, error)

	// PurgeKind removes the kind's metadata and, with it, every record targeting the kind.
	PurgeKind(ctx context.Context, kind string) (int64, error)

	// Delete is the privileged bulk purge used after an export.
	Delete(ctx context.Context, f Filter) (int64, error)
}

// Filter composes with AND semantics. Zero values match everything.
type Filter struct {
	ActorID string
	Actions []ActionKind
	Kind    string
	Target  *entity.Ref

	// Half-open: Since <= occurred_at < Until.
	Since *time.Time
	Until *time.Time

	// Case-insensitive substring over description, origin address, client signature and actor name.
	Search string

	// IDs pins the filter to an exact record set, e.g. the records an archive exported.
	IDs []uuid.UUID
}

func (f Filter) IsZero() bool {
	return f.ActorID == "" && len(f.Actions) == 0 && f.Kind == "" && f.Target == nil &&
		f.Since == nil && f.Until == nil && f.Search == "" && len(f.IDs) == 0
}

type Order int

const (
	OrderNewest Order = iota // occurred_at DESC, seq DESC
	OrderOldest              // occurred_at ASC, seq ASC
)

// Page is an offset window. Limit 0 means no limit.
type Page struct {
	Offset int
	Limit  int
}

// Dimension is a grouping axis for Stats.
type Dimension string

const (
	DimensionAction Dimension = "action_kind"
	DimensionKind   Dimension = "entity_kind"
	DimensionActor  Dimension = "actor"
	DimensionDay    Dimension = "day"
	DimensionHour   Dimension = "hour"
)

func (d Dimension) Valid() bool {
	switch d {
	case DimensionAction, DimensionKind, DimensionActor, DimensionDay, DimensionHour:
		return true
	}
	return false
}

// Bucket is one group of a Stats result. Key is empty for records without the dimension
// (no target, anonymous actor).
type Bucket struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// BucketKey formats a time bucket start the way every Store implementation must.
func BucketKey(dim Dimension, t time.Time) string {
	t = t.UTC()
	if dim == DimensionHour {
		return t.Truncate(time.Hour).Format("2006-01-02T15:00Z")
	}
	return t.Format("2006-01-02")
}

// Matches evaluates f against one record in memory. SQL stores translate the same rules.
func (f Filter) Matches(rec *Record) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, rec.ID) {
		return false
	}
	if f.ActorID != "" && rec.ActorID() != f.ActorID {
		return false
	}
	if len(f.Actions) > 0 && !slices.Contains(f.Actions, rec.Action) {
		return false
	}
	if f.Kind != "" && (rec.Target == nil || rec.Target.Kind != f.Kind) {
		return false
	}
	if f.Target != nil && (rec.Target == nil || *rec.Target != *f.Target) {
		return false
	}
	if f.Since != nil && rec.OccurredAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && !rec.OccurredAt.Before(*f.Until) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		hay := []string{rec.Description, rec.OriginAddress, rec.ClientSignature}
		if rec.Actor != nil {
			hay = append(hay, rec.Actor.Name)
		}
		found := false
		for _, h := range hay {
			if strings.Contains(strings.ToLower(h), needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// SortBuckets applies the canonical Stats order: time dimensions chronologically,
// the rest by count descending with ties broken by key.
func SortBuckets(dim Dimension, buckets []Bucket) {
	if dim == DimensionDay || dim == DimensionHour {
		slices.SortFunc(buckets, func(a, b Bucket) int { return strings.Compare(a.Key, b.Key) })
		return
	}
	slices.SortFunc(buckets, func(a, b Bucket) int {
		if a.Count != b.Count {
			if a.Count > b.Count {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Key, b.Key)
	})
}
