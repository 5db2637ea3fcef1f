// Package memory is an in-process audit.Store. It backs tests, the seeder and
// single-node demo runs (AUDIT_STORE=memory); nothing survives a restart.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/godamri/helix-actionlog/audit"
	"github.com/godamri/helix-actionlog/entity"
	"github.com/google/uuid"
)

var errNilRecord = errors.New("memory: nil record")

type Store struct {
	mu      sync.RWMutex
	records []audit.Record
	byID    map[uuid.UUID]int
	kinds   map[string]struct{}
	seq     int64
}

var _ audit.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		byID:  make(map[uuid.UUID]int),
		kinds: make(map[string]struct{}),
	}
}

func (s *Store) Append(ctx context.Context, rec *audit.Record) (uuid.UUID, error) {
	if rec == nil {
		return uuid.Nil, errNilRecord
	}
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[rec.ID]; exists {
		return rec.ID, nil
	}
	s.seq++
	stored := clone(*rec)
	stored.Seq = s.seq
	rec.Seq = s.seq

	s.byID[stored.ID] = len(s.records)
	s.records = append(s.records, stored)
	if stored.Target != nil {
		s.kinds[stored.Target.Kind] = struct{}{}
	}
	return stored.ID, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok {
		return nil, audit.ErrNotFound
	}
	rec := clone(s.records[i])
	return &rec, nil
}

func (s *Store) Find(ctx context.Context, f audit.Filter, order audit.Order, page audit.Page) ([]audit.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	matched := s.match(f)
	s.mu.RUnlock()

	sortRecords(matched, order)

	if page.Offset > 0 {
		if page.Offset >= len(matched) {
			return []audit.Record{}, nil
		}
		matched = matched[page.Offset:]
	}
	if page.Limit > 0 && len(matched) > page.Limit {
		matched = matched[:page.Limit]
	}
	return matched, nil
}

func (s *Store) Count(ctx context.Context, f audit.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for i := range s.records {
		if f.Matches(&s.records[i]) {
			n++
		}
	}
	return n, nil
}

func (s *Store) HistoryFor(ctx context.Context, ref entity.Ref, limit int) ([]audit.Record, error) {
	return s.Find(ctx, audit.Filter{Target: &ref}, audit.OrderNewest, audit.Page{Limit: limit})
}

func (s *Store) Stats(ctx context.Context, dim audit.Dimension, f audit.Filter) ([]audit.Bucket, error) {
	if !dim.Valid() {
		return nil, audit.ErrInvalidDimension
	}

	s.mu.RLock()
	counts := make(map[string]int64)
	for i := range s.records {
		rec := &s.records[i]
		if !f.Matches(rec) {
			continue
		}
		counts[bucketKey(dim, rec)]++
	}
	s.mu.RUnlock()

	out := make([]audit.Bucket, 0, len(counts))
	for k, c := range counts {
		out = append(out, audit.Bucket{Key: k, Count: c})
	}
	audit.SortBuckets(dim, out)
	return out, nil
}

func (s *Store) ClearActor(ctx context.Context, actorID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for i := range s.records {
		if s.records[i].ActorID() == actorID {
			s.records[i].Actor = nil
			n++
		}
	}
	return n, nil
}

func (s *Store) PurgeKind(ctx context.Context, kind string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.kinds, kind)
	return s.removeLocked(audit.Filter{Kind: kind}), nil
}

func (s *Store) Delete(ctx context.Context, f audit.Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(f), nil
}

// Kinds lists the kinds that currently have metadata, i.e. were ever appended and not purged.
func (s *Store) Kinds() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.kinds))
	for k := range s.kinds {
		out = append(out, k)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) match(f audit.Filter) []audit.Record {
	out := make([]audit.Record, 0)
	for i := range s.records {
		if f.Matches(&s.records[i]) {
			out = append(out, clone(s.records[i]))
		}
	}
	return out
}

func (s *Store) removeLocked(f audit.Filter) int64 {
	kept := s.records[:0]
	var removed int64
	for _, rec := range s.records {
		if f.Matches(&rec) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	// Clear the tail so dropped records can be collected.
	for i := len(kept); i < len(s.records); i++ {
		s.records[i] = audit.Record{}
	}
	s.records = kept

	s.byID = make(map[uuid.UUID]int, len(s.records))
	for i, rec := range s.records {
		s.byID[rec.ID] = i
	}
	return removed
}

func sortRecords(recs []audit.Record, order audit.Order) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if order == audit.OrderOldest {
			if !a.OccurredAt.Equal(b.OccurredAt) {
				return a.OccurredAt.Before(b.OccurredAt)
			}
			return a.Seq < b.Seq
		}
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.After(b.OccurredAt)
		}
		return a.Seq > b.Seq
	})
}

func bucketKey(dim audit.Dimension, rec *audit.Record) string {
	switch dim {
	case audit.DimensionAction:
		return string(rec.Action)
	case audit.DimensionKind:
		if rec.Target == nil {
			return ""
		}
		return rec.Target.Kind
	case audit.DimensionActor:
		return rec.ActorID()
	default:
		return audit.BucketKey(dim, rec.OccurredAt)
	}
}

func clone(rec audit.Record) audit.Record {
	if rec.Actor != nil {
		a := *rec.Actor
		rec.Actor = &a
	}
	if rec.Target != nil {
		t := *rec.Target
		rec.Target = &t
	}
	return rec
}
