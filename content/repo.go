package content

import (
	"context"
	"sort"
	"sync"

	"github.com/godamri/helix-actionlog/entity"
)

// table is an in-memory keyed collection with sequential ids.
type table[T any] struct {
	mu    sync.RWMutex
	rows  map[int64]T
	maxID int64
}

func newTable[T any]() *table[T] {
	return &table[T]{rows: make(map[int64]T)}
}

func (t *table[T]) nextID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxID++
	return t.maxID
}

func (t *table[T]) get(id int64) (T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.rows[id]
	if !ok {
		var zero T
		return zero, entity.ErrNotFound
	}
	return v, nil
}

// put stores v and reports whether the id was new.
func (t *table[T]) put(id int64, v T) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, exists := t.rows[id]
	t.rows[id] = v
	if id > t.maxID {
		t.maxID = id
	}
	return !exists
}

func (t *table[T]) remove(id int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[id]; !ok {
		return entity.ErrNotFound
	}
	delete(t.rows, id)
	return nil
}

func (t *table[T]) list(keep func(T) bool) []T {
	t.mu.RLock()
	ids := make([]int64, 0, len(t.rows))
	for id, v := range t.rows {
		if keep == nil || keep(v) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.rows[id])
	}
	t.mu.RUnlock()
	return out
}

// finder adapts a table to entity.Finder. Ids arrive decoded by Int64Codec.
func (t *table[T]) finder() entity.Finder {
	return func(_ context.Context, id any) (any, error) {
		n, ok := id.(int64)
		if !ok {
			return nil, entity.ErrMalformedID
		}
		return t.get(n)
	}
}
