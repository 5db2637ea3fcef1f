package config

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
)

// Container publishes validated config snapshots. Readers never lock.
type Container[T any] struct {
	current   atomic.Pointer[T]
	version   atomic.Uint64
	validate  *validator.Validate
	mu        sync.Mutex
	listeners []func(prev, next *T)
}

func NewContainer[T any](initial T) *Container[T] {
	c := &Container[T]{validate: validator.New()}
	c.current.Store(&initial)
	return c
}

// Get returns the current snapshot. Callers must treat it as read-only.
func (c *Container[T]) Get() *T {
	return c.current.Load()
}

// Version counts accepted updates, starting at zero.
func (c *Container[T]) Version() uint64 {
	return c.version.Load()
}

// OnChange registers fn to run, in registration order, after each accepted update.
func (c *Container[T]) OnChange(fn func(prev, next *T)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Update validates next and swaps it in. A rejected snapshot leaves the current one live.
func (c *Container[T]) Update(next T) error {
	if err := c.validate.Struct(next); err != nil {
		return fmt.Errorf("config: rejected update: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.current.Swap(&next)
	c.version.Add(1)
	for _, fn := range c.listeners {
		fn(prev, &next)
	}
	return nil
}
