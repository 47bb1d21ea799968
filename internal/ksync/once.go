package ksync

import "sync"

// OnceCell holds a single value set exactly once, for process-wide
// singletons that must not be late-initialized after the first hart
// enters its idle loop.
type OnceCell[T any] struct {
	once sync.Once
	val  T
}

// GetOrInit returns the cell's value, calling init to produce and store it
// on the first call. Subsequent calls ignore init and return the stored
// value.
func (c *OnceCell[T]) GetOrInit(init func() T) T {
	c.once.Do(func() {
		c.val = init()
	})
	return c.val
}
