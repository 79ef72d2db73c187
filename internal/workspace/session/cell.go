package session

import "sync"

// cell is a write-many, observe-once result slot. Several producers may
// Put; each producer handles its own payload, but only the first Put is
// stored and releases Done.
type cell[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
}

func newCell[T any]() *cell[T] {
	return &cell[T]{done: make(chan struct{})}
}

// Put offers v and reports whether it was the first value.
func (c *cell[T]) Put(v T) (first bool) {
	c.once.Do(func() {
		c.value = v
		close(c.done)
		first = true
	})
	return first
}

// Done is closed once the first value is in.
func (c *cell[T]) Done() <-chan struct{} { return c.done }

// Value returns the first value. Only valid after Done is closed.
func (c *cell[T]) Value() T {
	<-c.done
	return c.value
}
