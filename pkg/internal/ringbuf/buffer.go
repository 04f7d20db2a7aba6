// Package ringbuf keeps the most recent values pushed into it.
package ringbuf

// New creates a ring buffer holding at most sz elements.
func New[T any](sz int) *Buffer[T] {
	if sz <= 0 {
		sz = 1
	}
	return &Buffer[T]{
		buf: make([]T, sz),
	}
}

type Buffer[T any] struct {
	buf   []T
	write int
	full  bool
}

// Len returns a number of elements currently in the buffer.
func (b *Buffer[T]) Len() int {
	if b.full {
		return len(b.buf)
	}
	return b.write
}

// Push adds an element, discarding the oldest one if the buffer is full.
func (b *Buffer[T]) Push(v T) {
	b.buf[b.write] = v
	b.write = (b.write + 1) % len(b.buf)
	if b.write == 0 {
		b.full = true
	}
}

// Last returns the most recent element. Function returns false if the buffer is empty.
func (b *Buffer[T]) Last() (T, bool) {
	if b.Len() == 0 {
		var zero T
		return zero, false
	}
	i := (b.write - 1 + len(b.buf)) % len(b.buf)
	return b.buf[i], true
}

// Slice copies the buffered elements, oldest first.
func (b *Buffer[T]) Slice() []T {
	if !b.full {
		return append([]T(nil), b.buf[:b.write]...)
	}
	out := make([]T, 0, len(b.buf))
	out = append(out, b.buf[b.write:]...)
	return append(out, b.buf[:b.write]...)
}
