// Copyright 2024 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mailbox provides an unbounded FIFO drained by a single consumer.
package mailbox

import (
	"sync"

	"github.com/frostbyte73/core"
	"github.com/gammazero/deque"
)

type Mailbox[T any] struct {
	mu       sync.Mutex
	q        deque.Deque[T]
	draining bool
	wake     chan struct{}
	closed   core.Fuse
}

func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		wake: make(chan struct{}, 1),
	}
}

// Push appends v. It never blocks. It returns false once the mailbox is closed.
func (m *Mailbox[T]) Push(v T) bool {
	m.mu.Lock()
	if m.draining || m.closed.IsBroken() {
		m.mu.Unlock()
		return false
	}
	m.q.PushBack(v)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// TryPop removes the oldest item.
func (m *Mailbox[T]) TryPop() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.q.Len() == 0 {
		var zero T
		return zero, false
	}
	return m.q.PopFront(), true
}

// Run calls fn for every item in push order until the mailbox is closed.
func (m *Mailbox[T]) Run(fn func(v T)) {
	for {
		if m.closed.IsBroken() {
			return
		}
		if v, ok := m.TryPop(); ok {
			fn(v)
			continue
		}
		m.mu.Lock()
		if m.draining {
			m.closed.Break()
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		select {
		case <-m.wake:
		case <-m.closed.Watch():
			return
		}
	}
}

// Close stops the consumer and rejects further pushes.
// Items still queued are returned in push order.
func (m *Mailbox[T]) Close() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed.Break()
	left := make([]T, 0, m.q.Len())
	for m.q.Len() != 0 {
		left = append(left, m.q.PopFront())
	}
	return left
}

// Drain rejects further pushes. The consumer handles what is queued, then the mailbox closes.
func (m *Mailbox[T]) Drain() {
	m.mu.Lock()
	m.draining = true
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Mailbox[T]) Closed() <-chan struct{} {
	return m.closed.Watch()
}
