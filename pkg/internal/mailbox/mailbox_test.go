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

package mailbox

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMailboxOrder(t *testing.T) {
	m := New[int]()
	const n = 1000

	var (
		mu  sync.Mutex
		got []int
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(func(v int) {
			mu.Lock()
			got = append(got, v)
			mu.Unlock()
		})
	}()

	for i := 0; i < n; i++ {
		require.True(t, m.Push(i))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	}, time.Second, time.Millisecond)

	m.Close()
	<-done
	require.False(t, m.Push(n))
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestMailboxTryPop(t *testing.T) {
	m := New[string]()
	_, ok := m.TryPop()
	require.False(t, ok)

	m.Push("a")
	m.Push("b")
	m.Push("c")
	v, ok := m.TryPop()
	require.True(t, ok)
	require.Equal(t, "a", v)

	require.Equal(t, []string{"b", "c"}, m.Close())
	_, ok = m.TryPop()
	require.False(t, ok)
	require.Empty(t, m.Close())
	select {
	case <-m.Closed():
	default:
		t.Fatal("expected closed")
	}
}

func TestMailboxDrain(t *testing.T) {
	m := New[int]()
	for i := 0; i < 10; i++ {
		m.Push(i)
	}
	m.Drain()
	require.False(t, m.Push(10))

	var got []int
	m.Run(func(v int) { got = append(got, v) })
	require.Len(t, got, 10)
	select {
	case <-m.Closed():
	default:
		t.Fatal("expected closed")
	}
}
