package ringbuf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuffer(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		b := New[int](3)
		require.Equal(t, 0, b.Len())
		v, ok := b.Last()
		require.False(t, ok)
		require.Equal(t, 0, v)
		require.Empty(t, b.Slice())
	})
	t.Run("partial", func(t *testing.T) {
		b := New[int](3)
		b.Push(1)
		b.Push(2)
		require.Equal(t, 2, b.Len())
		require.Equal(t, []int{1, 2}, b.Slice())
		v, ok := b.Last()
		require.True(t, ok)
		require.Equal(t, 2, v)
	})
	t.Run("overwrite", func(t *testing.T) {
		b := New[int](3)
		for i := 1; i <= 7; i++ {
			b.Push(i)
		}
		require.Equal(t, 3, b.Len())
		require.Equal(t, []int{5, 6, 7}, b.Slice())
		v, _ := b.Last()
		require.Equal(t, 7, v)
	})
	t.Run("exactly full", func(t *testing.T) {
		b := New[string](2)
		b.Push("a")
		b.Push("b")
		require.Equal(t, []string{"a", "b"}, b.Slice())
	})
	t.Run("zero size", func(t *testing.T) {
		b := New[int](0)
		b.Push(1)
		b.Push(2)
		require.Equal(t, []int{2}, b.Slice())
	})
}
