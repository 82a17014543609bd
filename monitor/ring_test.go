package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRing(t *testing.T) {
	t.Run("keeps insertion order before wrapping", func(t *testing.T) {
		r := NewRing[int](3)
		r.Write(1)
		r.Write(2)

		assert.Equal(t, []int{1, 2}, r.ReadAll())
		assert.Equal(t, 2, r.Len())
	})

	t.Run("evicts oldest first", func(t *testing.T) {
		r := NewRing[int](3)
		for i := 1; i <= 5; i++ {
			r.Write(i)
		}

		assert.Equal(t, []int{3, 4, 5}, r.ReadAll())
		assert.Equal(t, 3, r.Len())
		assert.Equal(t, int64(5), r.Total())
	})

	t.Run("last n", func(t *testing.T) {
		r := NewRing[int](4)
		for i := 1; i <= 6; i++ {
			r.Write(i)
		}

		assert.Equal(t, []int{5, 6}, r.Last(2))
		assert.Equal(t, []int{3, 4, 5, 6}, r.Last(10))
		assert.Nil(t, r.Last(0))
	})

	t.Run("empty", func(t *testing.T) {
		r := NewRing[string](2)
		assert.Nil(t, r.ReadAll())
	})
}
