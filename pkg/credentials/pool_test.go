package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRoundRobin(t *testing.T) {
	p := NewPool([]string{"a", "b", "c"})

	var got []int
	for i := 0; i < 7; i++ {
		key, idx, err := p.Next()
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}[idx], key)
		got = append(got, idx)
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0}, got)
}

func TestPoolReset(t *testing.T) {
	p := NewPool([]string{"a", "b", "c"})
	_, _, _ = p.Next()
	_, _, _ = p.Next()

	p.Reset()
	key, idx, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Equal(t, "a", key)
}

func TestPoolEmpty(t *testing.T) {
	tests := []struct {
		name string
		keys []string
	}{
		{"nil", nil},
		{"blank entries", []string{"", "  "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPool(tt.keys)
			assert.Equal(t, 0, p.Size())
			_, idx, err := p.Next()
			assert.ErrorIs(t, err, ErrNoCredentials)
			assert.Equal(t, -1, idx)
		})
	}
}

func TestPoolCloneHasOwnCursor(t *testing.T) {
	p := NewPool([]string{"a", "b"})
	_, _, _ = p.Next()

	c := p.Clone()
	_, idx, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	_, idx, _ = p.Next()
	assert.Equal(t, 1, idx)
}
