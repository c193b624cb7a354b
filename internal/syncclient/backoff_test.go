package syncclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesToCap(t *testing.T) {
	b := NewBackoff()
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 16 * time.Second, 16 * time.Second,
	}
	var got []time.Duration
	for range want {
		got = append(got, b.Next())
	}
	assert.Equal(t, want, got)
}

func TestBackoffMonotonicAndBounded(t *testing.T) {
	b := NewBackoff()
	prev := time.Duration(0)
	for i := 0; i < 50; i++ {
		next := b.Next()
		assert.GreaterOrEqual(t, next, prev)
		assert.LessOrEqual(t, next, maxBackoff)
		prev = next
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff()
	b.Next()
	b.Next()
	b.Next()
	b.Reset()
	assert.Equal(t, time.Second, b.Next())
}
