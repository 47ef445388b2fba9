package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffWithoutJitter(t *testing.T) {
	b := NewBackoff(time.Second, 5*time.Second, 0)

	assert.Equal(t, time.Second, b.Duration(0))
	assert.Equal(t, 2*time.Second, b.Duration(1))
	assert.Equal(t, 4*time.Second, b.Duration(2))
	assert.Equal(t, 5*time.Second, b.Duration(3))
	assert.Equal(t, 5*time.Second, b.Duration(30))
	assert.Equal(t, time.Second, b.Duration(-1))
}

func TestBackoffJitter(t *testing.T) {
	// floor(0.25*10)=2 is even, so the deviation is subtracted
	low := NewBackoff(time.Second, 5*time.Second, 0.5).WithRand(func() float64 { return 0.25 })
	assert.Equal(t, 875*time.Millisecond, low.Duration(0))

	// floor(0.35*10)=3 is odd, so the deviation is added
	high := NewBackoff(time.Second, 5*time.Second, 0.5).WithRand(func() float64 { return 0.35 })
	assert.Equal(t, 1175*time.Millisecond, high.Duration(0))
	assert.Equal(t, 5*time.Second, high.Duration(3))
}

func TestBackoffZeroValue(t *testing.T) {
	b := &Backoff{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond, Jitter: 0.5}
	for i := 0; i < 10; i++ {
		d := b.Duration(i)
		assert.LessOrEqual(t, d, 50*time.Millisecond)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}
