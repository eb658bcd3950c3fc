package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Duration_FirstAttempt(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 5*time.Second, 2.0)
	assert.Equal(t, 100*time.Millisecond, b.Duration(1))
	assert.Equal(t, 100*time.Millisecond, b.Duration(0))
}

func TestBackoff_Duration_Doubles(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 5*time.Second, 2.0)
	assert.Equal(t, 200*time.Millisecond, b.Duration(2))
	assert.Equal(t, 400*time.Millisecond, b.Duration(3))
}

func TestBackoff_Duration_CapsAtMax(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 500*time.Millisecond, 2.0)
	assert.Equal(t, 500*time.Millisecond, b.Duration(10))
	assert.Equal(t, 500*time.Millisecond, b.Duration(5000))
}

func TestBackoff_Duration_ZeroBase(t *testing.T) {
	b := NewBackoff(0, time.Second, 2.0)
	assert.Equal(t, time.Duration(0), b.Duration(4))
}

func TestBackoff_Duration_ExactWithoutJitter(t *testing.T) {
	b := NewBackoff(5*time.Second, 10*time.Minute, 2.0)
	for i := 0; i < 20; i++ {
		assert.Equal(t, 40*time.Second, b.Duration(4))
	}
}

func TestBackoff_Duration_WithJitter(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 5*time.Second, 2.0).WithJitter()

	expected := 400 * time.Millisecond
	for i := 0; i < 100; i++ {
		d := b.Duration(3)
		assert.GreaterOrEqual(t, d, expected/2)
		assert.LessOrEqual(t, d, expected)
	}
}
